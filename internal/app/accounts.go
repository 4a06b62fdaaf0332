package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
)

// reconcileScanLimit bounds the history read for one worker's reconciliation.
const reconcileScanLimit = 1_000_000

// RegisterWorker creates a worker with an empty wallet.
func (e *Engine) RegisterWorker(ctx context.Context, in domain.RegisterWorkerInput) (*domain.Worker, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}

	worker := &domain.Worker{
		ID:        id,
		Name:      strings.TrimSpace(in.Name),
		Phone:     strings.TrimSpace(in.Phone),
		Verified:  in.Verified,
		CreatedAt: e.clock(),
	}
	err := e.runInTx(ctx, "register_worker", func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertWorker(ctx, worker); err != nil {
			return err
		}
		return e.enqueue(ctx, tx, &domain.LedgerEvent{
			EventID:    e.newID(),
			EventType:  domain.EventWorkerRegistered,
			WorkerID:   worker.ID,
			OccurredAt: worker.CreatedAt,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: worker %s", domain.ErrAlreadyExists, id)
		}
		return nil, err
	}
	return worker, nil
}

// RegisterOrganization creates a partner organization.
func (e *Engine) RegisterOrganization(ctx context.Context, in domain.RegisterOrganizationInput) (*domain.Organization, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = e.newID()
	}

	org := &domain.Organization{
		ID:           id,
		Name:         strings.TrimSpace(in.Name),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		Address:      strings.TrimSpace(in.Address),
		Type:         in.Type,
		Verified:     in.Verified,
		CreatedAt:    e.clock(),
	}
	err := e.runInTx(ctx, "register_organization", func(ctx context.Context, tx store.Tx) error {
		return tx.InsertOrganization(ctx, org)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: organization %s", domain.ErrAlreadyExists, id)
		}
		return nil, err
	}
	return org, nil
}

func (e *Engine) GetWorker(ctx context.Context, workerID string) (*domain.Worker, error) {
	return e.store.GetWorker(ctx, workerID)
}

// GetWallet returns the worker's current balance.
func (e *Engine) GetWallet(ctx context.Context, workerID string) (domain.Wallet, error) {
	worker, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return domain.Wallet{}, err
	}
	return worker.Wallet, nil
}

func (e *Engine) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	return e.store.ListWorkers(ctx)
}

func (e *Engine) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	return e.store.GetOrganization(ctx, orgID)
}

func (e *Engine) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	return e.store.ListOrganizations(ctx)
}

// ListLedger returns the worker's journal oldest first.
func (e *Engine) ListLedger(ctx context.Context, workerID string) ([]domain.LedgerEntry, error) {
	if _, err := e.store.GetWorker(ctx, workerID); err != nil {
		return nil, err
	}
	return e.store.ListLedgerEntries(ctx, workerID)
}

// ReconcileWallet checks that the wallet equals verified rewards minus completed
// redemptions, and that the journal sums to the same value. The reads are not one
// snapshot, so a mismatch under concurrent writes should be re-checked before alarming.
func (e *Engine) ReconcileWallet(ctx context.Context, workerID string) (*domain.WalletReconciliation, error) {
	worker, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	verified, err := e.store.ListTasks(ctx, store.TaskFilter{
		Status:    domain.TaskVerified,
		ClaimedBy: workerID,
		Limit:     reconcileScanLimit,
	})
	if err != nil {
		return nil, err
	}
	completed, err := e.store.ListRedemptions(ctx, store.RedemptionFilter{
		Status: domain.RedemptionCompleted,
		UserID: workerID,
		Limit:  reconcileScanLimit,
	})
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListLedgerEntries(ctx, workerID)
	if err != nil {
		return nil, err
	}

	result := &domain.WalletReconciliation{
		WorkerID:       workerID,
		WalletBalance:  worker.Wallet.MealCredits,
		JournalEntries: len(entries),
	}
	for _, task := range verified {
		result.EarnedCredits += task.RewardMeals
	}
	for _, redemption := range completed {
		result.RedeemedCredits += redemption.MealCredits
	}
	for _, entry := range entries {
		result.JournalBalance += entry.Amount
	}
	result.ExpectedBalance = result.EarnedCredits - result.RedeemedCredits
	result.Consistent = result.WalletBalance == result.ExpectedBalance &&
		result.JournalBalance == result.ExpectedBalance &&
		result.JournalEntries == len(verified)+len(completed)
	return result, nil
}

// ReconcileAll reconciles every worker.
func (e *Engine) ReconcileAll(ctx context.Context) ([]domain.WalletReconciliation, error) {
	workers, err := e.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]domain.WalletReconciliation, 0, len(workers))
	for _, worker := range workers {
		result, err := e.ReconcileWallet(ctx, worker.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile worker %s: %w", worker.ID, err)
		}
		results = append(results, *result)
	}
	return results, nil
}
