package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
)

// RequestRedemption records a worker's intent to spend credits at an organization.
// The wallet is not checked or touched until the redemption is completed.
func (e *Engine) RequestRedemption(ctx context.Context, in domain.RedemptionRequest) (*domain.Redemption, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var redemption *domain.Redemption
	err := e.runInTx(ctx, "request_redemption", func(ctx context.Context, tx store.Tx) error {
		worker, err := tx.GetWorker(ctx, in.WorkerID)
		if err != nil {
			return err
		}
		org, err := tx.GetOrganization(ctx, in.OrgID)
		if err != nil {
			return err
		}
		now := e.clock()
		redemption = domain.NewRedemption(e.newID(), worker, org, in.MealCredits, now)
		if err := tx.InsertRedemption(ctx, redemption); err != nil {
			return err
		}
		return e.enqueue(ctx, tx, domain.RedemptionEvent(e.newID(), domain.EventRedemptionRequested, redemption, now))
	})
	if err != nil {
		return nil, err
	}
	return redemption, nil
}

// CompleteRedemption confirms pickup and debits the worker's wallet by the stored amount.
// The balance is re-checked against the wallet as read in this transaction, so concurrent
// completions for one worker can never overdraw it.
func (e *Engine) CompleteRedemption(ctx context.Context, redemptionID, workerID string, mealCredits int64) (*domain.Redemption, error) {
	return e.CompleteRedemptionWithProof(ctx, redemptionID, workerID, mealCredits, "")
}

// CompleteRedemptionWithProof is CompleteRedemption with an optional pickup photo
// reference stored on the redemption.
func (e *Engine) CompleteRedemptionWithProof(ctx context.Context, redemptionID, workerID string, mealCredits int64, proofPhoto string) (*domain.Redemption, error) {
	if mealCredits <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var (
		redemption *domain.Redemption
		balance    int64
	)
	err := e.runInTx(ctx, "complete_redemption", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		if current.Status != domain.RedemptionRequested {
			return fmt.Errorf("%w: redemption %s is %s", domain.ErrRedemptionNotRequested, current.ID, current.Status)
		}
		worker, err := tx.GetWorker(ctx, current.UserID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := current.Complete(workerID, mealCredits, &worker.Wallet, now); err != nil {
			return err
		}
		current.ProofPhoto = strings.TrimSpace(proofPhoto)

		if err := tx.UpdateRedemption(ctx, current); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, worker); err != nil {
			return err
		}
		entry := domain.DebitEntry(e.newID(), current, worker.Wallet.MealCredits, now)
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		event := domain.RedemptionEvent(e.newID(), domain.EventRedemptionCompleted, current, now).WithBalance(worker.Wallet.MealCredits)
		if err := e.enqueue(ctx, tx, event); err != nil {
			return err
		}
		redemption = current
		balance = worker.Wallet.MealCredits
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=engine op=complete_redemption msg=\"debited worker\" redemption_id=%s worker_id=%s amount=%d balance=%d", redemption.ID, redemption.UserID, redemption.MealCredits, balance)
	return redemption, nil
}

// RejectRedemption closes a requested redemption without touching the wallet.
func (e *Engine) RejectRedemption(ctx context.Context, redemptionID, reason string) (*domain.Redemption, error) {
	var redemption *domain.Redemption
	err := e.runInTx(ctx, "reject_redemption", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := current.Reject(reason, now); err != nil {
			return err
		}
		if err := tx.UpdateRedemption(ctx, current); err != nil {
			return err
		}
		redemption = current
		return e.enqueue(ctx, tx, domain.RedemptionEvent(e.newID(), domain.EventRedemptionRejected, current, now))
	})
	if err != nil {
		return nil, err
	}
	return redemption, nil
}

func (e *Engine) GetRedemption(ctx context.Context, redemptionID string) (*domain.Redemption, error) {
	return e.store.GetRedemption(ctx, redemptionID)
}

// ListRedemptions returns redemptions newest first.
func (e *Engine) ListRedemptions(ctx context.Context, filter store.RedemptionFilter) ([]domain.Redemption, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown redemption status %q", domain.ErrInvalidInput, filter.Status)
	}
	return e.store.ListRedemptions(ctx, filter)
}
