/**
 * @description
 * Workers, their wallets, partner organizations and the credit journal.
 *
 * @notes
 * - The wallet balance only changes through Credit and Debit, and the engine only calls
 *   those inside the transaction that verifies a task or completes a redemption.
 * - Every wallet mutation is mirrored by exactly one LedgerEntry keyed by (kind, source).
 */

package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxMealAmount bounds a single task reward or redemption.
const MaxMealAmount int64 = 100_000

// Wallet holds a worker's meal-credit balance. It is never negative.
type Wallet struct {
	MealCredits int64 `json:"meal_credits"`
}

// Credit adds amount to the balance, failing without change if the sum would overflow.
func (w *Wallet) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > math.MaxInt64-w.MealCredits {
		return fmt.Errorf("%w: balance %d, credit %d", ErrWalletLimit, w.MealCredits, amount)
	}
	w.MealCredits += amount
	return nil
}

// Debit subtracts amount, failing without change if the balance would go negative.
func (w *Wallet) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if w.MealCredits < amount {
		return fmt.Errorf("%w: balance %d, required %d", ErrInsufficientCredits, w.MealCredits, amount)
	}
	w.MealCredits -= amount
	return nil
}

// Worker is a user with the worker role.
type Worker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Verified  bool      `json:"verified"`
	Wallet    Wallet    `json:"wallet"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"-"`
}

// RegisterWorkerInput creates a worker with an empty wallet.
type RegisterWorkerInput struct {
	ID       string `json:"id,omitempty" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Phone    string `json:"phone,omitempty" yaml:"phone"`
	Verified bool   `json:"verified" yaml:"verified"`
}

func (in RegisterWorkerInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

// OrganizationType is the kind of partner.
type OrganizationType string

const (
	OrganizationNGO   OrganizationType = "ngo"
	OrganizationShop  OrganizationType = "shop"
	OrganizationDonor OrganizationType = "donor"
)

func (t OrganizationType) Valid() bool {
	return t == OrganizationNGO || t == OrganizationShop || t == OrganizationDonor
}

// Organization is a partner that posts tasks and serves redemptions. Read-only to the engine.
type Organization struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	ContactPhone string           `json:"contact_phone,omitempty"`
	Address      string           `json:"address,omitempty"`
	Type         OrganizationType `json:"type"`
	Verified     bool             `json:"verified"`
	CreatedAt    time.Time        `json:"created_at"`
}

type RegisterOrganizationInput struct {
	ID           string           `json:"id,omitempty" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	ContactPhone string           `json:"contact_phone,omitempty" yaml:"contact_phone"`
	Address      string           `json:"address,omitempty" yaml:"address"`
	Type         OrganizationType `json:"type" yaml:"type"`
	Verified     bool             `json:"verified" yaml:"verified"`
}

func (in RegisterOrganizationInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown organization type %q", ErrInvalidInput, in.Type)
	}
	return nil
}

// LedgerKind tags a journal entry with the operation that produced it.
type LedgerKind string

const (
	LedgerTaskReward      LedgerKind = "task_reward"
	LedgerRedemptionDebit LedgerKind = "redemption_debit"
)

// LedgerEntry is one wallet mutation. Amount is signed.
type LedgerEntry struct {
	ID           string     `json:"id"`
	WorkerID     string     `json:"worker_id"`
	Kind         LedgerKind `json:"kind"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	TaskID       string     `json:"task_id,omitempty"`
	RedemptionID string     `json:"redemption_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SourceID is the task or redemption that justified the entry.
func (e LedgerEntry) SourceID() string {
	if e.Kind == LedgerTaskReward {
		return e.TaskID
	}
	return e.RedemptionID
}

// RewardEntry journals the credit for a verified task.
func RewardEntry(id string, task *Task, balanceAfter int64, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           id,
		WorkerID:     task.ClaimedBy,
		Kind:         LedgerTaskReward,
		Amount:       task.RewardMeals,
		BalanceAfter: balanceAfter,
		TaskID:       task.ID,
		CreatedAt:    now,
	}
}

// DebitEntry journals the debit for a completed redemption.
func DebitEntry(id string, redemption *Redemption, balanceAfter int64, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           id,
		WorkerID:     redemption.UserID,
		Kind:         LedgerRedemptionDebit,
		Amount:       -redemption.MealCredits,
		BalanceAfter: balanceAfter,
		RedemptionID: redemption.ID,
		CreatedAt:    now,
	}
}
