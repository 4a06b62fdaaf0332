package domain

import (
	"fmt"
	"strings"
	"time"
)

// RedemptionStatus is the closed set of redemption states.
type RedemptionStatus string

const (
	RedemptionRequested RedemptionStatus = "requested"
	RedemptionCompleted RedemptionStatus = "completed"
	RedemptionRejected  RedemptionStatus = "rejected"
)

var redemptionTransitions = map[RedemptionStatus][]RedemptionStatus{
	RedemptionRequested: {RedemptionCompleted, RedemptionRejected},
}

func (s RedemptionStatus) Valid() bool {
	switch s {
	case RedemptionRequested, RedemptionCompleted, RedemptionRejected:
		return true
	default:
		return false
	}
}

func (s RedemptionStatus) IsTerminal() bool {
	return s == RedemptionCompleted || s == RedemptionRejected
}

// ParseRedemptionStatus normalizes and validates a status string.
func ParseRedemptionStatus(raw string) (RedemptionStatus, error) {
	status := RedemptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown redemption status %q", ErrInvalidInput, raw)
	}
	return status, nil
}

// CanTransitionRedemption reports whether from -> to is listed in the redemption transition table.
func CanTransitionRedemption(from, to RedemptionStatus) bool {
	for _, next := range redemptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Redemption is a worker's request to spend meal credits at a partner organization.
// MealCredits is fixed at creation and is the amount debited on completion.
type Redemption struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	UserName        string           `json:"user_name,omitempty"`
	OrgID           string           `json:"org_id"`
	OrgName         string           `json:"org_name,omitempty"`
	MealCredits     int64            `json:"meal_credits"`
	Status          RedemptionStatus `json:"status"`
	RequestedAt     time.Time        `json:"requested_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	ProofPhoto      string           `json:"proof_photo,omitempty"`
	Version         int64            `json:"-"`
}

// RedemptionRequest is the input for a new redemption.
type RedemptionRequest struct {
	WorkerID    string `json:"worker_id" yaml:"worker_id"`
	OrgID       string `json:"org_id" yaml:"org_id"`
	MealCredits int64  `json:"meal_credits" yaml:"meal_credits"`
}

func (in RedemptionRequest) Validate() error {
	if strings.TrimSpace(in.WorkerID) == "" {
		return fmt.Errorf("%w: worker is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.OrgID) == "" {
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}
	if in.MealCredits <= 0 {
		return ErrInvalidAmount
	}
	if in.MealCredits > MaxMealAmount {
		return fmt.Errorf("%w: at most %d per redemption", ErrInvalidAmount, MaxMealAmount)
	}
	return nil
}

// NewRedemption builds a requested redemption. The wallet is not touched here.
func NewRedemption(id string, worker *Worker, org *Organization, mealCredits int64, now time.Time) *Redemption {
	return &Redemption{
		ID:          id,
		UserID:      worker.ID,
		UserName:    worker.Name,
		OrgID:       org.ID,
		OrgName:     org.Name,
		MealCredits: mealCredits,
		Status:      RedemptionRequested,
		RequestedAt: now,
	}
}

func (r *Redemption) moveTo(to RedemptionStatus) {
	if !CanTransitionRedemption(r.Status, to) {
		panic(fmt.Sprintf("redemption %s: illegal transition %s -> %s", r.ID, r.Status, to))
	}
	r.Status = to
}

// Complete marks the redemption completed and debits wallet by the stored amount.
// workerID and mealCredits are the caller's view and must match what was requested.
// On any error neither the redemption nor the wallet is modified.
func (r *Redemption) Complete(workerID string, mealCredits int64, wallet *Wallet, now time.Time) error {
	if r.Status != RedemptionRequested {
		return fmt.Errorf("%w: redemption %s is %s", ErrRedemptionNotRequested, r.ID, r.Status)
	}
	if workerID != r.UserID || mealCredits != r.MealCredits {
		return fmt.Errorf("%w: redemption %s", ErrRedemptionMismatch, r.ID)
	}
	if err := wallet.Debit(r.MealCredits); err != nil {
		return fmt.Errorf("redemption %s: %w", r.ID, err)
	}
	r.moveTo(RedemptionCompleted)
	completedAt := now
	r.CompletedAt = &completedAt
	return nil
}

// Reject closes the redemption without any wallet effect.
func (r *Redemption) Reject(reason string, now time.Time) error {
	if r.Status != RedemptionRequested {
		return fmt.Errorf("%w: redemption %s is %s", ErrRedemptionNotRequested, r.ID, r.Status)
	}
	r.moveTo(RedemptionRejected)
	rejectedAt := now
	r.RejectedAt = &rejectedAt
	r.RejectionReason = strings.TrimSpace(reason)
	return nil
}
