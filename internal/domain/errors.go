/**
 * @description
 * Error taxonomy for the meal-credit ledger. Every failure surfaced by the engine is
 * a `*Error` carrying a coarse `Kind` (what the caller can do about it) and a stable
 * machine-readable `Code` (which precondition failed).
 *
 * @notes
 * - Sentinels are compared by identity, so wrapping with fmt.Errorf("...: %w", err)
 *   keeps errors.Is working all the way up to the API layer.
 */

package domain

import "errors"

// Kind classifies an error by how a caller should react to it.
type Kind string

const (
	KindInternal            Kind = "internal"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindConflict            Kind = "conflict"
	KindRateLimited         Kind = "rate_limited"
)

// Error is a typed ledger error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Retryable reports whether re-running the same request may succeed without any change of input.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindRateLimited
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrTaskNotFound         = newError(KindNotFound, "task_not_found", "task not found")
	ErrRedemptionNotFound   = newError(KindNotFound, "redemption_not_found", "redemption not found")
	ErrWorkerNotFound       = newError(KindNotFound, "worker_not_found", "worker not found")
	ErrOrganizationNotFound = newError(KindNotFound, "organization_not_found", "organization not found")

	ErrInvalidInput       = newError(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidAmount      = newError(KindInvalidInput, "invalid_amount", "meal credits must be greater than zero")
	ErrRedemptionMismatch = newError(KindInvalidInput, "redemption_mismatch", "worker or amount does not match the redemption")

	ErrTaskNotOpen              = newError(KindPreconditionFailed, "task_not_open", "task is not available")
	ErrTaskNotClaimed           = newError(KindPreconditionFailed, "task_not_claimed", "task is not in claimed status")
	ErrTaskNotSubmitted         = newError(KindPreconditionFailed, "task_not_submitted", "task is not in submitted status")
	ErrNoClaimant               = newError(KindPreconditionFailed, "no_claimant", "no worker claimed this task")
	ErrNotClaimant              = newError(KindPreconditionFailed, "not_claimant", "proof can only be submitted by the worker who claimed the task")
	ErrAlreadyVerified          = newError(KindPreconditionFailed, "already_verified", "task has already been verified")
	ErrTaskTerminal             = newError(KindPreconditionFailed, "task_terminal", "task is already verified or cancelled")
	ErrTaskAwaitingVerification = newError(KindPreconditionFailed, "task_awaiting_verification", "task has proof awaiting verification")
	ErrRedemptionNotRequested   = newError(KindPreconditionFailed, "redemption_not_requested", "redemption is not in requested status")
	ErrAlreadyExists            = newError(KindPreconditionFailed, "already_exists", "a record with this id already exists")
	ErrWalletLimit              = newError(KindPreconditionFailed, "wallet_limit_exceeded", "credit would exceed the wallet limit")

	ErrInsufficientCredits = newError(KindInsufficientBalance, "insufficient_credits", "insufficient meal credits")

	ErrStoreConflict = newError(KindConflict, "store_conflict", "ledger store is busy, retry the request")
	ErrRateLimited   = newError(KindRateLimited, "rate_limited", "too many requests, retry later")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
