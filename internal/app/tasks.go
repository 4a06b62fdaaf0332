package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
)

// PostTask publishes a new open task for an existing organization.
func (e *Engine) PostTask(ctx context.Context, in domain.PostTaskInput) (*domain.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var task *domain.Task
	err := e.runInTx(ctx, "post_task", func(ctx context.Context, tx store.Tx) error {
		org, err := tx.GetOrganization(ctx, strings.TrimSpace(in.OrgID))
		if err != nil {
			return err
		}
		now := e.clock()
		task = domain.NewTask(e.newID(), in, org, now)
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		return e.enqueue(ctx, tx, domain.TaskEvent(e.newID(), domain.EventTaskPosted, task, now))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimTask reserves an open task for workerID. Of any number of concurrent claims on
// one task exactly one commits; the rest observe ErrTaskNotOpen.
// An empty workerName falls back to the registered worker name.
func (e *Engine) ClaimTask(ctx context.Context, taskID, workerID, workerName string) (*domain.Task, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(workerID) == "" {
		return nil, fmt.Errorf("%w: task and worker are required", domain.ErrInvalidInput)
	}
	if err := e.checkClaimRate(ctx, workerID); err != nil {
		return nil, err
	}

	var task *domain.Task
	err := e.runInTx(ctx, "claim_task", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		worker, err := tx.GetWorker(ctx, workerID)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(workerName)
		if name == "" {
			name = worker.Name
		}
		now := e.clock()
		if err := current.Claim(worker.ID, name, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		task = current
		return e.enqueue(ctx, tx, domain.TaskEvent(e.newID(), domain.EventTaskClaimed, current, now))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitProof attaches proof to a claimed task.
func (e *Engine) SubmitProof(ctx context.Context, taskID string, in domain.ProofInput) (*domain.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var task *domain.Task
	err := e.runInTx(ctx, "submit_proof", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := current.SubmitProof(in, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		task = current
		return e.enqueue(ctx, tx, domain.TaskEvent(e.newID(), domain.EventTaskProofSubmitted, current, now))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// VerifyTask approves submitted proof and credits the claimant's wallet with the
// task reward in the same transaction.
func (e *Engine) VerifyTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var (
		task    *domain.Task
		balance int64
	)
	err := e.runInTx(ctx, "verify_task", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := current.Verify(now); err != nil {
			return err
		}
		worker, err := tx.GetWorker(ctx, current.ClaimedBy)
		if err != nil {
			return fmt.Errorf("claimant of task %s: %w", current.ID, err)
		}
		if err := worker.Wallet.Credit(current.RewardMeals); err != nil {
			return err
		}

		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, worker); err != nil {
			return err
		}
		entry := domain.RewardEntry(e.newID(), current, worker.Wallet.MealCredits, now)
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		event := domain.TaskEvent(e.newID(), domain.EventTaskVerified, current, now).WithBalance(worker.Wallet.MealCredits)
		if err := e.enqueue(ctx, tx, event); err != nil {
			return err
		}
		task = current
		balance = worker.Wallet.MealCredits
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=engine op=verify_task msg=\"credited claimant\" task_id=%s worker_id=%s amount=%d balance=%d", task.ID, task.ClaimedBy, task.RewardMeals, balance)
	return task, nil
}

// CancelTask withdraws an open or claimed task. The claimant, if any, is kept.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task *domain.Task
	err := e.runInTx(ctx, "cancel_task", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := current.Cancel(now); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, current); err != nil {
			return err
		}
		task = current
		return e.enqueue(ctx, tx, domain.TaskEvent(e.newID(), domain.EventTaskCancelled, current, now))
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (e *Engine) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks newest first.
func (e *Engine) ListTasks(ctx context.Context, filter store.TaskFilter) ([]domain.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown task status %q", domain.ErrInvalidInput, filter.Status)
	}
	return e.store.ListTasks(ctx, filter)
}

// ListOpenTasks returns tasks workers can still claim.
func (e *Engine) ListOpenTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	return e.store.ListTasks(ctx, store.TaskFilter{Status: domain.TaskOpen, Limit: limit})
}

func (e *Engine) checkClaimRate(ctx context.Context, workerID string) error {
	if e.claimLimiter == nil {
		return nil
	}
	decision, err := e.claimLimiter.AllowClaim(ctx, workerID)
	if err != nil {
		// Fail open when Redis is unreachable.
		log.Printf("level=warn component=engine op=claim_task msg=\"claim limiter unavailable; allowing claim\" worker_id=%s err=%v", workerID, err)
		return nil
	}
	if !decision.Allowed {
		log.Printf("level=info component=engine op=claim_task msg=\"claim rate limited\" worker_id=%s claims=%d retry_after=%s", workerID, decision.Claims, decision.RetryAfter)
		return &RateLimitedError{RetryAfterSeconds: decision.RetryAfterSeconds()}
	}
	return nil
}

// RateLimitedError carries the limiter's retry hint. It matches domain.ErrRateLimited.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s (retry after %ds)", domain.ErrRateLimited.Message, e.RetryAfterSeconds)
}

func (e *RateLimitedError) Unwrap() error {
	return domain.ErrRateLimited
}

// IsRateLimited reports whether err is a claim rejected by the rate limiter.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited, true
	}
	return nil, false
}
