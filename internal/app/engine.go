/**
 * @description
 * The Engine owns the task and redemption state machines and the only code paths
 * that mutate a worker's wallet. Every operation is one store transaction that
 * re-reads current state, validates it, and writes the new state together with its
 * wallet mutation, journal entry and outbox event, or aborts with no effect.
 *
 * @notes
 * - On store.ErrConflict the whole closure is re-run from a fresh read, bounded by
 *   maxAttempts. Stale writes are never replayed, so a retried verification cannot
 *   award credit twice: the retry observes the task as verified and fails.
 * - Exhausted retries surface domain.ErrStoreConflict, which callers may retry.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers for tasks, redemptions, journal entries and events.
 * - internal/store: transactional ledger storage.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts    = 8
	DefaultRetryBaseDelay = 5 * time.Millisecond
	DefaultEventsExchange = "job4meal.ledger"
)

// Engine is the task lifecycle and meal-credit ledger service.
type Engine struct {
	store       store.Store
	now         func() time.Time
	newID       func() string
	maxAttempts int
	baseDelay   time.Duration
	exchange    string

	claimLimiter ClaimLimiter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Returned times are normalized to UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithRetryPolicy bounds transaction attempts on store conflicts.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			e.baseDelay = baseDelay
		}
	}
}

// WithEventsExchange sets the exchange recorded on outbox messages.
func WithEventsExchange(exchange string) Option {
	return func(e *Engine) {
		if trimmed := strings.TrimSpace(exchange); trimmed != "" {
			e.exchange = trimmed
		}
	}
}

// WithClaimLimiter checks every claim against limiter. nil disables the check.
func WithClaimLimiter(limiter ClaimLimiter) Option {
	return func(e *Engine) {
		e.claimLimiter = limiter
	}
}

// NewEngine creates an Engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultRetryBaseDelay,
		exchange:    DefaultEventsExchange,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// runInTx runs fn in a store transaction, re-running it from scratch on conflict.
func (e *Engine) runInTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err := e.store.RunInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		lastErr = err
		if attempt == e.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, e.backoff(attempt)); err != nil {
			return err
		}
	}
	log.Printf("level=warn component=engine op=%s msg=\"transaction retries exhausted\" attempts=%d err=%v", op, e.maxAttempts, lastErr)
	return fmt.Errorf("%w: %s gave up after %d attempts", domain.ErrStoreConflict, op, e.maxAttempts)
}

// backoff grows linearly with a jitter of up to one base delay.
func (e *Engine) backoff(attempt int) time.Duration {
	if e.baseDelay <= 0 {
		return 0
	}
	return time.Duration(attempt)*e.baseDelay + rand.N(e.baseDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// enqueue writes event to the outbox inside tx.
func (e *Engine) enqueue(ctx context.Context, tx store.Tx, event *domain.LedgerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.EventType, err)
	}
	return tx.EnqueueOutbox(ctx, &domain.OutboxMessage{
		ID:         event.EventID,
		Exchange:   e.exchange,
		RoutingKey: event.EventType.RoutingKey(),
		Payload:    payload,
		CreatedAt:  event.OccurredAt,
	})
}
