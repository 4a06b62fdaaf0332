/**
 * @description
 * Storage contract for the meal-credit ledger. The engine never talks to a database
 * directly: it runs closures through Store.RunInTx, which gives it a Tx that reads
 * the documents it needs and writes the new state. A transaction either commits all
 * of its writes or none of them.
 *
 * @notes
 * - RunInTx returns ErrConflict when the backend detected concurrent modification
 *   (optimistic version mismatch, serialization failure, busy database). The engine
 *   re-runs the whole closure on ErrConflict, so closures must not keep state between
 *   attempts.
 * - Get* methods on Tx lock or version-track what they read; reads outside a
 *   transaction go through Reader and see committed state only.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
)

var (
	// ErrConflict reports that the transaction lost a race and may be retried.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrDuplicate reports an insert whose id already exists.
	ErrDuplicate = errors.New("store: duplicate record")
)

const defaultListLimit = 100

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status    domain.TaskStatus
	OrgID     string
	ClaimedBy string
	Limit     int
}

// RedemptionFilter narrows ListRedemptions. Zero values match everything.
type RedemptionFilter struct {
	Status domain.RedemptionStatus
	UserID string
	OrgID  string
	Limit  int
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	InsertTask(ctx context.Context, task *domain.Task) error
	UpdateTask(ctx context.Context, task *domain.Task) error

	GetRedemption(ctx context.Context, id string) (*domain.Redemption, error)
	InsertRedemption(ctx context.Context, redemption *domain.Redemption) error
	UpdateRedemption(ctx context.Context, redemption *domain.Redemption) error

	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	InsertWorker(ctx context.Context, worker *domain.Worker) error
	// UpdateWallet persists worker.Wallet. Other worker fields are ignored.
	UpdateWallet(ctx context.Context, worker *domain.Worker) error

	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	InsertOrganization(ctx context.Context, org *domain.Organization) error

	// AppendLedgerEntry journals a wallet mutation. A second entry for the same
	// (kind, source) fails with ErrConflict.
	AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	EnqueueOutbox(ctx context.Context, message *domain.OutboxMessage) error
}

// Reader serves committed state to queries and reporting.
type Reader interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error)
	GetRedemption(ctx context.Context, id string) (*domain.Redemption, error)
	ListRedemptions(ctx context.Context, filter RedemptionFilter) ([]domain.Redemption, error)
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	ListWorkers(ctx context.Context) ([]domain.Worker, error)
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
	ListLedgerEntries(ctx context.Context, workerID string) ([]domain.LedgerEntry, error)
}

// Outbox is the delivery side of the transactional outbox.
type Outbox interface {
	// ClaimOutbox leases up to limit due messages. Messages leased longer than
	// staleAfter ago are handed out again.
	ClaimOutbox(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error
}

// Store is a ledger backend.
type Store interface {
	Reader
	Outbox
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("store: unknown backend")

const maxOutboxReason = 2000

func truncateReason(reason string) string {
	if len(reason) > maxOutboxReason {
		return reason[:maxOutboxReason]
	}
	return reason
}

// Open selects a backend by name. dsn is the database URL for postgres and the file path for sqlite.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(dsn)
	case BackendPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
