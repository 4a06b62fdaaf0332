/**
 * @description
 * PostgreSQL backend. Transactions run at READ COMMITTED and serialize on the rows
 * they touch with SELECT ... FOR UPDATE, so concurrent claims on one task or
 * concurrent debits of one wallet queue behind each other instead of losing updates.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: connection pool.
 * - github.com/jackc/pgx/v5/pgconn: SQLSTATE inspection for conflict classification.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

var postgresDialect = dialect{name: BackendPostgres, forUpdate: " FOR UPDATE"}

// PostgresStore is a Store backed by a pgx pool.
type PostgresStore struct {
	sqlStore
	db *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an existing pool. The schema must already be applied.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		sqlStore: sqlStore{q: pgxQueryer{conn: pool}, d: postgresDialect},
		db:       pool,
	}
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyPgError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, newSQLTx(pgxQueryer{conn: tx}, postgresDialect)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	return nil
}

func (s *PostgresStore) ClaimOutbox(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	return s.claimOutbox(ctx, limit, staleAfter, " FOR UPDATE SKIP LOCKED")
}

// classifyPgError maps retryable SQLSTATEs to ErrConflict and unique violations to ErrDuplicate.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

type pgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQueryer struct {
	conn pgxConn
}

func (q pgxQueryer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, classifyPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (q pgxQueryer) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return pgxRow{row: q.conn.QueryRow(ctx, query, args...)}
}

func (q pgxQueryer) query(ctx context.Context, query string, args ...any) (rowsIterator, error) {
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	return pgxRows{Rows: rows}, nil
}

type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...any) error {
	return classifyPgError(r.row.Scan(dest...))
}

type pgxRows struct {
	pgx.Rows
}

func (r pgxRows) Err() error {
	return classifyPgError(r.Rows.Err())
}
