package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// Schema version tracking:
// 1 - Initial ledger schema
const sqliteSchemaVersion = 1

var sqliteDialect = dialect{name: BackendSQLite, rebind: rebindNumbered}

// SQLiteStore is a single-file backend for development and small deployments.
// All access goes through one connection, so transactions are serialized by the pool.
type SQLiteStore struct {
	sqlStore
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies pragmas and schema.
// Transactions begin IMMEDIATE so the write lock is taken before the first read.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{
		sqlStore: sqlStore{q: sqlQueryer{conn: db}, d: sqliteDialect},
		db:       db,
	}, nil
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= sqliteSchemaVersion {
		return nil
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTx must not call methods on s from inside fn: the single connection is held by the transaction.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifySQLiteError(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, newSQLTx(sqlQueryer{conn: tx}, sqliteDialect)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifySQLiteError(err))
	}
	return nil
}

func (s *SQLiteStore) ClaimOutbox(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	return s.claimOutbox(ctx, limit, staleAfter, "")
}

// classifySQLiteError maps lock contention to ErrConflict and key violations to ErrDuplicate.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %s", ErrConflict, sqliteErr.Error())
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %s", ErrDuplicate, sqliteErr.Error())
	}
	return err
}

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQueryer struct {
	conn sqlConn
}

func (q sqlQueryer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := q.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifySQLiteError(err)
	}
	return result.RowsAffected()
}

func (q sqlQueryer) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return sqlRow{row: q.conn.QueryRowContext(ctx, query, args...)}
}

func (q sqlQueryer) query(ctx context.Context, query string, args ...any) (rowsIterator, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return sqlRows{rows: rows}, nil
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	return classifySQLiteError(r.row.Scan(dest...))
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return classifySQLiteError(r.rows.Err()) }
func (r sqlRows) Close()                 { _ = r.rows.Close() }
