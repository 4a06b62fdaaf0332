/**
 * @description
 * SQL implementation of Tx, Reader and Outbox shared by the PostgreSQL and SQLite
 * backends. Queries are written once with PostgreSQL-style `$N` placeholders; each
 * backend supplies a dialect that rebinds them and an adapter that classifies driver
 * errors into ErrConflict / ErrDuplicate.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: pgx.ErrNoRows is matched alongside database/sql's sql.ErrNoRows.
 */

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/jackc/pgx/v5"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type rowsIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// queryer is the narrow surface both drivers are adapted to. Implementations
// classify driver errors before returning them.
type queryer interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (rowsIterator, error)
}

type dialect struct {
	name string
	// forUpdate is appended to reads made inside a transaction.
	forUpdate string
	rebind    func(query string) string
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// rebindNumbered turns `$N` into SQLite's `?N`, which keeps explicit positions.
func rebindNumbered(query string) string {
	return placeholderPattern.ReplaceAllString(query, "?$1")
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

type sqlStore struct {
	q queryer
	d dialect
}

func (s sqlStore) rebind(query string) string {
	if s.d.rebind == nil {
		return query
	}
	return s.d.rebind(query)
}

func (s sqlStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	return s.q.exec(ctx, s.rebind(query), args...)
}

func (s sqlStore) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return s.q.queryRow(ctx, s.rebind(query), args...)
}

func (s sqlStore) query(ctx context.Context, query string, args ...any) (rowsIterator, error) {
	return s.q.query(ctx, s.rebind(query), args...)
}

// sqlTx is a sqlStore bound to an open transaction; reads take row locks where the dialect has them.
type sqlTx struct {
	sqlStore
}

func newSQLTx(q queryer, d dialect) *sqlTx {
	return &sqlTx{sqlStore{q: q, d: d}}
}

const taskColumns = `id, title, description, posted_by_org, posted_by_org_name, location, reward_meals, status,
	claimed_by, claimed_by_name, claimed_at, proof, due_by, verified_at, cancelled_at, created_at, updated_at, version`

func marshalJSON(value any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(value)
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task     domain.Task
		status   string
		location []byte
		proof    []byte
	)
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.PostedByOrg, &task.PostedByOrgName,
		&location, &task.RewardMeals, &status, &task.ClaimedBy, &task.ClaimedByName, &task.ClaimedAt,
		&proof, &task.DueBy, &task.VerifiedAt, &task.CancelledAt, &task.CreatedAt, &task.UpdatedAt, &task.Version,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if len(location) > 0 {
		task.Location = &domain.Location{}
		if err := json.Unmarshal(location, task.Location); err != nil {
			return nil, fmt.Errorf("decode task %s location: %w", task.ID, err)
		}
	}
	if len(proof) > 0 {
		task.Proof = &domain.Proof{}
		if err := json.Unmarshal(proof, task.Proof); err != nil {
			return nil, fmt.Errorf("decode task %s proof: %w", task.ID, err)
		}
	}
	normalizeTaskTimes(&task)
	return &task, nil
}

func normalizeTaskTimes(task *domain.Task) {
	task.DueBy = task.DueBy.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	task.ClaimedAt = utcPtr(task.ClaimedAt)
	task.VerifiedAt = utcPtr(task.VerifiedAt)
	task.CancelledAt = utcPtr(task.CancelledAt)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func (s sqlStore) getTask(ctx context.Context, id, lock string) (*domain.Task, error) {
	task, err := scanTask(s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`+lock, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return task, nil
}

func (s sqlStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.getTask(ctx, id, "")
}

func (tx *sqlTx) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return tx.getTask(ctx, id, tx.d.forUpdate)
}

func (tx *sqlTx) InsertTask(ctx context.Context, task *domain.Task) error {
	location, err := marshalJSON(task.Location, task.Location == nil)
	if err != nil {
		return err
	}
	proof, err := marshalJSON(task.Proof, task.Proof == nil)
	if err != nil {
		return err
	}
	_, err = tx.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1)
	`,
		task.ID, task.Title, task.Description, task.PostedByOrg, task.PostedByOrgName, location, task.RewardMeals,
		string(task.Status), task.ClaimedBy, task.ClaimedByName, utcPtr(task.ClaimedAt), proof, task.DueBy.UTC(),
		utcPtr(task.VerifiedAt), utcPtr(task.CancelledAt), task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	task.Version = 1
	return nil
}

func (tx *sqlTx) UpdateTask(ctx context.Context, task *domain.Task) error {
	proof, err := marshalJSON(task.Proof, task.Proof == nil)
	if err != nil {
		return err
	}
	affected, err := tx.exec(ctx, `
		UPDATE tasks
		SET status = $2, claimed_by = $3, claimed_by_name = $4, claimed_at = $5, proof = $6,
			verified_at = $7, cancelled_at = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $10
	`,
		task.ID, string(task.Status), task.ClaimedBy, task.ClaimedByName, utcPtr(task.ClaimedAt), proof,
		utcPtr(task.VerifiedAt), utcPtr(task.CancelledAt), task.UpdatedAt.UTC(), task.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	if affected == 0 {
		return ErrConflict
	}
	task.Version++
	return nil
}

func (s sqlStore) ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		where = append(where, fmt.Sprintf("posted_by_org = $%d", len(args)))
	}
	if filter.ClaimedBy != "" {
		args = append(args, filter.ClaimedBy)
		where = append(where, fmt.Sprintf("claimed_by = $%d", len(args)))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normalizeLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, len(args))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

const redemptionColumns = `id, user_id, user_name, org_id, org_name, meal_credits, status, requested_at,
	completed_at, rejected_at, rejection_reason, proof_photo, version`

func scanRedemption(row rowScanner) (*domain.Redemption, error) {
	var (
		redemption domain.Redemption
		status     string
	)
	err := row.Scan(
		&redemption.ID, &redemption.UserID, &redemption.UserName, &redemption.OrgID, &redemption.OrgName,
		&redemption.MealCredits, &status, &redemption.RequestedAt, &redemption.CompletedAt,
		&redemption.RejectedAt, &redemption.RejectionReason, &redemption.ProofPhoto, &redemption.Version,
	)
	if err != nil {
		return nil, err
	}
	redemption.Status = domain.RedemptionStatus(status)
	redemption.RequestedAt = redemption.RequestedAt.UTC()
	redemption.CompletedAt = utcPtr(redemption.CompletedAt)
	redemption.RejectedAt = utcPtr(redemption.RejectedAt)
	return &redemption, nil
}

func (s sqlStore) getRedemption(ctx context.Context, id, lock string) (*domain.Redemption, error) {
	redemption, err := scanRedemption(s.queryRow(ctx, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1`+lock, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("failed to load redemption %s: %w", id, err)
	}
	return redemption, nil
}

func (s sqlStore) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	return s.getRedemption(ctx, id, "")
}

func (tx *sqlTx) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	return tx.getRedemption(ctx, id, tx.d.forUpdate)
}

func (tx *sqlTx) InsertRedemption(ctx context.Context, redemption *domain.Redemption) error {
	_, err := tx.exec(ctx, `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
	`,
		redemption.ID, redemption.UserID, redemption.UserName, redemption.OrgID, redemption.OrgName,
		redemption.MealCredits, string(redemption.Status), redemption.RequestedAt.UTC(),
		utcPtr(redemption.CompletedAt), utcPtr(redemption.RejectedAt), redemption.RejectionReason,
		redemption.ProofPhoto,
	)
	if err != nil {
		return fmt.Errorf("failed to insert redemption %s: %w", redemption.ID, err)
	}
	redemption.Version = 1
	return nil
}

func (tx *sqlTx) UpdateRedemption(ctx context.Context, redemption *domain.Redemption) error {
	affected, err := tx.exec(ctx, `
		UPDATE redemptions
		SET status = $2, completed_at = $3, rejected_at = $4, rejection_reason = $5, proof_photo = $6,
			version = version + 1
		WHERE id = $1 AND version = $7
	`,
		redemption.ID, string(redemption.Status), utcPtr(redemption.CompletedAt), utcPtr(redemption.RejectedAt),
		redemption.RejectionReason, redemption.ProofPhoto, redemption.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update redemption %s: %w", redemption.ID, err)
	}
	if affected == 0 {
		return ErrConflict
	}
	redemption.Version++
	return nil
}

func (s sqlStore) ListRedemptions(ctx context.Context, filter RedemptionFilter) ([]domain.Redemption, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		where = append(where, fmt.Sprintf("org_id = $%d", len(args)))
	}
	query := `SELECT ` + redemptionColumns + ` FROM redemptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normalizeLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY requested_at DESC, id ASC LIMIT $%d`, len(args))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	defer rows.Close()

	redemptions := make([]domain.Redemption, 0)
	for rows.Next() {
		redemption, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, *redemption)
	}
	return redemptions, rows.Err()
}

const workerColumns = `id, name, phone, verified, meal_credits, created_at, version`

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var worker domain.Worker
	err := row.Scan(&worker.ID, &worker.Name, &worker.Phone, &worker.Verified, &worker.Wallet.MealCredits, &worker.CreatedAt, &worker.Version)
	if err != nil {
		return nil, err
	}
	worker.CreatedAt = worker.CreatedAt.UTC()
	return &worker, nil
}

func (s sqlStore) getWorker(ctx context.Context, id, lock string) (*domain.Worker, error) {
	worker, err := scanWorker(s.queryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`+lock, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("failed to load worker %s: %w", id, err)
	}
	return worker, nil
}

func (s sqlStore) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	return s.getWorker(ctx, id, "")
}

func (tx *sqlTx) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	return tx.getWorker(ctx, id, tx.d.forUpdate)
}

func (tx *sqlTx) InsertWorker(ctx context.Context, worker *domain.Worker) error {
	_, err := tx.exec(ctx, `
		INSERT INTO workers (`+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
	`, worker.ID, worker.Name, worker.Phone, worker.Verified, worker.Wallet.MealCredits, worker.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert worker %s: %w", worker.ID, err)
	}
	worker.Version = 1
	return nil
}

func (tx *sqlTx) UpdateWallet(ctx context.Context, worker *domain.Worker) error {
	affected, err := tx.exec(ctx, `
		UPDATE workers SET meal_credits = $2, version = version + 1
		WHERE id = $1 AND version = $3
	`, worker.ID, worker.Wallet.MealCredits, worker.Version)
	if err != nil {
		return fmt.Errorf("failed to update wallet for worker %s: %w", worker.ID, err)
	}
	if affected == 0 {
		return ErrConflict
	}
	worker.Version++
	return nil
}

func (s sqlStore) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := s.query(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	workers := make([]domain.Worker, 0)
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *worker)
	}
	return workers, rows.Err()
}

const organizationColumns = `id, name, contact_phone, address, org_type, verified, created_at`

func scanOrganization(row rowScanner) (*domain.Organization, error) {
	var (
		org     domain.Organization
		orgType string
	)
	if err := row.Scan(&org.ID, &org.Name, &org.ContactPhone, &org.Address, &orgType, &org.Verified, &org.CreatedAt); err != nil {
		return nil, err
	}
	org.Type = domain.OrganizationType(orgType)
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

// Organizations are immutable to the engine, so transactional reads need no lock.
func (s sqlStore) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	org, err := scanOrganization(s.queryRow(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to load organization %s: %w", id, err)
	}
	return org, nil
}

func (tx *sqlTx) InsertOrganization(ctx context.Context, org *domain.Organization) error {
	_, err := tx.exec(ctx, `
		INSERT INTO organizations (`+organizationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, org.ID, org.Name, org.ContactPhone, org.Address, string(org.Type), org.Verified, org.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert organization %s: %w", org.ID, err)
	}
	return nil
}

func (s sqlStore) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.query(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]domain.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}
	return orgs, rows.Err()
}

func (tx *sqlTx) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := tx.exec(ctx, `
		INSERT INTO ledger_entries (id, worker_id, kind, amount, balance_after, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.WorkerID, string(entry.Kind), entry.Amount, entry.BalanceAfter, entry.SourceID(), entry.CreatedAt.UTC())
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return ErrConflict
		}
		return fmt.Errorf("failed to append ledger entry for worker %s: %w", entry.WorkerID, err)
	}
	return nil
}

func (s sqlStore) ListLedgerEntries(ctx context.Context, workerID string) ([]domain.LedgerEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, worker_id, kind, amount, balance_after, source_id, created_at
		FROM ledger_entries
		WHERE worker_id = $1
		ORDER BY created_at ASC, id ASC
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			entry    domain.LedgerEntry
			kind     string
			sourceID string
		)
		if err := rows.Scan(&entry.ID, &entry.WorkerID, &kind, &entry.Amount, &entry.BalanceAfter, &sourceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = domain.LedgerKind(kind)
		if entry.Kind == domain.LedgerTaskReward {
			entry.TaskID = sourceID
		} else {
			entry.RedemptionID = sourceID
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Outbox timestamps are stored as unix milliseconds so both dialects compare them numerically.

func (tx *sqlTx) EnqueueOutbox(ctx context.Context, message *domain.OutboxMessage) error {
	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := tx.exec(ctx, `
		INSERT INTO event_outbox (id, exchange, routing_key, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5)
	`, message.ID, strings.TrimSpace(message.Exchange), strings.TrimSpace(message.RoutingKey), string(message.Payload), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox message %s: %w", message.ID, err)
	}
	return nil
}

func (s sqlStore) claimOutbox(ctx context.Context, limit int, staleAfter time.Duration, skipLocked string) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	now := time.Now()
	rows, err := s.query(ctx, `
		UPDATE event_outbox
		SET status = 'processing', processing_started_at = $1, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM event_outbox
			WHERE (status = 'pending' AND next_attempt_at <= $1)
				OR (status = 'processing' AND processing_started_at < $2)
			ORDER BY created_at, id
			LIMIT $3`+skipLocked+`
		)
		RETURNING id, exchange, routing_key, payload, attempts, created_at
	`, now.UnixMilli(), now.Add(-staleAfter).UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			message     domain.OutboxMessage
			payloadText string
			createdAt   int64
		)
		if err := rows.Scan(&message.ID, &message.Exchange, &message.RoutingKey, &payloadText, &message.Attempts, &createdAt); err != nil {
			return nil, err
		}
		message.Payload = []byte(payloadText)
		message.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (s sqlStore) MarkOutboxPublished(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `
		UPDATE event_outbox
		SET status = 'published', published_at = $2, processing_started_at = NULL, last_error = NULL
		WHERE id = $1
	`, id, time.Now().UnixMilli())
	return err
}

func (s sqlStore) MarkOutboxFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	_, err := s.exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending', next_attempt_at = $2, processing_started_at = NULL, last_error = $3
		WHERE id = $1
	`, id, time.Now().Add(retryAfter).UnixMilli(), truncateReason(reason))
	return err
}
