package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
)

// MemoryStore is an optimistic, versioned in-process backend. Transactions read
// without holding the lock, buffer their writes, and validate every document they
// read against its current version at commit. A mismatch aborts with ErrConflict.
type MemoryStore struct {
	mu            sync.Mutex
	tasks         map[string]domain.Task
	redemptions   map[string]domain.Redemption
	workers       map[string]domain.Worker
	organizations map[string]domain.Organization
	ledger        []domain.LedgerEntry
	ledgerKeys    map[string]struct{}
	outbox        []*memoryOutboxRecord
	now           func() time.Time
}

type memoryOutboxRecord struct {
	message             domain.OutboxMessage
	status              string
	nextAttemptAt       time.Time
	processingStartedAt time.Time
}

const (
	outboxPending    = "pending"
	outboxProcessing = "processing"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:         make(map[string]domain.Task),
		redemptions:   make(map[string]domain.Redemption),
		workers:       make(map[string]domain.Worker),
		organizations: make(map[string]domain.Organization),
		ledgerKeys:    make(map[string]struct{}),
		now:           time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func ledgerKey(kind domain.LedgerKind, sourceID string) string {
	return string(kind) + "/" + sourceID
}

// RunInTx runs fn against a fresh memory transaction and commits its buffered writes.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:       s,
		reads:       make(map[string]int64),
		tasks:       make(map[string]*domain.Task),
		redemptions: make(map[string]*domain.Redemption),
		workers:     make(map[string]*domain.Worker),
		orgs:        make(map[string]*domain.Organization),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// memoryTx buffers writes until commit. reads maps document keys to the version
// observed; 0 means the document did not exist.
type memoryTx struct {
	store       *MemoryStore
	reads       map[string]int64
	tasks       map[string]*domain.Task
	redemptions map[string]*domain.Redemption
	workers     map[string]*domain.Worker
	orgs        map[string]*domain.Organization
	ledger      []domain.LedgerEntry
	outbox      []domain.OutboxMessage
}

func (tx *memoryTx) observe(key string, version int64) {
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
}

func (tx *memoryTx) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if task, ok := tx.tasks[id]; ok {
		return cloneTask(*task), nil
	}
	tx.store.mu.Lock()
	task, ok := tx.store.tasks[id]
	tx.store.mu.Unlock()
	if !ok {
		tx.observe("task/"+id, 0)
		return nil, domain.ErrTaskNotFound
	}
	tx.observe("task/"+id, task.Version)
	return cloneTask(task), nil
}

func (tx *memoryTx) InsertTask(ctx context.Context, task *domain.Task) error {
	tx.store.mu.Lock()
	_, exists := tx.store.tasks[task.ID]
	tx.store.mu.Unlock()
	if _, buffered := tx.tasks[task.ID]; exists || buffered {
		return ErrDuplicate
	}
	tx.observe("task/"+task.ID, 0)
	tx.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (tx *memoryTx) UpdateTask(ctx context.Context, task *domain.Task) error {
	if _, seen := tx.reads["task/"+task.ID]; !seen {
		tx.observe("task/"+task.ID, task.Version)
	}
	tx.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (tx *memoryTx) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	if redemption, ok := tx.redemptions[id]; ok {
		copied := *redemption
		return cloneRedemption(copied), nil
	}
	tx.store.mu.Lock()
	redemption, ok := tx.store.redemptions[id]
	tx.store.mu.Unlock()
	if !ok {
		tx.observe("redemption/"+id, 0)
		return nil, domain.ErrRedemptionNotFound
	}
	tx.observe("redemption/"+id, redemption.Version)
	return cloneRedemption(redemption), nil
}

func (tx *memoryTx) InsertRedemption(ctx context.Context, redemption *domain.Redemption) error {
	tx.store.mu.Lock()
	_, exists := tx.store.redemptions[redemption.ID]
	tx.store.mu.Unlock()
	if _, buffered := tx.redemptions[redemption.ID]; exists || buffered {
		return ErrDuplicate
	}
	tx.observe("redemption/"+redemption.ID, 0)
	tx.redemptions[redemption.ID] = cloneRedemption(*redemption)
	return nil
}

func (tx *memoryTx) UpdateRedemption(ctx context.Context, redemption *domain.Redemption) error {
	if _, seen := tx.reads["redemption/"+redemption.ID]; !seen {
		tx.observe("redemption/"+redemption.ID, redemption.Version)
	}
	tx.redemptions[redemption.ID] = cloneRedemption(*redemption)
	return nil
}

func (tx *memoryTx) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	if worker, ok := tx.workers[id]; ok {
		copied := *worker
		return &copied, nil
	}
	tx.store.mu.Lock()
	worker, ok := tx.store.workers[id]
	tx.store.mu.Unlock()
	if !ok {
		tx.observe("worker/"+id, 0)
		return nil, domain.ErrWorkerNotFound
	}
	tx.observe("worker/"+id, worker.Version)
	return &worker, nil
}

func (tx *memoryTx) InsertWorker(ctx context.Context, worker *domain.Worker) error {
	tx.store.mu.Lock()
	_, exists := tx.store.workers[worker.ID]
	tx.store.mu.Unlock()
	if _, buffered := tx.workers[worker.ID]; exists || buffered {
		return ErrDuplicate
	}
	tx.observe("worker/"+worker.ID, 0)
	copied := *worker
	tx.workers[worker.ID] = &copied
	return nil
}

func (tx *memoryTx) UpdateWallet(ctx context.Context, worker *domain.Worker) error {
	current, err := tx.GetWorker(ctx, worker.ID)
	if err != nil {
		return err
	}
	current.Wallet = worker.Wallet
	tx.workers[worker.ID] = current
	return nil
}

func (tx *memoryTx) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	if org, ok := tx.orgs[id]; ok {
		copied := *org
		return &copied, nil
	}
	tx.store.mu.Lock()
	org, ok := tx.store.organizations[id]
	tx.store.mu.Unlock()
	if !ok {
		tx.observe("org/"+id, 0)
		return nil, domain.ErrOrganizationNotFound
	}
	tx.observe("org/"+id, 1)
	return &org, nil
}

func (tx *memoryTx) InsertOrganization(ctx context.Context, org *domain.Organization) error {
	tx.store.mu.Lock()
	_, exists := tx.store.organizations[org.ID]
	tx.store.mu.Unlock()
	if _, buffered := tx.orgs[org.ID]; exists || buffered {
		return ErrDuplicate
	}
	tx.observe("org/"+org.ID, 0)
	copied := *org
	tx.orgs[org.ID] = &copied
	return nil
}

func (tx *memoryTx) AppendLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	key := ledgerKey(entry.Kind, entry.SourceID())
	for _, pending := range tx.ledger {
		if ledgerKey(pending.Kind, pending.SourceID()) == key {
			return ErrConflict
		}
	}
	tx.ledger = append(tx.ledger, *entry)
	return nil
}

func (tx *memoryTx) EnqueueOutbox(ctx context.Context, message *domain.OutboxMessage) error {
	copied := *message
	copied.Payload = append([]byte(nil), message.Payload...)
	tx.outbox = append(tx.outbox, copied)
	return nil
}

func (s *MemoryStore) currentVersion(key string) int64 {
	kind, id := splitKey(key)
	switch kind {
	case "task":
		if task, ok := s.tasks[id]; ok {
			return task.Version
		}
	case "redemption":
		if redemption, ok := s.redemptions[id]; ok {
			return redemption.Version
		}
	case "worker":
		if worker, ok := s.workers[id]; ok {
			return worker.Version
		}
	case "org":
		if _, ok := s.organizations[id]; ok {
			return 1
		}
	}
	return 0
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range tx.reads {
		if s.currentVersion(key) != version {
			return ErrConflict
		}
	}
	for _, entry := range tx.ledger {
		if _, exists := s.ledgerKeys[ledgerKey(entry.Kind, entry.SourceID())]; exists {
			return ErrConflict
		}
	}

	for id, task := range tx.tasks {
		stored := cloneTask(*task)
		stored.Version = tx.reads["task/"+id] + 1
		s.tasks[id] = *stored
	}
	for id, redemption := range tx.redemptions {
		stored := cloneRedemption(*redemption)
		stored.Version = tx.reads["redemption/"+id] + 1
		s.redemptions[id] = *stored
	}
	for id, worker := range tx.workers {
		stored := *worker
		stored.Version = tx.reads["worker/"+id] + 1
		s.workers[id] = stored
	}
	for id, org := range tx.orgs {
		s.organizations[id] = *org
	}
	for _, entry := range tx.ledger {
		s.ledgerKeys[ledgerKey(entry.Kind, entry.SourceID())] = struct{}{}
		s.ledger = append(s.ledger, entry)
	}
	now := s.now()
	for _, message := range tx.outbox {
		if message.CreatedAt.IsZero() {
			message.CreatedAt = now
		}
		s.outbox = append(s.outbox, &memoryOutboxRecord{
			message:       message,
			status:        outboxPending,
			nextAttemptAt: now,
		})
	}
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	s.mu.Lock()
	tasks := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.OrgID != "" && task.PostedByOrg != filter.OrgID {
			continue
		}
		if filter.ClaimedBy != "" && task.ClaimedBy != filter.ClaimedBy {
			continue
		}
		tasks = append(tasks, *cloneTask(task))
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) GetRedemption(ctx context.Context, id string) (*domain.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	redemption, ok := s.redemptions[id]
	if !ok {
		return nil, domain.ErrRedemptionNotFound
	}
	return cloneRedemption(redemption), nil
}

func (s *MemoryStore) ListRedemptions(ctx context.Context, filter RedemptionFilter) ([]domain.Redemption, error) {
	s.mu.Lock()
	redemptions := make([]domain.Redemption, 0, len(s.redemptions))
	for _, redemption := range s.redemptions {
		if filter.Status != "" && redemption.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && redemption.UserID != filter.UserID {
			continue
		}
		if filter.OrgID != "" && redemption.OrgID != filter.OrgID {
			continue
		}
		redemptions = append(redemptions, *cloneRedemption(redemption))
	}
	s.mu.Unlock()

	sort.Slice(redemptions, func(i, j int) bool {
		if redemptions[i].RequestedAt.Equal(redemptions[j].RequestedAt) {
			return redemptions[i].ID < redemptions[j].ID
		}
		return redemptions[i].RequestedAt.After(redemptions[j].RequestedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(redemptions) > limit {
		redemptions = redemptions[:limit]
	}
	return redemptions, nil
}

func (s *MemoryStore) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	worker, ok := s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return &worker, nil
}

func (s *MemoryStore) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	s.mu.Lock()
	workers := make([]domain.Worker, 0, len(s.workers))
	for _, worker := range s.workers {
		workers = append(workers, worker)
	}
	s.mu.Unlock()
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}

func (s *MemoryStore) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.organizations[id]
	if !ok {
		return nil, domain.ErrOrganizationNotFound
	}
	return &org, nil
}

func (s *MemoryStore) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	s.mu.Lock()
	orgs := make([]domain.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		orgs = append(orgs, org)
	}
	s.mu.Unlock()
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].ID < orgs[j].ID })
	return orgs, nil
}

func (s *MemoryStore) ListLedgerEntries(ctx context.Context, workerID string) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]domain.LedgerEntry, 0)
	for _, entry := range s.ledger {
		if entry.WorkerID == workerID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MemoryStore) ClaimOutbox(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	claimed := make([]domain.OutboxMessage, 0, limit)
	for _, record := range s.outbox {
		if len(claimed) == limit {
			break
		}
		due := record.status == outboxPending && !record.nextAttemptAt.After(now)
		stale := record.status == outboxProcessing && record.processingStartedAt.Before(now.Add(-staleAfter))
		if !due && !stale {
			continue
		}
		record.status = outboxProcessing
		record.processingStartedAt = now
		record.message.Attempts++
		message := record.message
		message.Payload = append([]byte(nil), record.message.Payload...)
		claimed = append(claimed, message)
	}
	return claimed, nil
}

// MarkOutboxPublished drops the record; only undelivered messages are kept in memory.
func (s *MemoryStore) MarkOutboxPublished(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = slices.DeleteFunc(s.outbox, func(record *memoryOutboxRecord) bool {
		return record.message.ID == id
	})
	return nil
}

func (s *MemoryStore) MarkOutboxFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.outbox {
		if record.message.ID == id {
			record.status = outboxPending
			record.nextAttemptAt = s.now().Add(retryAfter)
			record.message.LastError = truncateReason(reason)
			return nil
		}
	}
	return nil
}

func cloneTask(task domain.Task) *domain.Task {
	if task.Location != nil {
		location := *task.Location
		task.Location = &location
	}
	if task.Proof != nil {
		proof := *task.Proof
		if proof.Geo != nil {
			geo := *proof.Geo
			proof.Geo = &geo
		}
		task.Proof = &proof
	}
	task.ClaimedAt = cloneTime(task.ClaimedAt)
	task.VerifiedAt = cloneTime(task.VerifiedAt)
	task.CancelledAt = cloneTime(task.CancelledAt)
	return &task
}

func cloneRedemption(redemption domain.Redemption) *domain.Redemption {
	redemption.CompletedAt = cloneTime(redemption.CompletedAt)
	redemption.RejectedAt = cloneTime(redemption.RejectedAt)
	return &redemption
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
