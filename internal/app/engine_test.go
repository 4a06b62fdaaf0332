package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func newTestEngine(t *testing.T, s store.Store, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithClock(fixedClock()), WithRetryPolicy(DefaultMaxAttempts, 0)}
	return NewEngine(s, append(base, opts...)...)
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBackends() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		store.BackendMemory: func(t *testing.T) store.Store { return store.NewMemoryStore() },
		store.BackendSQLite: newSQLiteStore,
	}
}

type fixture struct {
	engine *Engine
	store  store.Store
	org    *domain.Organization
	worker *domain.Worker
}

func newFixture(t *testing.T, s store.Store, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	engine := newTestEngine(t, s, opts...)
	org, err := engine.RegisterOrganization(ctx, domain.RegisterOrganizationInput{ID: "org-1", Name: "Food Bank", Type: domain.OrganizationNGO, Verified: true})
	require.NoError(t, err)
	worker, err := engine.RegisterWorker(ctx, domain.RegisterWorkerInput{ID: "worker-a", Name: "Asha"})
	require.NoError(t, err)
	return &fixture{engine: engine, store: s, org: org, worker: worker}
}

func (f *fixture) postTask(t *testing.T, reward int64) *domain.Task {
	t.Helper()
	task, err := f.engine.PostTask(context.Background(), domain.PostTaskInput{
		Title:       "Sort donations",
		Description: "Sort the morning delivery",
		OrgID:       f.org.ID,
		RewardMeals: reward,
		DueBy:       testNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return task
}

// earn runs a task through to verification for workerID.
func (f *fixture) earn(t *testing.T, workerID string, reward int64) *domain.Task {
	t.Helper()
	ctx := context.Background()
	task := f.postTask(t, reward)
	_, err := f.engine.ClaimTask(ctx, task.ID, workerID, "")
	require.NoError(t, err)
	_, err = f.engine.SubmitProof(ctx, task.ID, domain.ProofInput{PhotoRef: "photos/" + task.ID + ".jpg"})
	require.NoError(t, err)
	verified, err := f.engine.VerifyTask(ctx, task.ID)
	require.NoError(t, err)
	return verified
}

func (f *fixture) balance(t *testing.T, workerID string) int64 {
	t.Helper()
	wallet, err := f.engine.GetWallet(context.Background(), workerID)
	require.NoError(t, err)
	return wallet.MealCredits
}

// conflictingStore reports ErrConflict for the first failures transactions. When
// runBeforeAbort is set the closure runs in full before the abort, as if the
// backend detected the conflict at commit.
type conflictingStore struct {
	store.Store
	failures       int32
	runBeforeAbort bool
	calls          atomic.Int32
}

var errAbortForTest = errors.New("abort for test")

func (s *conflictingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	call := s.calls.Add(1)
	if call > s.failures {
		return s.Store.RunInTx(ctx, fn)
	}
	if s.runBeforeAbort {
		err := s.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return errAbortForTest
		})
		if !errors.Is(err, errAbortForTest) {
			return err
		}
	}
	return store.ErrConflict
}

func TestRunInTxRetriesConflicts(t *testing.T) {
	s := &conflictingStore{Store: store.NewMemoryStore(), failures: 3}
	engine := newTestEngine(t, s)

	org, err := engine.RegisterOrganization(context.Background(), domain.RegisterOrganizationInput{Name: "Shop", Type: domain.OrganizationShop})
	require.NoError(t, err)
	assert.Equal(t, int32(4), s.calls.Load())

	got, err := engine.GetOrganization(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shop", got.Name)
}

func TestRunInTxGivesUpAfterMaxAttempts(t *testing.T) {
	s := &conflictingStore{Store: store.NewMemoryStore(), failures: 100}
	engine := newTestEngine(t, s, WithRetryPolicy(3, 0))

	_, err := engine.RegisterOrganization(context.Background(), domain.RegisterOrganizationInput{Name: "Shop", Type: domain.OrganizationShop})
	require.ErrorIs(t, err, domain.ErrStoreConflict)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestRunInTxDoesNotRetryDomainErrors(t *testing.T) {
	s := &conflictingStore{Store: store.NewMemoryStore()}
	engine := newTestEngine(t, s)

	_, err := engine.ClaimTask(context.Background(), "missing", "worker-a", "Asha")
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestRunInTxStopsOnCancelledContext(t *testing.T) {
	s := &conflictingStore{Store: store.NewMemoryStore(), failures: 100}
	engine := newTestEngine(t, s, WithRetryPolicy(50, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.RegisterOrganization(ctx, domain.RegisterOrganizationInput{Name: "Shop", Type: domain.OrganizationShop})
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifyRetriedAfterConflictCreditsOnce(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	f := newFixture(t, inner)
	task := f.postTask(t, 3)
	_, err := f.engine.ClaimTask(ctx, task.ID, f.worker.ID, "")
	require.NoError(t, err)
	_, err = f.engine.SubmitProof(ctx, task.ID, domain.ProofInput{PhotoRef: "p.jpg"})
	require.NoError(t, err)

	// The first attempt runs the whole closure and is then rejected at commit.
	flaky := &conflictingStore{Store: inner, failures: 1, runBeforeAbort: true}
	engine := newTestEngine(t, flaky)

	verified, err := engine.VerifyTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskVerified, verified.Status)
	assert.Equal(t, int32(2), flaky.calls.Load())

	assert.Equal(t, int64(3), f.balance(t, f.worker.ID))
	entries, err := f.engine.ListLedger(ctx, f.worker.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
