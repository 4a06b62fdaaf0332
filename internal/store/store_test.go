package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

// postgresTestURL enables the postgres backend in the contract tests. The database is truncated per test.
const postgresTestURL = "JOB4MEAL_TEST_DATABASE_URL"

func backends() map[string]storeFactory {
	factories := map[string]storeFactory{
		BackendMemory: func(t *testing.T) Store {
			return NewMemoryStore()
		},
		BackendSQLite: func(t *testing.T) Store {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv(postgresTestURL); url != "" {
		factories[BackendPostgres] = func(t *testing.T) Store {
			t.Helper()
			ctx := context.Background()
			s, err := OpenPostgres(ctx, url)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			_, err = s.db.Exec(ctx, `TRUNCATE event_outbox, ledger_entries, redemptions, tasks, workers, organizations`)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

func seedBasics(t *testing.T, s Store) (*domain.Organization, *domain.Worker) {
	t.Helper()
	org := &domain.Organization{ID: "org-1", Name: "Food Bank", Type: domain.OrganizationNGO, Verified: true, CreatedAt: fixedNow}
	worker := &domain.Worker{ID: "worker-1", Name: "Asha", Phone: "+91000", CreatedAt: fixedNow}
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertOrganization(ctx, org); err != nil {
			return err
		}
		return tx.InsertWorker(ctx, worker)
	})
	require.NoError(t, err)
	return org, worker
}

func sampleTask(id string, org *domain.Organization, createdAt time.Time) *domain.Task {
	return domain.NewTask(id, domain.PostTaskInput{
		Title:       "Sort donations",
		Description: "Sort the morning delivery",
		OrgID:       org.ID,
		RewardMeals: 3,
		DueBy:       createdAt.Add(48 * time.Hour),
		Location:    &domain.Location{Lat: 12.97, Lng: 77.59},
	}, org, createdAt)
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			org, worker := seedBasics(t, s)

			task := sampleTask("task-1", org, fixedNow)
			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.InsertTask(ctx, task)
			}))

			got, err := s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, domain.TaskOpen, got.Status)
			assert.Equal(t, "Food Bank", got.PostedByOrgName)
			assert.Equal(t, int64(3), got.RewardMeals)
			require.NotNil(t, got.Location)
			assert.InDelta(t, 77.59, got.Location.Lng, 0.0001)
			assert.Nil(t, got.Proof)
			assert.Nil(t, got.ClaimedAt)
			assert.True(t, got.CreatedAt.Equal(fixedNow))

			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				current, err := tx.GetTask(ctx, "task-1")
				if err != nil {
					return err
				}
				if err := current.Claim(worker.ID, worker.Name, fixedNow.Add(time.Minute)); err != nil {
					return err
				}
				if err := current.SubmitProof(domain.ProofInput{PhotoRef: "photos/a.jpg"}, fixedNow.Add(2*time.Minute)); err != nil {
					return err
				}
				return tx.UpdateTask(ctx, current)
			}))

			got, err = s.GetTask(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, domain.TaskSubmitted, got.Status)
			assert.Equal(t, worker.ID, got.ClaimedBy)
			require.NotNil(t, got.ClaimedAt)
			assert.True(t, got.ClaimedAt.Equal(fixedNow.Add(time.Minute)))
			require.NotNil(t, got.Proof)
			assert.Equal(t, "photos/a.jpg", got.Proof.PhotoRef)

			gotWorker, err := s.GetWorker(ctx, worker.ID)
			require.NoError(t, err)
			assert.Equal(t, "Asha", gotWorker.Name)
			assert.Equal(t, int64(0), gotWorker.Wallet.MealCredits)

			gotOrg, err := s.GetOrganization(ctx, org.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrganizationNGO, gotOrg.Type)
			assert.True(t, gotOrg.Verified)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			_, err := s.GetTask(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
			_, err = s.GetRedemption(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrRedemptionNotFound)
			_, err = s.GetWorker(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrWorkerNotFound)
			_, err = s.GetOrganization(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)

			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				_, err := tx.GetTask(ctx, "missing")
				return err
			})
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		})
	}
}

func TestStoreAbortedTransactionWritesNothing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			org, worker := seedBasics(t, s)
			boom := errors.New("boom")

			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				if err := tx.InsertTask(ctx, sampleTask("task-1", org, fixedNow)); err != nil {
					return err
				}
				current, err := tx.GetWorker(ctx, worker.ID)
				if err != nil {
					return err
				}
				current.Wallet.MealCredits = 10
				if err := tx.UpdateWallet(ctx, current); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, err = s.GetTask(ctx, "task-1")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
			gotWorker, err := s.GetWorker(ctx, worker.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), gotWorker.Wallet.MealCredits)
		})
	}
}

func TestStoreDuplicateInsert(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			_, worker := seedBasics(t, s)

			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.InsertWorker(ctx, &domain.Worker{ID: worker.ID, Name: "Again", CreatedAt: fixedNow})
			})
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}
}

func TestStoreLedgerEntryIsUniquePerSource(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			org, worker := seedBasics(t, s)
			task := sampleTask("task-1", org, fixedNow)
			task.ClaimedBy = worker.ID

			appendReward := func(entryID string) error {
				return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
					return tx.AppendLedgerEntry(ctx, domain.RewardEntry(entryID, task, 3, fixedNow))
				})
			}
			require.NoError(t, appendReward("entry-1"))
			assert.ErrorIs(t, appendReward("entry-2"), ErrConflict)

			entries, err := s.ListLedgerEntries(ctx, worker.ID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, domain.LedgerTaskReward, entries[0].Kind)
			assert.Equal(t, "task-1", entries[0].TaskID)
			assert.Equal(t, int64(3), entries[0].BalanceAfter)
		})
	}
}

func TestStoreListFilters(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			org, worker := seedBasics(t, s)

			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				for i, id := range []string{"task-a", "task-b", "task-c"} {
					task := sampleTask(id, org, fixedNow.Add(time.Duration(i)*time.Minute))
					if id == "task-b" {
						if err := task.Claim(worker.ID, worker.Name, fixedNow); err != nil {
							return err
						}
					}
					if err := tx.InsertTask(ctx, task); err != nil {
						return err
					}
				}
				redemption := domain.NewRedemption("red-1", worker, org, 2, fixedNow)
				return tx.InsertRedemption(ctx, redemption)
			}))

			all, err := s.ListTasks(ctx, TaskFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "task-c", all[0].ID, "newest first")

			open, err := s.ListTasks(ctx, TaskFilter{Status: domain.TaskOpen})
			require.NoError(t, err)
			assert.Len(t, open, 2)

			mine, err := s.ListTasks(ctx, TaskFilter{ClaimedBy: worker.ID})
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "task-b", mine[0].ID)

			limited, err := s.ListTasks(ctx, TaskFilter{OrgID: org.ID, Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			redemptions, err := s.ListRedemptions(ctx, RedemptionFilter{UserID: worker.ID, Status: domain.RedemptionRequested})
			require.NoError(t, err)
			require.Len(t, redemptions, 1)
			assert.Equal(t, int64(2), redemptions[0].MealCredits)
			assert.Equal(t, "Food Bank", redemptions[0].OrgName)

			workers, err := s.ListWorkers(ctx)
			require.NoError(t, err)
			assert.Len(t, workers, 1)
			orgs, err := s.ListOrganizations(ctx)
			require.NoError(t, err)
			assert.Len(t, orgs, 1)
		})
	}
}

func TestStoreOutboxLifecycle(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				for _, id := range []string{"msg-1", "msg-2"} {
					err := tx.EnqueueOutbox(ctx, &domain.OutboxMessage{
						ID:         id,
						Exchange:   "job4meal.ledger",
						RoutingKey: "ledger.task.verified",
						Payload:    []byte(`{"event_id":"` + id + `"}`),
					})
					if err != nil {
						return err
					}
				}
				return nil
			}))

			claimed, err := s.ClaimOutbox(ctx, 10, time.Minute)
			require.NoError(t, err)
			require.Len(t, claimed, 2)
			assert.Equal(t, 1, claimed[0].Attempts)
			assert.Equal(t, "ledger.task.verified", claimed[0].RoutingKey)
			assert.JSONEq(t, `{"event_id":"`+claimed[0].ID+`"}`, string(claimed[0].Payload))

			again, err := s.ClaimOutbox(ctx, 10, time.Minute)
			require.NoError(t, err)
			assert.Empty(t, again, "leased messages are not handed out twice")

			require.NoError(t, s.MarkOutboxPublished(ctx, claimed[0].ID))
			require.NoError(t, s.MarkOutboxFailed(ctx, claimed[1].ID, time.Hour, "broker down"))

			later, err := s.ClaimOutbox(ctx, 10, time.Minute)
			require.NoError(t, err)
			assert.Empty(t, later, "failed message waits for its retry delay")
		})
	}
}

func TestMemoryStoreDetectsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	org, _ := seedBasics(t, s)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTask(ctx, sampleTask("task-1", org, fixedNow))
	}))

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		task, err := tx.GetTask(ctx, "task-1")
		if err != nil {
			return err
		}
		// Another transaction claims the task between our read and our commit.
		inner := s.RunInTx(ctx, func(ctx context.Context, other Tx) error {
			winner, err := other.GetTask(ctx, "task-1")
			if err != nil {
				return err
			}
			if err := winner.Claim("worker-b", "Bala", fixedNow); err != nil {
				return err
			}
			return other.UpdateTask(ctx, winner)
		})
		require.NoError(t, inner)

		if err := task.Claim("worker-a", "Asha", fixedNow); err != nil {
			return err
		}
		return tx.UpdateTask(ctx, task)
	})
	require.ErrorIs(t, err, ErrConflict)

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-b", got.ClaimedBy)
}

func TestMemoryStoreDropsPublishedOutbox(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
			if err := tx.EnqueueOutbox(ctx, &domain.OutboxMessage{ID: id, RoutingKey: "ledger.task.posted", Payload: []byte(`{}`)}); err != nil {
				return err
			}
		}
		return nil
	}))

	claimed, err := s.ClaimOutbox(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	require.NoError(t, s.MarkOutboxPublished(ctx, "msg-1"))
	require.NoError(t, s.MarkOutboxPublished(ctx, "msg-3"))
	require.NoError(t, s.MarkOutboxFailed(ctx, "msg-2", time.Second, "broker down"))

	require.Len(t, s.outbox, 1)
	assert.Equal(t, "msg-2", s.outbox[0].message.ID)
	assert.Equal(t, "broker down", s.outbox[0].message.LastError)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	org, _ := seedBasics(t, s)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTask(ctx, sampleTask("task-1", org, fixedNow))
	}))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	got.Status = domain.TaskCancelled
	got.Location.Lat = 0

	again, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskOpen, again.Status)
	assert.InDelta(t, 12.97, again.Location.Lat, 0.0001)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := OpenSQLite(path)
	require.NoError(t, err)
	seedBasics(t, first)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	worker, err := second.GetWorker(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", worker.Name)
}

func TestRebindNumbered(t *testing.T) {
	got := rebindNumbered(`SELECT * FROM t WHERE a = $1 AND b < $2 OR c = $1 LIMIT $10`)
	assert.Equal(t, `SELECT * FROM t WHERE a = ?1 AND b < ?2 OR c = ?1 LIMIT ?10`, got)
}

func TestClassifyPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: ErrConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ErrConflict},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "workers_pkey"}, want: ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyPgError(tt.err), tt.want)
		})
	}

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classifyPgError(plain))
	assert.NoError(t, classifyPgError(nil))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	s, err := Open(context.Background(), BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
