package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const racers = 12

// race runs fn concurrently racers times and returns each call's error.
func race(fn func(i int) error) []error {
	errs := make([]error, racers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	for name, open := range testBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open(t), WithRetryPolicy(racers+1, 0))
			task := f.postTask(t, 2)
			for i := 0; i < racers; i++ {
				_, err := f.engine.RegisterWorker(ctx, domain.RegisterWorkerInput{ID: fmt.Sprintf("racer-%d", i), Name: "Racer"})
				require.NoError(t, err)
			}

			errs := race(func(i int) error {
				_, err := f.engine.ClaimTask(ctx, task.ID, fmt.Sprintf("racer-%d", i), "")
				return err
			})

			winners := 0
			winner := ""
			for i, err := range errs {
				if err == nil {
					winners++
					winner = fmt.Sprintf("racer-%d", i)
					continue
				}
				assert.True(t, errors.Is(err, domain.ErrTaskNotOpen), "unexpected error: %v", err)
			}
			require.Equal(t, 1, winners)

			stored, err := f.engine.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskClaimed, stored.Status)
			assert.Equal(t, winner, stored.ClaimedBy)
		})
	}
}

func TestConcurrentVerifiesCreditOnce(t *testing.T) {
	for name, open := range testBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open(t), WithRetryPolicy(racers+1, 0))
			task := f.postTask(t, 4)
			_, err := f.engine.ClaimTask(ctx, task.ID, f.worker.ID, "")
			require.NoError(t, err)
			_, err = f.engine.SubmitProof(ctx, task.ID, domain.ProofInput{PhotoRef: "p.jpg"})
			require.NoError(t, err)

			errs := race(func(int) error {
				_, err := f.engine.VerifyTask(ctx, task.ID)
				return err
			})

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.True(t, errors.Is(err, domain.ErrAlreadyVerified), "unexpected error: %v", err)
			}
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, int64(4), f.balance(t, f.worker.ID))

			entries, err := f.engine.ListLedger(ctx, f.worker.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestConcurrentCompletionsNeverOverdraw(t *testing.T) {
	for name, open := range testBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open(t), WithRetryPolicy(racers+1, 0))
			f.earn(t, f.worker.ID, 5)

			ids := make([]string, racers)
			for i := range ids {
				redemption, err := f.engine.RequestRedemption(ctx, domain.RedemptionRequest{WorkerID: f.worker.ID, OrgID: f.org.ID, MealCredits: 1})
				require.NoError(t, err)
				ids[i] = redemption.ID
			}

			errs := race(func(i int) error {
				_, err := f.engine.CompleteRedemption(ctx, ids[i], f.worker.ID, 1)
				return err
			})

			completed := 0
			for _, err := range errs {
				if err == nil {
					completed++
					continue
				}
				assert.True(t, errors.Is(err, domain.ErrInsufficientCredits), "unexpected error: %v", err)
			}
			assert.Equal(t, 5, completed)
			assert.Equal(t, int64(0), f.balance(t, f.worker.ID))

			report, err := f.engine.ReconcileWallet(ctx, f.worker.ID)
			require.NoError(t, err)
			assert.True(t, report.Consistent)
			assert.Equal(t, 6, report.JournalEntries)
		})
	}
}

func TestConcurrentCreditsAndDebitsOnOneWallet(t *testing.T) {
	const (
		startBalance = 20
		reward       = 2
		spend        = 3
	)
	for name, open := range testBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open(t), WithRetryPolicy(racers+1, 0))
			// Enough credit that every completion succeeds in any interleaving.
			f.earn(t, f.worker.ID, startBalance)

			// Even racers verify a submitted task, odd racers complete a redemption.
			taskIDs := make([]string, racers)
			redemptionIDs := make([]string, racers)
			for i := 0; i < racers; i++ {
				if i%2 == 0 {
					task := f.postTask(t, reward)
					_, err := f.engine.ClaimTask(ctx, task.ID, f.worker.ID, "")
					require.NoError(t, err)
					_, err = f.engine.SubmitProof(ctx, task.ID, domain.ProofInput{PhotoRef: "p.jpg"})
					require.NoError(t, err)
					taskIDs[i] = task.ID
					continue
				}
				redemption, err := f.engine.RequestRedemption(ctx, domain.RedemptionRequest{WorkerID: f.worker.ID, OrgID: f.org.ID, MealCredits: spend})
				require.NoError(t, err)
				redemptionIDs[i] = redemption.ID
			}

			errs := race(func(i int) error {
				if i%2 == 0 {
					_, err := f.engine.VerifyTask(ctx, taskIDs[i])
					return err
				}
				_, err := f.engine.CompleteRedemption(ctx, redemptionIDs[i], f.worker.ID, spend)
				return err
			})
			for i, err := range errs {
				require.NoError(t, err, "racer %d", i)
			}

			half := int64(racers / 2)
			assert.Equal(t, int64(startBalance)+half*reward-half*spend, f.balance(t, f.worker.ID))

			report, err := f.engine.ReconcileWallet(ctx, f.worker.ID)
			require.NoError(t, err)
			assert.True(t, report.Consistent)
			assert.Equal(t, 1+racers, report.JournalEntries)
		})
	}
}

func TestConcurrentRejectAndCompleteHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newSQLiteStore(t), WithRetryPolicy(4, 0))
	f.earn(t, f.worker.ID, 3)

	redemption, err := f.engine.RequestRedemption(ctx, domain.RedemptionRequest{WorkerID: f.worker.ID, OrgID: f.org.ID, MealCredits: 3})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var completeErr, rejectErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, completeErr = f.engine.CompleteRedemption(ctx, redemption.ID, f.worker.ID, 3)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = f.engine.RejectRedemption(ctx, redemption.ID, "closed")
	}()
	wg.Wait()

	require.True(t, (completeErr == nil) != (rejectErr == nil), "complete=%v reject=%v", completeErr, rejectErr)
	stored, err := f.engine.GetRedemption(ctx, redemption.ID)
	require.NoError(t, err)
	if completeErr == nil {
		assert.Equal(t, domain.RedemptionCompleted, stored.Status)
		assert.Equal(t, int64(0), f.balance(t, f.worker.ID))
		assert.ErrorIs(t, rejectErr, domain.ErrRedemptionNotRequested)
	} else {
		assert.Equal(t, domain.RedemptionRejected, stored.Status)
		assert.Equal(t, int64(3), f.balance(t, f.worker.ID))
		assert.ErrorIs(t, completeErr, domain.ErrRedemptionNotRequested)
	}
}
