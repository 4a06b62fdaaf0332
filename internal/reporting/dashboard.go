/**
 * @description
 * Read-side aggregation over tasks, redemptions and wallets. Nothing in this package
 * writes to the store; every figure can be recomputed from current state at any time.
 */

package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/store"
)

// snapshotScanLimit bounds each list read by Snapshot.
const snapshotScanLimit = 1_000_000

// ComputeDashboard folds entity state into dashboard counters. Active tasks are open
// or claimed; submitted tasks count as pending verification.
func ComputeDashboard(tasks []domain.Task, redemptions []domain.Redemption, workers []domain.Worker, orgs []domain.Organization, now time.Time) domain.DashboardMetrics {
	metrics := domain.DashboardMetrics{
		TotalUsers:         len(workers),
		TotalOrganizations: len(orgs),
		TotalTasks:         len(tasks),
		GeneratedAt:        now,
	}
	for _, task := range tasks {
		switch task.Status {
		case domain.TaskOpen, domain.TaskClaimed:
			metrics.ActiveTasks++
		case domain.TaskSubmitted:
			metrics.PendingVerifications++
		case domain.TaskVerified:
			metrics.CompletedTasks++
			metrics.TotalMealsIssued += task.RewardMeals
		case domain.TaskCancelled:
			metrics.CancelledTasks++
		}
	}
	for _, redemption := range redemptions {
		switch redemption.Status {
		case domain.RedemptionRequested:
			metrics.PendingRedemptions++
		case domain.RedemptionCompleted:
			metrics.CompletedRedemptions++
			metrics.MealsRedeemed += redemption.MealCredits
		}
	}
	for _, worker := range workers {
		metrics.OutstandingCredits += worker.Wallet.MealCredits
	}
	return metrics
}

// Reporter computes dashboards from the store.
type Reporter struct {
	reader store.Reader
	now    func() time.Time
}

func NewReporter(reader store.Reader) *Reporter {
	return &Reporter{reader: reader, now: time.Now}
}

// Snapshot reads current state and aggregates it. The lists are read separately, so
// under concurrent writes the figures may straddle a commit.
func (r *Reporter) Snapshot(ctx context.Context) (domain.DashboardMetrics, error) {
	tasks, err := r.reader.ListTasks(ctx, store.TaskFilter{Limit: snapshotScanLimit})
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("list tasks: %w", err)
	}
	redemptions, err := r.reader.ListRedemptions(ctx, store.RedemptionFilter{Limit: snapshotScanLimit})
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("list redemptions: %w", err)
	}
	workers, err := r.reader.ListWorkers(ctx)
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("list workers: %w", err)
	}
	orgs, err := r.reader.ListOrganizations(ctx)
	if err != nil {
		return domain.DashboardMetrics{}, fmt.Errorf("list organizations: %w", err)
	}
	return ComputeDashboard(tasks, redemptions, workers, orgs, r.now().UTC()), nil
}
