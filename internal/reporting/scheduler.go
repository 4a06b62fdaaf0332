/**
 * @description
 * Cron job that recomputes the dashboard from the store, replaces the live projection
 * with it, and announces the refresh on the ledger exchange.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: schedule parsing and panic recovery.
 */

package reporting

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aayu095/Job4Meal/pkg/rabbitmq"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSnapshotSchedule = "@every 5m"
	RefreshedRoutingKey     = "reporting.dashboard_refreshed"
	refreshTimeout          = 30 * time.Second
)

// Scheduler periodically rebuilds the projection from a full snapshot.
type Scheduler struct {
	cron       *cron.Cron
	reporter   *Reporter
	projection *Projection
	publisher  rabbitmq.Publisher
	exchange   string
	schedule   string
	logger     *slog.Logger
}

// NewScheduler creates a scheduler. publisher may be nil to skip refresh announcements.
func NewScheduler(reporter *Reporter, projection *Projection, publisher rabbitmq.Publisher, exchange, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSnapshotSchedule
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger))),
		reporter:   reporter,
		projection: projection,
		publisher:  publisher,
		exchange:   exchange,
		schedule:   schedule,
		logger:     logger,
	}
}

// Start registers the snapshot job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.refreshJob); err != nil {
		s.logger.Error("failed to schedule dashboard snapshot job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled dashboard snapshot job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) refreshJob() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("dashboard snapshot failed", "error", err)
	}
}

// Refresh recomputes the snapshot and swaps it into the projection.
func (s *Scheduler) Refresh(ctx context.Context) error {
	snapshot, err := s.reporter.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.projection.Replace(snapshot)
	s.logger.Info("dashboard snapshot refreshed", "total_tasks", snapshot.TotalTasks, "outstanding_credits", snapshot.OutstandingCredits)

	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, s.exchange, RefreshedRoutingKey, snapshot); err != nil {
		s.logger.Warn("failed to announce dashboard refresh", "error", err)
	}
	return nil
}
