// Package scheduler turns due deployments into scheduled runs and marks
// overdue scheduled runs as late.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/services"
)

const (
	// DefaultTickInterval is how often the scheduler polls for work.
	DefaultTickInterval = 15 * time.Second

	// DefaultLatenessThreshold is how far past its scheduled time a run may
	// be before it is marked late.
	DefaultLatenessThreshold = 15 * time.Second
)

// Scheduler polls deployments and run states on a fixed interval.
type Scheduler struct {
	persistence       persistence.Persistence
	runs              *services.Runs
	logger            *slog.Logger
	tickInterval      time.Duration
	latenessThreshold time.Duration
}

// NewScheduler creates a scheduler with default intervals.
func NewScheduler(p persistence.Persistence, runs *services.Runs, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence:       p,
		runs:              runs,
		logger:            logger,
		tickInterval:      DefaultTickInterval,
		latenessThreshold: DefaultLatenessThreshold,
	}
}

// Start ticks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.tickInterval)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now().UTC()); err != nil {
				s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick runs one scheduling pass: due deployments become scheduled runs, and
// overdue scheduled runs are marked late.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	if err := s.createDueRuns(ctx, now); err != nil {
		return err
	}

	return s.markLateRuns(ctx, now)
}

func (s *Scheduler) createDueRuns(ctx context.Context, now time.Time) error {
	due, err := s.persistence.Deployments().ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due deployments: %w", err)
	}

	for _, deployment := range due {
		dueAt := deployment.NextDueAt

		initial, err := models.Scheduled(models.WithScheduledTime(dueAt))
		if err != nil {
			return err
		}

		run, err := s.runs.CreateRun(ctx, services.CreateRunRequest{
			FlowID:       deployment.FlowID,
			DeploymentID: deployment.ID,
			Name:         fmt.Sprintf("%s-%d", deployment.Name, dueAt.Unix()),
			InitialState: initial,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to create scheduled run",
				"deployment_id", deployment.ID, "flow_id", deployment.FlowID, "error", err)

			continue
		}

		// Advance the deployment even when it is overdue by several
		// periods; only one run is created per tick.
		err = deployment.UpdateNextDueAt()
		if err != nil {
			return fmt.Errorf("failed to advance deployment %s: %w", deployment.ID, err)
		}

		err = s.persistence.Deployments().Save(ctx, deployment)
		if err != nil {
			return fmt.Errorf("failed to save deployment %s: %w", deployment.ID, err)
		}

		s.logger.InfoContext(ctx, "Scheduled run created",
			"run_id", run.ID, "deployment_id", deployment.ID, "next_due_at", deployment.NextDueAt)
	}

	return nil
}

// markLateRuns flags scheduled runs whose due time has passed the lateness
// threshold. The scheduled time is preserved on the late state.
func (s *Scheduler) markLateRuns(ctx context.Context, now time.Time) error {
	scheduled, err := s.runs.ListByStateKind(ctx, models.StateKindScheduled)
	if err != nil {
		return fmt.Errorf("failed to list scheduled runs: %w", err)
	}

	for _, run := range scheduled {
		if run.State == nil || run.State.Name == "Late" {
			continue
		}

		scheduledTime := run.State.Details.ScheduledTime
		if scheduledTime == nil || now.Sub(*scheduledTime) < s.latenessThreshold {
			continue
		}

		late, err := models.Late(models.WithScheduledTime(*scheduledTime))
		if err != nil {
			return err
		}

		_, err = s.runs.SetState(ctx, run.ID, late)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to mark run late", "run_id", run.ID, "error", err)

			continue
		}

		s.logger.InfoContext(ctx, "Run marked late",
			"run_id", run.ID, "scheduled_time", scheduledTime)
	}

	return nil
}
