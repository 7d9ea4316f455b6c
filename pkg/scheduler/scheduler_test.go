package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/persistence/file"
	"github.com/runwell/runwell/pkg/scheduler"
	"github.com/runwell/runwell/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, *services.Runs, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runs := services.NewRuns(p, nil, nil, logger)

	return scheduler.NewScheduler(p, runs, logger), runs, p
}

func saveFlow(t *testing.T, p persistence.Persistence) *models.Flow {
	t.Helper()

	flow := &models.Flow{Name: "etl-pipeline"}

	err := p.Flows().Save(context.Background(), flow)
	require.NoError(t, err)

	return flow
}

func TestScheduler_Tick_CreatesDueRuns(t *testing.T) {
	sched, runs, p := newTestScheduler(t)
	ctx := context.Background()
	flow := saveFlow(t, p)

	deployment, err := models.NewDeployment("dep-1", flow.ID, "nightly", "0 2 * * *")
	require.NoError(t, err)

	// Force the deployment due in the past.
	dueAt := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	deployment.NextDueAt = dueAt

	err = p.Deployments().Save(ctx, deployment)
	require.NoError(t, err)

	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	created, err := runs.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)

	run := created[0]
	assert.Equal(t, "dep-1", run.DeploymentID)
	require.NotNil(t, run.State)
	assert.Equal(t, models.StateKindScheduled, run.State.Kind)
	require.NotNil(t, run.State.Details.ScheduledTime)
	assert.True(t, run.State.Details.ScheduledTime.Equal(dueAt))

	// The deployment advanced past now, so a second tick creates nothing.
	advanced, err := p.Deployments().GetByID(ctx, "dep-1")
	require.NoError(t, err)
	assert.True(t, advanced.NextDueAt.After(time.Now().UTC()))

	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	created, err = runs.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestScheduler_Tick_SkipsInactiveDeployments(t *testing.T) {
	sched, runs, p := newTestScheduler(t)
	ctx := context.Background()
	flow := saveFlow(t, p)

	deployment, err := models.NewDeployment("dep-1", flow.ID, "disabled", "* * * * *")
	require.NoError(t, err)
	deployment.NextDueAt = time.Now().UTC().Add(-time.Minute)
	deployment.Active = false

	err = p.Deployments().Save(ctx, deployment)
	require.NoError(t, err)

	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	created, err := runs.ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestScheduler_Tick_MarksOverdueRunsLate(t *testing.T) {
	sched, runs, p := newTestScheduler(t)
	ctx := context.Background()
	flow := saveFlow(t, p)

	scheduledTime := time.Now().UTC().Add(-time.Minute)
	initial, err := models.Scheduled(models.WithScheduledTime(scheduledTime))
	require.NoError(t, err)

	run, err := runs.CreateRun(ctx, services.CreateRunRequest{
		FlowID:       flow.ID,
		InitialState: initial,
	})
	require.NoError(t, err)

	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	late, err := runs.FlowRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateKindScheduled, late.State.Kind)
	assert.Equal(t, "Late", late.State.Name)
	require.NotNil(t, late.State.Details.ScheduledTime)
	assert.True(t, late.State.Details.ScheduledTime.Equal(scheduledTime))

	// A second tick does not mark the run late twice.
	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	history, err := runs.History(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScheduler_Tick_LeavesFreshScheduledRunsAlone(t *testing.T) {
	sched, runs, p := newTestScheduler(t)
	ctx := context.Background()
	flow := saveFlow(t, p)

	initial, err := models.Scheduled(models.WithScheduledTime(time.Now().UTC().Add(time.Hour)))
	require.NoError(t, err)

	run, err := runs.CreateRun(ctx, services.CreateRunRequest{
		FlowID:       flow.ID,
		InitialState: initial,
	})
	require.NoError(t, err)

	err = sched.Tick(ctx, time.Now().UTC())
	require.NoError(t, err)

	fresh, err := runs.FlowRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Late", fresh.State.Name)
}
