package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/runwell/runwell/pkg/channels/gochannel"
	"github.com/runwell/runwell/pkg/eventbus"
	"github.com/runwell/runwell/pkg/events"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/persistence/file"
	"github.com/runwell/runwell/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuns(t *testing.T, bus eventbus.EventBus) (*services.Runs, persistence.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return services.NewRuns(p, bus, nil, logger), p
}

func saveTestFlow(t *testing.T, p persistence.Persistence, schema map[string]any) *models.Flow {
	t.Helper()

	flow := &models.Flow{Name: "etl-pipeline", ParameterSchema: schema}

	err := p.Flows().Save(context.Background(), flow)
	require.NoError(t, err)

	return flow
}

func TestRuns_CreateRun_DefaultsToPending(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, nil)

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{FlowID: flow.ID})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	require.NotNil(t, run.State)
	assert.Equal(t, models.StateKindPending, run.State.Kind)
	assert.NotEmpty(t, run.State.ID, "committed initial state must carry an identity")
}

func TestRuns_CreateRun_UnknownFlow(t *testing.T) {
	svc, _ := newTestRuns(t, nil)

	_, err := svc.CreateRun(context.Background(), services.CreateRunRequest{FlowID: "missing"})
	assert.ErrorIs(t, err, services.ErrFlowNotFound)
}

func TestRuns_CreateRun_ValidatesParameters(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, map[string]any{
		"type":     "object",
		"required": []string{"source"},
		"properties": map[string]any{
			"source": map[string]any{"type": "string"},
		},
	})

	_, err := svc.CreateRun(context.Background(), services.CreateRunRequest{
		FlowID:     flow.ID,
		Parameters: map[string]any{"source": 42},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
	assert.True(t, services.IsValidationError(err))

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{
		FlowID:     flow.ID,
		Parameters: map[string]any{"source": "s3://bucket/input"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/input", run.Parameters["source"])
}

func TestRuns_CreateRun_CustomInitialState(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, nil)

	scheduledTime := time.Now().UTC().Add(time.Hour)
	initial, err := models.Scheduled(models.WithScheduledTime(scheduledTime))
	require.NoError(t, err)

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{
		FlowID:       flow.ID,
		InitialState: initial,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateKindScheduled, run.State.Kind)
	require.NotNil(t, run.State.Details.ScheduledTime)
	assert.True(t, run.State.Details.ScheduledTime.Equal(scheduledTime))
}

func TestRuns_SetState(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, nil)

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{FlowID: flow.ID})
	require.NoError(t, err)

	proposal, err := models.Running()
	require.NoError(t, err)

	committed, err := svc.SetState(context.Background(), run.ID, proposal)
	require.NoError(t, err)
	assert.NotEmpty(t, committed.ID)
	assert.Equal(t, models.StateKindRunning, committed.Kind)

	// Resubmitting the committed state is an identity conflict.
	_, err = svc.SetState(context.Background(), run.ID, committed)
	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))

	// The same proposal content under a fresh identity is fine.
	_, err = svc.SetState(context.Background(), run.ID, proposal)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRuns_SetState_NilProposal(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, nil)

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{FlowID: flow.ID})
	require.NoError(t, err)

	_, err = svc.SetState(context.Background(), run.ID, nil)
	assert.ErrorIs(t, err, services.ErrStateNil)
}

func TestRuns_SetState_UnknownRun(t *testing.T) {
	svc, _ := newTestRuns(t, nil)

	proposal, err := models.Completed()
	require.NoError(t, err)

	_, err = svc.SetState(context.Background(), "missing", proposal)
	assert.ErrorIs(t, err, services.ErrFlowRunNotFound)
}

func TestRuns_FinalState(t *testing.T) {
	svc, p := newTestRuns(t, nil)
	flow := saveTestFlow(t, p, nil)

	run, err := svc.CreateRun(context.Background(), services.CreateRunRequest{FlowID: flow.ID})
	require.NoError(t, err)

	// No final state while the run is still pending.
	state, err := svc.FinalState(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	failed, err := models.Failed(models.WithMessage("out of disk"))
	require.NoError(t, err)

	_, err = svc.SetState(context.Background(), run.ID, failed)
	require.NoError(t, err)

	state, err = svc.FinalState(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.StateKindFailed, state.Kind)
	assert.Equal(t, "out of disk", state.Message)
}

func TestRuns_CachedResult_NoCacheConfigured(t *testing.T) {
	svc, _ := newTestRuns(t, nil)

	data, found, err := svc.CachedResult(context.Background(), "etl-2024-01-01")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestRuns_PublishesLifecycleEvents(t *testing.T) {
	logger := watermill.NopLogger{}

	pub, sub, err := gochannel.CreateTestChannel(logger)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	svc, p := newTestRuns(t, bus)
	flow := saveTestFlow(t, p, nil)

	finished := make(chan *events.RunFinished, 1)

	err = bus.Handle(events.RunFinishedEvent, func(_ context.Context, event any) error {
		if e, ok := event.(*events.RunFinished); ok {
			finished <- e
		}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	run, err := svc.CreateRun(ctx, services.CreateRunRequest{FlowID: flow.ID})
	require.NoError(t, err)

	completed, err := models.Completed()
	require.NoError(t, err)

	_, err = svc.SetState(ctx, run.ID, completed)
	require.NoError(t, err)

	select {
	case event := <-finished:
		assert.Equal(t, run.ID, event.RunID)
		assert.Equal(t, flow.ID, event.FlowID)
		require.NotNil(t, event.State)
		assert.Equal(t, models.StateKindCompleted, event.State.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run.finished event")
	}
}
