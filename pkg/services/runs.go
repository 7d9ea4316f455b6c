package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/runwell/runwell/pkg/cache"
	"github.com/runwell/runwell/pkg/eventbus"
	"github.com/runwell/runwell/pkg/events"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/otelhelper"
	"github.com/runwell/runwell/pkg/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrFlowRunNotFound is returned when a run is not found.
var ErrFlowRunNotFound = persistence.ErrFlowRunNotFound

// Runs is the run orchestration service. It owns the transition pipeline:
// proposals are materialized into committable events, committed under a
// per-run lock, and announced on the event bus.
type Runs struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	resultCache *cache.ResultCache
	logger      *slog.Logger
	tracer      trace.Tracer

	// runLocks serializes transition proposals per run ID.
	runLocks sync.Map
}

// NewRuns creates a new run service. The event bus and result cache are
// optional; a nil value disables publishing or caching respectively.
func NewRuns(
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	resultCache *cache.ResultCache,
	logger *slog.Logger,
) *Runs {
	return &Runs{
		persistence: persistence,
		eventBus:    eventBus,
		resultCache: resultCache,
		logger:      logger,
		tracer:      otel.Tracer("runwell.runs"),
	}
}

// CreateRunRequest contains the inputs for creating a run.
type CreateRunRequest struct {
	FlowID       string
	DeploymentID string
	Name         string
	Parameters   map[string]any

	// InitialState is an optional state proposal. When nil the run starts
	// in PENDING.
	InitialState *models.State
}

// CreateRun validates the request against the flow's parameter schema and
// persists a new run with a committed initial state.
func (s *Runs) CreateRun(ctx context.Context, req CreateRunRequest) (*models.FlowRun, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "runs.create",
		attribute.String(otelhelper.FlowIDKey, req.FlowID),
	)
	defer span.End()

	if req.DeploymentID != "" {
		span.SetAttributes(attribute.String(otelhelper.DeploymentIDKey, req.DeploymentID))
	}

	flow, err := s.persistence.Flows().GetByID(ctx, req.FlowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.FlowNameKey, flow.Name))

	err = flow.ValidateParameters(req.Parameters)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	initial := req.InitialState
	if initial == nil {
		initial, err = models.Pending()
		if err != nil {
			return nil, err
		}
	}

	run := &models.FlowRun{
		FlowID:       flow.ID,
		DeploymentID: req.DeploymentID,
		Name:         req.Name,
		Parameters:   req.Parameters,
		State:        initial.AsNewEvent(),
	}

	err = s.persistence.FlowRuns().Create(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	s.publish(ctx, run.ID, events.RunCreated{
		BaseEvent:  events.NewBaseEvent(events.RunCreatedEvent, run.FlowID, run.ID),
		Parameters: run.Parameters,
		State:      run.State,
	})

	s.logger.InfoContext(ctx, "Run created",
		"run_id", run.ID, "flow_id", run.FlowID, "state", run.State.Kind)

	return run, nil
}

// FlowRunByID returns a run by its ID.
func (s *Runs) FlowRunByID(ctx context.Context, id string) (*models.FlowRun, error) {
	return s.persistence.FlowRuns().GetByID(ctx, id)
}

// ListByFlow returns all runs of a flow.
func (s *Runs) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error) {
	return s.persistence.FlowRuns().ListByFlow(ctx, flowID)
}

// ListByStateKind returns all runs currently in the given state kind.
func (s *Runs) ListByStateKind(ctx context.Context, kind models.StateKind) ([]*models.FlowRun, error) {
	return s.persistence.FlowRuns().ListByStateKind(ctx, kind)
}

// History returns a run's accepted states in commit order.
func (s *Runs) History(ctx context.Context, runID string) ([]*models.State, error) {
	return s.persistence.FlowRuns().StateHistory(ctx, runID)
}

// SetState commits a transition proposal against a run and returns the
// committed state. Proposals without an identity get a fresh one; proposals
// carrying an already committed identity are rejected. Proposals for one run
// are processed one at a time.
func (s *Runs) SetState(ctx context.Context, runID string, proposal *models.State) (*models.State, error) {
	if proposal == nil {
		return nil, ErrStateNil
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "runs.set_state",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.StateKindKey, string(proposal.Kind)),
	)
	defer span.End()

	lock := s.lockRun(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.persistence.FlowRuns().GetByID(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	committed := proposal
	if committed.ID == "" {
		committed = proposal.AsNewEvent()
	}

	err = s.persistence.FlowRuns().SetState(ctx, runID, committed)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StateIDKey, committed.ID))

	event := events.RunStateChanged{
		BaseEvent: events.NewBaseEvent(events.RunStateChangedEvent, run.FlowID, runID),
		State:     committed,
	}
	if run.State != nil {
		event.PreviousKind = run.State.Kind
		event.PreviousID = run.State.ID
	}

	s.publish(ctx, runID, event)

	if committed.IsFinal() {
		s.finish(ctx, run, committed)
	}

	s.logger.InfoContext(ctx, "Run state changed",
		"run_id", runID, "state", committed.Kind, "state_id", committed.ID)

	return committed, nil
}

// FinalState returns the final state of a run, or nil when the run has not
// finished yet. Finished runs are served from the result cache when possible.
func (s *Runs) FinalState(ctx context.Context, runID string) (*models.State, error) {
	if s.resultCache != nil {
		state, err := s.resultCache.Final(ctx, runID)
		if err != nil {
			s.logger.WarnContext(ctx, "Result cache read failed", "run_id", runID, "error", err)
		} else if state != nil {
			return state, nil
		}
	}

	run, err := s.persistence.FlowRuns().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !run.IsFinal() {
		return nil, nil
	}

	if s.resultCache != nil {
		if err := s.resultCache.SetFinal(ctx, runID, run.State); err != nil {
			s.logger.WarnContext(ctx, "Result cache write failed", "run_id", runID, "error", err)
		}
	}

	return run.State, nil
}

// CachedResult returns memoized state data stored under a cache key by a
// finished run. The second return value reports whether the key was present;
// it is always false when no result cache is configured.
func (s *Runs) CachedResult(ctx context.Context, cacheKey string) (any, bool, error) {
	if s.resultCache == nil {
		return nil, false, nil
	}

	return s.resultCache.Result(ctx, cacheKey)
}

func (s *Runs) finish(ctx context.Context, run *models.FlowRun, state *models.State) {
	if s.resultCache != nil {
		if err := s.resultCache.SetFinal(ctx, run.ID, state); err != nil {
			s.logger.WarnContext(ctx, "Result cache write failed", "run_id", run.ID, "error", err)
		}

		if err := s.resultCache.SetResult(ctx, state); err != nil {
			s.logger.WarnContext(ctx, "Result cache write failed", "run_id", run.ID, "error", err)
		}
	}

	s.publish(ctx, run.ID, events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.FlowID, run.ID),
		State:     state,
		Duration:  state.Timestamp.Sub(run.CreatedAt),
	})
}

func (s *Runs) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	err := s.eventBus.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}

func (s *Runs) lockRun(runID string) *sync.Mutex {
	lock, _ := s.runLocks.LoadOrStore(runID, &sync.Mutex{})

	return lock.(*sync.Mutex)
}
