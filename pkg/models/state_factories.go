package models

import (
	"fmt"
	"time"
)

// StateOption customizes a state produced by NewState or one of the
// convenience factories. Options are applied after kind-specific defaults,
// so overrides always win.
type StateOption func(*stateConfig)

type stateConfig struct {
	name          string
	message       string
	data          any
	details       *StateDetails
	scheduledTime *time.Time
}

// WithName overrides the human-readable label. Kind stays canonical; all
// predicate logic ignores the name.
func WithName(name string) StateOption {
	return func(c *stateConfig) { c.name = name }
}

// WithMessage attaches a human-readable explanation, e.g. a failure message.
func WithMessage(message string) StateOption {
	return func(c *stateConfig) { c.message = message }
}

// WithData attaches an opaque result or exception payload.
func WithData(data any) StateOption {
	return func(c *stateConfig) { c.data = data }
}

// WithDetails supplies explicit state details.
func WithDetails(details StateDetails) StateOption {
	return func(c *stateConfig) { c.details = &details }
}

// WithScheduledTime is a convenience for setting Details.ScheduledTime on
// the scheduled family of states. Supplying it together with WithDetails
// carrying a scheduled time fails construction.
func WithScheduledTime(t time.Time) StateOption {
	return func(c *stateConfig) { c.scheduledTime = &t }
}

// NewState builds a well-formed State of the given kind. Unknown kinds fail
// validation; SCHEDULED states always end up with a resolved scheduled time.
func NewState(kind StateKind, opts ...StateOption) (*State, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStateKind, string(kind))
	}

	cfg := stateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Exactly one source of truth for the scheduled time is permitted.
	if cfg.scheduledTime != nil && cfg.details != nil && cfg.details.ScheduledTime != nil {
		return nil, ErrExtraScheduledTime
	}

	details := StateDetails{}
	if cfg.details != nil {
		details = cfg.details.copy()
	}

	if cfg.scheduledTime != nil {
		details.ScheduledTime = copyTime(cfg.scheduledTime)
	}

	now := time.Now().UTC()

	if kind == StateKindScheduled && details.ScheduledTime == nil {
		details.ScheduledTime = &now
	}

	name := cfg.name
	if name == "" {
		name = kind.DisplayName()
	}

	return &State{
		Kind:      kind,
		Name:      name,
		Timestamp: now,
		Message:   cfg.message,
		Data:      cfg.data,
		Details:   details,
	}, nil
}

// Completed returns a COMPLETED state. Cache metadata can be attached via
// WithDetails.
func Completed(opts ...StateOption) (*State, error) {
	return NewState(StateKindCompleted, opts...)
}

// Failed returns a FAILED state.
func Failed(opts ...StateOption) (*State, error) {
	return NewState(StateKindFailed, opts...)
}

// Crashed returns a CRASHED state.
func Crashed(opts ...StateOption) (*State, error) {
	return NewState(StateKindCrashed, opts...)
}

// Running returns a RUNNING state.
func Running(opts ...StateOption) (*State, error) {
	return NewState(StateKindRunning, opts...)
}

// Pending returns a PENDING state.
func Pending(opts ...StateOption) (*State, error) {
	return NewState(StateKindPending, opts...)
}

// Cancelled returns a CANCELLED state.
func Cancelled(opts ...StateOption) (*State, error) {
	return NewState(StateKindCancelled, opts...)
}

// Cancelling returns a CANCELLING state.
func Cancelling(opts ...StateOption) (*State, error) {
	return NewState(StateKindCancelling, opts...)
}

// Paused returns a PAUSED state. Pause metadata can be attached via
// WithDetails.
func Paused(opts ...StateOption) (*State, error) {
	return NewState(StateKindPaused, opts...)
}

// Scheduled returns a SCHEDULED state. If no scheduled time is supplied the
// due time defaults to now.
func Scheduled(opts ...StateOption) (*State, error) {
	return NewState(StateKindScheduled, opts...)
}

// AwaitingRetry returns a SCHEDULED state named "AwaitingRetry",
// distinguishing a retry wait from a first scheduling without affecting
// kind-based orchestration logic.
func AwaitingRetry(opts ...StateOption) (*State, error) {
	return Scheduled(append([]StateOption{WithName("AwaitingRetry")}, opts...)...)
}

// Late returns a SCHEDULED state named "Late", marking a run whose due time
// has passed without a start.
func Late(opts ...StateOption) (*State, error) {
	return Scheduled(append([]StateOption{WithName("Late")}, opts...)...)
}

// Retrying returns a RUNNING state named "Retrying", distinguishing a retry
// attempt from a first run.
func Retrying(opts ...StateOption) (*State, error) {
	return Running(append([]StateOption{WithName("Retrying")}, opts...)...)
}
