// Package models defines the core domain models for flow-run orchestration.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StateKind is the closed set of status categories a run state can have.
// Orchestration logic branches on Kind only, never on Name.
type StateKind string

const (
	StateKindScheduled  StateKind = "SCHEDULED"
	StateKindPending    StateKind = "PENDING"
	StateKindRunning    StateKind = "RUNNING"
	StateKindCompleted  StateKind = "COMPLETED"
	StateKindFailed     StateKind = "FAILED"
	StateKindCrashed    StateKind = "CRASHED"
	StateKindCancelled  StateKind = "CANCELLED"
	StateKindCancelling StateKind = "CANCELLING"
	StateKindPaused     StateKind = "PAUSED"
)

var stateKindNames = map[StateKind]string{
	StateKindScheduled:  "Scheduled",
	StateKindPending:    "Pending",
	StateKindRunning:    "Running",
	StateKindCompleted:  "Completed",
	StateKindFailed:     "Failed",
	StateKindCrashed:    "Crashed",
	StateKindCancelled:  "Cancelled",
	StateKindCancelling: "Cancelling",
	StateKindPaused:     "Paused",
}

// StateKinds returns all kinds in a stable order.
func StateKinds() []StateKind {
	return []StateKind{
		StateKindScheduled,
		StateKindPending,
		StateKindRunning,
		StateKindCompleted,
		StateKindFailed,
		StateKindCrashed,
		StateKindCancelled,
		StateKindCancelling,
		StateKindPaused,
	}
}

// Valid reports whether the kind is a member of the closed enumeration.
func (k StateKind) Valid() bool {
	_, ok := stateKindNames[k]

	return ok
}

// DisplayName returns the canonical capitalized form of the kind,
// e.g. RUNNING -> "Running". It is the default state name.
func (k StateKind) DisplayName() string {
	return stateKindNames[k]
}

var (
	// ErrInvalidStateKind is returned when a state is constructed with a kind
	// outside the closed enumeration.
	ErrInvalidStateKind = errors.New("invalid value for field \"kind\"")

	// ErrExtraScheduledTime is returned when both the scheduled time convenience
	// option and state details carrying a scheduled time are supplied.
	ErrExtraScheduledTime = errors.New("state details include an extra scheduled_time")
)

// StateDetails holds kind-specific metadata attached to a state.
type StateDetails struct {
	// ScheduledTime is the due time of a SCHEDULED state. It is always
	// resolved for SCHEDULED states and meaningless for other kinds.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	// CacheKey and CacheExpiration carry memoization metadata on COMPLETED
	// states that represent cached results.
	CacheKey        string     `json:"cache_key,omitempty"`
	CacheExpiration *time.Time `json:"cache_expiration,omitempty"`

	// Pause metadata for PAUSED states.
	PauseTimeout    *time.Time `json:"pause_timeout,omitempty"`
	PauseReschedule bool       `json:"pause_reschedule,omitempty"`
	PauseKey        string     `json:"pause_key,omitempty"`
}

func (d StateDetails) copy() StateDetails {
	out := d
	out.ScheduledTime = copyTime(d.ScheduledTime)
	out.CacheExpiration = copyTime(d.CacheExpiration)
	out.PauseTimeout = copyTime(d.PauseTimeout)

	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

// State is an immutable-by-convention record of a run's status at a point
// in time. A State with an empty ID has never been committed as an
// orchestration event.
type State struct {
	ID        string       `json:"id,omitempty"`
	Kind      StateKind    `json:"kind"      validate:"required"`
	Name      string       `json:"name"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message,omitempty"`
	Data      any          `json:"data,omitempty"`
	Details   StateDetails `json:"details"`
}

func (s *State) IsScheduled() bool  { return s.Kind == StateKindScheduled }
func (s *State) IsPending() bool    { return s.Kind == StateKindPending }
func (s *State) IsRunning() bool    { return s.Kind == StateKindRunning }
func (s *State) IsCompleted() bool  { return s.Kind == StateKindCompleted }
func (s *State) IsFailed() bool     { return s.Kind == StateKindFailed }
func (s *State) IsCrashed() bool    { return s.Kind == StateKindCrashed }
func (s *State) IsCancelled() bool  { return s.Kind == StateKindCancelled }
func (s *State) IsCancelling() bool { return s.Kind == StateKindCancelling }
func (s *State) IsPaused() bool     { return s.Kind == StateKindPaused }

// IsFinal reports whether no further transition is expected from this state.
// It is derived from Kind, never stored.
func (s *State) IsFinal() bool {
	switch s.Kind {
	case StateKindCompleted, StateKindFailed, StateKindCrashed, StateKindCancelled:
		return true
	default:
		return false
	}
}

// Clone returns a structural copy preserving ID and Timestamp. The copy is
// indistinguishable from the original and therefore not insertable as a new
// orchestration event; use AsNewEvent for that.
func (s *State) Clone() *State {
	out := *s
	out.Details = s.Details.copy()

	return &out
}

// AsNewEvent returns a copy with a freshly minted ID and a Timestamp reset to
// the current time. Its output is the only value valid to submit to the
// storage collaborator as a new event.
func (s *State) AsNewEvent() *State {
	out := s.Clone()
	out.ID = uuid.New().String()
	out.Timestamp = time.Now().UTC()

	return out
}

// String renders the state for logs and error messages:
//
//	Failed('boom')            canonical name with message
//	Failed()                  canonical name without message
//	Test(type=FAILED)         custom name without message
//	Foo('boom', type=FAILED)  custom name with message
func (s *State) String() string {
	canonical := s.Name == s.Kind.DisplayName()

	switch {
	case canonical && s.Message == "":
		return s.Name + "()"
	case canonical:
		return fmt.Sprintf("%s('%s')", s.Name, s.Message)
	case s.Message == "":
		return fmt.Sprintf("%s(type=%s)", s.Name, s.Kind)
	default:
		return fmt.Sprintf("%s('%s', type=%s)", s.Name, s.Message, s.Kind)
	}
}
