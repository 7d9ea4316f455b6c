// Package events defines event types and structures for run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/runwell/runwell/pkg/models"
)

type EventType string

// Kafka topic for run lifecycle events.
const Topic = "runwell.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunCreatedEvent      EventType = "run.created"
	RunStateChangedEvent EventType = "run.state.changed"
	RunFinishedEvent     EventType = "run.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id"`
	RunID     string         `json:"run_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunCreated struct {
	BaseEvent

	Parameters map[string]any `json:"parameters,omitempty"`
	State      *models.State  `json:"state,omitempty"`
}

func (r RunCreated) GetType() EventType {
	return RunCreatedEvent
}

// RunStateChanged is published for every accepted transition, including the
// final one.
type RunStateChanged struct {
	BaseEvent

	State        *models.State    `json:"state"`
	PreviousKind models.StateKind `json:"previous_kind,omitempty"`
	PreviousID   string           `json:"previous_id,omitempty"`
}

func (r RunStateChanged) GetType() EventType {
	return RunStateChangedEvent
}

// RunFinished is published once, when a run first enters a final state.
type RunFinished struct {
	BaseEvent

	State    *models.State `json:"state"`
	Duration time.Duration `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

func NewBaseEvent(eventType EventType, flowID, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		RunID:     runID,
		Metadata:  make(map[string]any),
	}
}
