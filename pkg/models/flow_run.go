package models

import "time"

// FlowRun is one execution instance of a flow. Its State field is the
// current state snapshot; the full transition history lives at the storage
// layer.
type FlowRun struct {
	ID           string         `json:"id"`
	FlowID       string         `json:"flow_id"       validate:"required"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	Name         string         `json:"name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	State        *State         `json:"state,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsFinal reports whether the run has reached a terminal state.
func (r *FlowRun) IsFinal() bool {
	return r.State != nil && r.State.IsFinal()
}
