// Package web provides HTTP request and response types for the run API.
package web

import (
	"time"

	"github.com/runwell/runwell/pkg/models"
)

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name            string         `json:"name"             validate:"required,min=3"`
	Description     string         `json:"description"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Owner           string         `json:"owner"`
}

// UpdateFlowRequest represents the request body for updating an existing flow.
// All fields are optional to support partial updates.
type UpdateFlowRequest struct {
	Name            *string        `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description     *string        `json:"description,omitempty"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Owner           *string        `json:"owner,omitempty"`
}

// CreateRunRequest represents the request body for creating a run of a flow.
type CreateRunRequest struct {
	Name       string         `json:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// State optionally overrides the default PENDING initial state.
	State *StateRequest `json:"state,omitempty"`
}

// StateRequest represents a transition proposal in a request body. The
// identity and timestamp of the committed state are assigned server-side.
type StateRequest struct {
	Kind          string     `json:"kind"                     validate:"required"`
	Name          string     `json:"name,omitempty"`
	Message       string     `json:"message,omitempty"`
	Data          any        `json:"data,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	Details *models.StateDetails `json:"details,omitempty"`
}

// ToState builds a state proposal from the request.
func (r *StateRequest) ToState() (*models.State, error) {
	opts := make([]models.StateOption, 0, 5)

	if r.Name != "" {
		opts = append(opts, models.WithName(r.Name))
	}

	if r.Message != "" {
		opts = append(opts, models.WithMessage(r.Message))
	}

	if r.Data != nil {
		opts = append(opts, models.WithData(r.Data))
	}

	if r.ScheduledTime != nil {
		opts = append(opts, models.WithScheduledTime(*r.ScheduledTime))
	}

	if r.Details != nil {
		opts = append(opts, models.WithDetails(*r.Details))
	}

	return models.NewState(models.StateKind(r.Kind), opts...)
}

// CreateDeploymentRequest represents the request body for creating a deployment.
type CreateDeploymentRequest struct {
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression" validate:"required"`
}
