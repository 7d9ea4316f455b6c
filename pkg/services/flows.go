package services

import (
	"context"
	"fmt"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

// ErrFlowNotFound is returned when a flow is not found.
var ErrFlowNotFound = persistence.ErrFlowNotFound

// Flows is the flow management service.
type Flows struct {
	persistence persistence.Persistence
}

// NewFlows creates a new flow service.
func NewFlows(persistence persistence.Persistence) *Flows {
	return &Flows{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Flows) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Save validates and persists a flow.
func (s *Flows) Save(ctx context.Context, flow *models.Flow) (*models.Flow, error) {
	if flow == nil {
		return nil, ErrFlowNil
	}

	if flow.Name == "" {
		return nil, ErrFlowNameRequired
	}

	err := s.persistence.Flows().Save(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return flow, nil
}

// GetByID returns a flow by its ID.
func (s *Flows) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	return s.persistence.Flows().GetByID(ctx, id)
}

// List returns all flows.
func (s *Flows) List(ctx context.Context) ([]*models.Flow, error) {
	return s.persistence.Flows().GetAll(ctx)
}

// Delete removes a flow.
func (s *Flows) Delete(ctx context.Context, id string) error {
	return s.persistence.Flows().Delete(ctx, id)
}
