// Package persistence provides the data storage abstraction layer for flows,
// runs, and deployments.
package persistence

import (
	"context"
	"time"

	"github.com/runwell/runwell/pkg/models"
)

// FlowRepository stores flow definitions.
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	GetAll(ctx context.Context) ([]*models.Flow, error)
	Delete(ctx context.Context, id string) error
}

// FlowRunRepository stores runs and their full state history.
//
// SetState is the serialization point for transition proposals: a proposal
// whose state carries an identity already present in the run's history is
// rejected with ErrStateAlreadyCommitted, and a proposal with no identity at
// all is rejected with ErrStateNotInsertable. Implementations must apply
// concurrent proposals for the same run one at a time.
type FlowRunRepository interface {
	Create(ctx context.Context, run *models.FlowRun) error
	GetByID(ctx context.Context, id string) (*models.FlowRun, error)
	ListByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error)
	ListByStateKind(ctx context.Context, kind models.StateKind) ([]*models.FlowRun, error)
	SetState(ctx context.Context, runID string, state *models.State) error
	StateHistory(ctx context.Context, runID string) ([]*models.State, error)
}

// DeploymentRepository stores cron deployments for the scheduler.
type DeploymentRepository interface {
	Save(ctx context.Context, deployment *models.Deployment) error
	GetByID(ctx context.Context, id string) (*models.Deployment, error)
	GetAll(ctx context.Context) ([]*models.Deployment, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Deployment, error)
}

type Persistence interface {
	Flows() FlowRepository
	FlowRuns() FlowRunRepository
	Deployments() DeploymentRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
