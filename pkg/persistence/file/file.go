// Package file provides file-based persistence for flows, runs, and
// deployments. It is intended for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/runwell/runwell/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	flowRepo       *FlowRepository
	flowRunRepo    *FlowRunRepository
	deploymentRepo *DeploymentRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		flowRepo:       NewFlowRepository(cleanRoot),
		flowRunRepo:    NewFlowRunRepository(cleanRoot),
		deploymentRepo: NewDeploymentRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Flows() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) FlowRuns() persistence.FlowRunRepository {
	return fp.flowRunRepo
}

func (fp *Persistence) Deployments() persistence.DeploymentRepository {
	return fp.deploymentRepo
}
