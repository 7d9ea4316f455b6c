package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

// DeploymentRepository handles deployment-related file operations.
type DeploymentRepository struct {
	root string
}

// NewDeploymentRepository creates a new deployment repository.
func NewDeploymentRepository(root string) *DeploymentRepository {
	return &DeploymentRepository{root: root}
}

// GetByID retrieves a deployment by its ID.
func (dr *DeploymentRepository) GetByID(_ context.Context, deploymentID string) (*models.Deployment, error) {
	filePath := filepath.Clean(path.Join(dr.root, "deployments", deploymentID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrDeploymentNotFound
		}

		return nil, fmt.Errorf("failed to fetch deployment %s: %w", deploymentID, err)
	}

	var deployment models.Deployment

	err = json.Unmarshal(body, &deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment %s: %w", deploymentID, err)
	}

	return &deployment, nil
}

// GetAll returns all deployments sorted by next due time.
func (dr *DeploymentRepository) GetAll(ctx context.Context) ([]*models.Deployment, error) {
	root := os.DirFS(path.Join(dr.root, "deployments"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment files: %w", err)
	}

	deployments := make([]*models.Deployment, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		deploymentID := file[:len(file)-5]

		deployment, err := dr.GetByID(ctx, deploymentID)
		if err != nil {
			if persistence.IsDeploymentNotFound(err) {
				continue
			}

			return nil, err
		}

		deployments = append(deployments, deployment)
	}

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].NextDueAt.Before(deployments[j].NextDueAt)
	})

	return deployments, nil
}

// ListDue returns active deployments whose next due time has passed.
func (dr *DeploymentRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Deployment, error) {
	all, err := dr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Deployment, 0)

	for _, deployment := range all {
		if deployment.IsDue(now) {
			due = append(due, deployment)
		}
	}

	return due, nil
}

// Save writes a deployment to the file system.
func (dr *DeploymentRepository) Save(_ context.Context, deployment *models.Deployment) error {
	if err := deployment.Validate(); err != nil {
		return err
	}

	err := os.MkdirAll(path.Join(dr.root, "deployments"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create deployments directory: %w", err)
	}

	data, err := json.MarshalIndent(deployment, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deployment %s: %w", deployment.ID, err)
	}

	filePath := path.Join(dr.root, "deployments", deployment.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
