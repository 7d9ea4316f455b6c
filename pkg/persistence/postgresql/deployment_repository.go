package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

// DeploymentRepository handles deployment-related database operations.
type DeploymentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDeploymentRepository creates a new deployment repository.
func NewDeploymentRepository(db *sql.DB, logger *slog.Logger) *DeploymentRepository {
	return &DeploymentRepository{db: db, logger: logger}
}

const deploymentColumns = `
	id
  , flow_id
  , name
  , cron_expression
  , next_due_at
  , active
  , created_at
  , updated_at
`

// Save inserts or updates a deployment.
func (r *DeploymentRepository) Save(ctx context.Context, deployment *models.Deployment) error {
	if err := deployment.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()

	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = now
	}

	deployment.UpdatedAt = now

	query := `
		INSERT INTO deployments (id, flow_id, name, cron_expression, next_due_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			cron_expression = EXCLUDED.cron_expression,
			next_due_at = EXCLUDED.next_due_at,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		deployment.ID,
		deployment.FlowID,
		deployment.Name,
		deployment.CronExpression,
		deployment.NextDueAt,
		deployment.Active,
		deployment.CreatedAt,
		deployment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment %s: %w", deployment.ID, err)
	}

	return nil
}

// GetByID returns a deployment by its ID.
func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`

	deployment, err := scanDeployment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDeploymentNotFound
		}

		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	return deployment, nil
}

// GetAll returns all deployments ordered by next due time.
func (r *DeploymentRepository) GetAll(ctx context.Context) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY next_due_at ASC`

	return r.query(ctx, query)
}

// ListDue returns the active deployments whose next due time is at or before now.
func (r *DeploymentRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE active AND next_due_at <= $1
		ORDER BY next_due_at ASC
	`

	return r.query(ctx, query, now)
}

func (r *DeploymentRepository) query(ctx context.Context, query string, args ...any) ([]*models.Deployment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	deployments := make([]*models.Deployment, 0)

	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}

		deployments = append(deployments, deployment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	var deployment models.Deployment

	err := row.Scan(
		&deployment.ID,
		&deployment.FlowID,
		&deployment.Name,
		&deployment.CronExpression,
		&deployment.NextDueAt,
		&deployment.Active,
		&deployment.CreatedAt,
		&deployment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &deployment, nil
}
