package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

const pqUniqueViolation = "23505"

// FlowRunRepository handles run-related database operations. The primary key
// on flow_run_states.id makes the database the serialization point for
// transition identity: two proposals carrying the same state id can never
// both commit.
type FlowRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRunRepository creates a new flow run repository.
func NewFlowRunRepository(db *sql.DB, logger *slog.Logger) *FlowRunRepository {
	return &FlowRunRepository{db: db, logger: logger}
}

// Create persists a new run and, when present, its initial state.
func (r *FlowRunRepository) Create(ctx context.Context, run *models.FlowRun) error {
	now := time.Now().UTC()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.State != nil && run.State.ID == "" {
		return persistence.NewFlowRunError("Create", run.ID, persistence.ErrStateNotInsertable)
	}

	parametersJSON, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal run parameters: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stateID, stateKind any
	if run.State != nil {
		stateID = run.State.ID
		stateKind = string(run.State.Kind)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_runs (id, flow_id, deployment_id, name, parameters, state_id, state_kind, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`,
		run.ID,
		run.FlowID,
		run.DeploymentID,
		run.Name,
		parametersJSON,
		stateID,
		stateKind,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewFlowRunError("Create", run.ID, persistence.ErrFlowRunAlreadyExists)
		}

		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if run.State != nil {
		err = insertState(ctx, tx, run.ID, run.State)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}

	return nil
}

// GetByID returns a run and its current state snapshot.
func (r *FlowRunRepository) GetByID(ctx context.Context, id string) (*models.FlowRun, error) {
	query := `
		SELECT
			r.id
		  , r.flow_id
		  , COALESCE(r.deployment_id::text, '')
		  , r.name
		  , r.parameters
		  , r.created_at
		  , r.updated_at
		  , s.id
		  , s.kind
		  , s.name
		  , s.timestamp
		  , s.message
		  , s.data
		  , s.details
		FROM flow_runs r
		LEFT JOIN flow_run_states s ON s.id = r.state_id
		WHERE r.id = $1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowRunError("GetByID", id, persistence.ErrFlowRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run %s: %w", id, err)
	}

	return run, nil
}

// ListByFlow returns all runs of a flow, oldest first.
func (r *FlowRunRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error) {
	return r.list(ctx, "r.flow_id = $1", flowID)
}

// ListByStateKind returns all runs whose current state has the given kind.
func (r *FlowRunRepository) ListByStateKind(ctx context.Context, kind models.StateKind) ([]*models.FlowRun, error) {
	return r.list(ctx, "r.state_kind = $1", string(kind))
}

func (r *FlowRunRepository) list(ctx context.Context, where string, arg any) ([]*models.FlowRun, error) {
	query := `
		SELECT
			r.id
		  , r.flow_id
		  , COALESCE(r.deployment_id::text, '')
		  , r.name
		  , r.parameters
		  , r.created_at
		  , r.updated_at
		  , s.id
		  , s.kind
		  , s.name
		  , s.timestamp
		  , s.message
		  , s.data
		  , s.details
		FROM flow_runs r
		LEFT JOIN flow_run_states s ON s.id = r.state_id
		WHERE ` + where + `
		ORDER BY r.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.FlowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// SetState commits an accepted transition: one new row in flow_run_states and
// an updated snapshot on the run. A duplicate state identity aborts the
// transaction.
func (r *FlowRunRepository) SetState(ctx context.Context, runID string, state *models.State) error {
	if state == nil || state.ID == "" {
		return persistence.NewFlowRunError("SetState", runID, persistence.ErrStateNotInsertable)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE flow_runs SET state_id = $1, state_kind = $2, updated_at = $3 WHERE id = $4
	`, state.ID, string(state.Kind), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s snapshot: %w", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for run %s: %w", runID, err)
	}

	if affected == 0 {
		err = persistence.NewFlowRunError("SetState", runID, persistence.ErrFlowRunNotFound)

		return err
	}

	err = insertState(ctx, tx, runID, state)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit state for run %s: %w", runID, err)
	}

	return nil
}

// StateHistory returns every accepted state for the run in commit order.
func (r *FlowRunRepository) StateHistory(ctx context.Context, runID string) ([]*models.State, error) {
	if _, err := r.GetByID(ctx, runID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, kind, name, timestamp, message, data, details
		FROM flow_run_states
		WHERE run_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state history: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	states := make([]*models.State, 0)

	for rows.Next() {
		var (
			state       models.State
			message     sql.NullString
			dataJSON    []byte
			detailsJSON []byte
		)

		err = rows.Scan(&state.ID, &state.Kind, &state.Name, &state.Timestamp, &message, &dataJSON, &detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		state.Message = message.String

		if err := decodeStatePayloads(&state, dataJSON, detailsJSON); err != nil {
			return nil, err
		}

		states = append(states, &state)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return states, nil
}

func insertState(ctx context.Context, tx *sql.Tx, runID string, state *models.State) error {
	dataJSON, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}

	detailsJSON, err := json.Marshal(state.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal state details: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_run_states (id, run_id, kind, name, timestamp, message, data, details)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`,
		state.ID,
		runID,
		string(state.Kind),
		state.Name,
		state.Timestamp,
		state.Message,
		dataJSON,
		detailsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewStateError("SetState", runID, state.ID, persistence.ErrStateAlreadyCommitted)
		}

		return fmt.Errorf("failed to insert state %s for run %s: %w", state.ID, runID, err)
	}

	return nil
}

func scanRun(row rowScanner) (*models.FlowRun, error) {
	var (
		run            models.FlowRun
		parametersJSON []byte
		stateID        sql.NullString
		stateKind      sql.NullString
		stateName      sql.NullString
		stateTime      sql.NullTime
		stateMessage   sql.NullString
		dataJSON       []byte
		detailsJSON    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.DeploymentID,
		&run.Name,
		&parametersJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
		&stateID,
		&stateKind,
		&stateName,
		&stateTime,
		&stateMessage,
		&dataJSON,
		&detailsJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(parametersJSON) > 0 {
		if err := json.Unmarshal(parametersJSON, &run.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run parameters: %w", err)
		}
	}

	if stateID.Valid {
		state := &models.State{
			ID:        stateID.String,
			Kind:      models.StateKind(stateKind.String),
			Name:      stateName.String,
			Timestamp: stateTime.Time,
			Message:   stateMessage.String,
		}

		if err := decodeStatePayloads(state, dataJSON, detailsJSON); err != nil {
			return nil, err
		}

		run.State = state
	}

	return &run, nil
}

func decodeStatePayloads(state *models.State, dataJSON, detailsJSON []byte) error {
	if len(dataJSON) > 0 && string(dataJSON) != "null" {
		if err := json.Unmarshal(dataJSON, &state.Data); err != nil {
			return fmt.Errorf("failed to unmarshal state data: %w", err)
		}
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &state.Details); err != nil {
			return fmt.Errorf("failed to unmarshal state details: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
