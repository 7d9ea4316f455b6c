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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

// runDocument is the on-disk shape of a run: the current snapshot plus the
// full accepted state history.
type runDocument struct {
	Run     *models.FlowRun `json:"run"`
	History []*models.State `json:"history"`
}

// FlowRunRepository handles run-related file operations. A single mutex
// serializes all read-modify-write cycles, which also serializes transition
// proposals per run.
type FlowRunRepository struct {
	root string
	mu   sync.Mutex
}

// NewFlowRunRepository creates a new flow run repository.
func NewFlowRunRepository(root string) *FlowRunRepository {
	return &FlowRunRepository{root: root}
}

// Create persists a new run. The run's initial state, when present, becomes
// the first history entry.
func (rr *FlowRunRepository) Create(_ context.Context, run *models.FlowRun) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	err := os.MkdirAll(path.Join(rr.root, "runs"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

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

	filePath := path.Join(rr.root, "runs", run.ID+".json")
	if _, err := os.Stat(filePath); err == nil {
		return persistence.NewFlowRunError("Create", run.ID, persistence.ErrFlowRunAlreadyExists)
	}

	doc := runDocument{Run: run, History: []*models.State{}}
	if run.State != nil {
		if run.State.ID == "" {
			return persistence.NewFlowRunError("Create", run.ID, persistence.ErrStateNotInsertable)
		}

		doc.History = append(doc.History, run.State)
	}

	return rr.writeDocument(run.ID, &doc)
}

// GetByID retrieves a run by its ID.
func (rr *FlowRunRepository) GetByID(_ context.Context, runID string) (*models.FlowRun, error) {
	doc, err := rr.readDocument(runID)
	if err != nil {
		return nil, err
	}

	return doc.Run, nil
}

// ListByFlow returns all runs created for the given flow, oldest first.
func (rr *FlowRunRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowRun, error) {
	return rr.list(ctx, func(run *models.FlowRun) bool {
		return run.FlowID == flowID
	})
}

// ListByStateKind returns all runs whose current state has the given kind.
func (rr *FlowRunRepository) ListByStateKind(ctx context.Context, kind models.StateKind) ([]*models.FlowRun, error) {
	return rr.list(ctx, func(run *models.FlowRun) bool {
		return run.State != nil && run.State.Kind == kind
	})
}

// SetState appends an accepted transition to the run's history and updates
// the current snapshot. Proposals with missing or duplicate state identities
// are rejected.
func (rr *FlowRunRepository) SetState(_ context.Context, runID string, state *models.State) error {
	if state == nil || state.ID == "" {
		return persistence.NewFlowRunError("SetState", runID, persistence.ErrStateNotInsertable)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	doc, err := rr.readDocument(runID)
	if err != nil {
		return err
	}

	for _, committed := range doc.History {
		if committed.ID == state.ID {
			return persistence.NewStateError("SetState", runID, state.ID, persistence.ErrStateAlreadyCommitted)
		}
	}

	doc.History = append(doc.History, state)
	doc.Run.State = state
	doc.Run.UpdatedAt = time.Now().UTC()

	return rr.writeDocument(runID, doc)
}

// StateHistory returns every accepted state for the run in commit order.
func (rr *FlowRunRepository) StateHistory(_ context.Context, runID string) ([]*models.State, error) {
	doc, err := rr.readDocument(runID)
	if err != nil {
		return nil, err
	}

	return doc.History, nil
}

func (rr *FlowRunRepository) list(_ context.Context, keep func(*models.FlowRun) bool) ([]*models.FlowRun, error) {
	root := os.DirFS(path.Join(rr.root, "runs"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.FlowRun, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := file[:len(file)-5]

		doc, err := rr.readDocument(runID)
		if err != nil {
			if persistence.IsFlowRunNotFound(err) {
				continue
			}

			return nil, err
		}

		if keep(doc.Run) {
			runs = append(runs, doc.Run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	return runs, nil
}

func (rr *FlowRunRepository) readDocument(runID string) (*runDocument, error) {
	filePath := filepath.Clean(path.Join(rr.root, "runs", runID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewFlowRunError("GetByID", runID, persistence.ErrFlowRunNotFound)
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", runID, err)
	}

	var doc runDocument

	err = json.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &doc, nil
}

func (rr *FlowRunRepository) writeDocument(runID string, doc *runDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", runID, err)
	}

	filePath := path.Join(rr.root, "runs", runID+".json")

	// Write through a temp file so a crash mid-write never leaves a
	// truncated history on disk.
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write run %s: %w", runID, err)
	}

	return os.Rename(tmpPath, filePath)
}
