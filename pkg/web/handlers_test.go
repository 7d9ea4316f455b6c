package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence/file"
	"github.com/runwell/runwell/pkg/runwait"
	"github.com/runwell/runwell/pkg/services"
	"github.com/runwell/runwell/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Runs) {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flowService := services.NewFlows(persistence)
	runService := services.NewRuns(persistence, nil, nil, logger)
	waiter := runwait.NewWaiter(runService, logger)
	v := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(flowService, runService, waiter, persistence, v)

	app := fiber.New()

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.CreateFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Patch("/:id", handlers.UpdateFlow)
	f.Delete("/:id", handlers.DeleteFlow)
	f.Post("/:id/runs", handlers.CreateRun)
	f.Get("/:id/runs", handlers.GetRuns)
	f.Post("/:id/deployments", handlers.CreateDeployment)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/history", handlers.GetRunHistory)
	r.Post("/:id/states", handlers.SetRunState)
	r.Get("/:id/wait", handlers.WaitForRun)

	app.Get("/results/:key", handlers.GetResult)
	app.Get("/deployments", handlers.GetDeployments)
	app.Get("/health", handlers.HealthCheck)

	return app, runService
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body []byte

	if payload != nil {
		if str, ok := payload.(string); ok {
			body = []byte(str)
		} else {
			var err error

			body, err = json.Marshal(payload)
			require.NoError(t, err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, respBody
}

func createFlowViaAPI(t *testing.T, app *fiber.App) models.Flow {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/flows", web.CreateFlowRequest{
		Name:        "etl-pipeline",
		Description: "Nightly ETL pipeline",
		Owner:       "data-team",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var flow models.Flow

	err := json.Unmarshal(body, &flow)
	require.NoError(t, err)
	require.NotEmpty(t, flow.ID)

	return flow
}

func TestAPIHandlers_CreateFlow(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "successful creation",
			requestBody: web.CreateFlowRequest{
				Name:        "etl-pipeline",
				Description: "Nightly ETL pipeline",
				Owner:       "data-team",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing name",
			requestBody:    web.CreateFlowRequest{Description: "no name"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - name too short",
			requestBody:    web.CreateFlowRequest{Name: "ab"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := setupTestApp(t)

			resp, _ := doJSON(t, app, http.MethodPost, "/flows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAPIHandlers_GetFlow_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_UpdateFlow(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	newName := "etl-pipeline-v2"
	resp, body := doJSON(t, app, http.MethodPatch, "/flows/"+flow.ID, web.UpdateFlowRequest{Name: &newName})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Flow

	err := json.Unmarshal(body, &updated)
	require.NoError(t, err)
	assert.Equal(t, "etl-pipeline-v2", updated.Name)
	assert.Equal(t, "Nightly ETL pipeline", updated.Description)
}

func TestAPIHandlers_DeleteFlow(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, _ := doJSON(t, app, http.MethodDelete, "/flows/"+flow.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/flows/"+flow.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_CreateRun(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{
		Parameters: map[string]any{"source": "s3://bucket/input"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.FlowRun

	err := json.Unmarshal(body, &run)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	require.NotNil(t, run.State)
	assert.Equal(t, models.StateKindPending, run.State.Kind)
	assert.NotEmpty(t, run.State.ID)
}

func TestAPIHandlers_CreateRun_UnknownFlow(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/flows/missing/runs", web.CreateRunRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_CreateRun_InvalidInitialState(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{
		State: &web.StateRequest{Kind: "Running"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_SetRunState(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.FlowRun

	err := json.Unmarshal(body, &run)
	require.NoError(t, err)

	resp, body = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/states", web.StateRequest{
		Kind:    string(models.StateKindCompleted),
		Message: "all rows loaded",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var committed models.State

	err = json.Unmarshal(body, &committed)
	require.NoError(t, err)
	assert.Equal(t, models.StateKindCompleted, committed.Kind)
	assert.Equal(t, "all rows loaded", committed.Message)
	assert.NotEmpty(t, committed.ID)

	resp, _ = doJSON(t, app, http.MethodGet, "/runs/"+run.ID+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIHandlers_SetRunState_InvalidKind(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.FlowRun

	err := json.Unmarshal(body, &run)
	require.NoError(t, err)

	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/states", web.StateRequest{Kind: "Running"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_SetRunState_ScheduledTimeConflict(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.FlowRun

	err := json.Unmarshal(body, &run)
	require.NoError(t, err)

	scheduledTime := time.Now().UTC().Add(time.Hour)
	otherTime := scheduledTime.Add(time.Minute)

	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/states", web.StateRequest{
		Kind:          string(models.StateKindScheduled),
		ScheduledTime: &scheduledTime,
		Details:       &models.StateDetails{ScheduledTime: &otherTime},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_WaitForRun(t *testing.T) {
	app, runService := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/runs", web.CreateRunRequest{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.FlowRun

	err := json.Unmarshal(body, &run)
	require.NoError(t, err)

	// A zero timeout checks once and reports a timeout for a pending run.
	resp, _ = doJSON(t, app, http.MethodGet, "/runs/"+run.ID+"/wait?timeout=0", nil)
	assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)

	completed, err := models.Completed()
	require.NoError(t, err)

	_, err = runService.SetState(context.Background(), run.ID, completed)
	require.NoError(t, err)

	// The response is the full run record with its final state.
	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+run.ID+"/wait?timeout=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var finished models.FlowRun

	err = json.Unmarshal(body, &finished)
	require.NoError(t, err)
	assert.Equal(t, run.ID, finished.ID)
	assert.Equal(t, flow.ID, finished.FlowID)
	assert.True(t, finished.IsFinal())
	assert.Equal(t, models.StateKindCompleted, finished.State.Kind)
}

func TestAPIHandlers_WaitForRun_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/runs/missing/wait?timeout=0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetResult_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	// No result cache is configured, so every lookup is a miss.
	resp, _ := doJSON(t, app, http.MethodGet, "/results/etl-2024-01-01", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Deployments(t *testing.T) {
	app, _ := setupTestApp(t)
	flow := createFlowViaAPI(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/deployments", web.CreateDeploymentRequest{
		Name:           "nightly",
		CronExpression: "0 2 * * *",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var deployment models.Deployment

	err := json.Unmarshal(body, &deployment)
	require.NoError(t, err)
	assert.True(t, deployment.Active)
	assert.False(t, deployment.NextDueAt.IsZero())

	resp, _ = doJSON(t, app, http.MethodPost, "/flows/"+flow.ID+"/deployments", web.CreateDeploymentRequest{
		Name:           "broken",
		CronExpression: "not-a-cron",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/deployments", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
