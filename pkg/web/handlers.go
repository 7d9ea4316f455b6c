// Package web provides HTTP handlers and REST API endpoints for flow and run management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/runwait"
	"github.com/runwell/runwell/pkg/services"
)

type APIHandlers struct {
	flowService *services.Flows
	runService  *services.Runs
	waiter      *runwait.Waiter
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	flowService *services.Flows,
	runService *services.Runs,
	waiter *runwait.Waiter,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		runService:  runService,
		waiter:      waiter,
		persistence: persistence,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Runwell API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Runwell API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.flowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	flow, err := h.flowService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		Name:            req.Name,
		Description:     req.Description,
		ParameterSchema: req.ParameterSchema,
		Owner:           req.Owner,
	}

	created, err := h.flowService.Save(c.Context(), flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.flowService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.ParameterSchema != nil {
		existing.ParameterSchema = req.ParameterSchema
	}

	if req.Owner != nil {
		existing.Owner = *req.Owner
	}

	updated, err := h.flowService.Save(c.Context(), existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	err := h.flowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req CreateRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	serviceReq := services.CreateRunRequest{
		FlowID:     flowID,
		Name:       req.Name,
		Parameters: req.Parameters,
	}

	if req.State != nil {
		initial, err := req.State.ToState()
		if err != nil {
			return badRequest(c, err.Error())
		}

		serviceReq.InitialState = initial
	}

	run, err := h.runService.CreateRun(c.Context(), serviceReq)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	runs, err := h.runService.ListByFlow(c.Context(), flowID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.FlowRunByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	history, err := h.runService.History(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"history": history})
}

// SetRunState accepts a transition proposal and returns the committed state.
func (h *APIHandlers) SetRunState(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req StateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	proposal, err := req.ToState()
	if err != nil {
		return badRequest(c, err.Error())
	}

	committed, err := h.runService.SetState(c.Context(), id, proposal)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(committed)
}

// WaitForRun blocks until the run finishes or the timeout budget is spent,
// and returns the finished run record. The timeout and poll interval query
// parameters are in seconds.
func (h *APIHandlers) WaitForRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	timeout := -time.Second
	if timeoutStr := c.Query("timeout"); timeoutStr != "" {
		seconds, err := strconv.ParseFloat(timeoutStr, 64)
		if err != nil {
			return badRequest(c, "Invalid timeout value")
		}

		timeout = time.Duration(seconds * float64(time.Second))
	}

	pollInterval := time.Duration(0)
	if intervalStr := c.Query("poll_interval"); intervalStr != "" {
		seconds, err := strconv.ParseFloat(intervalStr, 64)
		if err != nil {
			return badRequest(c, "Invalid poll_interval value")
		}

		pollInterval = time.Duration(seconds * float64(time.Second))
	}

	run, err := h.waiter.Wait(c.Context(), id, timeout, pollInterval)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

// GetResult serves state data memoized under a cache key by a finished run.
func (h *APIHandlers) GetResult(c fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Cache key is required")
	}

	data, found, err := h.runService.CachedResult(c.Context(), key)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !found {
		return notFound(c, "result not found")
	}

	return c.JSON(fiber.Map{"result": data})
}

func (h *APIHandlers) CreateDeployment(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req CreateDeploymentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.flowService.GetByID(c.Context(), flowID); err != nil {
		return handleServiceError(c, err)
	}

	deployment, err := models.NewDeployment(uuid.NewString(), flowID, req.Name, req.CronExpression)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.persistence.Deployments().Save(c.Context(), deployment)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(deployment)
}

func (h *APIHandlers) GetDeployments(c fiber.Ctx) error {
	deployments, err := h.persistence.Deployments().GetAll(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"deployments": deployments})
}
