package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/runwait"
	"github.com/runwell/runwell/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func waitTimeout(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(408).
		WithInstance(c.Path()).
		WithType("wait_timeout").
		WithDetail(detail)

	return c.Status(fiber.StatusRequestTimeout).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return conflict(c, err.Error())

	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")

	case persistence.IsFlowRunNotFound(err):
		return notFound(c, "run not found")

	case persistence.IsDeploymentNotFound(err):
		return notFound(c, "deployment not found")

	case runwait.IsWaitTimeout(err):
		return waitTimeout(c, err.Error())

	default:
		// Log unexpected errors but don't expose details
		return internalError(c, err)
	}
}
