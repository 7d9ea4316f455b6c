// Package main provides the Runwell API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/runwell/runwell/pkg/cache"
	"github.com/runwell/runwell/pkg/eventbus"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/runwell/runwell/pkg/runwait"
	"github.com/runwell/runwell/pkg/services"
	"github.com/runwell/runwell/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	resultCache *cache.ResultCache
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	resultCache *cache.ResultCache,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		resultCache: resultCache,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlows(a.persistence)
	runService := services.NewRuns(a.persistence, a.eventBus, a.resultCache, a.logger)
	waiter := runwait.NewWaiter(runService, a.logger)

	handlers := web.NewAPIHandlers(flowService, runService, waiter, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Runwell API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.GetFlows)
	f.Post("/", handlers.CreateFlow)
	f.Get("/:id", handlers.GetFlow)
	f.Patch("/:id", handlers.UpdateFlow)
	f.Delete("/:id", handlers.DeleteFlow)

	// Run endpoints:
	f.Post("/:id/runs", handlers.CreateRun)
	f.Get("/:id/runs", handlers.GetRuns)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/history", handlers.GetRunHistory)
	r.Post("/:id/states", handlers.SetRunState)
	r.Get("/:id/wait", handlers.WaitForRun)

	app.Get("/results/:key", handlers.GetResult)

	// Deployment endpoints:
	f.Post("/:id/deployments", handlers.CreateDeployment)
	app.Get("/deployments", handlers.GetDeployments)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
