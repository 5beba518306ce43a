// Package api is the HTTP gateway: it accepts file-processing requests,
// cancels running tasks and reports task status.
package api

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/statusstore"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, req models.FileProcessRequest) (string, error)
	Revoke(ctx context.Context, taskID, reason string) error
}

// StatusStore is the task status written by workers.
type StatusStore interface {
	GetWorkflow(ctx context.Context, taskID string) (statusstore.WorkflowState, error)
	SetWorkflowStatus(ctx context.Context, taskID, status string) error
	StepStatuses(ctx context.Context, taskID string) (map[string]string, error)
	StepIDs(ctx context.Context, taskID string) (map[string]string, error)
	SetStepStatus(ctx context.Context, taskID, stepName, status string) error
}

// Backend is notified when a task is stopped.
type Backend interface {
	StopWorkflow(ctx context.Context, req models.WorkflowStopRequest) error
	FinishStep(ctx context.Context, req models.WorkflowStepFinishRequest) error
}

type API struct {
	queue        TaskQueue
	status       StatusStore
	backend      Backend
	health       func(ctx context.Context) error
	stopDisabled bool
	validate     *validator.Validate
	logger       *slog.Logger
}

type Option func(*API)

// WithHealthCheck sets the dependency probe behind /api_health.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(a *API) { a.health = check }
}

// WithStopDisabled turns POST /tasks/stop off.
func WithStopDisabled(disabled bool) Option {
	return func(a *API) { a.stopDisabled = disabled }
}

func NewAPI(queue TaskQueue, status StatusStore, backend Backend, logger *slog.Logger, opts ...Option) *API {
	a := &API{
		queue:    queue,
		status:   status,
		backend:  backend,
		health:   func(context.Context) error { return nil },
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/api_health", a.Health)

	app.Post("/file/process", a.ProcessFile)

	tasks := app.Group("/tasks")
	tasks.Post("/stop", a.StopTask)
	tasks.Get("/:id/status", a.TaskStatus)

	return app
}

func (a *API) Start(addr string) error {
	return a.App().Listen(addr)
}
