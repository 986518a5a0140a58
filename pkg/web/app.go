package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/tideflow-io/tideflow/pkg/engine"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/version"
)

// NewApp assembles the fiber application with all routes mounted.
func NewApp(
	workflowEngine *engine.Engine,
	versionManager *version.Manager,
	store persistence.Persistence,
) *fiber.App {
	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := NewAPIHandlers(workflowEngine, versionManager, store, validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tideflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:slug", handlers.GetWorkflow)
	w.Post("/:id/drafts", handlers.CreateDraft)

	v := app.Group("/versions")
	v.Patch("/:id", handlers.UpdateDraft)
	v.Get("/:id/validation", handlers.ValidateVersion)
	v.Post("/:id/publish", handlers.PublishVersion)
	v.Post("/:id/archive", handlers.ArchiveVersion)
	app.Get("/versions/compare", handlers.CompareVersions)

	i := app.Group("/instances")
	i.Post("/", handlers.StartInstance)
	i.Get("/:id", handlers.GetInstance)
	i.Get("/:id/logs", handlers.GetInstanceLogs)
	i.Get("/:id/gates", handlers.GetInstanceGates)
	i.Post("/:id/resume", handlers.ResumeInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)
	i.Post("/:id/migrate", handlers.MigrateInstance)

	a := app.Group("/approvals")
	a.Post("/:gateId/decisions", handlers.RecordDecision)

	tokens := app.Group("/approval-tokens")
	tokens.Post("/:token", handlers.ResolveByToken)
	tokens.Post("/:token/delegate", handlers.DelegateApproval)

	return app
}
