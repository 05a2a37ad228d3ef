package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/config"
	"github.com/noah-isme/gema-mastery-api/internal/handler"
	"github.com/noah-isme/gema-mastery-api/internal/middleware"
	"github.com/noah-isme/gema-mastery-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AttemptHandler        *handler.AttemptHandler
	MasteryHandler        *handler.MasteryHandler
	HomeworkHandler       *handler.HomeworkHandler
	TaskSubmissionHandler *handler.TaskSubmissionHandler
	JWTMiddleware         fiber.Handler
	DB                    *gorm.DB
	Cache                 *redis.Client
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DB, deps.Cache))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = passThrough
	}
	authenticated := middleware.WithAuth(passThrough, middleware.AuthOptions{RequireUser: true})
	staffOnly := middleware.RequireRole("teacher", "admin")
	adminOnly := middleware.WithAuth(passThrough, middleware.AuthOptions{Role: middleware.AuthRoleAdmin})

	if deps.AttemptHandler != nil {
		attempts := api.Group("/attempts", jwtMiddleware, authenticated,
			middleware.RateLimit("attempts", cfg.AttemptRateLimit, cfg.AttemptRateWindow))
		deps.AttemptHandler.Register(attempts)
	}

	if deps.MasteryHandler != nil {
		mastery := api.Group("/mastery", jwtMiddleware, authenticated)
		deps.MasteryHandler.Register(mastery)
	}

	if deps.HomeworkHandler != nil {
		homework := api.Group("/homework", jwtMiddleware, authenticated)
		deps.HomeworkHandler.Register(homework)

		if deps.TaskSubmissionHandler != nil {
			deps.TaskSubmissionHandler.Register(homework)
		}
	}

	if deps.TaskSubmissionHandler != nil {
		reviews := api.Group("/reviews", jwtMiddleware, authenticated, staffOnly)
		deps.TaskSubmissionHandler.RegisterReview(reviews)
	}

	maintenance := api.Group("/maintenance", jwtMiddleware, adminOnly)
	if deps.AttemptHandler != nil {
		deps.AttemptHandler.RegisterMaintenance(maintenance.Group("/attempts"))
	}
	if deps.MasteryHandler != nil {
		deps.MasteryHandler.RegisterMaintenance(maintenance.Group("/mastery"))
	}
}
