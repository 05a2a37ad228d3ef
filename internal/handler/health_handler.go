package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/config"
	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
	AIGrading   bool              `json:"ai_grading"`
}

// HealthCheck reports service health. Nil dependencies are skipped.
func HealthCheck(cfg config.Config, db *gorm.DB, cache *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Checks:      map[string]string{},
			AIGrading:   cfg.AIGradingEnabled(),
		}

		if db != nil {
			payload.Checks["database"] = "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				payload.Checks["database"] = err.Error()
				payload.Status = "degraded"
			}
		}

		if cache != nil {
			payload.Checks["redis"] = "ok"
			if err := cache.Ping(ctx).Err(); err != nil {
				payload.Checks["redis"] = err.Error()
				payload.Status = "degraded"
			}
		}

		if payload.Status != "ok" {
			return utils.SendSuccessWithStatus(c, fiber.StatusServiceUnavailable, "service degraded", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
