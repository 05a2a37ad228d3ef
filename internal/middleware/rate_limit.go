package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

// RateLimit throttles a route group per authenticated user, falling back to the client IP.
// Rejections use the standard error envelope and a Retry-After header.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := c.Locals("user_id"); userID != nil {
				return fmt.Sprintf("%s:user:%v", identifier, userID)
			}
			return fmt.Sprintf("%s:ip:%s", identifier, c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			retryAfter := int(window.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", retryAfter))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", fiber.Map{
				"limit":               max,
				"retry_after_seconds": retryAfter,
			})
		},
	})
}
