package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"github.com/noah-isme/gema-mastery-api/internal/observability"
)

const correlationLocal = "correlation_id"

// CorrelationID tags every request with an id that follows it into logs and domain events.
// An incoming X-Correlation-ID or X-Request-ID is reused; otherwise a UUID is generated.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		incoming := strings.TrimSpace(c.Get("X-Correlation-ID"))
		if incoming == "" {
			incoming = strings.TrimSpace(c.Get("X-Request-ID"))
		}
		if incoming == "" || len(incoming) > 128 {
			incoming = uuid.NewString()
		} else {
			incoming = fiberutils.CopyString(incoming)
		}

		c.Locals(correlationLocal, incoming)
		c.Set("X-Correlation-ID", incoming)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), incoming))

		return c.Next()
	}
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(correlationLocal).(string); ok {
		return id
	}
	return observability.CorrelationID(c.UserContext())
}
