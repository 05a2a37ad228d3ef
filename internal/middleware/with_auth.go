package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny     = "any"
	AuthRoleStudent = "student"
	// AuthRoleStaff admits teachers and admins.
	AuthRoleStaff = "staff"
	AuthRoleAdmin = "admin"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role          string
	RequireUser   bool
	RequireSchool bool
}

// WithAuth wraps a handler with basic authentication/authorization guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser || opts.RequireSchool || role != AuthRoleAny

	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id")
		if requireUser && userID == nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if opts.RequireSchool && c.Locals("school_id") == nil {
			return utils.Fail(c, fiber.StatusForbidden, "school membership required", nil)
		}

		currentRole := normalizeRoleValue(c.Locals("user_role"))
		allowed := true
		switch role {
		case AuthRoleAny:
		case AuthRoleStaff:
			allowed = currentRole == "teacher" || currentRole == "admin"
		default:
			allowed = currentRole == role
		}
		if !allowed {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_role": role})
		}

		return handler(c)
	}
}
