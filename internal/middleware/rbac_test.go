package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func reviewApp(role interface{}) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != nil {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Use(RequireRole("Teacher", " admin ", "teacher"))
	app.Get("/reviews", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireRoleAllowsStaff(t *testing.T) {
	for _, role := range []interface{}{"admin", "TEACHER"} {
		resp, err := reviewApp(role).Test(httptest.NewRequest(http.MethodGet, "/reviews", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestRequireRoleRejectsOthersWithAllowedRoles(t *testing.T) {
	for _, role := range []interface{}{"student", nil} {
		resp, err := reviewApp(role).Test(httptest.NewRequest(http.MethodGet, "/reviews", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

		var payload struct {
			Details struct {
				AllowedRoles []string `json:"allowed_roles"`
			} `json:"details"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, []string{"teacher", "admin"}, payload.Details.AllowedRoles)
	}
}
