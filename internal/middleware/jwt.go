package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-mastery-api/internal/utils"
)

const tokenLeeway = 30 * time.Second

// JWTProtected validates HS256 bearer tokens and exposes the caller's identity as locals:
// user_id (uint), user_role (lowercase string) and school_id (uint, optional).
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(tokenLeeway),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, tokenString, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, ok := uintClaim(claims, "sub", "user_id", "id")
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "token has no subject")
		}
		c.Locals("user_id", userID)

		if role := roleClaim(claims); role != "" {
			c.Locals("user_role", role)
		}
		if schoolID, ok := uintClaim(claims, "school_id", "tenant_id"); ok {
			c.Locals("school_id", schoolID)
		}

		return c.Next()
	}
}

// uintClaim returns the first claim among keys that holds a non-negative integer.
func uintClaim(claims jwt.MapClaims, keys ...string) (uint, bool) {
	for _, key := range keys {
		value, ok := claims[key]
		if !ok {
			continue
		}
		if parsed, err := toUint(value); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toUint(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(uint(v)) {
			return 0, fmt.Errorf("invalid identifier %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported identifier type %T", value)
	}
}

// roleClaim accepts either a "role" string or the first entry of a "roles" array.
func roleClaim(claims jwt.MapClaims) string {
	if role, ok := claims["role"].(string); ok {
		return strings.ToLower(strings.TrimSpace(role))
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, item := range roles {
			if role, ok := item.(string); ok && strings.TrimSpace(role) != "" {
				return strings.ToLower(strings.TrimSpace(role))
			}
		}
	}
	return ""
}
