package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"dyntables/internal/apperr"
	"dyntables/internal/metadata"
)

const RoleAdmin = "admin"

// Middleware returns a Fiber middleware that validates JWT tokens and sets
// the UserContext on the request's user context.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return apperr.Unauthorized("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return apperr.Unauthorized("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return apperr.Unauthorized("Invalid or expired token")
		}

		user := &metadata.UserContext{
			ID:       claims.Subject,
			TenantID: claims.TenantID,
			Roles:    claims.Roles,
		}
		c.Locals("user", user)
		c.SetUserContext(metadata.WithUser(c.UserContext(), user))
		return c.Next()
	}
}

// RequireRole checks the authenticated user has role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return apperr.Unauthorized("Missing auth token")
		}
		if !user.HasRole(role) {
			return apperr.Forbidden(role + " access required")
		}
		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
