package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/models"
)

const userContextKey = "currentUser"

// Authenticator resolves a bearer access token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*models.User, error)
}

// AuthGate validates the bearer token from the Authorization header and
// stores the user in context. Cookies are never consulted.
func AuthGate(a Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := a.Authenticate(c.UserContext(), bearerToken(c.Get(fiber.HeaderAuthorization)))
		if err != nil {
			return err
		}

		c.Locals(userContextKey, user)
		return c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireRole lets through users holding one of roles. It must run after
// AuthGate.
func RequireRole(roles ...models.Role) fiber.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		if !r.Valid() {
			panic(fmt.Sprintf("middleware: unknown role %q", r))
		}
		names[i] = string(r)
	}
	required := strings.Join(names, ", ")

	return func(c *fiber.Ctx) error {
		user, ok := CurrentUser(c)
		if !ok {
			return apperr.Unauthorized("", "Authentication required before role check.")
		}
		for _, r := range roles {
			if user.Role == r {
				return c.Next()
			}
		}
		return apperr.Forbidden("", fmt.Sprintf("Access denied. Required role(s): %s. Your role: %s.", required, user.Role))
	}
}

// CurrentUser extracts the authenticated user from context.
func CurrentUser(c *fiber.Ctx) (*models.User, bool) {
	user, ok := c.Locals(userContextKey).(*models.User)
	return user, ok && user != nil
}
