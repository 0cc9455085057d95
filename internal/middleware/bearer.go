package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/health777/health777/internal/auth"
)

const bearerPrefix = "bearer "

// BearerAuth resolves the Authorization header to an active user and stores
// the user id under auth.LocalUserID. Tokens of disabled or deleted accounts
// are rejected even while unexpired.
func BearerAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) <= len(bearerPrefix) || !strings.EqualFold(authz[:len(bearerPrefix)], bearerPrefix) {
			return auth.ErrInvalidToken
		}

		user, err := svc.Authenticate(c.UserContext(), strings.TrimSpace(authz[len(bearerPrefix):]))
		if err != nil {
			return err
		}

		c.Locals(auth.LocalUserID, user.ID)
		return c.Next()
	}
}
