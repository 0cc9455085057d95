package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/health777/health777/internal/auth"
)

// AuthMiddleware carries the per-route guards of the auth group. Nil entries
// are skipped.
type AuthMiddleware struct {
	Bearer      fiber.Handler
	LoginLimit  fiber.Handler
	VerifyLimit fiber.Handler
	SMSLimit    fiber.Handler
	Idempotency fiber.Handler
}

// RegisterAuthRoutes wires authentication endpoints under /auth.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, mw AuthMiddleware) {
	group := r.Group("/auth")

	group.Post("/register", chain(h.Register, mw.VerifyLimit)...)
	group.Post("/login/phone", chain(h.LoginPhone, mw.LoginLimit)...)
	group.Post("/login/password", chain(h.LoginPassword, mw.LoginLimit)...)
	group.Post("/sms/send", chain(h.SendCode, mw.Idempotency, mw.SMSLimit)...)
	group.Post("/password/reset", chain(h.ResetPassword, mw.VerifyLimit)...)

	group.Post("/password/change", chain(h.ChangePassword, mw.Bearer)...)
	group.Post("/phone/change", chain(h.ChangePhone, mw.Bearer, mw.VerifyLimit)...)
	group.Get("/me", chain(h.Me, mw.Bearer)...)
}

func chain(handler fiber.Handler, guards ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(guards)+1)
	for _, g := range guards {
		if g != nil {
			out = append(out, g)
		}
	}
	return append(out, handler)
}
