package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/health777/health777/internal/ledger"
)

// LocalUserID is the fiber.Ctx locals key holding the authenticated user id.
const LocalUserID = "user_id"

// Handler exposes the auth flows over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type registerRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

type phoneLoginRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type passwordLoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type sendCodeRequest struct {
	Phone   string `json:"phone"`
	Type    int    `json:"type"`
	Purpose string `json:"purpose"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type resetPasswordRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePhoneRequest struct {
	NewPhone string `json:"new_phone"`
	Code     string `json:"code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type meResponse struct {
	UserID       string     `json:"user_id"`
	Phone        string     `json:"phone"`
	Status       string     `json:"status"`
	HasPassword  bool       `json:"has_password"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Register creates an account and returns its first token.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	token, err := h.svc.Register(c.UserContext(), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Code), req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(token)
}

// LoginPhone logs in with a verification code.
func (h *Handler) LoginPhone(c *fiber.Ctx) error {
	var req phoneLoginRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	token, err := h.svc.LoginCode(c.UserContext(), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Code))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(token)
}

// LoginPassword logs in with a password.
func (h *Handler) LoginPassword(c *fiber.Ctx) error {
	var req passwordLoginRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	token, err := h.svc.LoginPassword(c.UserContext(), strings.TrimSpace(req.Phone), req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(token)
}

// SendCode issues a verification code. The purpose may be given by name or by
// the legacy numeric type.
func (h *Handler) SendCode(c *fiber.Ctx) error {
	var req sendCodeRequest
	if err := parse(c, &req); err != nil {
		return err
	}

	purpose := ledger.Purpose(strings.ToLower(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		p, ok := ledger.PurposeFromType(req.Type)
		if !ok {
			return ErrInvalidPurpose
		}
		purpose = p
	}

	if err := h.svc.SendCode(c.UserContext(), strings.TrimSpace(req.Phone), purpose); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "verification code sent"})
}

// ChangePassword requires an authenticated user.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.UserContext(), userID, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "password changed"})
}

// ResetPassword sets a new password using a reset code.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.UserContext(), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Code), req.NewPassword); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "password reset"})
}

// ChangePhone requires an authenticated user.
func (h *Handler) ChangePhone(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req changePhoneRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePhone(c.UserContext(), userID, strings.TrimSpace(req.NewPhone), strings.TrimSpace(req.Code)); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "phone changed"})
}

// Me returns a summary of the authenticated account.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	user, err := h.svc.Me(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(meResponse{
		UserID:       user.ID,
		Phone:        user.Phone,
		Status:       string(user.Status),
		HasPassword:  user.HasPassword(),
		RegisteredAt: user.RegisteredAt,
		LastLoginAt:  user.LastLoginAt,
	})
}

func parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

func currentUserID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals(LocalUserID).(string)
	if uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}
