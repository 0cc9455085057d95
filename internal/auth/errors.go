package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrInvalidCredential covers a wrong password and a wrong, expired or
	// already used verification code.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrAlreadyExists is returned when the phone already belongs to an account.
	ErrAlreadyExists = errors.New("phone already registered")
	// ErrAccountDisabled is returned for correct credentials on a disabled account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotFound is returned when no account exists for the phone.
	ErrNotFound = errors.New("user not found")

	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidCode     = errors.New("verification code must be 6 digits")
	ErrInvalidPassword = errors.New("password must be 6-20 characters")
	ErrInvalidPurpose  = errors.New("invalid verification code type")
)

var classes = []struct {
	err    error
	status int
	code   string
}{
	{ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrInvalidPhone, http.StatusBadRequest, "invalid_phone"},
	{ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	{ErrInvalidPassword, http.StatusBadRequest, "invalid_password"},
	{ErrInvalidPurpose, http.StatusBadRequest, "invalid_purpose"},
}

// Classify maps err to an HTTP status, a stable machine-readable code and a
// client-safe message. Unknown errors become a 500 without leaking details.
func Classify(err error) (status int, code, message string) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status, c.code, c.err.Error()
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := strings.ReplaceAll(strings.ToLower(http.StatusText(fe.Code)), " ", "_")
		if code == "" {
			code = "error"
		}
		return fe.Code, code, fe.Message
	}
	return http.StatusInternalServerError, "internal", "internal server error"
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders any error returned by a handler as {code, message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, code, message := Classify(err)
	return c.Status(status).JSON(errorResponse{Code: code, Message: message})
}
