package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
		{fmt.Errorf("login: %w", ErrInvalidCredential), http.StatusUnauthorized, "invalid_credential"},
		{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
		{ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrInvalidPhone, http.StatusBadRequest, "invalid_phone"},
		{fiber.NewError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests, "too_many_requests"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code, message := Classify(tc.err)
		require.Equal(t, tc.status, status, "%v", tc.err)
		require.Equal(t, tc.code, code)
		require.NotEmpty(t, message)
		require.NotContains(t, message, "connection refused")
	}
}
