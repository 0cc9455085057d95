package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/health777/health777/internal/auth"
	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/ledger"
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
}

type authFixture struct {
	users *identity.Service
	codes *ledger.Service
	svc   *auth.Service
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	users := identity.NewService(identity.NewMemoryRepository())
	codes := ledger.NewService(ledger.NewInMemory())
	tokens, err := auth.NewTokenService("middleware-test-secret", time.Hour)
	require.NoError(t, err)
	return authFixture{
		users: users,
		codes: codes,
		svc:   auth.NewService(users, codes, auth.NewPasswordHasher(bcrypt.MinCost), tokens),
	}
}

func (f authFixture) register(t *testing.T, phone string) auth.Token {
	t.Helper()
	ctx := context.Background()
	code, err := f.codes.Issue(ctx, phone, ledger.PurposeRegister)
	require.NoError(t, err)
	token, err := f.svc.Register(ctx, phone, code, "Secret1")
	require.NoError(t, err)
	return token
}

func postJSON(t *testing.T, app *fiber.App, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}
