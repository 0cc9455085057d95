package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func newHandlerApp(f fixture, userID string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h := NewHandler(f.svc)
	asUser := func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals(LocalUserID, userID)
		}
		return c.Next()
	}
	app.Post("/register", h.Register)
	app.Post("/login/phone", h.LoginPhone)
	app.Post("/login/password", h.LoginPassword)
	app.Post("/sms/send", h.SendCode)
	app.Post("/password/reset", h.ResetPassword)
	app.Post("/password/change", asUser, h.ChangePassword)
	app.Post("/phone/change", asUser, h.ChangePhone)
	app.Get("/me", asUser, h.Me)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f, "")

	status, body := doJSON(t, app, fiber.MethodPost, "/sms/send", `{"phone":"13800000000","type":1}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "verification code sent", body["message"])
	code := f.notifier.last(t).Params["code"]

	status, body = doJSON(t, app, fiber.MethodPost, "/register", `{"phone":"13800000000","code":"`+code+`","password":"Secret1"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bearer", body["token_type"])
	require.NotEmpty(t, body["access_token"])
	require.EqualValues(t, 604800, body["expires_in"])

	status, body = doJSON(t, app, fiber.MethodPost, "/register", `{"phone":"13800000000","code":"`+code+`","password":"Secret1"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "already_exists", body["code"])

	status, body = doJSON(t, app, fiber.MethodPost, "/login/password", `{"phone":"13800000000","password":"nope123"}`)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_credential", body["code"])

	status, _ = doJSON(t, app, fiber.MethodPost, "/login/password", `{"phone":"13800000000","password":"Secret1"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, app, fiber.MethodPost, "/sms/send", `{"phone":"13800000000","purpose":"login"}`)
	require.Equal(t, http.StatusOK, status)
	code = f.notifier.last(t).Params["code"]
	status, body = doJSON(t, app, fiber.MethodPost, "/login/phone", `{"phone":"13800000000","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["access_token"])
}

func TestHandlerValidation(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f, "")

	cases := []struct {
		path, body, code string
	}{
		{"/sms/send", `{"phone":"13800000000","type":9}`, "invalid_purpose"},
		{"/sms/send", `{"phone":"13800000000","purpose":"unlock"}`, "invalid_purpose"},
		{"/sms/send", `{"phone":"12800000000","type":1}`, "invalid_phone"},
		{"/register", `{"phone":"13800000000","code":"12ab56","password":"Secret1"}`, "invalid_code"},
		{"/register", `{"phone":"13800000000","code":"123456","password":"abc"}`, "invalid_password"},
		{"/register", `{"phone":`, "bad_request"},
	}
	for _, tc := range cases {
		status, body := doJSON(t, app, fiber.MethodPost, tc.path, tc.body)
		require.Equal(t, http.StatusBadRequest, status, "%s %s", tc.path, tc.body)
		require.Equal(t, tc.code, body["code"])
	}
}

func TestHandlerAuthenticatedRoutes(t *testing.T) {
	f := newFixture(t)
	user, _ := f.register(t, "13800000000", "Secret1")

	anonymous := newHandlerApp(f, "")
	status, body := doJSON(t, anonymous, fiber.MethodGet, "/me", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid_token", body["code"])

	app := newHandlerApp(f, user.ID)
	status, body = doJSON(t, app, fiber.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, user.ID, body["user_id"])
	require.Equal(t, "13800000000", body["phone"])
	require.Equal(t, "active", body["status"])
	require.Equal(t, true, body["has_password"])

	status, body = doJSON(t, app, fiber.MethodPost, "/password/change", `{"old_password":"Secret1","new_password":"Secret2"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "password changed", body["message"])

	status, _ = doJSON(t, app, fiber.MethodPost, "/sms/send", `{"phone":"13900000001","type":4}`)
	require.Equal(t, http.StatusOK, status)
	code := f.notifier.last(t).Params["code"]
	status, body = doJSON(t, app, fiber.MethodPost, "/phone/change", `{"new_phone":"13900000001","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "phone changed", body["message"])

	status, _ = doJSON(t, app, fiber.MethodPost, "/sms/send", `{"phone":"13900000001","type":3}`)
	require.Equal(t, http.StatusOK, status)
	code = f.notifier.last(t).Params["code"]
	status, body = doJSON(t, app, fiber.MethodPost, "/password/reset", `{"phone":"13900000001","code":"`+code+`","new_password":"Secret3"}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "password reset", body["message"])

	status, body = doJSON(t, app, fiber.MethodPost, "/password/reset", `{"phone":"13600000000","code":"123456","new_password":"Secret3"}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", body["code"])
}
