package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/health777/health777/internal/auth"
	"github.com/health777/health777/internal/config"
	"github.com/health777/health777/internal/infra"
	"github.com/health777/health777/internal/notification"
)

type inbox struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (b *inbox) Send(_ context.Context, msg notification.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *inbox) lastCode(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.msgs)
	return b.msgs[len(b.msgs)-1].Params["code"]
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func testConfig(driver string) config.Config {
	return config.Config{
		AppName:                 "health777",
		AppEnv:                  "development",
		StoreDriver:             driver,
		JWTSecret:               "routes-test-secret",
		JWTIssuer:               "health777",
		AccessTokenTTL:          time.Hour,
		BcryptCost:              4,
		VerificationCodeTTL:     5 * time.Minute,
		VerificationMaxAttempts: 5,
		LoginAttemptsPerMin:     3,
		SMSSendsPerMin:          10,
		IdempotencyTTL:          time.Hour,
	}
}

func newApp(t *testing.T, d Deps) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	require.NoError(t, Setup(app, d))
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

func TestAccountLifecycle(t *testing.T) {
	db, err := infra.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	drivers := map[string]Deps{
		config.DriverMemory: {Cfg: testConfig(config.DriverMemory)},
		config.DriverSQLite: {Cfg: testConfig(config.DriverSQLite), SQLite: db},
	}
	for name, d := range drivers {
		t.Run(name, func(t *testing.T) {
			box := &inbox{}
			d.Notifier = box
			app := newApp(t, d)

			status, _ := call(t, app, fiber.MethodPost, "/api/auth/sms/send", `{"phone":"13800000000","type":1}`, nil)
			require.Equal(t, http.StatusOK, status)
			status, body := call(t, app, fiber.MethodPost, "/api/auth/register",
				`{"phone":"13800000000","code":"`+box.lastCode(t)+`","password":"Secret1"}`, nil)
			require.Equal(t, http.StatusOK, status)
			bearer := map[string]string{fiber.HeaderAuthorization: "Bearer " + body["access_token"].(string)}

			status, body = call(t, app, fiber.MethodGet, "/api/auth/me", "", bearer)
			require.Equal(t, http.StatusOK, status)
			require.Equal(t, "13800000000", body["phone"])

			status, body = call(t, app, fiber.MethodGet, "/api/auth/me", "", nil)
			require.Equal(t, http.StatusUnauthorized, status)
			require.Equal(t, "invalid_token", body["code"])

			status, _ = call(t, app, fiber.MethodPost, "/api/auth/password/change",
				`{"old_password":"Secret1","new_password":"Secret2"}`, bearer)
			require.Equal(t, http.StatusOK, status)

			status, _ = call(t, app, fiber.MethodPost, "/api/auth/login/password",
				`{"phone":"13800000000","password":"Secret2"}`, nil)
			require.Equal(t, http.StatusOK, status)

			status, _ = call(t, app, fiber.MethodPost, "/api/auth/sms/send", `{"phone":"13900000001","purpose":"change_phone"}`, nil)
			require.Equal(t, http.StatusOK, status)
			status, _ = call(t, app, fiber.MethodPost, "/api/auth/phone/change",
				`{"new_phone":"13900000001","code":"`+box.lastCode(t)+`"}`, bearer)
			require.Equal(t, http.StatusOK, status)

			status, body = call(t, app, fiber.MethodGet, "/api/auth/me", "", bearer)
			require.Equal(t, http.StatusOK, status)
			require.Equal(t, "13900000001", body["phone"])
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	app := newApp(t, Deps{Cfg: testConfig(config.DriverMemory), Notifier: &inbox{}})

	for i := 0; i < 3; i++ {
		status, body := call(t, app, fiber.MethodPost, "/api/auth/login/password", `{"phone":"13800000000","password":"Secret1"}`, nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Equal(t, "invalid_credential", body["code"])
	}
	status, body := call(t, app, fiber.MethodPost, "/api/auth/login/password", `{"phone":"13800000000","password":"Secret1"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "too_many_requests", body["code"])
}

func registerAndRequestReset(t *testing.T, app *fiber.App, box *inbox) string {
	t.Helper()
	status, _ := call(t, app, fiber.MethodPost, "/api/auth/sms/send", `{"phone":"13800000000","type":1}`, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, app, fiber.MethodPost, "/api/auth/register",
		`{"phone":"13800000000","code":"`+box.lastCode(t)+`","password":"Secret1"}`, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, fiber.MethodPost, "/api/auth/sms/send", `{"phone":"13800000000","type":3}`, nil)
	require.Equal(t, http.StatusOK, status)
	return box.lastCode(t)
}

func guessReset(t *testing.T, app *fiber.App, code string, guesses int) map[int]int {
	t.Helper()
	statuses := map[int]int{}
	for n, made := 0, 0; made < guesses; n++ {
		wrong := fmt.Sprintf("%06d", n)
		if wrong == code {
			continue
		}
		made++
		status, _ := call(t, app, fiber.MethodPost, "/api/auth/password/reset",
			`{"phone":"13800000000","code":"`+wrong+`","new_password":"Hijack1"}`, nil)
		statuses[status]++
	}
	return statuses
}

func TestResetCodeGuessingIsThrottled(t *testing.T) {
	box := &inbox{}
	app := newApp(t, Deps{Cfg: testConfig(config.DriverMemory), Notifier: box})
	code := registerAndRequestReset(t, app, box)

	statuses := guessReset(t, app, code, 50)
	require.LessOrEqual(t, statuses[http.StatusUnauthorized], 3)
	require.Positive(t, statuses[http.StatusTooManyRequests])

	status, _ := call(t, app, fiber.MethodPost, "/api/auth/password/reset",
		`{"phone":"13800000000","code":"`+code+`","new_password":"Hijack1"}`, nil)
	require.NotEqual(t, http.StatusOK, status)

	status, _ = call(t, app, fiber.MethodPost, "/api/auth/login/password", `{"phone":"13800000000","password":"Secret1"}`, nil)
	require.Equal(t, http.StatusOK, status, "password must be unchanged")
}

func TestResetCodeBurnsAfterWrongGuesses(t *testing.T) {
	cfg := testConfig(config.DriverMemory)
	cfg.LoginAttemptsPerMin = 100
	box := &inbox{}
	app := newApp(t, Deps{Cfg: cfg, Notifier: box})
	code := registerAndRequestReset(t, app, box)

	statuses := guessReset(t, app, code, cfg.VerificationMaxAttempts)
	require.Equal(t, cfg.VerificationMaxAttempts, statuses[http.StatusUnauthorized])

	status, body := call(t, app, fiber.MethodPost, "/api/auth/password/reset",
		`{"phone":"13800000000","code":"`+code+`","new_password":"Hijack1"}`, nil)
	require.Equal(t, http.StatusUnauthorized, status, "the real code is burned")
	require.Equal(t, "invalid_credential", body["code"])

	status, _ = call(t, app, fiber.MethodPost, "/api/auth/login/password", `{"phone":"13800000000","password":"Secret1"}`, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestSendCodeIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	box := &inbox{}
	app := newApp(t, Deps{Cfg: testConfig(config.DriverMemory), Cache: cache, Notifier: box})
	key := map[string]string{"Idempotency-Key": "send-1"}

	for i := 0; i < 3; i++ {
		status, body := call(t, app, fiber.MethodPost, "/api/auth/sms/send", `{"phone":"13800000000","type":2}`, key)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "verification code sent", body["message"])
	}
	require.Equal(t, 1, box.count(), "replays must not issue new codes")

	status, _ := call(t, app, fiber.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestSetupRequiresStore(t *testing.T) {
	app := fiber.New()
	require.Error(t, Setup(app, Deps{Cfg: testConfig(config.DriverPostgres)}))
	require.Error(t, Setup(app, Deps{Cfg: testConfig(config.DriverSQLite)}))
	require.Error(t, Setup(app, Deps{Cfg: testConfig("mongo")}))
}
