package routes

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/health777/health777/internal/auth"
	"github.com/health777/health777/internal/config"
	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/ledger"
	"github.com/health777/health777/internal/logging"
	"github.com/health777/health777/internal/middleware"
	"github.com/health777/health777/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes. Exactly one of
// DB and SQLite is expected, matching Cfg.StoreDriver; neither is needed for
// the memory driver.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	SQLite   *sql.DB
	Cache    *redis.Client
	Logger   *slog.Logger
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}

	userRepo, codeStore, err := stores(d)
	if err != nil {
		return err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	users := identity.NewService(userRepo)
	codes := ledger.NewService(codeStore,
		ledger.WithTTL(d.Cfg.VerificationCodeTTL),
		ledger.WithMaxAttempts(d.Cfg.VerificationMaxAttempts),
		ledger.WithLogger(d.Logger),
	)
	tokens, err := auth.NewTokenService(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, auth.WithIssuer(d.Cfg.JWTIssuer))
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	authSvc := auth.NewService(users, codes, auth.NewPasswordHasher(d.Cfg.BcryptCost), tokens,
		auth.WithLogger(d.Logger),
		auth.WithNotifier(d.Notifier),
	)

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, auth.NewHandler(authSvc), AuthMiddleware{
		Bearer:      middleware.BearerAuth(authSvc),
		LoginLimit:  middleware.RateLimit(d.Cache, "login", d.Cfg.LoginAttemptsPerMin, time.Minute, d.Logger),
		VerifyLimit: middleware.RateLimit(d.Cache, "verify", d.Cfg.LoginAttemptsPerMin, time.Minute, d.Logger),
		SMSLimit:    middleware.RateLimit(d.Cache, "sms", d.Cfg.SMSSendsPerMin, time.Minute, d.Logger),
		Idempotency: middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
	})
	return nil
}

func stores(d Deps) (identity.Repository, ledger.Store, error) {
	switch d.Cfg.StoreDriver {
	case config.DriverPostgres:
		if d.DB == nil {
			return nil, nil, fmt.Errorf("postgres pool is required when STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return identity.NewPostgresRepository(d.DB), ledger.NewPostgresStore(d.DB), nil
	case config.DriverSQLite:
		if d.SQLite == nil {
			return nil, nil, fmt.Errorf("sqlite db is required when STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return identity.NewSQLiteRepository(d.SQLite), ledger.NewSQLiteStore(d.SQLite), nil
	case config.DriverMemory:
		return identity.NewMemoryRepository(), ledger.NewInMemory(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported STORE_DRIVER %q", d.Cfg.StoreDriver)
	}
}
