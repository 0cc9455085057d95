package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	devJWTSecret = "health777-development-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string `env:"APP_NAME" envDefault:"health777"`
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"health777.db"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret      string        `env:"JWT_SECRET"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"health777"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"168h"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`

	VerificationCodeTTL     time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"5m"`
	VerificationMaxAttempts int           `env:"VERIFICATION_MAX_ATTEMPTS" envDefault:"5"`
	LoginAttemptsPerMin     int           `env:"LOGIN_ATTEMPTS_PER_MINUTE" envDefault:"5"`
	SMSSendsPerMin          int           `env:"SMS_SENDS_PER_MINUTE" envDefault:"1"`

	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// variables already set in the process environment win.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set when STORE_DRIVER=sqlite")
		}
	case DriverMemory:
		if !c.IsDevelopment() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed when APP_ENV=%s", c.AppEnv)
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.VerificationCodeTTL <= 0 {
		return errors.New("VERIFICATION_CODE_TTL must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a local/dev environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
