// Command useradmin enables or disables an account by phone number using the
// same store configuration as the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/health777/health777/internal/config"
	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/infra"
	"github.com/health777/health777/internal/logging"
)

func main() {
	phone := flag.String("phone", "", "phone number of the account")
	status := flag.String("status", "", "new status: active or disabled")
	flag.Parse()

	if err := run(*phone, identity.Status(*status)); err != nil {
		fmt.Fprintf(os.Stderr, "useradmin: %v\n", err)
		os.Exit(1)
	}
}

func run(phone string, status identity.Status) error {
	if !identity.ValidPhone(phone) {
		return fmt.Errorf("invalid -phone %q", phone)
	}
	if !status.Valid() {
		return fmt.Errorf("invalid -status %q", status)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo identity.Repository
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = identity.NewPostgresRepository(db)
	case config.DriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = identity.NewSQLiteRepository(db)
	default:
		return fmt.Errorf("STORE_DRIVER=%s has no durable accounts to update", cfg.StoreDriver)
	}

	user, err := identity.NewService(repo).SetStatus(ctx, phone, status)
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("no account for %s", phone)
	}
	if err != nil {
		return err
	}

	logger.Info("account status updated", "user_id", user.ID, "status", string(user.Status))
	return nil
}
