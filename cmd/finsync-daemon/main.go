package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/application/app"
	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/internal/infrastructure/database"
	"github.com/finlake/finsync/internal/infrastructure/logging"
	"github.com/finlake/finsync/internal/infrastructure/pidfile"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: search standard locations)")
	flag.Parse()

	cfg := config.MustLoadConfig(*configPath)
	logging.Init(cfg.Logging)
	logger := logging.Logger

	if cfg.Daemon.PIDFile != "" {
		pf := pidfile.New(cfg.Daemon.PIDFile)
		if err := pf.Acquire(); err != nil {
			log.Fatalf("Failed to acquire PID file lock: %v", err)
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn().Err(err).Msg("failed to release PID file")
			}
		}()
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger := logging.Logger

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn().Err(err).Msg("failed to close database")
		}
	}()

	// SQLite is for local development; it gets its schema automigrated.
	if cfg.Database.Type == "sqlite" {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store, err := statestore.NewRedisStore(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to state store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.New(cfg, db, store, logger).Run(ctx)
}
