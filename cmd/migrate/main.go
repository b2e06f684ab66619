// Package main applies the embedded schema migrations to DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/archon-research/chainguard/db/migrations"
	"github.com/archon-research/chainguard/db/migrator"
	"github.com/archon-research/chainguard/internal/adapters/outbound/postgres"
	"github.com/archon-research/chainguard/internal/pkg/env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load(".env")

	dbURL := env.Get("DATABASE_URL", "")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg := postgres.DefaultDBConfig(dbURL)
	cfg.MinConns = 0
	pool, err := postgres.OpenPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)
	if err := m.ApplyAll(ctx); err != nil {
		return err
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		return err
	}
	logger.Info("all migrations up to date", "applied", len(applied))
	return nil
}
