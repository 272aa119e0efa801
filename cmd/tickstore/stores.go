package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rpattn/tickstore/internal/catalog"
	"github.com/rpattn/tickstore/internal/config"
	"github.com/rpattn/tickstore/internal/db"
	"github.com/rpattn/tickstore/internal/repository"
	"github.com/rpattn/tickstore/internal/repository/sqlite"
	"github.com/rpattn/tickstore/internal/temporal"
)

// backend bundles what both subcommands need from the configured store.
type backend struct {
	engine     *temporal.Engine
	activities repository.ActivityRepository
	logger     *slog.Logger
	close      func()
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Engine.SlogLevel()}))

	policy, err := temporal.ParseBulkUpdatePolicy(cfg.Engine.BulkUpdates)
	if err != nil {
		return nil, err
	}
	registry := temporal.NewRegistry()
	if err := catalog.Register(registry, policy); err != nil {
		return nil, fmt.Errorf("register catalog: %w", err)
	}

	var (
		store      repository.Store
		activities repository.ActivityRepository
		closeFn    func()
	)
	switch cfg.Backend {
	case config.BackendSQLite:
		sqliteStore, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store, activities, closeFn = sqliteStore, sqliteStore.Activities(), sqliteStore.Close
	default:
		if err := db.RunMigrations(cfg.Database.URL("postgres")); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store, activities, closeFn = repository.NewPostgresStore(conn), repository.NewActivityRepository(conn.Pool), conn.Close
	}

	engine := temporal.NewEngine(store, registry,
		temporal.WithLogger(logger),
		temporal.WithTimelineConcurrency(cfg.Engine.TimelineConcurrency),
	)
	if err := engine.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &backend{engine: engine, activities: activities, logger: logger, close: closeFn}, nil
}
