package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/basicitems/internal/config"
	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/logging"
	"github.com/JonMunkholm/basicitems/internal/metrics"
	"github.com/JonMunkholm/basicitems/internal/store/postgres"
	"github.com/JonMunkholm/basicitems/internal/store/sqlite"
	"github.com/JonMunkholm/basicitems/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := metrics.NewRegistry()
	rec := metrics.New(reg)

	service := core.NewService(store, core.Options{
		MaxRetries:          cfg.Allocation.MaxRetries,
		RetryBackoff:        cfg.Allocation.RetryBackoff,
		ImportTimeout:       cfg.Import.Timeout,
		MaxImportRows:       cfg.Import.MaxRows,
		MaxConcurrentImport: cfg.Import.MaxConcurrent,
		ImportMaxWait:       cfg.Import.MaxWaitTime,
	}, rec)
	metrics.RegisterLimiter(reg, service.Limiter())

	server := web.NewServer(service, cfg, metrics.Handler(reg))

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	return server.Start()
}

// openStore connects the configured backend. Postgres is migrated only when
// AutoMigrate is set; sqlite always migrates on open.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLitePath)
		return st, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.URL, postgres.PoolOptions{
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		if v, err := postgres.SchemaVersion(ctx, pool); err == nil {
			slog.Info("connected to database", "schema_version", v)
		}
		return postgres.New(pool), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
