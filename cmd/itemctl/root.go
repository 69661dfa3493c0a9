package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/basicitems/internal/config"
	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/logging"
	"github.com/JonMunkholm/basicitems/internal/store/postgres"
	"github.com/JonMunkholm/basicitems/internal/store/sqlite"
)

type globalOptions struct {
	Driver     string
	URL        string
	SQLitePath string
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "itemctl",
		Short:         "Allocate, import and export basic item codes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver: postgres or sqlite (default from DB_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.URL, "db-url", "", "postgres connection string (default from DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", "", "sqlite database path (default from SQLITE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level: debug, info, warn, error")

	cmd.AddCommand(newMigrateCmd(&opts))
	cmd.AddCommand(newProjectCmd(&opts))
	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newExportCmd(&opts))
	cmd.AddCommand(newNextCodeCmd(&opts))
	return cmd
}

func Execute() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	env := os.LookupEnv
	overrides := map[string]string{}
	if o.Driver != "" {
		overrides["DB_DRIVER"] = o.Driver
	}
	if o.URL != "" {
		overrides["DATABASE_URL"] = o.URL
	}
	if o.SQLitePath != "" {
		overrides["SQLITE_PATH"] = o.SQLitePath
		if o.Driver == "" {
			overrides["DB_DRIVER"] = config.DriverSQLite
		}
	}
	if o.LogLevel != "" {
		overrides["LOG_LEVEL"] = o.LogLevel
	}
	cfg, err := config.LoadFrom(func(key string) (string, bool) {
		if v, ok := overrides[key]; ok {
			return v, true
		}
		return env(key)
	})
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// withService opens the store, runs fn and closes the store.
func (o *globalOptions) withService(ctx context.Context, fn func(*core.Service) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(core.NewService(store, core.Options{
		MaxRetries:    cfg.Allocation.MaxRetries,
		RetryBackoff:  cfg.Allocation.RetryBackoff,
		ImportTimeout: cfg.Import.Timeout,
		MaxImportRows: cfg.Import.MaxRows,
	}, nil))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (core.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.URL, postgres.PoolOptions{
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
		if err != nil {
			return nil, err
		}
		if migrate && cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
