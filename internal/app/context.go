package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"portcall/internal/config"
	"portcall/internal/db"
	"portcall/internal/engine"
	"portcall/internal/logger"
	"portcall/internal/metrics"
	"portcall/internal/migrate"
)

// Options select the workspace a command runs against.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/portcall.yml.
	ConfigPath string
	// Logger is used as-is when set; otherwise one is built from the config.
	Logger *zap.Logger
}

// Context is what every command needs: an open, migrated database and an engine over it.
type Context struct {
	DB      *sql.DB
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Engine  engine.Engine
}

// Open loads the config, opens and migrates the workspace database and seeds the task category
// catalog from the config. Callers must Close the returned context.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		if log, err = logger.New(cfg.Log.Level, cfg.Log.Format, "portcall"); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("files", applied))
	}
	m := metrics.New()
	e := engine.New(conn, cfg, log, m)
	if err := e.SyncTaskCategories(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sync task categories: %w", err)
	}
	return &Context{DB: conn, Config: cfg, Logger: log, Metrics: m, Engine: e}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func (c *Context) Close() error {
	_ = c.Logger.Sync()
	return c.DB.Close()
}
