package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/engine"
	"cadreline/internal/events"
	"cadreline/internal/migrate"
	"cadreline/internal/repo"
)

// App holds everything a command or the HTTP server needs for one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Log       *zap.Logger
	Audit     *events.Dispatcher
	Engine    engine.Engine
}

// Open loads the workspace config, opens and migrates the database and wires the engine.
// Overrides are applied to the loaded config before it is validated.
func Open(ctx context.Context, workspace string, overrides ...func(*config.Config)) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(overrides) > 0 {
		for _, fn := range overrides {
			fn(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store := events.StoreSink{Repo: repo.Repo{DB: conn}}
	audit := events.NewDispatcher(cfg.Audit.Mode, store, log.Named("audit"), cfg.Audit.QueueSize).
		WithInlineTimeout(cfg.Audit.InlineTimeout)
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Log:       log,
		Audit:     audit,
		Engine:    engine.New(conn, cfg, audit, log),
	}, nil
}

// Close drains queued audit events before closing the database.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	derr := a.Audit.Close(ctx)
	cerr := a.DB.Close()
	_ = a.Log.Sync()
	if derr != nil {
		return derr
	}
	return cerr
}

// NewLogger builds a zap logger from the log section of cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
