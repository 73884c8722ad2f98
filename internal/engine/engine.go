package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/ledger"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

// Roster resolves cadres owned by the identity provider.
type Roster interface {
	Cadre(ctx context.Context, id string) (domain.Cadre, error)
}

// TxRoster is a Roster that can also read through the caller's transaction.
type TxRoster interface {
	Roster
	WithTx(tx *sql.Tx) Roster
}

// SQLRoster reads the local cadres table.
type SQLRoster struct {
	Repo repo.Repo
}

func (s SQLRoster) Cadre(ctx context.Context, id string) (domain.Cadre, error) {
	return s.Repo.GetCadre(ctx, id)
}

func (s SQLRoster) WithTx(tx *sql.Tx) Roster {
	return SQLRoster{Repo: s.Repo.WithTx(tx)}
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Tx       db.Runner
	Units    hierarchy.Store
	Ledger   ledger.Ledger
	Registry registry.Registry
	Roster   Roster
	Audit    events.Emitter
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, audit events.Emitter, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if audit == nil {
		audit = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: conn}
	tx := db.Runner{
		DB:          conn,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Log:         log.Named("tx"),
		OnRetry:     recordStorageRetry,
	}
	units := hierarchy.Store{Repo: r, Tx: tx, Audit: audit, MaxDepth: cfg.Hierarchy.MaxDepth, Log: log.Named("hierarchy")}
	return Engine{
		DB:       conn,
		Repo:     r,
		Tx:       tx,
		Units:    units,
		Ledger:   ledger.Ledger{Repo: r, Tx: tx, Units: units, Audit: audit, Log: log.Named("ledger")},
		Registry: registry.Registry{Repo: r, Tx: tx, Audit: audit},
		Roster:   SQLRoster{Repo: r},
		Audit:    audit,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

// WithClock returns a copy of e whose services all read time from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Units.Now = now
	e.Ledger.Now = now
	e.Ledger.Units.Now = now
	e.Registry.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string { return e.now().UTC().Format(time.RFC3339) }

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) blockHighSeverity() bool {
	return e.Config != nil && e.Config.Policy.BlockHighSeverityConflicts
}

func (e Engine) rosterTx(tx *sql.Tx) Roster {
	if e.Roster == nil {
		return SQLRoster{Repo: e.Repo.WithTx(tx)}
	}
	if tr, ok := e.Roster.(TxRoster); ok {
		return tr.WithTx(tx)
	}
	return e.Roster
}

// lookupCadre maps a roster miss to *domain.UnknownCadreError.
func lookupCadre(ctx context.Context, r Roster, id string) (domain.Cadre, error) {
	c, err := r.Cadre(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Cadre{}, &domain.UnknownCadreError{CadreID: id}
	}
	return c, err
}

func (e Engine) emit(ctx context.Context, evts ...events.Event) {
	events.EmitAll(ctx, e.Audit, evts)
}

// ListEvents reads the durable audit trail, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, f)
}
