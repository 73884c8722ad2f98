package app

import (
	"context"
	"os"
	"testing"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/repo"
)

func TestOpenWiresAuditToStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	u, err := a.Engine.Units.Create(ctx, hierarchy.CreateOptions{Name: "hq", ActorID: "admin"})
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	evts, err := repo.Repo{DB: conn}.ListEvents(ctx, repo.EventFilters{TargetID: u.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Action != events.ActionUnitCreate || evts[0].ActorID != "admin" {
		t.Fatalf("unexpected audit rows %+v", evts)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.Path(dir), []byte("audit:\n  mode: sometimes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), dir); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestNewLoggerHonoursFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "console"
	cfg.Log.Level = "debug"
	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatalf("debug level not enabled")
	}
	cfg.Log.Level = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Fatalf("expected bad level error")
	}
}
