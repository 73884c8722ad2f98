package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/ledger"
	"cadreline/internal/migrate"
)

func TestApplyMovesNamesFailingMove(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default(), events.Nop{}, nil)

	root, err := e.Units.Create(ctx, hierarchy.CreateOptions{Name: "root"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := e.Units.Create(ctx, hierarchy.CreateOptions{Name: "other", ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.PutCadre(ctx, CadreInput{Code: "X1", Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ledger.Assign(ctx, ledger.AssignInput{CadreID: c.ID, UnitID: root.ID, IsPrimary: true}); err != nil {
		t.Fatal(err)
	}

	moves := []domain.Move{
		{ID: "m1", Seq: 1, CadreID: c.ID, Type: domain.MoveTransfer, FromUnitID: &root.ID, ToUnitID: &other.ID, Role: domain.RoleMember},
		{ID: "m2", Seq: 2, CadreID: c.ID, Type: domain.MoveAssign, ToUnitID: &root.ID, Role: domain.RoleMember},
	}
	var applyErr error
	err = e.Tx.Do(ctx, "test.apply", func(ctx context.Context, tx *sql.Tx) error {
		_, applyErr = e.applyMoves(ctx, tx, "p1", moves, "2024-01-01")
		return applyErr
	})
	var mae *domain.MoveApplyError
	if !errors.As(err, &mae) {
		t.Fatalf("expected move apply error, got %v", err)
	}
	if mae.MoveID != "m2" || mae.Seq != 2 || !errors.Is(err, domain.ErrPrimaryConflict) {
		t.Fatalf("wrong move named: %+v", mae)
	}

	// the rolled back transfer left the original primary in place
	m, err := e.Ledger.ActivePrimary(ctx, c.ID)
	if err != nil || m == nil || m.UnitID != root.ID {
		t.Fatalf("ledger changed after rollback: %+v %v", m, err)
	}
}

func TestEnsurePlanTransition(t *testing.T) {
	if err := ensurePlanTransition("p", domain.PlanApproved, domain.PlanCanceled); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approved plans cannot be canceled, got %v", err)
	}
	if err := ensurePlanTransition("p", domain.PlanDraft, domain.PlanRejected); err != nil {
		t.Fatalf("draft plans can be rejected: %v", err)
	}
}
