package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/migrate"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

func newRegistry(t *testing.T, cadres ...string) (registry.Registry, *events.Memory) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}
	for _, id := range cadres {
		require.NoError(t, r.UpsertCadre(ctx, domain.Cadre{
			ID: id, Code: "C-" + id, Name: id, Gender: "U", Status: domain.CadreActive,
			CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
		}))
	}
	audit := &events.Memory{}
	return registry.Registry{
		Repo:  r,
		Tx:    db.Runner{DB: conn, BaseDelay: time.Millisecond},
		Audit: audit,
	}, audit
}

func TestRegisterConflictRoundTrip(t *testing.T) {
	reg, audit := newRegistry(t, "alice", "bob", "carol")
	ctx := context.Background()

	p, err := reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "bob", CadreB: "alice", Type: domain.ConflictWork, Severity: domain.SeverityHigh})
	require.NoError(t, err)
	require.Equal(t, "alice", p.CadreA)
	require.Equal(t, "bob", p.CadreB)

	got, err := registry.CollectConflicts(reg.ConflictsOf(ctx, "alice"))
	require.NoError(t, err)
	require.Equal(t, []domain.Conflict{{PairID: p.ID, OtherCadreID: "bob", Type: domain.ConflictWork, Severity: domain.SeverityHigh}}, got)

	got, err = registry.CollectConflicts(reg.ConflictsOf(ctx, "bob"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "alice", got[0].OtherCadreID)

	_, err = reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: "bob"})
	var dup *domain.DuplicatePairError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, p.ID, dup.PairID)

	require.Equal(t, []string{events.ActionConflictCreate}, audit.Actions())
}

func TestRegisterConflictRejectsSelfAndUnknown(t *testing.T) {
	reg, _ := newRegistry(t, "alice")
	ctx := context.Background()

	_, err := reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: "alice"})
	require.ErrorIs(t, err, domain.ErrSelfConflict)

	_, err = reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: "ghost"})
	require.ErrorIs(t, err, domain.ErrUnknownCadre)

	_, err = reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: "ghost", Severity: "EXTREME"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeactivatedPairIsHiddenAndCanBeReactivated(t *testing.T) {
	reg, _ := newRegistry(t, "alice", "bob")
	ctx := context.Background()

	p, err := reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: "bob", Severity: domain.SeverityLow})
	require.NoError(t, err)
	_, err = reg.DeactivateConflict(ctx, p.ID, "tester")
	require.NoError(t, err)

	got, err := registry.CollectConflicts(reg.ConflictsOf(ctx, "alice"))
	require.NoError(t, err)
	require.Empty(t, got)

	again, err := reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "bob", CadreB: "alice", Severity: domain.SeverityMedium})
	require.NoError(t, err)
	require.Equal(t, p.ID, again.ID)
	require.True(t, again.Active)
	require.Equal(t, domain.SeverityMedium, again.Severity)

	all, err := reg.ListConflicts(ctx, repo.ConflictFilters{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestConflictsOfOrdersBySeverityAndStopsEarly(t *testing.T) {
	reg, _ := newRegistry(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	for other, sev := range map[string]domain.Severity{"bob": domain.SeverityLow, "carol": domain.SeverityHigh, "dave": domain.SeverityMedium} {
		_, err := reg.RegisterConflict(ctx, registry.ConflictInput{CadreA: "alice", CadreB: other, Severity: sev})
		require.NoError(t, err)
	}

	var seen []string
	for c, err := range reg.ConflictsOf(ctx, "alice") {
		require.NoError(t, err)
		seen = append(seen, c.OtherCadreID)
		if len(seen) == 2 {
			break
		}
	}
	require.Equal(t, []string{"carol", "dave"}, seen)

	// rows from the abandoned walk are closed, so writes still go through
	_, err := reg.SetRiskTag(ctx, registry.RiskTagInput{CadreID: "alice", TagType: domain.RiskSensitive})
	require.NoError(t, err)
}

func TestRiskTagLifecycle(t *testing.T) {
	reg, audit := newRegistry(t, "alice")
	ctx := context.Background()

	tag, err := reg.RiskTagOf(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, tag)

	first, err := reg.SetRiskTag(ctx, registry.RiskTagInput{CadreID: "alice", TagType: domain.RiskKeyPerson, Severity: domain.SeverityHigh, Reason: "sole signatory"})
	require.NoError(t, err)
	second, err := reg.SetRiskTag(ctx, registry.RiskTagInput{CadreID: "alice", TagType: domain.RiskSensitive})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, domain.RiskSensitive, second.TagType)
	require.Equal(t, domain.SeverityLow, second.Severity)

	tag, err = reg.RiskTagOf(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, tag)
	require.Equal(t, domain.RiskSensitive, tag.TagType)

	require.NoError(t, reg.ClearRiskTag(ctx, "alice", "tester"))
	tag, err = reg.RiskTagOf(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, tag)

	require.ErrorIs(t, reg.ClearRiskTag(ctx, "ghost", "tester"), domain.ErrNotFound)
	_, err = reg.SetRiskTag(ctx, registry.RiskTagInput{CadreID: "ghost"})
	require.ErrorIs(t, err, domain.ErrUnknownCadre)

	require.Equal(t, []string{events.ActionRiskTagSet, events.ActionRiskTagSet, events.ActionRiskTagClear}, audit.Actions())
}
