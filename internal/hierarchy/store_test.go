package hierarchy_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/migrate"
	"cadreline/internal/repo"
)

type testEnv struct {
	Store hierarchy.Store
	Audit *events.Memory
	Ctx   context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	audit := &events.Memory{}
	s := hierarchy.Store{
		Repo:  repo.Repo{DB: conn},
		Tx:    db.Runner{DB: conn, MaxAttempts: 2, BaseDelay: time.Millisecond},
		Audit: audit,
		Now:   func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	return testEnv{Store: s, Audit: audit, Ctx: ctx}
}

func (env testEnv) create(t *testing.T, name, parent string) domain.OrgUnit {
	t.Helper()
	u, err := env.Store.Create(env.Ctx, hierarchy.CreateOptions{Name: name, ParentID: parent, ActorID: "tester"})
	require.NoError(t, err)
	return u
}

func childNames(t *testing.T, env testEnv, parent string) []string {
	t.Helper()
	a, err := env.Store.Snapshot(env.Ctx)
	require.NoError(t, err)
	var out []string
	for _, c := range a.Children(parent) {
		out = append(out, c.Name)
	}
	return out
}

func TestCreateAppendsToSiblings(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	a := env.create(t, "a", root.ID)
	b := env.create(t, "b", root.ID)
	require.Equal(t, 0, a.SortOrder)
	require.Equal(t, 1, b.SortOrder)
	require.Equal(t, domain.UnitBranch, a.Type)
	require.True(t, a.Active)

	_, err := env.Store.Create(env.Ctx, hierarchy.CreateOptions{Name: "orphan", ParentID: "nope"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Store.Create(env.Ctx, hierarchy.CreateOptions{Name: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	require.Equal(t, []string{events.ActionUnitCreate, events.ActionUnitCreate, events.ActionUnitCreate}, env.Audit.Actions())
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Store.Create(env.Ctx, hierarchy.CreateOptions{Name: "one", Code: "HQ"})
	require.NoError(t, err)
	_, err = env.Store.Create(env.Ctx, hierarchy.CreateOptions{Name: "two", Code: "HQ"})
	require.ErrorIs(t, err, domain.ErrDuplicateCode)
}

func TestMoveIntoDescendantIsCycle(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	a := env.create(t, "a", root.ID)
	a1 := env.create(t, "a1", a.ID)

	_, err := env.Store.Move(env.Ctx, a.ID, &a1.ID, 0, "tester")
	var cycle *domain.CycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, a.ID, cycle.UnitID)

	_, err = env.Store.Move(env.Ctx, a.ID, &a.ID, 0, "tester")
	require.ErrorIs(t, err, domain.ErrCycle)

	// hierarchy unchanged
	got, err := env.Store.Get(env.Ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *got.ParentID)
	anc, err := env.Store.Ancestors(env.Ctx, a1.ID)
	require.NoError(t, err)
	require.Len(t, anc, 2)
}

func TestMoveIntoDeepDescendantIsCycle(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	leaf := root
	for i := 0; i <= hierarchy.DefaultMaxDepth+5; i++ {
		leaf = env.create(t, fmt.Sprintf("level-%d", i), leaf.ID)
	}

	_, err := env.Store.Move(env.Ctx, root.ID, &leaf.ID, 0, "tester")
	require.ErrorIs(t, err, domain.ErrCycle)

	got, err := env.Store.Get(env.Ctx, root.ID)
	require.NoError(t, err)
	require.Nil(t, got.ParentID)
	require.Equal(t, []string{"root"}, childNames(t, env, ""))
}

func TestMoveRenumbersBothSiblingSets(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	left := env.create(t, "left", root.ID)
	right := env.create(t, "right", root.ID)
	x := env.create(t, "x", left.ID)
	env.create(t, "y", left.ID)
	env.create(t, "p", right.ID)
	env.create(t, "q", right.ID)

	moved, err := env.Store.Move(env.Ctx, x.ID, &right.ID, 1, "tester")
	require.NoError(t, err)
	require.Equal(t, right.ID, *moved.ParentID)
	require.Equal(t, 1, moved.SortOrder)
	require.Equal(t, []string{"p", "x", "q"}, childNames(t, env, right.ID))
	require.Equal(t, []string{"y"}, childNames(t, env, left.ID))

	// out of range position appends; nil parent makes a root
	moved, err = env.Store.Move(env.Ctx, x.ID, nil, 99, "tester")
	require.NoError(t, err)
	require.Nil(t, moved.ParentID)
	require.Equal(t, []string{"root", "x"}, childNames(t, env, ""))
}

func TestReorder(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	a := env.create(t, "a", root.ID)
	b := env.create(t, "b", root.ID)
	c := env.create(t, "c", root.ID)

	out, err := env.Store.Reorder(env.Ctx, root.ID, []string{c.ID, a.ID}, "tester")
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []string{"c", "a", "b"}, childNames(t, env, root.ID))
	for i, u := range out {
		require.Equal(t, i, u.SortOrder)
	}
	_ = b
}

func TestReorderRejectsForeignOrRepeatedIDs(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	a := env.create(t, "a", root.ID)
	b := env.create(t, "b", root.ID)
	stranger := env.create(t, "stranger", "")

	_, err := env.Store.Reorder(env.Ctx, root.ID, []string{b.ID, stranger.ID, b.ID}, "tester")
	var sib *domain.InvalidSiblingSetError
	require.ErrorAs(t, err, &sib)
	require.Equal(t, []string{stranger.ID, b.ID}, sib.Offending)

	// nothing changed
	require.Equal(t, []string{"a", "b"}, childNames(t, env, root.ID))
	_ = a
}

func TestDescendantsScopesThroughStore(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	a := env.create(t, "a", root.ID)
	env.create(t, "a1", a.ID)
	b := env.create(t, "b", root.ID)

	_, err := env.Store.SetActive(env.Ctx, a.ID, false, "tester")
	require.NoError(t, err)

	all, err := env.Store.Descendants(env.Ctx, root.ID, hierarchy.ScopeStructural)
	require.NoError(t, err)
	require.Len(t, all, 3)

	op, err := env.Store.Descendants(env.Ctx, root.ID, hierarchy.ScopeOperational)
	require.NoError(t, err)
	require.Len(t, op, 1)
	require.Equal(t, b.ID, op[0].ID)

	tree, err := env.Store.Tree(env.Ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 1)
}

func TestDestroyGuards(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, "root", "")
	leaf := env.create(t, "leaf", root.ID)

	err := env.Store.Destroy(env.Ctx, root.ID, "tester")
	require.ErrorIs(t, err, domain.ErrHasChildren)

	conn := env.Store.Repo.DB
	now := "2024-01-01T00:00:00Z"
	require.NoError(t, env.Store.Repo.UpsertCadre(env.Ctx, domain.Cadre{ID: "c1", Code: "C1", Name: "Ann", Gender: "F", Status: domain.CadreActive, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, env.Store.Repo.InsertMembership(env.Ctx, domain.Membership{
		ID: "m1", CadreID: "c1", UnitID: leaf.ID, Role: domain.RoleMember, IsPrimary: true,
		StartDate: "2024-01-01", Status: domain.MembershipActive, CreatedAt: now, UpdatedAt: now,
	}))
	err = env.Store.Destroy(env.Ctx, leaf.ID, "tester")
	require.ErrorIs(t, err, domain.ErrHasActiveMembers)

	_, err = conn.ExecContext(env.Ctx, `UPDATE memberships SET status='INACTIVE', end_date='2024-02-01' WHERE id='m1'`)
	require.NoError(t, err)
	require.NoError(t, env.Store.Destroy(env.Ctx, leaf.ID, "tester"))
	_, err = env.Store.Get(env.Ctx, leaf.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = env.Store.Destroy(env.Ctx, "missing", "tester")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
