package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cadreline/internal/domain"
)

func unit(id, parent string, order int, active bool) domain.OrgUnit {
	u := domain.OrgUnit{ID: id, Name: id, SortOrder: order, Active: active, Type: domain.UnitBranch}
	if parent != "" {
		u.ParentID = &parent
	}
	return u
}

func ids(units []domain.OrgUnit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.ID)
	}
	return out
}

func sampleArena() *Arena {
	// root
	// ├── a
	// │   ├── a1
	// │   └── a2 (inactive)
	// │       └── a2x
	// └── b
	return NewArena([]domain.OrgUnit{
		unit("root", "", 0, true),
		unit("b", "root", 1, true),
		unit("a", "root", 0, true),
		unit("a1", "a", 0, true),
		unit("a2", "a", 1, false),
		unit("a2x", "a2", 0, true),
	}, 0)
}

func TestArenaChildrenOrdered(t *testing.T) {
	a := sampleArena()
	require.Equal(t, []string{"root"}, ids(a.Children("")))
	require.Equal(t, []string{"a", "b"}, ids(a.Children("root")))
	require.Empty(t, a.Children("b"))
}

func TestArenaAncestorsParentFirst(t *testing.T) {
	a := sampleArena()
	got, err := a.Ancestors("a2x")
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a", "root"}, ids(got))

	got, err = a.Ancestors("root")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = a.Ancestors("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArenaDescendantsScopes(t *testing.T) {
	a := sampleArena()
	got, err := a.Descendants("root", ScopeStructural)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a1", "a2", "a2x"}, ids(got))

	got, err = a.Descendants("root", ScopeOperational)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a1"}, ids(got))

	got, err = a.Descendants("a1", ScopeStructural)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestArenaIsDescendant(t *testing.T) {
	a := sampleArena()
	require.True(t, a.IsDescendant("root", "a2x"))
	require.True(t, a.IsDescendant("a", "a2x"))
	require.False(t, a.IsDescendant("b", "a2x"))
	require.False(t, a.IsDescendant("a2x", "a"))
	require.False(t, a.IsDescendant("a", "a"))
}

func TestArenaTerminatesOnMalformedCycle(t *testing.T) {
	a := NewArena([]domain.OrgUnit{
		unit("x", "y", 0, true),
		unit("y", "x", 0, true),
	}, 8)
	anc, err := a.Ancestors("x")
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, ids(anc))

	desc, err := a.Descendants("x", ScopeStructural)
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, ids(desc))

	require.False(t, a.IsDescendant("z", "x"))
}

func TestArenaDepthBound(t *testing.T) {
	var units []domain.OrgUnit
	parent := ""
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		units = append(units, unit(id, parent, 0, true))
		parent = id
	}
	a := NewArena(units, 3)
	desc, err := a.Descendants("a", ScopeStructural)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d"}, ids(desc))

	anc, err := a.Ancestors("j")
	require.NoError(t, err)
	require.Equal(t, []string{"i", "h", "g"}, ids(anc))
}

func TestArenaIsDescendantIgnoresDepthBound(t *testing.T) {
	var units []domain.OrgUnit
	parent := ""
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		units = append(units, unit(id, parent, 0, true))
		parent = id
	}
	a := NewArena(units, 3)
	require.True(t, a.IsDescendant("a", "j"))
	require.False(t, a.IsDescendant("j", "a"))
}

func TestArenaTreeSkipsInactive(t *testing.T) {
	a := sampleArena()
	tree := a.Tree()
	require.Len(t, tree, 1)
	require.Equal(t, "root", tree[0].ID)
	require.Equal(t, []string{"a", "b"}, []string{tree[0].Children[0].ID, tree[0].Children[1].ID})
	require.Len(t, tree[0].Children[0].Children, 1)
	require.Equal(t, "a1", tree[0].Children[0].Children[0].ID)
}

func TestParseScope(t *testing.T) {
	s, ok := ParseScope("operational")
	require.True(t, ok)
	require.Equal(t, ScopeOperational, s)
	s, ok = ParseScope("")
	require.True(t, ok)
	require.Equal(t, ScopeStructural, s)
	_, ok = ParseScope("everything")
	require.False(t, ok)
}
