// Package hierarchy maintains the org unit tree.
package hierarchy

import (
	"sort"

	"cadreline/internal/domain"
)

// Scope selects which units a descendant walk visits.
type Scope int

const (
	// ScopeStructural visits every unit, active or not.
	ScopeStructural Scope = iota
	// ScopeOperational visits active units only; an inactive unit hides its subtree.
	ScopeOperational
)

func ParseScope(s string) (Scope, bool) {
	switch s {
	case "", "structural":
		return ScopeStructural, true
	case "operational":
		return ScopeOperational, true
	}
	return ScopeStructural, false
}

// DefaultMaxDepth bounds walks when no limit is configured.
const DefaultMaxDepth = 64

// Arena is an immutable id-indexed snapshot of the unit table.
// Parent links are plain ids, so walks are repeated lookups that stop at
// the depth bound or on a revisited id even if the stored data is malformed.
type Arena struct {
	units    map[string]domain.OrgUnit
	children map[string][]string
	maxDepth int
}

func NewArena(units []domain.OrgUnit, maxDepth int) *Arena {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	a := &Arena{
		units:    make(map[string]domain.OrgUnit, len(units)),
		children: make(map[string][]string),
		maxDepth: maxDepth,
	}
	for _, u := range units {
		a.units[u.ID] = u
	}
	for _, u := range units {
		parent := ""
		if u.ParentID != nil {
			parent = *u.ParentID
		}
		a.children[parent] = append(a.children[parent], u.ID)
	}
	for parent := range a.children {
		ids := a.children[parent]
		sort.SliceStable(ids, func(i, j int) bool {
			ui, uj := a.units[ids[i]], a.units[ids[j]]
			if ui.SortOrder != uj.SortOrder {
				return ui.SortOrder < uj.SortOrder
			}
			if ui.Name != uj.Name {
				return ui.Name < uj.Name
			}
			return ui.ID < uj.ID
		})
	}
	return a
}

func (a *Arena) Len() int { return len(a.units) }

func (a *Arena) Unit(id string) (domain.OrgUnit, bool) {
	u, ok := a.units[id]
	return u, ok
}

// Children returns the direct children of parentID in sibling order; "" lists the roots.
func (a *Arena) Children(parentID string) []domain.OrgUnit {
	ids := a.children[parentID]
	out := make([]domain.OrgUnit, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.units[id])
	}
	return out
}

// Ancestors returns the chain from the unit's parent up to its root.
func (a *Arena) Ancestors(id string) ([]domain.OrgUnit, error) {
	u, ok := a.units[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "unit", ID: id}
	}
	var out []domain.OrgUnit
	seen := map[string]bool{id: true}
	for depth := 0; u.ParentID != nil && depth < a.maxDepth; depth++ {
		pid := *u.ParentID
		if seen[pid] {
			break
		}
		parent, ok := a.units[pid]
		if !ok {
			break
		}
		seen[pid] = true
		out = append(out, parent)
		u = parent
	}
	return out, nil
}

// Descendants returns the subtree below id, breadth first, excluding id itself.
func (a *Arena) Descendants(id string, scope Scope) ([]domain.OrgUnit, error) {
	if _, ok := a.units[id]; !ok {
		return nil, &domain.NotFoundError{Kind: "unit", ID: id}
	}
	var out []domain.OrgUnit
	seen := map[string]bool{id: true}
	level := []string{id}
	for depth := 0; len(level) > 0 && depth < a.maxDepth; depth++ {
		var next []string
		for _, pid := range level {
			for _, cid := range a.children[pid] {
				if seen[cid] {
					continue
				}
				seen[cid] = true
				child := a.units[cid]
				if scope == ScopeOperational && !child.Active {
					continue
				}
				out = append(out, child)
				next = append(next, cid)
			}
		}
		level = next
	}
	return out, nil
}

// IsDescendant reports whether candidate lies in the structural subtree of ancestor.
// The climb ignores the depth bound: only a repeated unit stops it, so the
// answer holds for chains of any length.
func (a *Arena) IsDescendant(ancestor, candidate string) bool {
	u, ok := a.units[candidate]
	seen := map[string]bool{candidate: true}
	for ok && u.ParentID != nil {
		pid := *u.ParentID
		if pid == ancestor {
			return true
		}
		if seen[pid] {
			return false
		}
		seen[pid] = true
		u, ok = a.units[pid]
	}
	return false
}

// Tree returns the active roots with their active children nested.
func (a *Arena) Tree() []domain.UnitNode {
	seen := map[string]bool{}
	var build func(u domain.OrgUnit, depth int) domain.UnitNode
	build = func(u domain.OrgUnit, depth int) domain.UnitNode {
		seen[u.ID] = true
		node := domain.UnitNode{OrgUnit: u}
		if depth >= a.maxDepth {
			return node
		}
		for _, c := range a.Children(u.ID) {
			if !c.Active || seen[c.ID] {
				continue
			}
			node.Children = append(node.Children, build(c, depth+1))
		}
		return node
	}
	var roots []domain.UnitNode
	for _, r := range a.Children("") {
		if r.Active {
			roots = append(roots, build(r, 1))
		}
	}
	return roots
}
