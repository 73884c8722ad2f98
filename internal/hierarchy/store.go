package hierarchy

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/repo"
)

// Store is the transactional owner of the unit tree.
type Store struct {
	Repo     repo.Repo
	Tx       db.Runner
	Audit    events.Emitter
	MaxDepth int
	Log      *zap.Logger
	Now      func() time.Time
}

var validate = validator.New()

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) stamp() string { return s.now().UTC().Format(time.RFC3339) }

func (s Store) logger() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Snapshot loads the whole unit table in one statement.
func (s Store) Snapshot(ctx context.Context) (*Arena, error) {
	return s.snapshot(ctx, s.Repo)
}

// SnapshotTx loads the unit table through tx.
func (s Store) SnapshotTx(ctx context.Context, tx *sql.Tx) (*Arena, error) {
	return s.snapshot(ctx, s.Repo.WithTx(tx))
}

func (s Store) snapshot(ctx context.Context, r repo.Repo) (*Arena, error) {
	units, err := r.ListUnits(ctx)
	if err != nil {
		return nil, db.Classify("load units", err)
	}
	return NewArena(units, s.MaxDepth), nil
}

type CreateOptions struct {
	Name      string          `validate:"required,max=100"`
	Code      string          `validate:"max=50"`
	Type      domain.UnitType `validate:"omitempty,oneof=BRANCH DEPARTMENT TEAM DIVISION OFFICE"`
	ParentID  string
	SortOrder *int
	ActorID   string
}

func (s Store) Create(ctx context.Context, opts CreateOptions) (domain.OrgUnit, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Code = strings.TrimSpace(opts.Code)
	if err := validate.Struct(opts); err != nil {
		return domain.OrgUnit{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if opts.Type == "" {
		opts.Type = domain.UnitBranch
	}
	now := s.stamp()
	u := domain.OrgUnit{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		Type:      opts.Type,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.Code != "" {
		u.Code = &opts.Code
	}
	if opts.ParentID != "" {
		u.ParentID = &opts.ParentID
	}
	err := s.Tx.Do(ctx, "unit.create", func(ctx context.Context, tx *sql.Tx) error {
		r := s.Repo.WithTx(tx)
		if u.ParentID != nil {
			if _, err := r.GetUnit(ctx, *u.ParentID); err != nil {
				return err
			}
		}
		siblings, err := r.ListChildUnits(ctx, opts.ParentID)
		if err != nil {
			return err
		}
		u.SortOrder = len(siblings)
		if opts.SortOrder != nil {
			u.SortOrder = *opts.SortOrder
		}
		return r.InsertUnit(ctx, u)
	})
	if err != nil {
		return domain.OrgUnit{}, err
	}
	events.EmitAll(ctx, s.Audit, []events.Event{{
		TS: s.now(), ActorID: opts.ActorID, Action: events.ActionUnitCreate, TargetType: "unit", TargetID: u.ID,
		Payload: events.EventPayload{"name": u.Name, "type": u.Type, "parent_id": opts.ParentID},
	}})
	return u, nil
}

func (s Store) Get(ctx context.Context, id string) (domain.OrgUnit, error) {
	return s.Repo.GetUnit(ctx, id)
}

func (s Store) List(ctx context.Context) ([]domain.OrgUnit, error) {
	return s.Repo.ListUnits(ctx)
}

// Tree returns the active roots with their active descendants nested.
func (s Store) Tree(ctx context.Context) ([]domain.UnitNode, error) {
	a, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return a.Tree(), nil
}

func (s Store) Ancestors(ctx context.Context, id string) ([]domain.OrgUnit, error) {
	a, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return a.Ancestors(id)
}

func (s Store) Descendants(ctx context.Context, id string, scope Scope) ([]domain.OrgUnit, error) {
	a, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return a.Descendants(id, scope)
}

// Move reparents unitID under newParentID (nil for a root) at position among
// the new siblings. A negative or out of range position appends.
func (s Store) Move(ctx context.Context, unitID string, newParentID *string, position int, actorID string) (domain.OrgUnit, error) {
	if newParentID != nil && *newParentID == "" {
		newParentID = nil
	}
	var moved domain.OrgUnit
	var oldParent string
	err := s.Tx.Do(ctx, "unit.move", func(ctx context.Context, tx *sql.Tx) error {
		r := s.Repo.WithTx(tx)
		a, err := s.SnapshotTx(ctx, tx)
		if err != nil {
			return err
		}
		u, ok := a.Unit(unitID)
		if !ok {
			return &domain.NotFoundError{Kind: "unit", ID: unitID}
		}
		oldParent = ""
		if u.ParentID != nil {
			oldParent = *u.ParentID
		}
		newParent := ""
		if newParentID != nil {
			newParent = *newParentID
			if _, ok := a.Unit(newParent); !ok {
				return &domain.NotFoundError{Kind: "unit", ID: newParent}
			}
			if newParent == unitID || a.IsDescendant(unitID, newParent) {
				return &domain.CycleError{UnitID: unitID, ParentID: newParent}
			}
		}
		now := s.stamp()
		if err := r.SetUnitParent(ctx, unitID, newParentID, now); err != nil {
			return err
		}
		var siblings []string
		for _, c := range a.Children(newParent) {
			if c.ID != unitID {
				siblings = append(siblings, c.ID)
			}
		}
		if position < 0 || position > len(siblings) {
			position = len(siblings)
		}
		ordered := make([]string, 0, len(siblings)+1)
		ordered = append(ordered, siblings[:position]...)
		ordered = append(ordered, unitID)
		ordered = append(ordered, siblings[position:]...)
		if err := renumber(ctx, r, ordered, now); err != nil {
			return err
		}
		if oldParent != newParent {
			var rest []string
			for _, c := range a.Children(oldParent) {
				if c.ID != unitID {
					rest = append(rest, c.ID)
				}
			}
			if err := renumber(ctx, r, rest, now); err != nil {
				return err
			}
		}
		moved, err = r.GetUnit(ctx, unitID)
		return err
	})
	if err != nil {
		s.logger().Warn("unit move rejected", zap.String("unit_id", unitID), zap.Error(err))
		return domain.OrgUnit{}, err
	}
	events.EmitAll(ctx, s.Audit, []events.Event{{
		TS: s.now(), ActorID: actorID, Action: events.ActionUnitMove, TargetType: "unit", TargetID: unitID,
		Payload: events.EventPayload{"from_parent_id": oldParent, "to_parent_id": derefOr(moved.ParentID), "sort_order": moved.SortOrder},
	}})
	return moved, nil
}

// Reorder assigns sort orders 0..n-1 to orderedIDs under parentID ("" for roots).
// Unlisted siblings keep their relative order after the listed ones.
func (s Store) Reorder(ctx context.Context, parentID string, orderedIDs []string, actorID string) ([]domain.OrgUnit, error) {
	var out []domain.OrgUnit
	err := s.Tx.Do(ctx, "unit.reorder", func(ctx context.Context, tx *sql.Tx) error {
		r := s.Repo.WithTx(tx)
		if parentID != "" {
			if _, err := r.GetUnit(ctx, parentID); err != nil {
				return err
			}
		}
		current, err := r.ListChildUnits(ctx, parentID)
		if err != nil {
			return err
		}
		isChild := make(map[string]bool, len(current))
		for _, c := range current {
			isChild[c.ID] = true
		}
		listed := make(map[string]bool, len(orderedIDs))
		var offending []string
		for _, id := range orderedIDs {
			if !isChild[id] || listed[id] {
				offending = append(offending, id)
				continue
			}
			listed[id] = true
		}
		if len(offending) > 0 {
			return &domain.InvalidSiblingSetError{ParentID: parentID, Offending: offending}
		}
		final := append([]string(nil), orderedIDs...)
		for _, c := range current {
			if !listed[c.ID] {
				final = append(final, c.ID)
			}
		}
		if err := renumber(ctx, r, final, s.stamp()); err != nil {
			return err
		}
		out, err = r.ListChildUnits(ctx, parentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	events.EmitAll(ctx, s.Audit, []events.Event{{
		TS: s.now(), ActorID: actorID, Action: events.ActionUnitReorder, TargetType: "unit", TargetID: parentID,
		Payload: events.EventPayload{"ordered_ids": orderedIDs},
	}})
	return out, nil
}

// SetActive toggles whether a unit takes part in operational scope.
func (s Store) SetActive(ctx context.Context, id string, active bool, actorID string) (domain.OrgUnit, error) {
	var u domain.OrgUnit
	err := s.Tx.Do(ctx, "unit.set_active", func(ctx context.Context, tx *sql.Tx) error {
		r := s.Repo.WithTx(tx)
		if err := r.SetUnitActive(ctx, id, active, s.stamp()); err != nil {
			return err
		}
		var err error
		u, err = r.GetUnit(ctx, id)
		return err
	})
	if err != nil {
		return domain.OrgUnit{}, err
	}
	events.EmitAll(ctx, s.Audit, []events.Event{{
		TS: s.now(), ActorID: actorID, Action: events.ActionUnitActivate, TargetType: "unit", TargetID: id,
		Payload: events.EventPayload{"active": active},
	}})
	return u, nil
}

// Destroy hard-deletes a leaf unit with no active memberships.
func (s Store) Destroy(ctx context.Context, id, actorID string) error {
	err := s.Tx.Do(ctx, "unit.delete", func(ctx context.Context, tx *sql.Tx) error {
		r := s.Repo.WithTx(tx)
		if _, err := r.GetUnit(ctx, id); err != nil {
			return err
		}
		n, err := r.CountChildUnits(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &domain.HasChildrenError{UnitID: id, Children: n}
		}
		m, err := r.CountActiveMemberships(ctx, id)
		if err != nil {
			return err
		}
		if m > 0 {
			return &domain.HasActiveMembersError{UnitID: id, Members: m}
		}
		return r.DeleteUnit(ctx, id)
	})
	if err != nil {
		return err
	}
	events.EmitAll(ctx, s.Audit, []events.Event{{
		TS: s.now(), ActorID: actorID, Action: events.ActionUnitDelete, TargetType: "unit", TargetID: id,
	}})
	return nil
}

func renumber(ctx context.Context, r repo.Repo, ids []string, now string) error {
	for i, id := range ids {
		if err := r.SetUnitSortOrder(ctx, id, i, now); err != nil {
			return err
		}
	}
	return nil
}

func derefOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
