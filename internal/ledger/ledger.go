// Package ledger owns the cadre to unit membership history.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/repo"
)

// Ledger mutates memberships. Each mutation has a Tx form so a caller can
// compose several of them into one batch; the plain form runs its own
// retried transaction and emits an audit event after commit.
type Ledger struct {
	Repo  repo.Repo
	Tx    db.Runner
	Units hierarchy.Store
	Audit events.Emitter
	Log   *zap.Logger
	Now   func() time.Time
}

var validate = validator.New()

const dateLayout = "2006-01-02"

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Ledger) stamp() string { return l.now().UTC().Format(time.RFC3339) }

// Today is the default effective date.
func (l Ledger) Today() string { return l.now().UTC().Format(dateLayout) }

func (l Ledger) logger() *zap.Logger {
	if l.Log != nil {
		return l.Log
	}
	return zap.NewNop()
}

type AssignInput struct {
	CadreID       string      `validate:"required"`
	UnitID        string      `validate:"required"`
	Role          domain.Role `validate:"omitempty,oneof=SECRETARY COMMITTEE_MEMBER MEMBER LEADER DEPUTY OTHER"`
	IsPrimary     bool
	EffectiveFrom string `validate:"omitempty,datetime=2006-01-02"`
	ActorID       string
}

func (l Ledger) Assign(ctx context.Context, in AssignInput) (domain.Membership, error) {
	var m domain.Membership
	err := l.Tx.Do(ctx, "membership.assign", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		m, err = l.AssignTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return domain.Membership{}, err
	}
	events.EmitAll(ctx, l.Audit, []events.Event{{
		TS: l.now(), ActorID: in.ActorID, Action: events.ActionMembershipAssign, TargetType: "membership", TargetID: m.ID,
		Payload: events.EventPayload{"cadre_id": m.CadreID, "unit_id": m.UnitID, "is_primary": m.IsPrimary, "role": m.Role},
	}})
	return m, nil
}

// AssignTx inserts an ACTIVE membership. An identical active membership
// (same cadre, unit and primary flag) is returned instead of a duplicate.
func (l Ledger) AssignTx(ctx context.Context, tx *sql.Tx, in AssignInput) (domain.Membership, error) {
	if err := validate.Struct(in); err != nil {
		return domain.Membership{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if in.Role == "" {
		in.Role = domain.RoleMember
	}
	if in.EffectiveFrom == "" {
		in.EffectiveFrom = l.Today()
	}
	r := l.Repo.WithTx(tx)
	if _, err := r.GetCadre(ctx, in.CadreID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Membership{}, &domain.UnknownCadreError{CadreID: in.CadreID}
		}
		return domain.Membership{}, err
	}
	if _, err := r.GetUnit(ctx, in.UnitID); err != nil {
		return domain.Membership{}, err
	}
	active, err := r.ListMemberships(ctx, repo.MembershipFilters{CadreID: in.CadreID, Status: domain.MembershipActive})
	if err != nil {
		return domain.Membership{}, err
	}
	for _, m := range active {
		if m.UnitID == in.UnitID && m.IsPrimary == in.IsPrimary {
			return m, nil
		}
		if in.IsPrimary && m.IsPrimary {
			return domain.Membership{}, &domain.PrimaryConflictError{CadreID: in.CadreID, ExistingMembershipID: m.ID, ExistingUnitID: m.UnitID}
		}
	}
	now := l.stamp()
	m := domain.Membership{
		ID:        uuid.NewString(),
		CadreID:   in.CadreID,
		UnitID:    in.UnitID,
		Role:      in.Role,
		IsPrimary: in.IsPrimary,
		StartDate: in.EffectiveFrom,
		Status:    domain.MembershipActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.InsertMembership(ctx, m); err != nil {
		if errors.Is(err, repo.ErrPrimaryIndex) {
			existing, gerr := r.ActivePrimary(ctx, in.CadreID)
			if gerr != nil {
				return domain.Membership{}, &domain.PrimaryConflictError{CadreID: in.CadreID}
			}
			return domain.Membership{}, &domain.PrimaryConflictError{CadreID: in.CadreID, ExistingMembershipID: existing.ID, ExistingUnitID: existing.UnitID}
		}
		return domain.Membership{}, err
	}
	return m, nil
}

func (l Ledger) End(ctx context.Context, membershipID, effectiveTo, actorID string) (domain.Membership, error) {
	var m domain.Membership
	var changed bool
	err := l.Tx.Do(ctx, "membership.end", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		m, changed, err = l.EndTx(ctx, tx, membershipID, effectiveTo)
		return err
	})
	if err != nil {
		return domain.Membership{}, err
	}
	if changed {
		events.EmitAll(ctx, l.Audit, []events.Event{{
			TS: l.now(), ActorID: actorID, Action: events.ActionMembershipEnd, TargetType: "membership", TargetID: m.ID,
			Payload: events.EventPayload{"cadre_id": m.CadreID, "unit_id": m.UnitID, "end_date": effectiveTo},
		}})
	}
	return m, nil
}

// EndTx marks the membership INACTIVE as of effectiveTo. Ending an inactive
// membership changes nothing and reports changed=false.
func (l Ledger) EndTx(ctx context.Context, tx *sql.Tx, membershipID, effectiveTo string) (domain.Membership, bool, error) {
	if effectiveTo == "" {
		effectiveTo = l.Today()
	} else if _, err := time.Parse(dateLayout, effectiveTo); err != nil {
		return domain.Membership{}, false, &domain.InvalidInputError{Field: "effective_to", Message: "must be YYYY-MM-DD"}
	}
	r := l.Repo.WithTx(tx)
	m, err := r.GetMembership(ctx, membershipID)
	if err != nil {
		return domain.Membership{}, false, err
	}
	if m.Status != domain.MembershipActive {
		return m, false, nil
	}
	changed, err := r.EndMembership(ctx, membershipID, effectiveTo, l.stamp())
	if err != nil {
		return domain.Membership{}, false, err
	}
	m, err = r.GetMembership(ctx, membershipID)
	return m, changed, err
}

// EndAllAtTx ends every active membership the cadre holds at unitID and returns them.
func (l Ledger) EndAllAtTx(ctx context.Context, tx *sql.Tx, cadreID, unitID, effectiveTo string) ([]domain.Membership, error) {
	active, err := l.Repo.WithTx(tx).ListMemberships(ctx, repo.MembershipFilters{
		CadreID: cadreID, UnitIDs: []string{unitID}, Status: domain.MembershipActive,
	})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, &domain.MembershipNotFoundError{CadreID: cadreID, UnitID: unitID}
	}
	out := make([]domain.Membership, 0, len(active))
	for _, m := range active {
		ended, _, err := l.EndTx(ctx, tx, m.ID, effectiveTo)
		if err != nil {
			return nil, err
		}
		out = append(out, ended)
	}
	return out, nil
}

type TransferInput struct {
	CadreID    string      `validate:"required"`
	FromUnitID string      `validate:"required"`
	ToUnitID   string      `validate:"required,nefield=FromUnitID"`
	Role       domain.Role `validate:"omitempty,oneof=SECRETARY COMMITTEE_MEMBER MEMBER LEADER DEPUTY OTHER"`
	Effective  string      `validate:"omitempty,datetime=2006-01-02"`
	ActorID    string
}

func (l Ledger) Transfer(ctx context.Context, in TransferInput) (domain.Membership, error) {
	var m domain.Membership
	err := l.Tx.Do(ctx, "membership.transfer", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		m, err = l.TransferTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return domain.Membership{}, err
	}
	events.EmitAll(ctx, l.Audit, []events.Event{{
		TS: l.now(), ActorID: in.ActorID, Action: events.ActionMembershipMove, TargetType: "membership", TargetID: m.ID,
		Payload: events.EventPayload{"cadre_id": in.CadreID, "from_unit_id": in.FromUnitID, "to_unit_id": in.ToUnitID},
	}})
	return m, nil
}

// TransferTx ends the cadre's active primary at FromUnitID and opens a primary
// at ToUnitID. When the primary already sits at ToUnitID it is returned as is,
// so re-running a committed transfer is harmless.
func (l Ledger) TransferTx(ctx context.Context, tx *sql.Tx, in TransferInput) (domain.Membership, error) {
	if err := validate.Struct(in); err != nil {
		return domain.Membership{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if in.Effective == "" {
		in.Effective = l.Today()
	}
	r := l.Repo.WithTx(tx)
	current, err := r.ActivePrimary(ctx, in.CadreID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Membership{}, err
	}
	found := err == nil
	switch {
	case found && current.UnitID == in.ToUnitID:
		return current, nil
	case !found || current.UnitID != in.FromUnitID:
		return domain.Membership{}, &domain.MembershipNotFoundError{CadreID: in.CadreID, UnitID: in.FromUnitID}
	}
	if _, err := r.GetUnit(ctx, in.ToUnitID); err != nil {
		return domain.Membership{}, err
	}
	if _, err := r.EndMembership(ctx, current.ID, in.Effective, l.stamp()); err != nil {
		return domain.Membership{}, err
	}
	role := in.Role
	if role == "" {
		role = current.Role
	}
	return l.AssignTx(ctx, tx, AssignInput{
		CadreID:       in.CadreID,
		UnitID:        in.ToUnitID,
		Role:          role,
		IsPrimary:     true,
		EffectiveFrom: in.Effective,
	})
}

// ActivePrimary returns the cadre's active primary membership, or nil.
func (l Ledger) ActivePrimary(ctx context.Context, cadreID string) (*domain.Membership, error) {
	return activePrimary(ctx, l.Repo, cadreID)
}

func (l Ledger) ActivePrimaryTx(ctx context.Context, tx *sql.Tx, cadreID string) (*domain.Membership, error) {
	return activePrimary(ctx, l.Repo.WithTx(tx), cadreID)
}

func activePrimary(ctx context.Context, r repo.Repo, cadreID string) (*domain.Membership, error) {
	m, err := r.ActivePrimary(ctx, cadreID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify("active primary", err)
	}
	return &m, nil
}

// ListByCadre returns the cadre's memberships, active ones first, newest first.
func (l Ledger) ListByCadre(ctx context.Context, cadreID string, activeOnly bool) ([]domain.Membership, error) {
	f := repo.MembershipFilters{CadreID: cadreID}
	if activeOnly {
		f.Status = domain.MembershipActive
	}
	return l.Repo.ListMemberships(ctx, f)
}

// ActiveAtTx lists the active memberships held at unitID, seen through tx.
func (l Ledger) ActiveAtTx(ctx context.Context, tx *sql.Tx, unitID string) ([]domain.Membership, error) {
	return l.Repo.WithTx(tx).ListMemberships(ctx, repo.MembershipFilters{UnitIDs: []string{unitID}, Status: domain.MembershipActive})
}

// MemberQuery narrows Members.
type MemberQuery struct {
	IncludeDescendants bool
	PrimaryOnly        bool
	// Search matches a substring of the cadre's name, code or position.
	Search string
}

// Members lists active memberships at unitID and, when IncludeDescendants is
// set, at every active unit below it.
func (l Ledger) Members(ctx context.Context, unitID string, q MemberQuery) ([]domain.Membership, error) {
	arena, err := l.Units.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := arena.Unit(unitID); !ok {
		return nil, &domain.NotFoundError{Kind: "unit", ID: unitID}
	}
	ids := []string{unitID}
	if q.IncludeDescendants {
		desc, err := arena.Descendants(unitID, hierarchy.ScopeOperational)
		if err != nil {
			return nil, err
		}
		for _, u := range desc {
			ids = append(ids, u.ID)
		}
	}
	ms, err := l.Repo.ListMemberships(ctx, repo.MembershipFilters{
		UnitIDs: ids, Status: domain.MembershipActive, PrimaryOnly: q.PrimaryOnly, Search: q.Search,
	})
	if err != nil {
		return nil, db.Classify("members", err)
	}
	l.logger().Debug("listed members", zap.String("unit_id", unitID), zap.Int("units", len(ids)), zap.Int("members", len(ms)))
	return ms, nil
}

type SetLeaderInput struct {
	UnitID  string `validate:"required"`
	CadreID string `validate:"required"`
	ActorID string
}

// SetLeader makes the cadre the single LEADER of the unit. An active
// membership there is promoted; without one a secondary LEADER membership is
// opened. Any other active LEADER at the unit becomes a MEMBER.
func (l Ledger) SetLeader(ctx context.Context, in SetLeaderInput) (domain.Membership, error) {
	if err := validate.Struct(in); err != nil {
		return domain.Membership{}, &domain.InvalidInputError{Message: err.Error()}
	}
	var (
		m       domain.Membership
		demoted []string
	)
	err := l.Tx.Do(ctx, "membership.set_leader", func(ctx context.Context, tx *sql.Tx) error {
		r := l.Repo.WithTx(tx)
		u, err := r.GetUnit(ctx, in.UnitID)
		if err != nil {
			return err
		}
		if !u.Active {
			return &domain.InvalidInputError{Field: "unit_id", Message: "unit " + u.Name + " is inactive"}
		}
		held, err := r.ListMemberships(ctx, repo.MembershipFilters{CadreID: in.CadreID, UnitIDs: []string{in.UnitID}, Status: domain.MembershipActive})
		if err != nil {
			return err
		}
		now := l.stamp()
		if len(held) == 0 {
			m, err = l.AssignTx(ctx, tx, AssignInput{CadreID: in.CadreID, UnitID: in.UnitID, Role: domain.RoleLeader})
			if err != nil {
				return err
			}
		} else {
			// prefer the primary when the cadre holds several rows here
			m = held[0]
			for _, h := range held {
				if h.IsPrimary {
					m = h
				}
			}
			if m.Role != domain.RoleLeader {
				if err := r.SetMembershipRole(ctx, m.ID, domain.RoleLeader, now); err != nil {
					return err
				}
				m.Role, m.UpdatedAt = domain.RoleLeader, now
			}
		}
		demoted, err = r.DemoteLeaders(ctx, in.UnitID, m.ID, now)
		return err
	})
	if err != nil {
		return domain.Membership{}, err
	}
	l.logger().Info("unit leader set", zap.String("unit_id", in.UnitID), zap.String("cadre_id", in.CadreID), zap.Strings("demoted", demoted))
	events.EmitAll(ctx, l.Audit, []events.Event{{
		TS: l.now(), ActorID: in.ActorID, Action: events.ActionMembershipLeader, TargetType: "membership", TargetID: m.ID,
		Payload: events.EventPayload{"cadre_id": m.CadreID, "unit_id": m.UnitID, "demoted": demoted},
	}})
	return m, nil
}
