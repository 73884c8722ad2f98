package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"

	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

// Validate checks a DRAFT or SUBMITTED plan without changing it. A plan with
// any offending move fails with a *domain.ValidationFailedError listing all of them.
func (e Engine) Validate(ctx context.Context, planID, actorID string) error {
	var violations []domain.Violation
	err := e.Tx.Do(ctx, "plan.validate", func(ctx context.Context, tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		p, err := r.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if p.Status != domain.PlanDraft && p.Status != domain.PlanSubmitted {
			return &domain.PlanNotEditableError{PlanID: p.ID, Status: p.Status}
		}
		moves, err := r.ListMoves(ctx, p.ID)
		if err != nil {
			return err
		}
		violations, err = e.validateTx(ctx, tx, moves)
		return err
	})
	if err != nil {
		return err
	}
	recordViolations(violations)
	e.emit(ctx, events.Event{
		TS: e.now(), ActorID: actorID, Action: events.ActionPlanValidate, TargetType: "plan", TargetID: planID,
		Payload: events.EventPayload{"violations": len(violations)},
	})
	if len(violations) > 0 {
		return &domain.ValidationFailedError{PlanID: planID, Violations: violations}
	}
	return nil
}

// cadreState is the simulated ledger position of one cadre while moves are replayed.
type cadreState struct {
	cadre   domain.Cadre
	known   bool
	primary string
	// active counts active memberships per unit.
	active map[string]int
}

type validation struct {
	e          Engine
	tx         *sql.Tx
	roster     Roster
	arena      *hierarchy.Arena
	state      map[string]*cadreState
	violations []domain.Violation
}

func (v *validation) add(m domain.Move, code, format string, args ...any) {
	v.violations = append(v.violations, domain.Violation{
		MoveID:  m.ID,
		Seq:     m.Seq,
		CadreID: m.CadreID,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validation) cadre(ctx context.Context, id string) (*cadreState, error) {
	if st, ok := v.state[id]; ok {
		return st, nil
	}
	st := &cadreState{active: map[string]int{}}
	c, err := lookupCadre(ctx, v.roster, id)
	switch {
	case errors.Is(err, domain.ErrUnknownCadre):
	case err != nil:
		return nil, err
	default:
		st.cadre = c
		st.known = true
		ms, err := v.e.Repo.WithTx(v.tx).ListMemberships(ctx, repo.MembershipFilters{CadreID: id, Status: domain.MembershipActive})
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			st.active[m.UnitID]++
			if m.IsPrimary {
				st.primary = m.UnitID
			}
		}
	}
	v.state[id] = st
	return st, nil
}

func (v *validation) unitName(id string) string {
	if u, ok := v.arena.Unit(id); ok {
		return u.Name
	}
	return id
}

// validateTx replays moves in stored order against the ledger as seen through tx.
func (e Engine) validateTx(ctx context.Context, tx *sql.Tx, moves []domain.Move) ([]domain.Violation, error) {
	arena, err := e.Units.SnapshotTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	v := &validation{e: e, tx: tx, roster: e.rosterTx(tx), arena: arena, state: map[string]*cadreState{}}

	// Shape, cadre and unit checks. Moves that fail here take no part in the replay.
	replay := make([]domain.Move, 0, len(moves))
	for _, m := range moves {
		st, err := v.cadre(ctx, m.CadreID)
		if err != nil {
			return nil, err
		}
		if !st.known {
			v.add(m, domain.ViolationUnknownCadre, "cadre %s does not exist", m.CadreID)
			continue
		}
		from, to := deref(m.FromUnitID), deref(m.ToUnitID)
		if msg := moveShape(m.Type, from, to); msg != "" {
			v.add(m, domain.ViolationMoveShape, "%s", msg)
			continue
		}
		ok := true
		if m.Type != domain.MoveRemove && st.cadre.Status != domain.CadreActive {
			v.add(m, domain.ViolationCadreInactive, "cadre %s is %s", st.cadre.Name, st.cadre.Status)
		}
		if to != "" {
			u, found := arena.Unit(to)
			switch {
			case !found:
				v.add(m, domain.ViolationUnitNotFound, "target unit %s does not exist", to)
				ok = false
			case !u.Active:
				v.add(m, domain.ViolationUnitInactive, "target unit %s is inactive", u.Name)
				ok = false
			}
		}
		if from != "" {
			if _, found := arena.Unit(from); !found {
				v.add(m, domain.ViolationUnitNotFound, "source unit %s does not exist", from)
				ok = false
			}
		}
		if ok {
			replay = append(replay, m)
		}
	}

	dup := v.duplicatePrimaries(replay)
	for _, m := range replay {
		v.step(m, dup[m.CadreID])
	}

	if e.blockHighSeverity() {
		if err := v.highSeverityConflicts(ctx, replay); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(v.violations, func(i, j int) bool { return v.violations[i].Seq < v.violations[j].Seq })
	return v.violations, nil
}

// duplicatePrimaries flags cadres that several moves would give primaries at
// different units, naming every involved move.
func (v *validation) duplicatePrimaries(moves []domain.Move) map[string]bool {
	byCadre := map[string][]domain.Move{}
	for _, m := range moves {
		if m.Type == domain.MoveAssign || m.Type == domain.MoveTransfer {
			byCadre[m.CadreID] = append(byCadre[m.CadreID], m)
		}
	}
	dup := map[string]bool{}
	for cadreID, ms := range byCadre {
		units := map[string]bool{}
		for _, m := range ms {
			units[*m.ToUnitID] = true
		}
		if len(units) < 2 {
			continue
		}
		dup[cadreID] = true
		for _, m := range ms {
			var others []string
			for _, o := range ms {
				if o.ID != m.ID {
					others = append(others, fmt.Sprintf("move %d (%s) to %s", o.Seq, o.ID, v.unitName(*o.ToUnitID)))
				}
			}
			v.add(m, domain.ViolationDuplicatePrimary, "cadre %s would hold a primary at %s and via %s",
				v.state[cadreID].cadre.Name, v.unitName(*m.ToUnitID), strings.Join(others, ", "))
		}
	}
	return dup
}

// step applies one move to the simulated ledger. Primary checks are skipped for
// cadres already reported as duplicate primaries.
func (v *validation) step(m domain.Move, dup bool) {
	st := v.state[m.CadreID]
	from, to := deref(m.FromUnitID), deref(m.ToUnitID)
	switch m.Type {
	case domain.MoveAssign:
		if !dup && st.primary != "" && st.primary != to {
			v.add(m, domain.ViolationPrimaryConflict, "cadre %s already holds a primary at %s", st.cadre.Name, v.unitName(st.primary))
		}
		if st.primary != to {
			st.active[to]++
		}
		st.primary = to
	case domain.MoveRemove:
		if st.active[from] == 0 {
			v.add(m, domain.ViolationNoActiveMembership, "cadre %s has no active membership at %s", st.cadre.Name, v.unitName(from))
			return
		}
		delete(st.active, from)
		if st.primary == from {
			st.primary = ""
		}
	case domain.MoveTransfer:
		if !dup && st.primary != from {
			current := "no unit"
			if st.primary != "" {
				current = v.unitName(st.primary)
			}
			v.add(m, domain.ViolationFromUnitMismatch, "cadre %s holds a primary at %s, not %s", st.cadre.Name, current, v.unitName(from))
		}
		if st.primary != "" && st.active[st.primary] > 0 {
			st.active[st.primary]--
		}
		st.primary = to
		st.active[to]++
	}
}

// highSeverityConflicts reports HIGH conflicts between a moved cadre and anyone
// who will sit at the same target unit: current members not moved away by the
// plan, and cadres other moves send there.
func (v *validation) highSeverityConflicts(ctx context.Context, moves []domain.Move) error {
	leaving := map[string]map[string]bool{}
	arriving := map[string]map[string]string{}
	for _, m := range moves {
		if m.FromUnitID != nil {
			if leaving[*m.FromUnitID] == nil {
				leaving[*m.FromUnitID] = map[string]bool{}
			}
			leaving[*m.FromUnitID][m.CadreID] = true
		}
		if m.ToUnitID != nil {
			if arriving[*m.ToUnitID] == nil {
				arriving[*m.ToUnitID] = map[string]string{}
			}
			arriving[*m.ToUnitID][m.CadreID] = m.ID
		}
	}
	members := map[string]map[string]bool{}
	for _, m := range moves {
		if m.ToUnitID == nil {
			continue
		}
		to := *m.ToUnitID
		conflicts, err := registry.CollectConflicts(v.e.Registry.ConflictsOfTx(ctx, v.tx, m.CadreID))
		if err != nil {
			return err
		}
		if members[to] == nil {
			ms, err := v.e.Ledger.ActiveAtTx(ctx, v.tx, to)
			if err != nil {
				return err
			}
			members[to] = map[string]bool{}
			for _, mm := range ms {
				members[to][mm.CadreID] = true
			}
		}
		for _, c := range conflicts {
			if c.Severity != domain.SeverityHigh {
				continue
			}
			switch {
			case members[to][c.OtherCadreID] && !leaving[to][c.OtherCadreID]:
				v.add(m, domain.ViolationHighSeverityConflict, "HIGH %s with %s, a current member of %s", c.Type, c.OtherCadreID, v.unitName(to))
			case arriving[to][c.OtherCadreID] != "":
				v.add(m, domain.ViolationHighSeverityConflict, "HIGH %s with %s, also moved to %s by move %s", c.Type, c.OtherCadreID, v.unitName(to), arriving[to][c.OtherCadreID])
			}
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
