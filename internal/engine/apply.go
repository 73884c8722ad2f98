package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/ledger"
)

// appliedMove pairs a move with the memberships it opened or closed.
type appliedMove struct {
	Move        domain.Move
	Memberships []domain.Membership
}

// Apply commits an APPROVED plan's moves to the ledger as one batch. The plan is
// re-validated inside the same write transaction; any violation or failing move
// rolls the whole batch back and leaves the plan APPROVED.
func (e Engine) Apply(ctx context.Context, planID, actorID string) (domain.Plan, error) {
	start := time.Now()
	var applied []appliedMove
	var effective string
	p, err := e.transition(ctx, planID, actorID, domain.PlanApplied, events.ActionPlanApply, transitionHooks{
		check: func(ctx context.Context, tx *sql.Tx, p domain.Plan, moves []domain.Move) error {
			if err := e.requireValid(ctx, tx, p, moves); err != nil {
				return err
			}
			effective = e.Ledger.Today()
			var err error
			applied, err = e.applyMoves(ctx, tx, p.ID, moves, effective)
			return err
		},
		mutate: func(p *domain.Plan, now string) { p.AppliedAt = &now },
		lead: func() []events.Event {
			var evts []events.Event
			for _, a := range applied {
				recordAppliedMove(a.Move.Type)
				ids := make([]string, 0, len(a.Memberships))
				for _, m := range a.Memberships {
					ids = append(ids, m.ID)
				}
				evts = append(evts, events.Event{
					TS: e.now(), ActorID: actorID, Action: events.ActionMembershipApply, TargetType: "plan_move", TargetID: a.Move.ID,
					Payload: events.EventPayload{
						"plan_id":        planID,
						"seq":            a.Move.Seq,
						"type":           a.Move.Type,
						"cadre_id":       a.Move.CadreID,
						"from_unit_id":   deref(a.Move.FromUnitID),
						"to_unit_id":     deref(a.Move.ToUnitID),
						"membership_ids": ids,
						"effective":      effective,
					},
				})
			}
			return evts
		},
	})
	recordApplyDuration(start, err)
	if err != nil {
		return domain.Plan{}, err
	}
	e.logger().Debug("plan applied", zap.String("plan_id", planID), zap.Int("moves", len(applied)), zap.Duration("took", time.Since(start)))
	return p, nil
}

// applyMoves runs every move against the ledger in stored order. The first
// failure stops the batch and is returned as *domain.MoveApplyError.
func (e Engine) applyMoves(ctx context.Context, tx *sql.Tx, planID string, moves []domain.Move, effective string) ([]appliedMove, error) {
	out := make([]appliedMove, 0, len(moves))
	for _, mv := range moves {
		var ms []domain.Membership
		var err error
		switch mv.Type {
		case domain.MoveAssign:
			var m domain.Membership
			m, err = e.Ledger.AssignTx(ctx, tx, ledger.AssignInput{
				CadreID:       mv.CadreID,
				UnitID:        deref(mv.ToUnitID),
				Role:          mv.Role,
				IsPrimary:     true,
				EffectiveFrom: effective,
			})
			ms = []domain.Membership{m}
		case domain.MoveRemove:
			ms, err = e.Ledger.EndAllAtTx(ctx, tx, mv.CadreID, deref(mv.FromUnitID), effective)
		case domain.MoveTransfer:
			var m domain.Membership
			m, err = e.Ledger.TransferTx(ctx, tx, ledger.TransferInput{
				CadreID:    mv.CadreID,
				FromUnitID: deref(mv.FromUnitID),
				ToUnitID:   deref(mv.ToUnitID),
				Role:       mv.Role,
				Effective:  effective,
			})
			ms = []domain.Membership{m}
		default:
			err = &domain.InvalidInputError{Field: "type", Message: "unknown move type " + string(mv.Type)}
		}
		if err != nil {
			return nil, &domain.MoveApplyError{PlanID: planID, MoveID: mv.ID, Seq: mv.Seq, Err: err}
		}
		out = append(out, appliedMove{Move: mv, Memberships: ms})
	}
	return out, nil
}
