package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

var validate = validator.New()

// ensurePlanTransition checks one edge of the plan state graph.
func ensurePlanTransition(planID string, from, to domain.PlanStatus) error {
	switch from {
	case domain.PlanDraft:
		if to == domain.PlanSubmitted || to == domain.PlanRejected || to == domain.PlanCanceled {
			return nil
		}
	case domain.PlanSubmitted:
		if to == domain.PlanApproved || to == domain.PlanRejected || to == domain.PlanCanceled {
			return nil
		}
	case domain.PlanApproved:
		if to == domain.PlanApplied || to == domain.PlanRejected {
			return nil
		}
	}
	return &domain.InvalidTransitionError{PlanID: planID, From: from, Attempted: to}
}

type PlanCreateOptions struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	ActorID     string `validate:"required"`
}

func (e Engine) CreatePlan(ctx context.Context, opts PlanCreateOptions) (domain.Plan, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := validate.Struct(opts); err != nil {
		return domain.Plan{}, &domain.InvalidInputError{Message: err.Error()}
	}
	now := e.stamp()
	p := domain.Plan{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.PlanDraft,
		CreatedBy:   opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.Tx.Do(ctx, "plan.create", func(ctx context.Context, tx *sql.Tx) error {
		return e.Repo.WithTx(tx).InsertPlan(ctx, p)
	})
	if err != nil {
		return domain.Plan{}, err
	}
	e.emit(ctx, events.Event{
		TS: e.now(), ActorID: opts.ActorID, Action: events.ActionPlanCreate, TargetType: "plan", TargetID: p.ID,
		Payload: events.EventPayload{"title": p.Title, "status": p.Status},
	})
	return p, nil
}

// GetPlan returns the plan with its moves in stored order.
func (e Engine) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := e.Repo.GetPlan(ctx, id)
	if err != nil {
		return domain.Plan{}, err
	}
	moves, err := e.Repo.ListMoves(ctx, id)
	if err != nil {
		return domain.Plan{}, err
	}
	p.Moves = moves
	return p, nil
}

func (e Engine) ListPlans(ctx context.Context, f repo.PlanFilters) ([]domain.Plan, error) {
	return e.Repo.ListPlans(ctx, f)
}

type MoveOptions struct {
	PlanID     string `validate:"required"`
	CadreID    string `validate:"required"`
	FromUnitID string
	ToUnitID   string
	Type       domain.MoveType `validate:"required,oneof=ASSIGN REMOVE TRANSFER"`
	Role       domain.Role     `validate:"omitempty,oneof=SECRETARY COMMITTEE_MEMBER MEMBER LEADER DEPUTY OTHER"`
	Reason     string          `validate:"max=500"`
	ActorID    string
}

// moveShape reports what is wrong with the from/to combination of a move type, or "".
func moveShape(t domain.MoveType, from, to string) string {
	switch t {
	case domain.MoveAssign:
		if to == "" || from != "" {
			return "ASSIGN takes a target unit and no source unit"
		}
	case domain.MoveRemove:
		if from == "" || to != "" {
			return "REMOVE takes a source unit and no target unit"
		}
	case domain.MoveTransfer:
		if from == "" || to == "" {
			return "TRANSFER takes both a source and a target unit"
		}
		if from == to {
			return "TRANSFER source and target must differ"
		}
	default:
		return "unknown move type " + string(t)
	}
	return ""
}

// AddMove stages a move on a DRAFT plan and freezes the cadre's risk picture onto it.
func (e Engine) AddMove(ctx context.Context, opts MoveOptions) (domain.Move, error) {
	opts.FromUnitID = strings.TrimSpace(opts.FromUnitID)
	opts.ToUnitID = strings.TrimSpace(opts.ToUnitID)
	if err := validate.Struct(opts); err != nil {
		return domain.Move{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if opts.Role == "" {
		opts.Role = domain.RoleMember
	}
	var mv domain.Move
	err := e.Tx.Do(ctx, "plan.add_move", func(ctx context.Context, tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		p, err := r.GetPlan(ctx, opts.PlanID)
		if err != nil {
			return err
		}
		if p.Status != domain.PlanDraft {
			return &domain.PlanNotEditableError{PlanID: p.ID, Status: p.Status}
		}
		if _, err := lookupCadre(ctx, e.rosterTx(tx), opts.CadreID); err != nil {
			return err
		}
		var violations []domain.Violation
		reject := func(code, msg string) {
			violations = append(violations, domain.Violation{CadreID: opts.CadreID, Code: code, Message: msg})
		}
		if msg := moveShape(opts.Type, opts.FromUnitID, opts.ToUnitID); msg != "" {
			reject(domain.ViolationMoveShape, msg)
		}
		if opts.ToUnitID != "" {
			u, err := r.GetUnit(ctx, opts.ToUnitID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				reject(domain.ViolationUnitNotFound, "target unit "+opts.ToUnitID+" does not exist")
			case err != nil:
				return err
			case !u.Active:
				reject(domain.ViolationUnitInactive, "target unit "+u.Name+" is inactive")
			}
		}
		if opts.FromUnitID != "" {
			if _, err := r.GetUnit(ctx, opts.FromUnitID); errors.Is(err, domain.ErrNotFound) {
				reject(domain.ViolationUnitNotFound, "source unit "+opts.FromUnitID+" does not exist")
			} else if err != nil {
				return err
			}
		}
		if len(violations) > 0 {
			return &domain.ValidationFailedError{PlanID: p.ID, Violations: violations}
		}
		moves, err := r.ListMoves(ctx, p.ID)
		if err != nil {
			return err
		}
		snapshot, err := e.riskSnapshot(ctx, tx, opts.CadreID, opts.ToUnitID, moves)
		if err != nil {
			return err
		}
		seq, err := r.NextMoveSeq(ctx, p.ID)
		if err != nil {
			return err
		}
		now := e.stamp()
		mv = domain.Move{
			ID:           uuid.NewString(),
			PlanID:       p.ID,
			Seq:          seq,
			CadreID:      opts.CadreID,
			Type:         opts.Type,
			Role:         opts.Role,
			Reason:       opts.Reason,
			RiskSnapshot: snapshot,
			CreatedBy:    opts.ActorID,
			CreatedAt:    now,
		}
		if opts.FromUnitID != "" {
			mv.FromUnitID = &opts.FromUnitID
		}
		if opts.ToUnitID != "" {
			mv.ToUnitID = &opts.ToUnitID
		}
		if err := r.InsertMove(ctx, mv); err != nil {
			return err
		}
		return r.TouchPlan(ctx, p.ID, now)
	})
	if err != nil {
		e.logger().Warn("add move rejected", zap.String("plan_id", opts.PlanID), zap.String("cadre_id", opts.CadreID), zap.Error(err))
		var vf *domain.ValidationFailedError
		if errors.As(err, &vf) {
			recordViolations(vf.Violations)
		}
		return domain.Move{}, err
	}
	e.emit(ctx, events.Event{
		TS: e.now(), ActorID: opts.ActorID, Action: events.ActionPlanAddMove, TargetType: "plan", TargetID: mv.PlanID,
		Payload: events.EventPayload{"move_id": mv.ID, "seq": mv.Seq, "cadre_id": mv.CadreID, "type": mv.Type,
			"from_unit_id": opts.FromUnitID, "to_unit_id": opts.ToUnitID},
	})
	return mv, nil
}

// riskSnapshot captures the cadre's risk tag and the conflicting cadres who
// already sit at, or are staged by another move into, toUnitID.
func (e Engine) riskSnapshot(ctx context.Context, tx *sql.Tx, cadreID, toUnitID string, moves []domain.Move) (json.RawMessage, error) {
	snap := domain.RiskSnapshot{Conflicts: []domain.SnapshotConflict{}, CapturedAt: e.stamp()}
	tag, err := e.Registry.RiskTagOfTx(ctx, tx, cadreID)
	if err != nil {
		return nil, err
	}
	snap.RiskTag = tag
	if toUnitID != "" {
		conflicts, err := registry.CollectConflicts(e.Registry.ConflictsOfTx(ctx, tx, cadreID))
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			members, err := e.Ledger.ActiveAtTx(ctx, tx, toUnitID)
			if err != nil {
				return nil, err
			}
			atUnit := make(map[string]bool, len(members))
			for _, m := range members {
				atUnit[m.CadreID] = true
			}
			staged := map[string]string{}
			for _, m := range moves {
				if m.ToUnitID != nil && *m.ToUnitID == toUnitID && m.CadreID != cadreID {
					staged[m.CadreID] = m.ID
				}
			}
			for _, c := range conflicts {
				if atUnit[c.OtherCadreID] {
					snap.Conflicts = append(snap.Conflicts, domain.SnapshotConflict{CadreID: c.OtherCadreID, Type: c.Type, Severity: c.Severity, Source: "member"})
				}
				if id, ok := staged[c.OtherCadreID]; ok {
					snap.Conflicts = append(snap.Conflicts, domain.SnapshotConflict{CadreID: c.OtherCadreID, Type: c.Type, Severity: c.Severity, Source: "plan", MoveID: id})
				}
			}
		}
	}
	return json.Marshal(snap)
}

// DecodeRiskSnapshot reads the risk picture frozen onto a move.
func DecodeRiskSnapshot(raw json.RawMessage) (domain.RiskSnapshot, error) {
	var snap domain.RiskSnapshot
	if len(raw) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.RiskSnapshot{}, errors.Wrap(err, "decode risk snapshot")
	}
	return snap, nil
}

// RemoveMove drops a staged move from a DRAFT plan.
func (e Engine) RemoveMove(ctx context.Context, planID, moveID, actorID string) error {
	err := e.Tx.Do(ctx, "plan.remove_move", func(ctx context.Context, tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		p, err := r.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if p.Status != domain.PlanDraft {
			return &domain.PlanNotEditableError{PlanID: p.ID, Status: p.Status}
		}
		if err := r.DeleteMove(ctx, planID, moveID); err != nil {
			return err
		}
		return r.TouchPlan(ctx, planID, e.stamp())
	})
	if err != nil {
		return err
	}
	e.emit(ctx, events.Event{
		TS: e.now(), ActorID: actorID, Action: events.ActionPlanRemoveMove, TargetType: "plan", TargetID: planID,
		Payload: events.EventPayload{"move_id": moveID},
	})
	return nil
}

// transitionHooks customise one status change. check runs after the edge is
// known to be legal and before the new status is written; mutate stamps the
// plan; lead returns events emitted ahead of the plan's own event.
type transitionHooks struct {
	check  func(ctx context.Context, tx *sql.Tx, p domain.Plan, moves []domain.Move) error
	mutate func(p *domain.Plan, now string)
	lead   func() []events.Event
}

// transition runs one status change inside a write transaction.
func (e Engine) transition(ctx context.Context, planID, actorID string, to domain.PlanStatus, action string, h transitionHooks) (domain.Plan, error) {
	var out domain.Plan
	var from domain.PlanStatus
	err := e.Tx.Do(ctx, action, func(ctx context.Context, tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		p, err := r.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		from = p.Status
		if err := ensurePlanTransition(p.ID, p.Status, to); err != nil {
			return err
		}
		moves, err := r.ListMoves(ctx, p.ID)
		if err != nil {
			return err
		}
		if h.check != nil {
			if err := h.check(ctx, tx, p, moves); err != nil {
				return err
			}
		}
		now := e.stamp()
		p.Status = to
		p.UpdatedAt = now
		h.mutate(&p, now)
		if err := r.UpdatePlanStatus(ctx, p); err != nil {
			return err
		}
		p.Moves = moves
		out = p
		return nil
	})
	if err != nil {
		e.logger().Warn("plan transition rejected",
			zap.String("plan_id", planID),
			zap.String("to", string(to)),
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
		var vf *domain.ValidationFailedError
		if errors.As(err, &vf) {
			recordViolations(vf.Violations)
		}
		return domain.Plan{}, err
	}
	recordTransition(from, to)
	e.logger().Info("plan transition",
		zap.String("plan_id", planID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actorID),
	)
	payload := events.EventPayload{"from": from, "to": to}
	if out.RejectReason != "" && to == domain.PlanRejected {
		payload["reason"] = out.RejectReason
	}
	var evts []events.Event
	if h.lead != nil {
		evts = h.lead()
	}
	evts = append(evts, events.Event{
		TS: e.now(), ActorID: actorID, Action: action, TargetType: "plan", TargetID: planID, Payload: payload,
	})
	e.emit(ctx, evts...)
	return out, nil
}

// requireValid fails the transition with every violation the plan has.
func (e Engine) requireValid(ctx context.Context, tx *sql.Tx, p domain.Plan, moves []domain.Move) error {
	violations, err := e.validateTx(ctx, tx, moves)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &domain.ValidationFailedError{PlanID: p.ID, Violations: violations}
	}
	return nil
}

// Submit moves a valid DRAFT plan to SUBMITTED. An invalid plan stays DRAFT.
func (e Engine) Submit(ctx context.Context, planID, actorID string) (domain.Plan, error) {
	return e.transition(ctx, planID, actorID, domain.PlanSubmitted, events.ActionPlanSubmit, transitionHooks{
		check:  e.requireValid,
		mutate: func(p *domain.Plan, now string) { p.SubmittedAt = &now },
	})
}

// Approve re-validates a SUBMITTED plan and records the approver.
func (e Engine) Approve(ctx context.Context, planID, approverID string) (domain.Plan, error) {
	if strings.TrimSpace(approverID) == "" {
		return domain.Plan{}, &domain.InvalidInputError{Field: "approver", Message: "is required"}
	}
	return e.transition(ctx, planID, approverID, domain.PlanApproved, events.ActionPlanApprove, transitionHooks{
		check: e.requireValid,
		mutate: func(p *domain.Plan, now string) {
			p.ApprovedBy = &approverID
			p.ApprovedAt = &now
		},
	})
}

func (e Engine) Reject(ctx context.Context, planID, approverID, reason string) (domain.Plan, error) {
	if strings.TrimSpace(approverID) == "" {
		return domain.Plan{}, &domain.InvalidInputError{Field: "approver", Message: "is required"}
	}
	return e.transition(ctx, planID, approverID, domain.PlanRejected, events.ActionPlanReject, transitionHooks{
		mutate: func(p *domain.Plan, now string) {
			p.ApprovedBy = &approverID
			p.RejectedAt = &now
			p.RejectReason = strings.TrimSpace(reason)
		},
	})
}

func (e Engine) Cancel(ctx context.Context, planID, actorID string) (domain.Plan, error) {
	return e.transition(ctx, planID, actorID, domain.PlanCanceled, events.ActionPlanCancel, transitionHooks{
		mutate: func(p *domain.Plan, now string) { p.CanceledAt = &now },
	})
}
