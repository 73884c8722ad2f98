// Package registry records pairwise conflicts between cadres and per-cadre risk tags.
package registry

import (
	"context"
	"database/sql"
	"iter"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/repo"
)

type Registry struct {
	Repo  repo.Repo
	Tx    db.Runner
	Audit events.Emitter
	Now   func() time.Time
}

var validate = validator.New()

func (r Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Registry) stamp() string { return r.now().UTC().Format(time.RFC3339) }

// Canonical orders a pair so the lower id comes first.
func Canonical(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

type ConflictInput struct {
	CadreA   string              `validate:"required"`
	CadreB   string              `validate:"required"`
	Type     domain.ConflictType `validate:"omitempty,oneof=WORK_CONFLICT PERSONAL_CONFLICT OTHER"`
	Severity domain.Severity     `validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Note     string              `validate:"max=500"`
	ActorID  string
}

// RegisterConflict stores the unordered pair {a, b}. Registering a pair that exists
// but was deactivated turns it back on with the new type and severity.
func (r Registry) RegisterConflict(ctx context.Context, in ConflictInput) (domain.ConflictPair, error) {
	in.CadreA = strings.TrimSpace(in.CadreA)
	in.CadreB = strings.TrimSpace(in.CadreB)
	if err := validate.Struct(in); err != nil {
		return domain.ConflictPair{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if in.CadreA == in.CadreB {
		return domain.ConflictPair{}, &domain.SelfConflictError{CadreID: in.CadreA}
	}
	if in.Type == "" {
		in.Type = domain.ConflictOther
	}
	if in.Severity == "" {
		in.Severity = domain.SeverityLow
	}
	a, b := Canonical(in.CadreA, in.CadreB)
	var out domain.ConflictPair
	reactivated := false
	err := r.Tx.Do(ctx, "conflict.create", func(ctx context.Context, tx *sql.Tx) error {
		rp := r.Repo.WithTx(tx)
		for _, id := range []string{a, b} {
			if _, err := rp.GetCadre(ctx, id); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return &domain.UnknownCadreError{CadreID: id}
				}
				return err
			}
		}
		now := r.stamp()
		existing, err := rp.FindConflictPair(ctx, a, b)
		switch {
		case err == nil && existing.Active:
			return &domain.DuplicatePairError{CadreA: a, CadreB: b, PairID: existing.ID}
		case err == nil:
			existing.Type = in.Type
			existing.Severity = in.Severity
			existing.Note = in.Note
			existing.Active = true
			existing.UpdatedAt = now
			out = existing
			reactivated = true
			return rp.UpdateConflictPair(ctx, existing)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		out = domain.ConflictPair{
			ID:        uuid.NewString(),
			CadreA:    a,
			CadreB:    b,
			Type:      in.Type,
			Severity:  in.Severity,
			Note:      in.Note,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return rp.InsertConflictPair(ctx, out)
	})
	if err != nil {
		return domain.ConflictPair{}, err
	}
	events.EmitAll(ctx, r.Audit, []events.Event{{
		TS: r.now(), ActorID: in.ActorID, Action: events.ActionConflictCreate, TargetType: "conflict_pair", TargetID: out.ID,
		Payload: events.EventPayload{"cadre_a": a, "cadre_b": b, "type": out.Type, "severity": out.Severity, "reactivated": reactivated},
	}})
	return out, nil
}

func (r Registry) DeactivateConflict(ctx context.Context, id, actorID string) (domain.ConflictPair, error) {
	var p domain.ConflictPair
	err := r.Tx.Do(ctx, "conflict.deactivate", func(ctx context.Context, tx *sql.Tx) error {
		rp := r.Repo.WithTx(tx)
		var err error
		p, err = rp.GetConflictPair(ctx, id)
		if err != nil {
			return err
		}
		if !p.Active {
			return nil
		}
		p.Active = false
		p.UpdatedAt = r.stamp()
		return rp.UpdateConflictPair(ctx, p)
	})
	if err != nil {
		return domain.ConflictPair{}, err
	}
	events.EmitAll(ctx, r.Audit, []events.Event{{
		TS: r.now(), ActorID: actorID, Action: events.ActionConflictDisable, TargetType: "conflict_pair", TargetID: id,
	}})
	return p, nil
}

func (r Registry) ListConflicts(ctx context.Context, f repo.ConflictFilters) ([]domain.ConflictPair, error) {
	return r.Repo.ListConflictPairs(ctx, f)
}

// ConflictsOf yields the active conflicts of cadreID, HIGH severity first, seen
// from cadreID's side. Rows stay open only while the caller keeps iterating.
func (r Registry) ConflictsOf(ctx context.Context, cadreID string) iter.Seq2[domain.Conflict, error] {
	return conflictsOf(ctx, r.Repo, cadreID)
}

// ConflictsOfTx is ConflictsOf inside the caller's transaction.
func (r Registry) ConflictsOfTx(ctx context.Context, tx *sql.Tx, cadreID string) iter.Seq2[domain.Conflict, error] {
	return conflictsOf(ctx, r.Repo.WithTx(tx), cadreID)
}

func conflictsOf(ctx context.Context, rp repo.Repo, cadreID string) iter.Seq2[domain.Conflict, error] {
	return func(yield func(domain.Conflict, error) bool) {
		rows, err := rp.ActiveConflictRows(ctx, cadreID)
		if err != nil {
			yield(domain.Conflict{}, db.Classify("conflicts of", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			p, err := repo.ScanConflictPair(rows)
			if err != nil {
				yield(domain.Conflict{}, err)
				return
			}
			other := p.CadreB
			if other == cadreID {
				other = p.CadreA
			}
			if !yield(domain.Conflict{PairID: p.ID, OtherCadreID: other, Type: p.Type, Severity: p.Severity}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Conflict{}, db.Classify("conflicts of", err))
		}
	}
}

// CollectConflicts drains ConflictsOf.
func CollectConflicts(seq iter.Seq2[domain.Conflict, error]) ([]domain.Conflict, error) {
	var out []domain.Conflict
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RiskTagOf returns the cadre's active tag, or nil when it has none.
func (r Registry) RiskTagOf(ctx context.Context, cadreID string) (*domain.RiskTag, error) {
	return riskTagOf(ctx, r.Repo, cadreID)
}

func (r Registry) RiskTagOfTx(ctx context.Context, tx *sql.Tx, cadreID string) (*domain.RiskTag, error) {
	return riskTagOf(ctx, r.Repo.WithTx(tx), cadreID)
}

func riskTagOf(ctx context.Context, rp repo.Repo, cadreID string) (*domain.RiskTag, error) {
	t, err := rp.GetRiskTag(ctx, cadreID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify("risk tag of", err)
	}
	if !t.Active {
		return nil, nil
	}
	return &t, nil
}

type RiskTagInput struct {
	CadreID  string             `validate:"required"`
	TagType  domain.RiskTagType `validate:"omitempty,oneof=B_KEY_PERSON RELATIONSHIP_BAD SENSITIVE OTHER"`
	Severity domain.Severity    `validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Reason   string             `validate:"max=500"`
	ActorID  string
}

// SetRiskTag creates or replaces the cadre's single tag and marks it active.
func (r Registry) SetRiskTag(ctx context.Context, in RiskTagInput) (domain.RiskTag, error) {
	if err := validate.Struct(in); err != nil {
		return domain.RiskTag{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if in.TagType == "" {
		in.TagType = domain.RiskOther
	}
	if in.Severity == "" {
		in.Severity = domain.SeverityLow
	}
	var out domain.RiskTag
	err := r.Tx.Do(ctx, "risk_tag.set", func(ctx context.Context, tx *sql.Tx) error {
		rp := r.Repo.WithTx(tx)
		if _, err := rp.GetCadre(ctx, in.CadreID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.UnknownCadreError{CadreID: in.CadreID}
			}
			return err
		}
		now := r.stamp()
		if err := rp.UpsertRiskTag(ctx, domain.RiskTag{
			ID:        uuid.NewString(),
			CadreID:   in.CadreID,
			TagType:   in.TagType,
			Severity:  in.Severity,
			Reason:    in.Reason,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		var err error
		out, err = rp.GetRiskTag(ctx, in.CadreID)
		return err
	})
	if err != nil {
		return domain.RiskTag{}, err
	}
	events.EmitAll(ctx, r.Audit, []events.Event{{
		TS: r.now(), ActorID: in.ActorID, Action: events.ActionRiskTagSet, TargetType: "cadre", TargetID: in.CadreID,
		Payload: events.EventPayload{"tag_type": out.TagType, "severity": out.Severity},
	}})
	return out, nil
}

func (r Registry) ClearRiskTag(ctx context.Context, cadreID, actorID string) error {
	err := r.Tx.Do(ctx, "risk_tag.clear", func(ctx context.Context, tx *sql.Tx) error {
		return r.Repo.WithTx(tx).SetRiskTagActive(ctx, cadreID, false, r.stamp())
	})
	if err != nil {
		return err
	}
	events.EmitAll(ctx, r.Audit, []events.Event{{
		TS: r.now(), ActorID: actorID, Action: events.ActionRiskTagClear, TargetType: "cadre", TargetID: cadreID,
	}})
	return nil
}
