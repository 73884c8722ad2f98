package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"cadreline/internal/domain"
	"cadreline/internal/events"
	"cadreline/internal/repo"
)

// CadreInput mirrors a roster record. Cadres are keyed by ID, or by Code when ID is empty.
type CadreInput struct {
	ID        string
	Code      string             `validate:"required,max=50"`
	Name      string             `validate:"required,max=100"`
	Gender    string             `validate:"omitempty,oneof=M F U"`
	BirthDate string             `validate:"omitempty,datetime=2006-01-02"`
	Position  string             `validate:"max=100"`
	Rank      string             `validate:"max=100"`
	Status    domain.CadreStatus `validate:"omitempty,oneof=ACTIVE TRANSFERRED RETIRED RESIGNED SUSPENDED"`
	ActorID   string
}

// PutCadre syncs one roster record into the local cadres table.
func (e Engine) PutCadre(ctx context.Context, in CadreInput) (domain.Cadre, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return domain.Cadre{}, &domain.InvalidInputError{Message: err.Error()}
	}
	if in.Gender == "" {
		in.Gender = "U"
	}
	if in.Status == "" {
		in.Status = domain.CadreActive
	}
	var out domain.Cadre
	err := e.Tx.Do(ctx, "cadre.put", func(ctx context.Context, tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		now := e.stamp()
		c := domain.Cadre{
			ID:        in.ID,
			Code:      in.Code,
			Name:      in.Name,
			Gender:    in.Gender,
			Position:  in.Position,
			Rank:      in.Rank,
			Status:    in.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if in.BirthDate != "" {
			c.BirthDate = &in.BirthDate
		}
		if c.ID == "" {
			existing, err := r.GetCadreByCode(ctx, in.Code)
			switch {
			case err == nil:
				c.ID = existing.ID
			case errors.Is(err, domain.ErrNotFound):
				c.ID = uuid.NewString()
			default:
				return err
			}
		}
		if err := r.UpsertCadre(ctx, c); err != nil {
			return err
		}
		var err error
		out, err = r.GetCadre(ctx, c.ID)
		return err
	})
	if err != nil {
		return domain.Cadre{}, err
	}
	e.emit(ctx, events.Event{
		TS: e.now(), ActorID: in.ActorID, Action: events.ActionCadrePut, TargetType: "cadre", TargetID: out.ID,
		Payload: events.EventPayload{"code": out.Code, "status": out.Status},
	})
	return out, nil
}

func (e Engine) GetCadre(ctx context.Context, id string) (domain.Cadre, error) {
	c, err := e.Repo.GetCadre(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		if byCode, cerr := e.Repo.GetCadreByCode(ctx, id); cerr == nil {
			return byCode, nil
		}
	}
	return c, err
}

func (e Engine) ListCadres(ctx context.Context, f repo.CadreFilters) ([]domain.Cadre, error) {
	return e.Repo.ListCadres(ctx, f)
}
