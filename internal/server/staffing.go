package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/ledger"
	"cadreline/internal/registry"
	"cadreline/internal/repo"
)

type cadrePath struct {
	ID string `path:"id"`
}

func (h handlers) registerCadres(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "put-cadre",
		Method:      http.MethodPut,
		Path:        "/cadres",
		Summary:     "Create or update a cadre by id or code",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body PutCadreRequest `json:"body"`
	}) (*out[domain.Cadre], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		c, err := h.e.PutCadre(ctx, engine.CadreInput{
			ID:        b.ID,
			Code:      b.Code,
			Name:      b.Name,
			Gender:    b.Gender,
			BirthDate: b.BirthDate,
			Position:  b.Position,
			Rank:      b.Rank,
			Status:    b.Status,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cadres",
		Method:      http.MethodGet,
		Path:        "/cadres",
		Summary:     "List cadres",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Query  string `query:"q"`
		Limit  int    `query:"limit" default:"50"`
	}) (*out[[]domain.Cadre], error) {
		cs, err := h.e.ListCadres(ctx, repo.CadreFilters{Status: input.Status, Query: input.Query, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(cs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cadre",
		Method:      http.MethodGet,
		Path:        "/cadres/{id}",
		Summary:     "Get cadre by id or code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cadrePath) (*out[domain.Cadre], error) {
		c, err := h.e.GetCadre(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cadre-memberships",
		Method:      http.MethodGet,
		Path:        "/cadres/{id}/memberships",
		Summary:     "Membership history of a cadre",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*out[[]domain.Membership], error) {
		ms, err := h.e.Ledger.ListByCadre(ctx, input.ID, input.ActiveOnly)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(ms), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cadre-conflicts",
		Method:      http.MethodGet,
		Path:        "/cadres/{id}/conflicts",
		Summary:     "Active conflicts of a cadre, most severe first",
	}, func(ctx context.Context, input *cadrePath) (*out[[]domain.Conflict], error) {
		cs, err := registry.CollectConflicts(h.e.Registry.ConflictsOf(ctx, input.ID))
		if err != nil {
			return nil, h.handleError(err)
		}
		if cs == nil {
			cs = []domain.Conflict{}
		}
		return reply(cs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-risk-tag",
		Method:      http.MethodGet,
		Path:        "/cadres/{id}/risk-tag",
		Summary:     "Active risk tag of a cadre",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cadrePath) (*out[domain.RiskTag], error) {
		tag, err := h.e.Registry.RiskTagOf(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		if tag == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no active risk tag", map[string]any{"cadre_id": input.ID})
		}
		return reply(*tag), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-risk-tag",
		Method:      http.MethodPut,
		Path:        "/cadres/{id}/risk-tag",
		Summary:     "Set the risk tag of a cadre",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SetRiskTagRequest `json:"body"`
	}) (*out[domain.RiskTag], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tag, err := h.e.Registry.SetRiskTag(ctx, registry.RiskTagInput{
			CadreID:  input.ID,
			TagType:  input.Body.TagType,
			Severity: input.Body.Severity,
			Reason:   input.Body.Reason,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(tag), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-risk-tag",
		Method:        http.MethodDelete,
		Path:          "/cadres/{id}/risk-tag",
		Summary:       "Deactivate the risk tag of a cadre",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *cadrePath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.Registry.ClearRiskTag(ctx, input.ID, actorID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func (h handlers) registerMemberships(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-membership",
		Method:        http.MethodPost,
		Path:          "/memberships",
		Summary:       "Assign a cadre to a unit",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body AssignRequest `json:"body"`
	}) (*out[domain.Membership], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.Ledger.Assign(ctx, ledger.AssignInput{
			CadreID:       input.Body.CadreID,
			UnitID:        input.Body.UnitID,
			Role:          input.Body.Role,
			IsPrimary:     input.Body.IsPrimary,
			EffectiveFrom: input.Body.EffectiveFrom,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-membership",
		Method:      http.MethodPost,
		Path:        "/memberships/{id}/end",
		Summary:     "End a membership",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body EndMembershipRequest `json:"body" required:"false"`
	}) (*out[domain.Membership], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		effective := input.Body.EffectiveTo
		if effective == "" {
			effective = h.e.Ledger.Today()
		}
		m, err := h.e.Ledger.End(ctx, input.ID, effective, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-membership",
		Method:      http.MethodPost,
		Path:        "/memberships/transfer",
		Summary:     "Move a cadre's primary membership to another unit",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body TransferRequest `json:"body"`
	}) (*out[domain.Membership], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.Ledger.Transfer(ctx, ledger.TransferInput{
			CadreID:    input.Body.CadreID,
			FromUnitID: input.Body.FromUnitID,
			ToUnitID:   input.Body.ToUnitID,
			Role:       input.Body.Role,
			Effective:  input.Body.Effective,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(m), nil
	})
}

func (h handlers) registerRegistry(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-conflict",
		Method:        http.MethodPost,
		Path:          "/conflicts",
		Summary:       "Register a conflict pair",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateConflictRequest `json:"body"`
	}) (*out[domain.ConflictPair], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.Registry.RegisterConflict(ctx, registry.ConflictInput{
			CadreA:   input.Body.CadreA,
			CadreB:   input.Body.CadreB,
			Type:     input.Body.Type,
			Severity: input.Body.Severity,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "List conflict pairs",
	}, func(ctx context.Context, input *struct {
		CadreID    string `query:"cadre_id"`
		Severity   string `query:"severity" enum:"LOW,MEDIUM,HIGH"`
		ActiveOnly bool   `query:"active_only"`
		Limit      int    `query:"limit" default:"50"`
	}) (*out[[]domain.ConflictPair], error) {
		ps, err := h.e.Registry.ListConflicts(ctx, repo.ConflictFilters{
			CadreID:    input.CadreID,
			Severity:   domain.Severity(input.Severity),
			ActiveOnly: input.ActiveOnly,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(ps), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{id}/deactivate",
		Summary:     "Deactivate a conflict pair",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*out[domain.ConflictPair], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.Registry.DeactivateConflict(ctx, input.ID, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p), nil
	})
}
