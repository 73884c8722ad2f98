package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cadreline/internal/domain"
	"cadreline/internal/hierarchy"
	"cadreline/internal/ledger"
)

type unitPath struct {
	ID string `path:"id"`
}

func (h handlers) registerUnits(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unit",
		Method:        http.MethodPost,
		Path:          "/units",
		Summary:       "Create org unit",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUnitRequest `json:"body"`
	}) (*out[domain.OrgUnit], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.Units.Create(ctx, hierarchy.CreateOptions{
			Name:      input.Body.Name,
			Code:      input.Body.Code,
			Type:      input.Body.Type,
			ParentID:  input.Body.ParentID,
			SortOrder: input.Body.SortOrder,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/units",
		Summary:     "List org units",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.OrgUnit], error) {
		units, err := h.e.Units.List(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(units), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unit-tree",
		Method:      http.MethodGet,
		Path:        "/units/tree",
		Summary:     "Active units as a nested tree",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.UnitNode], error) {
		tree, err := h.e.Units.Tree(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(tree), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-units",
		Method:      http.MethodPost,
		Path:        "/units/reorder",
		Summary:     "Reorder siblings",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body ReorderUnitsRequest `json:"body"`
	}) (*out[[]domain.OrgUnit], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		units, err := h.e.Units.Reorder(ctx, input.Body.ParentID, input.Body.IDs, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(units), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit",
		Method:      http.MethodGet,
		Path:        "/units/{id}",
		Summary:     "Get org unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *unitPath) (*out[domain.OrgUnit], error) {
		u, err := h.e.Units.Get(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unit-ancestors",
		Method:      http.MethodGet,
		Path:        "/units/{id}/ancestors",
		Summary:     "Ancestors from parent to root",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *unitPath) (*out[[]domain.OrgUnit], error) {
		units, err := h.e.Units.Ancestors(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(units), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unit-descendants",
		Method:      http.MethodGet,
		Path:        "/units/{id}/descendants",
		Summary:     "Descendants in pre-order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Scope string `query:"scope" enum:"structural,operational"`
	}) (*out[[]domain.OrgUnit], error) {
		scope, ok := hierarchy.ParseScope(input.Scope)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid scope", map[string]any{"scope": input.Scope})
		}
		units, err := h.e.Units.Descendants(ctx, input.ID, scope)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(units), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-unit",
		Method:      http.MethodPost,
		Path:        "/units/{id}/move",
		Summary:     "Reparent a unit",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveUnitRequest `json:"body"`
	}) (*out[domain.OrgUnit], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.Units.Move(ctx, input.ID, input.Body.ParentID, input.Body.Position, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-unit-active",
		Method:      http.MethodPost,
		Path:        "/units/{id}/active",
		Summary:     "Activate or deactivate a unit",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SetUnitActiveRequest `json:"body"`
	}) (*out[domain.OrgUnit], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.Units.SetActive(ctx, input.ID, input.Body.Active, actorID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-unit",
		Method:        http.MethodDelete,
		Path:          "/units/{id}",
		Summary:       "Delete a leaf unit without active members",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *unitPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.Units.Destroy(ctx, input.ID, actorID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unit-members",
		Method:      http.MethodGet,
		Path:        "/units/{id}/members",
		Summary:     "Active memberships at a unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID                 string `path:"id"`
		IncludeDescendants bool   `query:"include_descendants"`
		PrimaryOnly        bool   `query:"primary_only"`
		Search             string `query:"search" doc:"substring of the cadre's name, code or position"`
	}) (*out[[]domain.Membership], error) {
		ms, err := h.e.Ledger.Members(ctx, input.ID, ledger.MemberQuery{
			IncludeDescendants: input.IncludeDescendants,
			PrimaryOnly:        input.PrimaryOnly,
			Search:             input.Search,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		if ms == nil {
			ms = []domain.Membership{}
		}
		return reply(ms), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-unit-leader",
		Method:      http.MethodPut,
		Path:        "/units/{id}/leader",
		Summary:     "Make a cadre the unit's single LEADER",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			CadreID string `json:"cadre_id" minLength:"1"`
		}
	}) (*out[domain.Membership], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := h.e.Ledger.SetLeader(ctx, ledger.SetLeaderInput{UnitID: input.ID, CadreID: input.Body.CadreID, ActorID: actorID})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(m), nil
	})
}
