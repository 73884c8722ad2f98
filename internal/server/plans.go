package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/repo"
)

type planPath struct {
	ID string `path:"id"`
}

func (h handlers) registerPlans(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/plans",
		Summary:       "Create a DRAFT staffing plan",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*out[domain.Plan], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.CreatePlan(ctx, engine.PlanCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:"DRAFT,SUBMITTED,APPROVED,APPLIED,REJECTED,CANCELED"`
		CreatedBy string `query:"created_by"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*out[paginatedPlans], error) {
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := h.e.ListPlans(ctx, repo.PlanFilters{
			Status:          domain.PlanStatus(input.Status),
			CreatedBy:       input.CreatedBy,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := paginatedPlans{Items: []domain.Plan{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{id}",
		Summary:     "Get a plan with its moves",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *planPath) (*out[domain.Plan], error) {
		p, err := h.e.GetPlan(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-move",
		Method:        http.MethodPost,
		Path:          "/plans/{id}/moves",
		Summary:       "Stage a move on a DRAFT plan",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body AddMoveRequest `json:"body"`
	}) (*out[domain.Move], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		mv, err := h.e.AddMove(ctx, engine.MoveOptions{
			PlanID:     input.ID,
			CadreID:    input.Body.CadreID,
			FromUnitID: input.Body.FromUnitID,
			ToUnitID:   input.Body.ToUnitID,
			Type:       input.Body.Type,
			Role:       input.Body.Role,
			Reason:     input.Body.Reason,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(mv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-move",
		Method:        http.MethodDelete,
		Path:          "/plans/{id}/moves/{move_id}",
		Summary:       "Drop a staged move",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		MoveID string `path:"move_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.RemoveMove(ctx, input.ID, input.MoveID, actorID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{id}/validate",
		Summary:     "Check a plan without changing it; violations come back as validation_failed",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *planPath) (*out[ValidationResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.Validate(ctx, input.ID, actorID); err != nil {
			return nil, h.handleError(err)
		}
		return reply(ValidationResponse{PlanID: input.ID, Valid: true, Violations: []domain.Violation{}}), nil
	})

	transitions := []struct {
		op      string
		summary string
		run     func(ctx context.Context, planID, actorID string) (domain.Plan, error)
	}{
		{"submit", "Submit a DRAFT plan", h.e.Submit},
		{"approve", "Approve a SUBMITTED plan", h.e.Approve},
		{"apply", "Apply an APPROVED plan to the ledger", h.e.Apply},
		{"cancel", "Cancel a DRAFT or SUBMITTED plan", h.e.Cancel},
	}
	for _, tr := range transitions {
		run := tr.run
		huma.Register(api, huma.Operation{
			OperationID: tr.op + "-plan",
			Method:      http.MethodPost,
			Path:        "/plans/{id}/" + tr.op,
			Summary:     tr.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *planPath) (*out[domain.Plan], error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := run(ctx, input.ID, actorID)
			if err != nil {
				return nil, h.handleError(err)
			}
			return reply(p), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "reject-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{id}/reject",
		Summary:     "Reject a plan that has not been applied",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RejectPlanRequest `json:"body" required:"false"`
	}) (*out[domain.Plan], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.Reject(ctx, input.ID, actorID, input.Body.Reason)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p), nil
	})
}
