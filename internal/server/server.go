package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"plan failed validation"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// out wraps a response body for huma.
type out[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

// New returns an HTTP handler exposing the cadreline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	installErrorEnvelope()

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Cadreline API", "0.1.0")
	declareSecuritySchemes(&hcfg)
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)
	group.UseModifier(requireAuth)

	h := handlers{e: cfg.Engine, log: log}
	registerHealth(group)
	h.registerUnits(group)
	h.registerCadres(group)
	h.registerMemberships(group)
	h.registerRegistry(group)
	h.registerPlans(group)
	h.registerEvents(group)

	return router, nil
}

// installErrorEnvelope routes huma's own failures (decode, schema, routing)
// through the same envelope as domain errors. Huma reports bad input as 422;
// that status is reserved for plan validation here, so it becomes 400.
func installErrorEnvelope() {
	build := func(status int, msg string, errs []error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return build(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return build(status, msg, errs)
	}
}

type handlers struct {
	e   engine.Engine
	log *zap.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain error kinds onto the envelope.
func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var vf *domain.ValidationFailedError
	if errors.As(err, &vf) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, map[string]any{"violations": vf.Violations})
	}
	var ma *domain.MoveApplyError
	if errors.As(err, &ma) {
		return newAPIError(http.StatusConflict, "move_apply_failed", msg, map[string]any{"move_id": ma.MoveID, "seq": ma.Seq})
	}
	var it *domain.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{"from": it.From, "attempted": it.Attempted})
	}
	var ss *domain.InvalidSiblingSetError
	if errors.As(err, &ss) {
		return newAPIError(http.StatusBadRequest, "invalid_sibling_set", msg, map[string]any{"offending": ss.Offending})
	}
	codes := []struct {
		target error
		status int
		code   string
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest, "bad_request"},
		{domain.ErrSelfConflict, http.StatusBadRequest, "self_conflict"},
		{domain.ErrUnknownCadre, http.StatusUnprocessableEntity, "unknown_cadre"},
		{domain.ErrMembershipNotFound, http.StatusNotFound, "membership_not_found"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrCycle, http.StatusConflict, "cycle"},
		{domain.ErrHasChildren, http.StatusConflict, "has_children"},
		{domain.ErrHasActiveMembers, http.StatusConflict, "has_active_members"},
		{domain.ErrDuplicateCode, http.StatusConflict, "duplicate_code"},
		{domain.ErrPrimaryConflict, http.StatusConflict, "primary_conflict"},
		{domain.ErrDuplicatePair, http.StatusConflict, "duplicate_pair"},
		{domain.ErrPlanNotEditable, http.StatusConflict, "plan_not_editable"},
		{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return newAPIError(c.status, c.code, msg, nil)
		}
	}
	h.log.Error("unhandled api error", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

// apiSecurity is the requirement attached to every guarded operation.
var apiSecurity = []map[string][]string{{"bearerAuth": {}}, {"actorHeader": {}}}

func declareSecuritySchemes(cfg *huma.Config) {
	if cfg.Components.SecuritySchemes == nil {
		cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	cfg.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	cfg.Components.SecuritySchemes["actorHeader"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: actorHeader}
}

// requireAuth tags operations with apiSecurity so the published document
// matches what the middleware enforces. Health stays open.
func requireAuth(op *huma.Operation, next func(*huma.Operation)) {
	if op.OperationID != "health" {
		op.Security = apiSecurity
	}
	next(op)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Action     string `query:"action"`
		TargetType string `query:"target_type"`
		TargetID   string `query:"target_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.e.ListEvents(ctx, repo.EventFilters{
			Action:     input.Action,
			TargetType: input.TargetType,
			TargetID:   input.TargetID,
			ActorID:    input.ActorID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	ctx := map[string]any{}
	if evt.Context != "" {
		_ = json.Unmarshal([]byte(evt.Context), &ctx)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		ActorID:    evt.ActorID,
		Action:     evt.Action,
		TargetType: evt.TargetType,
		TargetID:   evt.TargetID,
		Context:    ctx,
	}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
