package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/domain"
	"cadreline/internal/engine"
	"cadreline/internal/events"
	"cadreline/internal/migrate"
	"cadreline/internal/repo"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	cfg := config.Default()
	audit := events.NewDispatcher(events.ModeDB, events.StoreSink{Repo: repo.Repo{DB: conn}}, nil, 0)
	e := engine.New(conn, cfg, audit, nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

var asPlanner = map[string]string{"X-Actor-Id": "planner"}

// call expects status and decodes the body into out when out is non-nil.
func call(t *testing.T, srv *httptest.Server, method, path string, body any, status int, out any) []byte {
	t.Helper()
	res, data := doJSON(t, method, srv.URL+path, body, asPlanner)
	require.Equalf(t, status, res.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
	return data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func seed(t *testing.T, srv *httptest.Server) (hq, ops domain.OrgUnit, ann domain.Cadre) {
	t.Helper()
	call(t, srv, http.MethodPost, "/v0/units", map[string]any{"name": "hq"}, http.StatusCreated, &hq)
	call(t, srv, http.MethodPost, "/v0/units", map[string]any{"name": "ops", "parent_id": hq.ID}, http.StatusCreated, &ops)
	call(t, srv, http.MethodPut, "/v0/cadres", map[string]any{"code": "ANN", "name": "Ann"}, http.StatusOK, &ann)
	return hq, ops, ann
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/plans", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, "unauthorized", env.Error.Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/plans", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := IssueToken(testSecret, "chief")
	require.NoError(t, err)
	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/plans", map[string]any{"title": "q3"}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Plan
	require.NoError(t, json.Unmarshal(data, &p))
	require.Equal(t, "chief", p.CreatedBy)
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	hq, ops, ann := seed(t, srv)
	call(t, srv, http.MethodPost, "/v0/memberships", map[string]any{"cadre_id": ann.ID, "unit_id": hq.ID, "is_primary": true}, http.StatusCreated, nil)

	var p domain.Plan
	call(t, srv, http.MethodPost, "/v0/plans", map[string]any{"title": "rotation"}, http.StatusCreated, &p)
	var mv domain.Move
	call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/moves", map[string]any{
		"cadre_id": ann.ID, "type": "TRANSFER", "from_unit_id": hq.ID, "to_unit_id": ops.ID,
	}, http.StatusCreated, &mv)
	require.Equal(t, 1, mv.Seq)

	var vr ValidationResponse
	call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/validate", nil, http.StatusOK, &vr)
	require.True(t, vr.Valid)
	require.Empty(t, vr.Violations)

	for _, op := range []string{"submit", "approve", "apply"} {
		call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/"+op, nil, http.StatusOK, &p)
	}
	require.Equal(t, domain.PlanApplied, p.Status)

	var members []domain.Membership
	call(t, srv, http.MethodGet, "/v0/units/"+ops.ID+"/members?primary_only=true", nil, http.StatusOK, &members)
	require.Len(t, members, 1)
	require.Equal(t, ann.ID, members[0].CadreID)

	var page paginatedEvents
	call(t, srv, http.MethodGet, "/v0/events?action=membership.applied", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	require.Equal(t, mv.ID, page.Items[0].TargetID)
	require.Equal(t, p.ID, page.Items[0].Context["plan_id"])

	data := call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/cancel", nil, http.StatusConflict, nil)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, "invalid_transition", env.Error.Code)
	require.Equal(t, "APPLIED", env.Error.Details["from"])
}

func TestValidationFailureListsEveryViolation(t *testing.T) {
	srv := newTestServer(t)
	hq, ops, ann := seed(t, srv)

	var p domain.Plan
	call(t, srv, http.MethodPost, "/v0/plans", map[string]any{"title": "double"}, http.StatusCreated, &p)
	for _, unit := range []string{hq.ID, ops.ID} {
		call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/moves", map[string]any{"cadre_id": ann.ID, "type": "ASSIGN", "to_unit_id": unit}, http.StatusCreated, nil)
	}
	for _, op := range []string{"validate", "submit"} {
		data := call(t, srv, http.MethodPost, "/v0/plans/"+p.ID+"/"+op, nil, http.StatusUnprocessableEntity, nil)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, "validation_failed", env.Error.Code, op)
		violations, ok := env.Error.Details["violations"].([]any)
		require.True(t, ok, string(data))
		require.Len(t, violations, 2, op)
	}

	call(t, srv, http.MethodGet, "/v0/plans/"+p.ID, nil, http.StatusOK, &p)
	require.Equal(t, domain.PlanDraft, p.Status)
	require.Len(t, p.Moves, 2)
}

func TestHierarchyErrorsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	hq, ops, _ := seed(t, srv)

	data := call(t, srv, http.MethodPost, "/v0/units/"+hq.ID+"/move", map[string]any{"parent_id": ops.ID}, http.StatusConflict, nil)
	require.Contains(t, string(data), `"cycle"`)

	data = call(t, srv, http.MethodPost, "/v0/units/reorder", map[string]any{"parent_id": hq.ID, "ids": []string{hq.ID}}, http.StatusBadRequest, nil)
	require.Contains(t, string(data), "invalid_sibling_set")

	call(t, srv, http.MethodDelete, "/v0/units/"+hq.ID, nil, http.StatusConflict, nil)
	call(t, srv, http.MethodDelete, "/v0/units/"+ops.ID, nil, http.StatusNoContent, nil)
	call(t, srv, http.MethodGet, "/v0/units/"+ops.ID, nil, http.StatusNotFound, nil)

	var desc []domain.OrgUnit
	call(t, srv, http.MethodGet, "/v0/units/"+hq.ID+"/descendants?scope=operational", nil, http.StatusOK, &desc)
	require.Empty(t, desc)
}

func TestRegistryOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	_, _, ann := seed(t, srv)
	var ben domain.Cadre
	call(t, srv, http.MethodPut, "/v0/cadres", map[string]any{"code": "BEN", "name": "Ben"}, http.StatusOK, &ben)

	var pair domain.ConflictPair
	call(t, srv, http.MethodPost, "/v0/conflicts", map[string]any{"cadre_a": ben.ID, "cadre_b": ann.ID, "severity": "HIGH"}, http.StatusCreated, &pair)
	call(t, srv, http.MethodPost, "/v0/conflicts", map[string]any{"cadre_a": ann.ID, "cadre_b": ben.ID}, http.StatusConflict, nil)
	call(t, srv, http.MethodPost, "/v0/conflicts", map[string]any{"cadre_a": ann.ID, "cadre_b": ann.ID}, http.StatusBadRequest, nil)

	var conflicts []domain.Conflict
	call(t, srv, http.MethodGet, "/v0/cadres/"+ann.ID+"/conflicts", nil, http.StatusOK, &conflicts)
	require.Len(t, conflicts, 1)
	require.Equal(t, ben.ID, conflicts[0].OtherCadreID)

	call(t, srv, http.MethodGet, "/v0/cadres/"+ann.ID+"/risk-tag", nil, http.StatusNotFound, nil)
	call(t, srv, http.MethodPut, "/v0/cadres/"+ann.ID+"/risk-tag", map[string]any{"tag_type": "SENSITIVE"}, http.StatusOK, nil)
	var tag domain.RiskTag
	call(t, srv, http.MethodGet, "/v0/cadres/"+ann.ID+"/risk-tag", nil, http.StatusOK, &tag)
	require.Equal(t, domain.RiskSensitive, tag.TagType)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.Contains(string(data), "go_goroutines"))
}

func TestUnitLeaderAndMemberSearchOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	hq, _, ann := seed(t, srv)
	var ben domain.Cadre
	call(t, srv, http.MethodPut, "/v0/cadres", map[string]any{"code": "BEN", "name": "Ben"}, http.StatusOK, &ben)
	call(t, srv, http.MethodPost, "/v0/memberships", map[string]any{"cadre_id": ann.ID, "unit_id": hq.ID, "is_primary": true}, http.StatusCreated, nil)

	var lead domain.Membership
	call(t, srv, http.MethodPut, "/v0/units/"+hq.ID+"/leader", map[string]any{"cadre_id": ann.ID}, http.StatusOK, &lead)
	require.Equal(t, domain.RoleLeader, lead.Role)
	call(t, srv, http.MethodPut, "/v0/units/"+hq.ID+"/leader", map[string]any{"cadre_id": ben.ID}, http.StatusOK, &lead)
	require.Equal(t, ben.ID, lead.CadreID)

	var members []domain.Membership
	call(t, srv, http.MethodGet, "/v0/units/"+hq.ID+"/members", nil, http.StatusOK, &members)
	require.Len(t, members, 2)
	roles := map[string]domain.Role{}
	for _, m := range members {
		roles[m.CadreID] = m.Role
	}
	require.Equal(t, domain.RoleMember, roles[ann.ID])
	require.Equal(t, domain.RoleLeader, roles[ben.ID])

	call(t, srv, http.MethodGet, "/v0/units/"+hq.ID+"/members?search=ann", nil, http.StatusOK, &members)
	require.Len(t, members, 1)
	require.Equal(t, ann.ID, members[0].CadreID)

	call(t, srv, http.MethodPut, "/v0/units/"+hq.ID+"/leader", map[string]any{"cadre_id": "ghost"}, http.StatusUnprocessableEntity, nil)
}
