package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := actorIDFromContext(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(id))
	})
}

func serveAuth(t *testing.T, cfg AuthConfig, target string, headers map[string]string) (int, string, errorEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	newAuthMiddleware("/v0", cfg)(echoActor()).ServeHTTP(rec, req)
	var env errorEnvelope
	if rec.Code == http.StatusUnauthorized {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, rec.Body.String(), env
}

func TestAuthMiddleware(t *testing.T) {
	good, err := IssueToken(testSecret, "chief")
	require.NoError(t, err)
	forged, err := IssueToken("other", "chief")
	require.NoError(t, err)
	anonymous, err := IssueToken(testSecret, "")
	require.NoError(t, err)

	strict := AuthConfig{JWTSecret: testSecret}
	lenient := AuthConfig{JWTSecret: testSecret, AllowActorHeader: true}

	cases := []struct {
		name    string
		cfg     AuthConfig
		target  string
		headers map[string]string
		status  int
		body    string
		code    string
	}{
		{"bearer", strict, "/v0/plans", map[string]string{"Authorization": "Bearer " + good}, http.StatusOK, "chief", ""},
		{"bearer scheme is case insensitive", strict, "/v0/plans", map[string]string{"Authorization": "bearer " + good}, http.StatusOK, "chief", ""},
		{"wrong signing key", strict, "/v0/plans", map[string]string{"Authorization": "Bearer " + forged}, http.StatusUnauthorized, "", "invalid_credentials"},
		{"missing subject", strict, "/v0/plans", map[string]string{"Authorization": "Bearer " + anonymous}, http.StatusUnauthorized, "", "invalid_credentials"},
		{"basic scheme", strict, "/v0/plans", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, "", "invalid_credentials"},
		{"bearer beats header", lenient, "/v0/plans", map[string]string{"Authorization": "Bearer " + good, actorHeader: "mallory"}, http.StatusOK, "chief", ""},
		{"header allowed", lenient, "/v0/plans", map[string]string{actorHeader: "planner"}, http.StatusOK, "planner", ""},
		{"header refused", strict, "/v0/plans", map[string]string{actorHeader: "planner"}, http.StatusUnauthorized, "", "unauthorized"},
		{"no credentials", lenient, "/v0/plans", nil, http.StatusUnauthorized, "", "unauthorized"},
		{"health is open", strict, "/v0/health", nil, http.StatusTeapot, "", ""},
		{"outside base path", strict, "/metrics", nil, http.StatusTeapot, "", ""},
		{"no secret configured", AuthConfig{}, "/v0/plans", map[string]string{"Authorization": "Bearer " + good}, http.StatusUnauthorized, "", "invalid_credentials"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, env := serveAuth(t, tc.cfg, tc.target, tc.headers)
			require.Equal(t, tc.status, status)
			if tc.body != "" {
				require.Equal(t, tc.body, body)
			}
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestOpenAPIDeclaresAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var doc struct {
		Components struct {
			SecuritySchemes map[string]json.RawMessage `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	require.Contains(t, doc.Components.SecuritySchemes, "actorHeader")
	require.Empty(t, doc.Paths["/v0/health"]["get"].Security)
	require.Equal(t, apiSecurity, doc.Paths["/v0/plans"]["post"].Security)
}
