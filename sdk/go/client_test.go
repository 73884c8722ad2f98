package cadrelinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cadreline/internal/config"
	"cadreline/internal/db"
	"cadreline/internal/engine"
	"cadreline/internal/events"
	"cadreline/internal/hierarchy"
	"cadreline/internal/ledger"
	"cadreline/internal/migrate"
	"cadreline/internal/repo"
	"cadreline/internal/server"
	cadrelinesdk "cadreline/sdk/go"
)

type fixture struct {
	client  *cadrelinesdk.Client
	hq, ops string
	annID   string
	benID   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(ctx, conn))
	audit := events.NewDispatcher(events.ModeDB, events.StoreSink{Repo: repo.Repo{DB: conn}}, nil, 0)
	e := engine.New(conn, config.Default(), audit, nil)

	hq, err := e.Units.Create(ctx, hierarchy.CreateOptions{Name: "hq", ActorID: "admin"})
	require.NoError(t, err)
	ops, err := e.Units.Create(ctx, hierarchy.CreateOptions{Name: "ops", ParentID: hq.ID, ActorID: "admin"})
	require.NoError(t, err)
	ann, err := e.PutCadre(ctx, engine.CadreInput{Code: "ANN", Name: "Ann", ActorID: "admin"})
	require.NoError(t, err)
	ben, err := e.PutCadre(ctx, engine.CadreInput{Code: "BEN", Name: "Ben", ActorID: "admin"})
	require.NoError(t, err)
	_, err = e.Ledger.Assign(ctx, ledger.AssignInput{CadreID: ann.ID, UnitID: hq.ID, IsPrimary: true, ActorID: "admin"})
	require.NoError(t, err)

	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret"},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})

	token, err := server.IssueToken("sdk-secret", "planner")
	require.NoError(t, err)
	c := cadrelinesdk.New(srv.URL)
	c.BearerToken = token
	return fixture{client: c, hq: hq.ID, ops: ops.ID, annID: ann.ID, benID: ben.ID}
}

func TestClientRunsPlanToApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client

	p, err := c.CreatePlan(ctx, "rotation", "")
	require.NoError(t, err)
	require.Equal(t, "DRAFT", p.Status)
	require.Equal(t, "planner", p.CreatedBy)

	mv, err := c.AddMove(ctx, p.ID, cadrelinesdk.MoveInput{CadreID: f.annID, Type: "TRANSFER", FromUnitID: f.hq, ToUnitID: f.ops})
	require.NoError(t, err)
	require.Equal(t, 1, mv.Seq)

	v, err := c.Validate(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, v.Valid)

	for _, step := range []func(context.Context, string) (cadrelinesdk.Plan, error){c.Submit, c.Approve, c.Apply} {
		p, err = step(ctx, p.ID)
		require.NoError(t, err)
	}
	require.Equal(t, "APPLIED", p.Status)
	require.NotEmpty(t, p.AppliedAt)

	got, err := c.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Moves, 1)

	evts, err := c.Events(ctx, 50)
	require.NoError(t, err)
	actions := map[string]bool{}
	for _, e := range evts {
		actions[e.Action] = true
	}
	require.True(t, actions["plan.apply"])
	require.True(t, actions["membership.applied"])
}

func TestClientDecodesValidationEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client

	p, err := c.CreatePlan(ctx, "bad", "")
	require.NoError(t, err)
	_, err = c.AddMove(ctx, p.ID, cadrelinesdk.MoveInput{CadreID: f.benID, Type: "REMOVE", FromUnitID: f.hq})
	require.NoError(t, err)

	v, err := c.Validate(ctx, p.ID)
	var apiErr *cadrelinesdk.APIError
	require.True(t, errors.As(err, &apiErr), "%v", err)
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.False(t, v.Valid)
	require.Len(t, v.Violations, 1)

	_, err = c.Submit(ctx, p.ID)
	require.True(t, errors.As(err, &apiErr), "%v", err)
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, "validation_failed", apiErr.Code)
	vs := apiErr.Violations()
	require.Len(t, vs, 1)
	require.Equal(t, f.benID, vs[0].CadreID)

	p, err = c.Reject(ctx, p.ID, "no longer needed")
	require.NoError(t, err)
	require.Equal(t, "REJECTED", p.Status)
	require.Equal(t, "no longer needed", p.RejectReason)

	_, err = c.Cancel(ctx, p.ID)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "invalid_transition", apiErr.Code)
}

func TestClientWithoutCredentialsIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.client.BearerToken = ""
	_, err := f.client.CreatePlan(context.Background(), "x", "")
	var apiErr *cadrelinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
