package events_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cadreline/internal/db"
	"cadreline/internal/events"
	"cadreline/internal/migrate"
	"cadreline/internal/repo"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []events.Event
	fail error
}

func (s *recordingSink) Write(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, evt)
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.got {
		out = append(out, e.Action)
	}
	return out
}

func closeDispatcher(t *testing.T, d *events.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := events.NewDispatcher(events.ModeDB, sink, nil, 16)
	actions := []string{events.ActionPlanCreate, events.ActionPlanAddMove, events.ActionPlanSubmit, events.ActionPlanApprove,
		events.ActionMembershipApply, events.ActionMembershipApply, events.ActionPlanApply}
	for _, a := range actions {
		d.Emit(context.Background(), events.Event{Action: a, TargetType: "plan", TargetID: "p1"})
	}
	closeDispatcher(t, d)
	require.Equal(t, actions, sink.actions())

	// closed dispatchers still write, inline
	d.Emit(context.Background(), events.Event{Action: events.ActionPlanCancel})
	require.Equal(t, events.ActionPlanCancel, sink.actions()[len(actions)])
}

func TestDispatcherWithoutQueueIsSynchronous(t *testing.T) {
	sink := &recordingSink{}
	d := events.NewDispatcher(events.ModeDB, sink, nil, 0)
	d.Emit(context.Background(), events.Event{Action: events.ActionUnitCreate})
	require.Equal(t, []string{events.ActionUnitCreate}, sink.actions())
	closeDispatcher(t, d)
}

func TestDispatcherSurvivesCanceledContext(t *testing.T) {
	sink := &recordingSink{}
	d := events.NewDispatcher(events.ModeDB, sink, nil, 8)
	ctx, cancel := context.WithCancel(context.Background())
	d.Emit(ctx, events.Event{Action: events.ActionPlanApply})
	cancel()
	closeDispatcher(t, d)
	require.Equal(t, []string{events.ActionPlanApply}, sink.actions())
}

func TestDispatcherLogsSinkFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := &recordingSink{fail: errors.New("disk full")}
	d := events.NewDispatcher(events.ModeAll, sink, zap.New(core), 2)
	d.Emit(context.Background(), events.Event{Action: events.ActionPlanReject, TargetType: "plan", TargetID: "p9", Payload: events.EventPayload{"reason": "budget"}})
	closeDispatcher(t, d)

	require.Equal(t, 1, logs.FilterMessage("audit event").Len())
	failed := logs.FilterMessage("failed to store audit event").All()
	require.Len(t, failed, 1)
	require.Equal(t, "p9", failed[0].ContextMap()["target_id"])
}

// stalledSink blocks every write until released or its context ends.
type stalledSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s stalledSink) Write(ctx context.Context, _ events.Event) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcherBoundsInlineWriteWhenQueueIsFull(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := stalledSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	d := events.NewDispatcher(events.ModeDB, sink, zap.New(core), 1).WithInlineTimeout(20 * time.Millisecond)

	d.Emit(context.Background(), events.Event{Action: events.ActionPlanCreate})
	<-sink.entered // worker is stuck on the first event
	d.Emit(context.Background(), events.Event{Action: events.ActionPlanSubmit})

	start := time.Now()
	d.Emit(context.Background(), events.Event{Action: events.ActionPlanApply, TargetID: "p3"})
	require.Less(t, time.Since(start), 2*time.Second)

	failed := logs.FilterMessage("failed to store audit event").All()
	require.Len(t, failed, 1)
	require.Equal(t, "p3", failed[0].ContextMap()["target_id"])

	close(sink.release)
	closeDispatcher(t, d)
}

func TestDispatcherModes(t *testing.T) {
	for _, tc := range []struct {
		mode     string
		stored   int
		logLines int
	}{
		{events.ModeAll, 1, 1},
		{events.ModeDB, 1, 0},
		{events.ModeLog, 0, 1},
		{events.ModeOff, 0, 0},
	} {
		t.Run(tc.mode, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			sink := &recordingSink{}
			d := events.NewDispatcher(tc.mode, sink, zap.New(core), 1)
			d.Emit(context.Background(), events.Event{Action: events.ActionUnitCreate})
			closeDispatcher(t, d)
			require.Len(t, sink.actions(), tc.stored)
			require.Equal(t, tc.logLines, logs.FilterMessage("audit event").Len())
		})
	}
}

func TestStoreSinkPersistsContext(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	r := repo.Repo{DB: conn}

	sink := events.StoreSink{Repo: r}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(ctx, events.Event{
		TS: ts, ActorID: "admin", Action: events.ActionMembershipApply, TargetType: "membership", TargetID: "m1",
		Payload: events.EventPayload{"plan_id": "p1", "seq": 3},
	}))
	require.NoError(t, sink.Write(ctx, events.Event{Action: events.ActionPlanApply, TargetType: "plan", TargetID: "p1"}))

	got, err := r.ListEvents(ctx, repo.EventFilters{TargetType: "membership"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "2024-05-01T12:00:00Z", got[0].TS)
	require.Equal(t, "admin", got[0].ActorID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(got[0].Context), &payload))
	require.Equal(t, "p1", payload["plan_id"])
	require.EqualValues(t, 3, payload["seq"])

	all, err := r.ListEvents(ctx, repo.EventFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, events.ActionPlanApply, all[0].Action)
	require.Equal(t, "{}", all[0].Context)
}
