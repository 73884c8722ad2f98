package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"cadreline/internal/domain"
	"cadreline/internal/repo"
)

// Sink persists or forwards one event.
type Sink interface {
	Write(ctx context.Context, evt Event) error
}

// StoreSink appends events to the audit_events table.
type StoreSink struct {
	Repo repo.Repo
}

func (s StoreSink) Write(ctx context.Context, evt Event) error {
	if evt.TS.IsZero() {
		evt.TS = time.Now()
	}
	payload := evt.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	_, err = s.Repo.InsertEvent(ctx, domain.Event{
		TS:         evt.TS.UTC().Format(time.RFC3339),
		ActorID:    evt.ActorID,
		Action:     evt.Action,
		TargetType: evt.TargetType,
		TargetID:   evt.TargetID,
		Context:    string(data),
	})
	return err
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Write(_ context.Context, evt Event) error {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("action", evt.Action),
		zap.String("target_type", evt.TargetType),
		zap.String("target_id", evt.TargetID),
	}
	if evt.ActorID != "" {
		fields = append(fields, zap.String("actor_id", evt.ActorID))
	}
	if len(evt.Payload) > 0 {
		fields = append(fields, zap.Any("context", map[string]any(evt.Payload)))
	}
	s.Log.Info("audit event", fields...)
	return nil
}
