package repo

import (
	"context"
	"fmt"
	"strings"

	"cadreline/internal/domain"
)

func (r Repo) InsertEvent(ctx context.Context, e domain.Event) (int64, error) {
	if e.Context == "" {
		e.Context = "{}"
	}
	res, err := r.q().ExecContext(ctx, `INSERT INTO audit_events(ts,actor_id,action,target_type,target_id,context_json) VALUES (?,?,?,?,?,?)`,
		e.TS, nullable(e.ActorID), e.Action, e.TargetType, e.TargetID, e.Context)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type EventFilters struct {
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	// Cursor returns events with id below it, newest first.
	Cursor int64
	Limit  int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.TargetType != "" {
		clauses = append(clauses, "target_type=?")
		args = append(args, f.TargetType)
	}
	if f.TargetID != "" {
		clauses = append(clauses, "target_id=?")
		args = append(args, f.TargetID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,COALESCE(actor_id,''),action,target_type,target_id,context_json FROM audit_events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Context); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
