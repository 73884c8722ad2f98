package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"cadreline/internal/domain"
)

const planColumns = `id,title,COALESCE(description,''),status,created_by,approved_by,COALESCE(reject_reason,''),created_at,updated_at,submitted_at,approved_at,rejected_at,applied_at,canceled_at`

func scanPlan(row rowScanner) (domain.Plan, error) {
	var p domain.Plan
	var approvedBy, submittedAt, approvedAt, rejectedAt, appliedAt, canceledAt sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.CreatedBy, &approvedBy, &p.RejectReason,
		&p.CreatedAt, &p.UpdatedAt, &submittedAt, &approvedAt, &rejectedAt, &appliedAt, &canceledAt); err != nil {
		return p, err
	}
	p.ApprovedBy = ptrFromNull(approvedBy)
	p.SubmittedAt = ptrFromNull(submittedAt)
	p.ApprovedAt = ptrFromNull(approvedAt)
	p.RejectedAt = ptrFromNull(rejectedAt)
	p.AppliedAt = ptrFromNull(appliedAt)
	p.CanceledAt = ptrFromNull(canceledAt)
	return p, nil
}

func (r Repo) InsertPlan(ctx context.Context, p domain.Plan) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO plans(id,title,description,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := scanPlan(r.q().QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFound("plan", id)
	}
	return p, err
}

// UpdatePlanStatus writes the status and every workflow stamp of p.
func (r Repo) UpdatePlanStatus(ctx context.Context, p domain.Plan) error {
	res, err := r.q().ExecContext(ctx, `UPDATE plans SET status=?, approved_by=?, reject_reason=?, updated_at=?, submitted_at=?, approved_at=?, rejected_at=?, applied_at=?, canceled_at=? WHERE id=?`,
		p.Status, nullableStringPtr(p.ApprovedBy), nullable(p.RejectReason), p.UpdatedAt,
		nullableStringPtr(p.SubmittedAt), nullableStringPtr(p.ApprovedAt), nullableStringPtr(p.RejectedAt),
		nullableStringPtr(p.AppliedAt), nullableStringPtr(p.CanceledAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("plan", p.ID)
	}
	return nil
}

func (r Repo) TouchPlan(ctx context.Context, id, updatedAt string) error {
	_, err := r.q().ExecContext(ctx, `UPDATE plans SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

type PlanFilters struct {
	Status          domain.PlanStatus
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.Plan, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + planColumns + ` FROM plans` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const moveColumns = `id,plan_id,seq,cadre_id,from_unit_id,to_unit_id,move_type,role,COALESCE(reason,''),risk_snapshot_json,created_by,created_at`

func scanMove(row rowScanner) (domain.Move, error) {
	var m domain.Move
	var from, to, snapshot sql.NullString
	if err := row.Scan(&m.ID, &m.PlanID, &m.Seq, &m.CadreID, &from, &to, &m.Type, &m.Role, &m.Reason, &snapshot, &m.CreatedBy, &m.CreatedAt); err != nil {
		return m, err
	}
	m.FromUnitID = ptrFromNull(from)
	m.ToUnitID = ptrFromNull(to)
	if snapshot.Valid && snapshot.String != "" {
		m.RiskSnapshot = json.RawMessage(snapshot.String)
	}
	return m, nil
}

// NextMoveSeq returns the sequence number for the next move appended to planID.
func (r Repo) NextMoveSeq(ctx context.Context, planID string) (int, error) {
	var seq int
	err := r.q().QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM plan_moves WHERE plan_id=?`, planID).Scan(&seq)
	return seq, err
}

func (r Repo) InsertMove(ctx context.Context, m domain.Move) error {
	var snapshot any
	if len(m.RiskSnapshot) > 0 {
		snapshot = string(m.RiskSnapshot)
	}
	_, err := r.q().ExecContext(ctx, `INSERT INTO plan_moves(id,plan_id,seq,cadre_id,from_unit_id,to_unit_id,move_type,role,reason,risk_snapshot_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.PlanID, m.Seq, m.CadreID, nullableStringPtr(m.FromUnitID), nullableStringPtr(m.ToUnitID), m.Type, m.Role, nullable(m.Reason), snapshot, m.CreatedBy, m.CreatedAt)
	return err
}

func (r Repo) DeleteMove(ctx context.Context, planID, moveID string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM plan_moves WHERE plan_id=? AND id=?`, planID, moveID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("move", moveID)
	}
	return nil
}

// ListMoves returns the plan's moves in stored order.
func (r Repo) ListMoves(ctx context.Context, planID string) ([]domain.Move, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+moveColumns+` FROM plan_moves WHERE plan_id=? ORDER BY seq`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Move
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
