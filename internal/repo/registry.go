package repo

import (
	"context"
	"database/sql"
	"errors"

	"cadreline/internal/domain"
)

const conflictColumns = `id,cadre_a,cadre_b,conflict_type,severity,COALESCE(note,''),is_active,created_at,updated_at`

func scanConflictPair(row rowScanner) (domain.ConflictPair, error) {
	var p domain.ConflictPair
	var active int
	if err := row.Scan(&p.ID, &p.CadreA, &p.CadreB, &p.Type, &p.Severity, &p.Note, &active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Active = active == 1
	return p, nil
}

// InsertConflictPair expects a canonical pair (CadreA < CadreB).
func (r Repo) InsertConflictPair(ctx context.Context, p domain.ConflictPair) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO conflict_pairs(id,cadre_a,cadre_b,conflict_type,severity,note,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CadreA, p.CadreB, p.Type, p.Severity, nullable(p.Note), boolInt(p.Active), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetConflictPair(ctx context.Context, id string) (domain.ConflictPair, error) {
	p, err := scanConflictPair(r.q().QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflict_pairs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFound("conflict pair", id)
	}
	return p, err
}

// FindConflictPair looks up the canonical pair a < b regardless of its active flag.
func (r Repo) FindConflictPair(ctx context.Context, a, b string) (domain.ConflictPair, error) {
	p, err := scanConflictPair(r.q().QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflict_pairs WHERE cadre_a=? AND cadre_b=?`, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFound("conflict pair", a+"/"+b)
	}
	return p, err
}

func (r Repo) UpdateConflictPair(ctx context.Context, p domain.ConflictPair) error {
	res, err := r.q().ExecContext(ctx, `UPDATE conflict_pairs SET conflict_type=?, severity=?, note=?, is_active=?, updated_at=? WHERE id=?`,
		p.Type, p.Severity, nullable(p.Note), boolInt(p.Active), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("conflict pair", p.ID)
	}
	return nil
}

// ActiveConflictRows returns open rows over the active pairs touching cadreID.
// The caller owns rows and must close them.
func (r Repo) ActiveConflictRows(ctx context.Context, cadreID string) (*sql.Rows, error) {
	return r.q().QueryContext(ctx, `SELECT `+conflictColumns+` FROM conflict_pairs WHERE is_active=1 AND (cadre_a=? OR cadre_b=?) ORDER BY CASE severity WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END, id`,
		cadreID, cadreID)
}

// ScanConflictPair decodes one row produced by ActiveConflictRows.
func ScanConflictPair(rows *sql.Rows) (domain.ConflictPair, error) {
	return scanConflictPair(rows)
}

type ConflictFilters struct {
	CadreID    string
	Severity   domain.Severity
	ActiveOnly bool
	Limit      int
}

func (r Repo) ListConflictPairs(ctx context.Context, f ConflictFilters) ([]domain.ConflictPair, error) {
	var clauses []string
	var args []any
	if f.CadreID != "" {
		clauses = append(clauses, "(cadre_a=? OR cadre_b=?)")
		args = append(args, f.CadreID, f.CadreID)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, f.Severity)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	query := `SELECT ` + conflictColumns + ` FROM conflict_pairs` + where(clauses) + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConflictPair
	for rows.Next() {
		p, err := scanConflictPair(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const riskColumns = `id,cadre_id,tag_type,severity,COALESCE(reason,''),is_active,created_at,updated_at`

func scanRiskTag(row rowScanner) (domain.RiskTag, error) {
	var t domain.RiskTag
	var active int
	if err := row.Scan(&t.ID, &t.CadreID, &t.TagType, &t.Severity, &t.Reason, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.Active = active == 1
	return t, nil
}

// GetRiskTag returns the cadre's tag whether active or not.
func (r Repo) GetRiskTag(ctx context.Context, cadreID string) (domain.RiskTag, error) {
	t, err := scanRiskTag(r.q().QueryRowContext(ctx, `SELECT `+riskColumns+` FROM risk_tags WHERE cadre_id=?`, cadreID))
	if errors.Is(err, sql.ErrNoRows) {
		return t, notFound("risk tag", cadreID)
	}
	return t, err
}

// UpsertRiskTag keeps one tag per cadre; the original id and created_at survive updates.
func (r Repo) UpsertRiskTag(ctx context.Context, t domain.RiskTag) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO risk_tags(id,cadre_id,tag_type,severity,reason,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(cadre_id) DO UPDATE SET tag_type=excluded.tag_type, severity=excluded.severity, reason=excluded.reason,
is_active=excluded.is_active, updated_at=excluded.updated_at`,
		t.ID, t.CadreID, t.TagType, t.Severity, nullable(t.Reason), boolInt(t.Active), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) SetRiskTagActive(ctx context.Context, cadreID string, active bool, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE risk_tags SET is_active=?, updated_at=? WHERE cadre_id=?`, boolInt(active), updatedAt, cadreID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("risk tag", cadreID)
	}
	return nil
}
