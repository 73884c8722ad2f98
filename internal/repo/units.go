package repo

import (
	"context"
	"database/sql"
	"errors"

	"cadreline/internal/db"
	"cadreline/internal/domain"
)

const unitColumns = `id,name,code,unit_type,parent_id,sort_order,is_active,created_at,updated_at`

func scanUnit(row rowScanner) (domain.OrgUnit, error) {
	var u domain.OrgUnit
	var code, parent sql.NullString
	var active int
	if err := row.Scan(&u.ID, &u.Name, &code, &u.Type, &parent, &u.SortOrder, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return u, err
	}
	u.Code = ptrFromNull(code)
	u.ParentID = ptrFromNull(parent)
	u.Active = active == 1
	return u, nil
}

func (r Repo) InsertUnit(ctx context.Context, u domain.OrgUnit) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO org_units(`+unitColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, nullableStringPtr(u.Code), u.Type, nullableStringPtr(u.ParentID), u.SortOrder, boolInt(u.Active), u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err, "org_units.code") {
		return &domain.DuplicateCodeError{Kind: "unit", Code: *u.Code}
	}
	return err
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.OrgUnit, error) {
	u, err := scanUnit(r.q().QueryRowContext(ctx, `SELECT `+unitColumns+` FROM org_units WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, notFound("unit", id)
	}
	return u, err
}

// ListUnits returns every unit ordered for display: parent, sort order, name.
func (r Repo) ListUnits(ctx context.Context) ([]domain.OrgUnit, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+unitColumns+` FROM org_units ORDER BY COALESCE(parent_id,''), sort_order, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ListChildUnits returns the direct children of parentID ("" for roots) in sibling order.
func (r Repo) ListChildUnits(ctx context.Context, parentID string) ([]domain.OrgUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM org_units WHERE parent_id=? ORDER BY sort_order, name, id`
	args := []any{parentID}
	if parentID == "" {
		query = `SELECT ` + unitColumns + ` FROM org_units WHERE parent_id IS NULL ORDER BY sort_order, name, id`
		args = nil
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) SetUnitParent(ctx context.Context, id string, parentID *string, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE org_units SET parent_id=?, updated_at=? WHERE id=?`, nullableStringPtr(parentID), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("unit", id)
	}
	return nil
}

func (r Repo) SetUnitSortOrder(ctx context.Context, id string, order int, updatedAt string) error {
	_, err := r.q().ExecContext(ctx, `UPDATE org_units SET sort_order=?, updated_at=? WHERE id=?`, order, updatedAt, id)
	return err
}

func (r Repo) SetUnitActive(ctx context.Context, id string, active bool, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE org_units SET is_active=?, updated_at=? WHERE id=?`, boolInt(active), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("unit", id)
	}
	return nil
}

func (r Repo) CountChildUnits(ctx context.Context, id string) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM org_units WHERE parent_id=?`, id).Scan(&n)
	return n, err
}

func (r Repo) DeleteUnit(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM org_units WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("unit", id)
	}
	return nil
}
