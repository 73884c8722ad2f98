package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cadreline/internal/db"
	"cadreline/internal/domain"
)

const cadreColumns = `id,code,name,gender,birth_date,COALESCE(position,''),COALESCE(rank,''),status,created_at,updated_at`

func scanCadre(row rowScanner) (domain.Cadre, error) {
	var c domain.Cadre
	var birth sql.NullString
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Gender, &birth, &c.Position, &c.Rank, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	c.BirthDate = ptrFromNull(birth)
	return c, nil
}

// UpsertCadre inserts the cadre or refreshes its identity attributes, keyed by id.
func (r Repo) UpsertCadre(ctx context.Context, c domain.Cadre) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO cadres(id,code,name,gender,birth_date,position,rank,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name, gender=excluded.gender, birth_date=excluded.birth_date,
position=excluded.position, rank=excluded.rank, status=excluded.status, updated_at=excluded.updated_at`,
		c.ID, c.Code, c.Name, c.Gender, nullableStringPtr(c.BirthDate), nullable(c.Position), nullable(c.Rank), c.Status, c.CreatedAt, c.UpdatedAt)
	if db.IsUniqueViolation(err, "cadres.code") {
		return &domain.DuplicateCodeError{Kind: "cadre", Code: c.Code}
	}
	return err
}

func (r Repo) GetCadre(ctx context.Context, id string) (domain.Cadre, error) {
	c, err := scanCadre(r.q().QueryRowContext(ctx, `SELECT `+cadreColumns+` FROM cadres WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("cadre", id)
	}
	return c, err
}

func (r Repo) GetCadreByCode(ctx context.Context, code string) (domain.Cadre, error) {
	c, err := scanCadre(r.q().QueryRowContext(ctx, `SELECT `+cadreColumns+` FROM cadres WHERE code=?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("cadre", code)
	}
	return c, err
}

type CadreFilters struct {
	Status string
	// Query matches a substring of name or code.
	Query string
	Limit int
}

func (r Repo) ListCadres(ctx context.Context, f CadreFilters) ([]domain.Cadre, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, "(name LIKE ? OR code LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	query := `SELECT ` + cadreColumns + ` FROM cadres` + where(clauses) + ` ORDER BY name, code`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cadre
	for rows.Next() {
		c, err := scanCadre(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
