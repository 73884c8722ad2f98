package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cadreline/internal/db"
	"cadreline/internal/domain"
)

const membershipColumns = `id,cadre_id,unit_id,role,is_primary,start_date,end_date,status,created_at,updated_at`

// ErrPrimaryIndex is returned when the one-active-primary index rejects a write.
var ErrPrimaryIndex = errors.New("active primary membership already exists")

func scanMembership(row rowScanner) (domain.Membership, error) {
	var m domain.Membership
	var primary int
	var end sql.NullString
	if err := row.Scan(&m.ID, &m.CadreID, &m.UnitID, &m.Role, &primary, &m.StartDate, &end, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.IsPrimary = primary == 1
	m.EndDate = ptrFromNull(end)
	return m, nil
}

func (r Repo) InsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO memberships(`+membershipColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CadreID, m.UnitID, m.Role, boolInt(m.IsPrimary), m.StartDate, nullableStringPtr(m.EndDate), m.Status, m.CreatedAt, m.UpdatedAt)
	if db.IsUniqueViolation(err, "memberships.cadre_id") {
		return ErrPrimaryIndex
	}
	return err
}

func (r Repo) GetMembership(ctx context.Context, id string) (domain.Membership, error) {
	m, err := scanMembership(r.q().QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, notFound("membership", id)
	}
	return m, err
}

// EndMembership marks an active membership INACTIVE. It reports whether a row changed.
func (r Repo) EndMembership(ctx context.Context, id, endDate, updatedAt string) (bool, error) {
	res, err := r.q().ExecContext(ctx, `UPDATE memberships SET status=?, end_date=?, updated_at=? WHERE id=? AND status=?`,
		domain.MembershipInactive, endDate, updatedAt, id, domain.MembershipActive)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetMembershipRole changes the role of an active membership.
func (r Repo) SetMembershipRole(ctx context.Context, id string, role domain.Role, updatedAt string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE memberships SET role=?, updated_at=? WHERE id=? AND status=?`,
		role, updatedAt, id, domain.MembershipActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("active membership", id)
	}
	return nil
}

// DemoteLeaders turns every other active LEADER at unitID into a MEMBER and returns their ids.
func (r Repo) DemoteLeaders(ctx context.Context, unitID, keepID, updatedAt string) ([]string, error) {
	leaders, err := r.ListMemberships(ctx, MembershipFilters{UnitIDs: []string{unitID}, Status: domain.MembershipActive, Role: domain.RoleLeader})
	if err != nil {
		return nil, err
	}
	var demoted []string
	for _, m := range leaders {
		if m.ID == keepID {
			continue
		}
		if err := r.SetMembershipRole(ctx, m.ID, domain.RoleMember, updatedAt); err != nil {
			return nil, err
		}
		demoted = append(demoted, m.ID)
	}
	return demoted, nil
}

// ActivePrimary returns the cadre's active primary membership or ErrNotFound.
func (r Repo) ActivePrimary(ctx context.Context, cadreID string) (domain.Membership, error) {
	m, err := scanMembership(r.q().QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE cadre_id=? AND status=? AND is_primary=1`,
		cadreID, domain.MembershipActive))
	if errors.Is(err, sql.ErrNoRows) {
		return m, notFound("primary membership", cadreID)
	}
	return m, err
}

type MembershipFilters struct {
	CadreID     string
	UnitIDs     []string
	Status      domain.MembershipStatus
	Role        domain.Role
	PrimaryOnly bool
	// Search matches a substring of the cadre's name, code or position.
	Search string
	Limit  int
}

func (r Repo) ListMemberships(ctx context.Context, f MembershipFilters) ([]domain.Membership, error) {
	var clauses []string
	var args []any
	if f.CadreID != "" {
		clauses = append(clauses, "cadre_id=?")
		args = append(args, f.CadreID)
	}
	if len(f.UnitIDs) > 0 {
		clauses = append(clauses, "unit_id IN ("+placeholders(len(f.UnitIDs))+")")
		for _, id := range f.UnitIDs {
			args = append(args, id)
		}
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.PrimaryOnly {
		clauses = append(clauses, "is_primary=1")
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + q + "%"
		clauses = append(clauses, "cadre_id IN (SELECT id FROM cadres WHERE name LIKE ? OR code LIKE ? OR IFNULL(position,'') LIKE ?)")
		args = append(args, like, like, like)
	}
	query := `SELECT ` + membershipColumns + ` FROM memberships` + where(clauses) + ` ORDER BY status, start_date DESC, created_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) CountActiveMemberships(ctx context.Context, unitID string) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE unit_id=? AND status=?`, unitID, domain.MembershipActive).Scan(&n)
	return n, err
}

// CountActivePrimaryViolations returns the number of cadres holding more than one active primary; it must stay 0.
func (r Repo) CountActivePrimaryViolations(ctx context.Context) (int, error) {
	var n int
	err := r.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM (SELECT cadre_id FROM memberships WHERE status=? AND is_primary=1 GROUP BY cadre_id HAVING COUNT(*) > 1)`,
		domain.MembershipActive).Scan(&n)
	return n, err
}
