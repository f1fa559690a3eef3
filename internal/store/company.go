package store

import (
	"database/sql"
	"fmt"

	"github.com/rowanvale/mise/internal/model"
)

type CompanyStore struct {
	db *sql.DB
}

func NewCompanyStore(db *sql.DB) *CompanyStore {
	return &CompanyStore{db: db}
}

func scanCompany(scanner interface{ Scan(...any) error }) (*model.Company, error) {
	var c model.Company
	var ownerID sql.NullInt64
	err := scanner.Scan(&c.ID, &c.Name, &ownerID, &c.BillingCustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		c.OwnerID = &ownerID.Int64
	}
	return &c, nil
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	err := scanner.Scan(&m.ID, &m.CompanyID, &m.UserID, &m.Role, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const companyCols = `id, name, owner_id, billing_customer_id, created_at, updated_at`
const membershipCols = `id, company_id, user_id, role, is_active, created_at, updated_at`

func (s *CompanyStore) Create(name string) (*model.Company, error) {
	result, err := s.db.Exec(`INSERT INTO companies (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert company: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *CompanyStore) GetByID(id int64) (*model.Company, error) {
	row := s.db.QueryRow(`SELECT `+companyCols+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

func (s *CompanyStore) List() ([]model.Company, error) {
	rows, err := s.db.Query(`SELECT ` + companyCols + ` FROM companies ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func (s *CompanyStore) Update(id int64, name string) (*model.Company, error) {
	_, err := s.db.Exec(
		`UPDATE companies SET name = ?, updated_at = datetime('now') WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update company: %w", err)
	}
	return s.GetByID(id)
}

func (s *CompanyStore) SetBillingCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE companies SET billing_customer_id = ?, updated_at = datetime('now') WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("set billing customer id: %w", err)
	}
	return nil
}

func (s *CompanyStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	return nil
}

// SetOwnerIf sets the company's owner only while the current owner column
// still holds expect (nil meaning NULL). Returns true if the row changed,
// so concurrent legitimate updates are never clobbered.
func (s *CompanyStore) SetOwnerIf(companyID int64, expect *int64, ownerID int64) (bool, error) {
	var result sql.Result
	var err error
	if expect == nil {
		result, err = s.db.Exec(
			`UPDATE companies SET owner_id = ?, updated_at = datetime('now') WHERE id = ? AND owner_id IS NULL`,
			ownerID, companyID,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE companies SET owner_id = ?, updated_at = datetime('now') WHERE id = ? AND owner_id = ?`,
			ownerID, companyID, *expect,
		)
	}
	if err != nil {
		return false, fmt.Errorf("set company owner: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *CompanyStore) AddMember(companyID, userID int64, role string) (*model.Membership, error) {
	result, err := s.db.Exec(
		`INSERT INTO memberships (company_id, user_id, role) VALUES (?, ?, ?)`,
		companyID, userID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+membershipCols+` FROM memberships WHERE id = ?`, id)
	return scanMembership(row)
}

func (s *CompanyStore) GetMember(companyID, userID int64) (*model.Membership, error) {
	row := s.db.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE company_id = ? AND user_id = ?`,
		companyID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *CompanyStore) ListMembers(companyID int64) ([]model.Membership, error) {
	rows, err := s.db.Query(
		`SELECT `+membershipCols+` FROM memberships WHERE company_id = ? ORDER BY created_at ASC, id ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ListActiveMembershipsForUser returns the user's active memberships in
// join order, oldest first. The tenant resolver relies on this ordering.
func (s *CompanyStore) ListActiveMembershipsForUser(userID int64) ([]model.Membership, error) {
	rows, err := s.db.Query(
		`SELECT `+membershipCols+` FROM memberships WHERE user_id = ? AND is_active = 1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships for user: %w", err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *CompanyStore) UpdateMemberRole(companyID, userID int64, role string) (*model.Membership, error) {
	_, err := s.db.Exec(
		`UPDATE memberships SET role = ?, updated_at = datetime('now') WHERE company_id = ? AND user_id = ?`,
		role, companyID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	return s.GetMember(companyID, userID)
}

// RepairOwnerMembershipIf forces the membership binding userID to
// companyID into an active owner role, but only while it is still
// drifted. Returns true if the row changed, false when a concurrent
// update already fixed it.
func (s *CompanyStore) RepairOwnerMembershipIf(companyID, userID int64, ownerRole string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE memberships SET role = ?, is_active = 1, updated_at = datetime('now')
		 WHERE company_id = ? AND user_id = ? AND (role <> ? OR is_active = 0)`,
		ownerRole, companyID, userID, ownerRole,
	)
	if err != nil {
		return false, fmt.Errorf("repair owner membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *CompanyStore) SetMemberActive(companyID, userID int64, active bool) error {
	_, err := s.db.Exec(
		`UPDATE memberships SET is_active = ?, updated_at = datetime('now') WHERE company_id = ? AND user_id = ?`,
		active, companyID, userID,
	)
	if err != nil {
		return fmt.Errorf("set member active: %w", err)
	}
	return nil
}

// DeactivateMembershipIf deactivates a membership only while it is still
// active. Returns true if the row changed.
func (s *CompanyStore) DeactivateMembershipIf(membershipID int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE memberships SET is_active = 0, updated_at = datetime('now') WHERE id = ? AND is_active = 1`,
		membershipID,
	)
	if err != nil {
		return false, fmt.Errorf("deactivate membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListOrphanedMemberships returns memberships whose company row no longer
// exists.
func (s *CompanyStore) ListOrphanedMemberships() ([]model.Membership, error) {
	rows, err := s.db.Query(
		`SELECT ` + membershipCols + ` FROM memberships m
		 WHERE is_active = 1 AND NOT EXISTS (SELECT 1 FROM companies c WHERE c.id = m.company_id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphaned memberships: %w", err)
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphaned membership: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}
