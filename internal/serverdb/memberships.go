package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Membership represents a user's role in a business.
type Membership struct {
	BusinessID string    `db:"business_id"`
	UserID     string    `db:"user_id"`
	Role       string    `db:"role"`
	CreatedAt  time.Time `db:"created_at"`
}

// AddMember adds a user to a business with the given role.
func (db *ServerDB) AddMember(businessID, userID, role string) (*Membership, error) {
	if !isValidRole(role) {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	var exists int
	if err := db.conn.Get(&exists, db.conn.Rebind(`SELECT 1 FROM businesses WHERE id = ?`), businessID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("business not found: %s", businessID)
		}
		return nil, fmt.Errorf("check business: %w", err)
	}
	if err := db.conn.Get(&exists, db.conn.Rebind(`SELECT 1 FROM users WHERE id = ?`), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %s", userID)
		}
		return nil, fmt.Errorf("check user: %w", err)
	}

	m := &Membership{BusinessID: businessID, UserID: userID, Role: role, CreatedAt: db.nowUTC()}
	_, err := db.conn.NamedExec(
		`INSERT INTO memberships (business_id, user_id, role, created_at) VALUES (:business_id, :user_id, :role, :created_at)`, m)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return m, nil
}

// GetMembership returns a user's membership in a business, or nil if not found.
func (db *ServerDB) GetMembership(businessID, userID string) (*Membership, error) {
	m := &Membership{}
	err := db.conn.Get(m, db.conn.Rebind(
		`SELECT business_id, user_id, role, created_at FROM memberships WHERE business_id = ? AND user_id = ?`),
		businessID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// UserMembership is a membership joined with its business name.
type UserMembership struct {
	BusinessID   string `db:"business_id" json:"business_id"`
	BusinessName string `db:"business_name" json:"business_name"`
	Role         string `db:"role" json:"role"`
}

// ListUserMemberships returns every business the user belongs to.
func (db *ServerDB) ListUserMemberships(userID string) ([]UserMembership, error) {
	var out []UserMembership
	err := db.conn.Select(&out, db.conn.Rebind(`
		SELECT m.business_id, b.name AS business_name, m.role
		FROM memberships m
		JOIN businesses b ON b.id = m.business_id
		WHERE m.user_id = ?
		ORDER BY b.name, m.business_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list user memberships: %w", err)
	}
	return out, nil
}

func isValidRole(role string) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleEmployee
}
