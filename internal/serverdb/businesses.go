package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Business is one salon. Timezone is an IANA name used for the pull window.
type Business struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Timezone  string    `db:"timezone"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Location resolves the business timezone, falling back to UTC.
func (b *Business) Location() *time.Location {
	if b == nil || b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CreateBusiness inserts a business and makes ownerUserID its owner.
func (db *ServerDB) CreateBusiness(name, timezone, ownerUserID string) (*Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("business name is required")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	id, err := generateID("b_")
	if err != nil {
		return nil, fmt.Errorf("generate business id: %w", err)
	}
	now := db.nowUTC()
	b := &Business{ID: id, Name: name, Timezone: timezone, CreatedAt: now, UpdatedAt: now}

	tx, err := db.conn.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO businesses (id, name, timezone, created_at, updated_at)
		VALUES (:id, :name, :timezone, :created_at, :updated_at)`, b); err != nil {
		return nil, fmt.Errorf("insert business: %w", err)
	}
	if ownerUserID != "" {
		if _, err := tx.Exec(tx.Rebind(`INSERT INTO memberships (business_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`),
			id, ownerUserID, RoleOwner, now); err != nil {
			return nil, fmt.Errorf("add owner: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return b, nil
}

// GetBusiness returns the business, or nil if not found.
func (db *ServerDB) GetBusiness(id string) (*Business, error) {
	b := &Business{}
	err := db.conn.Get(b, db.conn.Rebind(
		`SELECT id, name, timezone, created_at, updated_at FROM businesses WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}
