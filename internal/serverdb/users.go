package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmailTaken is returned by CreateUser when the address is already registered.
var ErrEmailTaken = errors.New("email already registered")

// User is a person who can hold API keys: an owner, a manager or a stylist.
type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const userColumns = `id, email, created_at, updated_at`

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers email (stored lowercased).
func (db *ServerDB) CreateUser(email string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	if existing, err := db.GetUserByEmail(email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%s: %w", email, ErrEmailTaken)
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}
	u := &User{ID: id, Email: email, CreatedAt: db.nowUTC()}
	u.UpdatedAt = u.CreatedAt
	if _, err := db.conn.NamedExec(
		`INSERT INTO users (`+userColumns+`) VALUES (:id, :email, :created_at, :updated_at)`, u,
	); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user or nil when there is none.
func (db *ServerDB) GetUserByID(id string) (*User, error) {
	return db.getUser("id = ?", id)
}

// GetUserByEmail looks a user up case-insensitively; nil when unknown.
func (db *ServerDB) GetUserByEmail(email string) (*User, error) {
	return db.getUser("LOWER(email) = ?", normalizeEmail(email))
}

func (db *ServerDB) getUser(where string, arg any) (*User, error) {
	var u User
	err := db.conn.Get(&u, db.conn.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
