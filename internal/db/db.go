// Package db is the reception device's local store: the offline action
// queue, the appointment snapshot read model and sync bookkeeping, kept in
// a single sqlite file.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "salonsync.db"

// tsLayout is fixed-width so that text comparison matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound is returned when a queue entry does not exist.
	ErrNotFound = errors.New("queue entry not found")
	// ErrInvalidTransition is returned for status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotRemovable is returned when discarding an entry that is not conflict/failed.
	ErrNotRemovable = errors.New("only conflict or failed entries can be removed")
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	dir  string
	now  func() time.Time
}

// StaleProcessingAfter is how long an entry may sit in processing before it
// is assumed orphaned by a killed process. Longer than any push request.
const StaleProcessingAfter = 2 * time.Minute

// Open opens (creating if needed) the store in dir, runs pending migrations
// and returns entries orphaned in processing by a killed process to pending.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, dbFile)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the monitor read while the CLI writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// FULL: a queued action must survive power loss at the front desk
	conn.Exec("PRAGMA synchronous=FULL")

	db := &DB{conn: conn, dir: dir, now: time.Now}

	if err := db.withWriteLock(func() error {
		if _, err := conn.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return db.migrate()
	}); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := db.RecoverStale(StaleProcessingAfter); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recover processing entries: %w", err)
	}

	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dir returns the data directory holding the database file
func (db *DB) Dir() string {
	return db.dir
}

// Conn returns the underlying connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// SetClock overrides the time source used for created/updated stamps.
func (db *DB) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	db.now = now
}

// withWriteLock executes fn while holding the cross-process write lock.
func (db *DB) withWriteLock(fn func() error) error {
	locker := newWriteLocker(db.dir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// withTx runs fn in a transaction under the write lock.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// parseTimestamp accepts the store layout and the formats sqlite's own
// CURRENT_TIMESTAMP and RFC3339 produce.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		tsLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: tsLayout, Value: s}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
