package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Migration upgrades a device database created by an older release.
type Migration struct {
	Version     int
	Description string
	SQL         string
	// AddsColumn names a "table.column" the SQL creates; the step is skipped
	// when the column is already there (fresh databases get it from schema).
	AddsColumn [2]string
}

// Migrations run in order; a device at version N applies every step above N.
var Migrations = []Migration{
	{
		Version:     2,
		Description: "count send attempts per queue entry",
		SQL:         `ALTER TABLE queue_entries ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0`,
		AddsColumn:  [2]string{"queue_entries", "attempts"},
	},
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	return n > 0, err
}

// GetSchemaVersion returns the stored schema version, 0 for a database that
// predates versioning.
func (db *DB) GetSchemaVersion() (int, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q: %w", raw, err)
	}
	return v, nil
}

func (db *DB) setSchemaVersion(v int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(v))
	return err
}

// migrate brings the schema up to SchemaVersion. Callers hold the write lock.
func (db *DB) migrate() error {
	current, err := db.GetSchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		apply := true
		if table, col := m.AddsColumn[0], m.AddsColumn[1]; table != "" {
			exists, err := db.hasColumn(table, col)
			if err != nil {
				return fmt.Errorf("inspect %s.%s: %w", table, col, err)
			}
			apply = !exists
		}
		if apply {
			if _, err := db.conn.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}
		if err := db.setSchemaVersion(m.Version); err != nil {
			return err
		}
		current = m.Version
	}
	if current < SchemaVersion {
		return db.setSchemaVersion(SchemaVersion)
	}
	return nil
}
