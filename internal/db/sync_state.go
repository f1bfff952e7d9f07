package db

import (
	"database/sql"
	"time"
)

// SyncState is the single bookkeeping row for the sync engine.
type SyncState struct {
	LastPushAt          *time.Time
	LastPullAt          *time.Time
	WindowFrom          *time.Time
	WindowTo            *time.Time
	ConsecutiveFailures int
	LastError           string
}

// GetSyncState returns the sync bookkeeping row; a zero state if none yet.
func (db *DB) GetSyncState() (SyncState, error) {
	var (
		s                      SyncState
		push, pull, wFrom, wTo sql.NullString
	)
	err := db.conn.QueryRow(`
		SELECT last_push_at, last_pull_at, window_from, window_to, consecutive_failures, last_error
		FROM sync_state WHERE id = 1
	`).Scan(&push, &pull, &wFrom, &wTo, &s.ConsecutiveFailures, &s.LastError)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{push, &s.LastPushAt}, {pull, &s.LastPullAt}, {wFrom, &s.WindowFrom}, {wTo, &s.WindowTo}} {
		t, err := parseNullTime(f.src)
		if err != nil {
			return s, err
		}
		*f.dst = t
	}
	return s, nil
}

func (db *DB) ensureSyncState(tx *sql.Tx) error {
	_, err := tx.Exec(`INSERT INTO sync_state (id) VALUES (1) ON CONFLICT(id) DO NOTHING`)
	return err
}

func (db *DB) updateSyncState(query string, args ...any) error {
	return db.withTx(func(tx *sql.Tx) error {
		if err := db.ensureSyncState(tx); err != nil {
			return err
		}
		_, err := tx.Exec(query, args...)
		return err
	})
}

// RecordPush stamps a completed drain and clears the failure streak.
func (db *DB) RecordPush(at time.Time) error {
	return db.updateSyncState(`UPDATE sync_state SET last_push_at = ?, consecutive_failures = 0, last_error = '' WHERE id = 1`,
		formatTime(at))
}

// RecordPull stamps a completed pull and the window it covered.
func (db *DB) RecordPull(at, from, to time.Time) error {
	return db.updateSyncState(`UPDATE sync_state SET last_pull_at = ?, window_from = ?, window_to = ? WHERE id = 1`,
		formatTime(at), formatTime(from), formatTime(to))
}

// RecordFailure increments the failure streak and returns its new length.
func (db *DB) RecordFailure(reason string) (int, error) {
	var n int
	err := db.withTx(func(tx *sql.Tx) error {
		if err := db.ensureSyncState(tx); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE sync_state SET consecutive_failures = consecutive_failures + 1, last_error = ? WHERE id = 1`, reason); err != nil {
			return err
		}
		return tx.QueryRow(`SELECT consecutive_failures FROM sync_state WHERE id = 1`).Scan(&n)
	})
	return n, err
}

// ResetFailures clears the failure streak.
func (db *DB) ResetFailures() error {
	return db.updateSyncState(`UPDATE sync_state SET consecutive_failures = 0, last_error = '' WHERE id = 1`)
}
