package db

import (
	"database/sql"
	"time"
)

// historyCap is how many sync_history rows a device keeps.
const historyCap = 5000

// SyncHistoryEntry is one line of the device's sync log: a pushed action's
// outcome, a pull, or a cycle-level error.
type SyncHistoryEntry struct {
	ID             int64     `json:"id"`
	Direction      string    `json:"direction"` // push | pull
	Outcome        string    `json:"outcome"`   // applied | conflict | failed | error | ok
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	ActionType     string    `json:"action_type,omitempty"`
	AppointmentID  string    `json:"appointment_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecordSyncHistory appends entries, then drops the oldest rows beyond the cap.
func (db *DB) RecordSyncHistory(entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.withTx(func(tx *sql.Tx) error {
		for _, e := range entries {
			if e.Timestamp.IsZero() {
				e.Timestamp = db.now()
			}
			if _, err := tx.Exec(`INSERT INTO sync_history
				(direction, outcome, idempotency_key, action_type, appointment_id, detail, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.Direction, e.Outcome, e.IdempotencyKey, e.ActionType, e.AppointmentID, e.Detail, formatTime(e.Timestamp),
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`DELETE FROM sync_history
			WHERE id <= (SELECT MAX(id) FROM sync_history) - ?`, historyCap)
		return err
	})
}

// RecentSyncHistory returns up to limit of the newest entries, oldest first.
func (db *DB) RecentSyncHistory(limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.Query(`SELECT * FROM (
			SELECT id, direction, outcome, idempotency_key, action_type, appointment_id, detail, timestamp
			FROM sync_history ORDER BY id DESC LIMIT ?
		) ORDER BY id`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncHistoryEntry
	for rows.Next() {
		var (
			e  SyncHistoryEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.Direction, &e.Outcome, &e.IdempotencyKey, &e.ActionType, &e.AppointmentID, &e.Detail, &ts); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
