package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/salonsync/salonsync/internal/models"
)

const queueColumns = `seq, idempotency_key, action_type, payload, status, created_at, updated_at, last_error, attempts`

// StatusUpdate is one status change applied by SetStatuses.
type StatusUpdate struct {
	Key       string
	Status    models.QueueStatus
	LastError string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (models.QueueEntry, error) {
	var (
		e                  models.QueueEntry
		payload            string
		created, updated   string
		actionType, status string
	)
	if err := r.Scan(&e.Seq, &e.IdempotencyKey, &actionType, &payload, &status, &created, &updated, &e.LastError, &e.Attempts); err != nil {
		return e, err
	}
	e.ActionType = models.ActionType(actionType)
	e.Status = models.QueueStatus(status)
	e.Payload = []byte(payload)
	var err error
	if e.CreatedAt, err = parseTimestamp(created); err != nil {
		return e, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTimestamp(updated); err != nil {
		return e, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}

// appointmentRef pulls the target appointment id out of a payload for
// indexing. Unparseable payloads are stored anyway; the server rejects them.
func appointmentRef(payload []byte) string {
	var v struct {
		AppointmentID string `json:"appointment_id"`
	}
	if json.Unmarshal(payload, &v) != nil {
		return ""
	}
	return v.AppointmentID
}

// Enqueue persists an entry as pending and returns the stored row. A missing
// key is generated. Enqueueing a key that already exists returns the existing
// entry unchanged.
func (db *DB) Enqueue(e models.QueueEntry) (models.QueueEntry, error) {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.NewString()
	}
	now := db.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	var stored models.QueueEntry
	err := db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO queue_entries (idempotency_key, action_type, appointment_id, payload, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING
		`, e.IdempotencyKey, string(e.ActionType), appointmentRef(e.Payload), string(e.Payload),
			formatTime(e.CreatedAt), formatTime(now))
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", e.IdempotencyKey, err)
		}
		stored, err = scanEntry(db.conn.QueryRow(`SELECT `+queueColumns+` FROM queue_entries WHERE idempotency_key = ?`, e.IdempotencyKey))
		if err != nil {
			return fmt.Errorf("read back %s: %w", e.IdempotencyKey, err)
		}
		return nil
	})
	return stored, err
}

// GetEntry returns one entry by key
func (db *DB) GetEntry(key string) (models.QueueEntry, error) {
	e, err := scanEntry(db.conn.QueryRow(`SELECT `+queueColumns+` FROM queue_entries WHERE idempotency_key = ?`, key))
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e, err
}

// ListByStatus returns entries in one status, oldest first.
func (db *DB) ListByStatus(status models.QueueStatus) ([]models.QueueEntry, error) {
	return db.ListEntries(status)
}

// ListEntries returns entries in any of the given statuses (all when none),
// ordered by created_at then insertion order.
func (db *DB) ListEntries(statuses ...models.QueueStatus) ([]models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY created_at ASC, seq ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListForAppointment returns every entry targeting an appointment, oldest first.
func (db *DB) ListForAppointment(appointmentID string) ([]models.QueueEntry, error) {
	rows, err := db.conn.Query(`SELECT `+queueColumns+` FROM queue_entries
		WHERE appointment_id = ? ORDER BY created_at ASC, seq ASC`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// setStatusTx applies one transition inside tx. Same-status is a no-op.
func (db *DB) setStatusTx(tx *sql.Tx, u StatusUpdate) error {
	var current string
	err := tx.QueryRow(`SELECT status FROM queue_entries WHERE idempotency_key = ?`, u.Key).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, u.Key)
	}
	if err != nil {
		return err
	}
	from := models.QueueStatus(current)
	if from == u.Status {
		return nil
	}
	if !models.CanTransition(from, u.Status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, u.Key, from, u.Status)
	}

	lastError := ""
	if u.Status.NeedsAttention() {
		lastError = u.LastError
	}
	attempts := 0
	if u.Status == models.QueueProcessing {
		attempts = 1
	}
	_, err = tx.Exec(`
		UPDATE queue_entries SET status = ?, last_error = ?, attempts = attempts + ?, updated_at = ?
		WHERE idempotency_key = ?
	`, string(u.Status), lastError, attempts, formatTime(db.now()), u.Key)
	return err
}

// UpdateStatus moves one entry to a new status. last_error is kept only for
// conflict and failed.
func (db *DB) UpdateStatus(key string, status models.QueueStatus, lastError string) error {
	return db.SetStatuses([]StatusUpdate{{Key: key, Status: status, LastError: lastError}})
}

// SetStatuses applies several transitions atomically. Any invalid transition
// rolls back the whole set.
func (db *DB) SetStatuses(updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return db.withTx(func(tx *sql.Tx) error {
		for _, u := range updates {
			if err := db.setStatusTx(tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkProcessing claims pending entries for sending and returns the keys it
// actually claimed, in the order given. Entries no longer pending are skipped.
func (db *DB) MarkProcessing(keys []string) ([]string, error) {
	var claimed []string
	err := db.withTx(func(tx *sql.Tx) error {
		stamp := formatTime(db.now())
		for _, k := range keys {
			res, err := tx.Exec(`
				UPDATE queue_entries SET status = 'processing', attempts = attempts + 1, updated_at = ?
				WHERE idempotency_key = ? AND status = 'pending'
			`, stamp, k)
			if err != nil {
				return fmt.Errorf("mark processing %s: %w", k, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				claimed = append(claimed, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RevertProcessing returns processing entries to pending: the listed keys,
// or every processing entry when none are given.
func (db *DB) RevertProcessing(keys ...string) (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		query := `UPDATE queue_entries SET status = 'pending', updated_at = ? WHERE status = 'processing'`
		args := []any{formatTime(db.now())}
		if len(keys) > 0 {
			query += ` AND idempotency_key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`
			for _, k := range keys {
				args = append(args, k)
			}
		}
		res, err := db.conn.Exec(query, args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// Remove deletes a conflict or failed entry (explicit user discard).
func (db *DB) Remove(key string) error {
	return db.withTx(func(tx *sql.Tx) error {
		return removeTx(tx, key)
	})
}

func removeTx(tx *sql.Tx, key string) error {
	var status string
	err := tx.QueryRow(`SELECT status FROM queue_entries WHERE idempotency_key = ?`, key).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if !models.QueueStatus(status).NeedsAttention() {
		return fmt.Errorf("%w: %s is %s", ErrNotRemovable, key, status)
	}
	_, err = tx.Exec(`DELETE FROM queue_entries WHERE idempotency_key = ?`, key)
	return err
}

// Replace swaps a conflict or failed entry for its correction in one
// transaction. Either the original is gone and e is pending, or nothing changed.
func (db *DB) Replace(oldKey string, e models.QueueEntry) (models.QueueEntry, error) {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.NewString()
	}
	if e.IdempotencyKey == oldKey {
		return models.QueueEntry{}, fmt.Errorf("replace %s: correction needs a new key", oldKey)
	}
	now := db.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	var stored models.QueueEntry
	err := db.withTx(func(tx *sql.Tx) error {
		if err := removeTx(tx, oldKey); err != nil {
			return fmt.Errorf("replace %s: %w", oldKey, err)
		}
		_, err := tx.Exec(`
			INSERT INTO queue_entries (idempotency_key, action_type, appointment_id, payload, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?, ?)
		`, e.IdempotencyKey, string(e.ActionType), appointmentRef(e.Payload), string(e.Payload),
			formatTime(e.CreatedAt), formatTime(now))
		if err != nil {
			return fmt.Errorf("replace %s: enqueue %s: %w", oldKey, e.IdempotencyKey, err)
		}
		stored, err = scanEntry(tx.QueryRow(`SELECT `+queueColumns+` FROM queue_entries WHERE idempotency_key = ?`, e.IdempotencyKey))
		return err
	})
	return stored, err
}

// CountByStatus returns entry counts for every status.
func (db *DB) CountByStatus() (models.QueueCounts, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := models.QueueCounts{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[models.QueueStatus(s)] = n
	}
	return counts, rows.Err()
}

// RecoverStale returns entries stuck in processing for longer than olderThan
// to pending. A live sync in another process finishes well inside that window.
func (db *DB) RecoverStale(olderThan time.Duration) (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		now := db.now()
		res, err := db.conn.Exec(`
			UPDATE queue_entries SET status = 'pending', updated_at = ?
			WHERE status = 'processing' AND updated_at < ?
		`, formatTime(now), formatTime(now.Add(-olderThan)))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// PruneApplied deletes applied entries last updated before the cutoff.
// Entries in any other status are never pruned.
func (db *DB) PruneApplied(before time.Time) (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`DELETE FROM queue_entries WHERE status = 'applied' AND updated_at < ?`, formatTime(before))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
