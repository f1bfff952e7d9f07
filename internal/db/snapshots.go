package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/salonsync/salonsync/internal/models"
)

// ReplaceSnapshots overwrites the read model for [from, to): rows starting in
// the window are dropped and replaced by snaps, all marked synced. Rows
// outside the window are left as they are.
func (db *DB) ReplaceSnapshots(from, to time.Time, snaps []models.AppointmentSnapshot) error {
	if !from.Before(to) {
		return fmt.Errorf("replace snapshots: empty window %s..%s", from, to)
	}
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM appointment_snapshots WHERE start_at >= ? AND start_at < ?`,
			formatTime(from), formatTime(to)); err != nil {
			return fmt.Errorf("clear window: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO appointment_snapshots
				(id, start_at, end_at, customer_name, customer_phone, employee_id, employee_name,
				 service_id, service_name, status, updated_at, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range snaps {
			if _, err := stmt.Exec(s.ID, formatTime(s.StartAt), formatTime(s.EndAt), s.CustomerName, s.CustomerPhone,
				s.EmployeeID, s.EmployeeName, s.ServiceID, s.ServiceName, string(s.Status), formatTime(s.UpdatedAt)); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// ListSnapshots returns snapshots starting in [from, to), ordered by start.
func (db *DB) ListSnapshots(from, to time.Time) ([]models.AppointmentSnapshot, error) {
	rows, err := db.conn.Query(`
		SELECT id, start_at, end_at, customer_name, customer_phone, employee_id, employee_name,
		       service_id, service_name, status, updated_at, synced
		FROM appointment_snapshots
		WHERE start_at >= ? AND start_at < ?
		ORDER BY start_at ASC, id ASC
	`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.AppointmentSnapshot
	for rows.Next() {
		var (
			s                   models.AppointmentSnapshot
			start, end, updated string
			status              string
			synced              int
		)
		if err := rows.Scan(&s.ID, &start, &end, &s.CustomerName, &s.CustomerPhone, &s.EmployeeID, &s.EmployeeName,
			&s.ServiceID, &s.ServiceName, &status, &updated, &synced); err != nil {
			return nil, err
		}
		if s.StartAt, err = parseTimestamp(start); err != nil {
			return nil, err
		}
		if s.EndAt, err = parseTimestamp(end); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTimestamp(updated); err != nil {
			return nil, err
		}
		s.Status = models.AppointmentStatus(status)
		s.Synced = synced != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
