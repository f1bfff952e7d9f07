package serverdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

// Outcome is the per-action result of a push.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
)

// Reasons returned to clients.
const (
	ReasonSlotOccupied = "Slot already occupied"
	ReasonNotFound     = "appointment not found"
	ReasonMissingKey   = "idempotency_key is required"
	ReasonStorage      = "server could not store this change"
)

// BatchAction is one queued client action as received by the push endpoint.
type BatchAction struct {
	IdempotencyKey string
	Type           models.ActionType
	Payload        []byte
	CreatedAt      time.Time
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	IdempotencyKey string
	Type           models.ActionType
	AppointmentID  string
	Outcome        Outcome
	Reason         string
	// Duplicate is set when the key was already processed; the action
	// counts as applied and nothing was written.
	Duplicate bool
	// Cause is the storage error behind a ReasonStorage failure. Not sent
	// to clients.
	Cause error
}

// BatchResult collects per-action outcomes in input order.
type BatchResult struct {
	Results []ActionResult
}

// Applied counts applied actions, duplicates included.
func (r *BatchResult) Applied() int {
	n := 0
	for _, a := range r.Results {
		if a.Outcome == OutcomeApplied {
			n++
		}
	}
	return n
}

// With returns the results having outcome o.
func (r *BatchResult) With(o Outcome) []ActionResult {
	var out []ActionResult
	for _, a := range r.Results {
		if a.Outcome == o {
			out = append(out, a)
		}
	}
	return out
}

// SyntheticCustomerEmail is the placeholder email for a walk-in booked
// offline without one. Stable per appointment so re-pushes reuse the row.
func SyntheticCustomerEmail(appointmentID string) string {
	return fmt.Sprintf("offline-%s@walkin.invalid", appointmentID)
}

// ProcessBatch applies actions in order, each in its own transaction.
// Conflicts, validation failures and storage errors are reported per
// action and the batch carries on. Only a cancelled request or a lost
// database connection stops it; actions already committed stay committed
// and dedupe on the client's retry.
func (db *ServerDB) ProcessBatch(ctx context.Context, businessID string, actions []BatchAction) (*BatchResult, error) {
	res := &BatchResult{Results: make([]ActionResult, 0, len(actions))}
	for _, a := range actions {
		r, err := db.processAction(ctx, businessID, a)
		if err != nil {
			if batchFatal(ctx, err) {
				return res, fmt.Errorf("process %s: %w", a.IdempotencyKey, err)
			}
			r.Outcome, r.Reason, r.Cause = OutcomeFailed, ReasonStorage, err
		}
		res.Results = append(res.Results, r)
	}
	return res, nil
}

// batchFatal reports whether err means no later action can succeed either.
func batchFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone)
}

func (db *ServerDB) processAction(ctx context.Context, businessID string, a BatchAction) (ActionResult, error) {
	res := ActionResult{IdempotencyKey: a.IdempotencyKey, Type: a.Type}
	if strings.TrimSpace(a.IdempotencyKey) == "" {
		res.Outcome, res.Reason = OutcomeFailed, ReasonMissingKey
		return res, nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seen int
	if err := tx.GetContext(ctx, &seen, tx.Rebind(
		`SELECT COUNT(*) FROM sync_dedup WHERE business_id = ? AND idempotency_key = ?`),
		businessID, a.IdempotencyKey); err != nil {
		return res, fmt.Errorf("check dedup: %w", err)
	}
	if seen > 0 {
		res.Outcome, res.Duplicate = OutcomeApplied, true
		return res, nil
	}

	act, err := models.DecodeAction(a.Type, a.Payload)
	if err != nil {
		res.Outcome, res.Reason = OutcomeFailed, reason(err)
		return res, nil
	}
	res.AppointmentID = act.AppointmentRef()

	now := db.nowUTC()
	switch v := act.(type) {
	case models.CreateAppointment:
		err = db.applyCreate(ctx, tx, businessID, v, now)
	case models.UpdateAppointment:
		err = db.applyUpdate(ctx, tx, businessID, v, now)
	case models.CancelAppointment:
		err = db.applyCancel(ctx, tx, businessID, v, now)
	default:
		err = syncerr.Errorf(syncerr.Validation, "apply", "unsupported action %T", act)
	}
	if err != nil {
		switch syncerr.KindOf(err) {
		case syncerr.Conflict:
			res.Outcome, res.Reason = OutcomeConflict, reason(err)
			return res, nil
		case syncerr.Validation:
			res.Outcome, res.Reason = OutcomeFailed, reason(err)
			return res, nil
		}
		return res, err
	}

	r, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO sync_dedup (business_id, idempotency_key, action_type, appointment_id, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING`),
		businessID, a.IdempotencyKey, string(a.Type), res.AppointmentID, now)
	if err != nil {
		return res, fmt.Errorf("record dedup: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		// A concurrent batch recorded the key first; drop our writes.
		res.Outcome, res.Duplicate = OutcomeApplied, true
		return res, nil
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Outcome = OutcomeApplied
	return res, nil
}

// reason extracts the client-facing message from a kinded error.
func reason(err error) string {
	var e *syncerr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func rejectf(kind syncerr.Kind, format string, args ...any) error {
	return syncerr.Errorf(kind, "apply", format, args...)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(ctx context.Context, tx *sqlx.Tx, table, businessID, id string) error {
	var one int
	err := tx.GetContext(ctx, &one, tx.Rebind(
		`SELECT 1 FROM `+table+` WHERE id = ? AND business_id = ?`), id, businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return rejectf(syncerr.Validation, "%s not found: %s", strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	return nil
}

func (db *ServerDB) applyCreate(ctx context.Context, tx *sqlx.Tx, businessID string, c models.CreateAppointment, now time.Time) error {
	if err := requireRow(ctx, tx, "employees", businessID, c.EmployeeID); err != nil {
		return err
	}
	if c.ServiceID != "" {
		if err := requireRow(ctx, tx, "services", businessID, c.ServiceID); err != nil {
			return err
		}
	}

	start, end := c.StartAt.Unix(), c.EndAt.Unix()
	var clash string
	err := tx.GetContext(ctx, &clash, tx.Rebind(`
		SELECT id FROM appointments
		WHERE business_id = ? AND employee_id = ? AND status <> 'cancelled' AND id <> ?
		  AND start_at < ? AND end_at > ?
		LIMIT 1`), businessID, c.EmployeeID, c.AppointmentID, end, start)
	if err == nil {
		return rejectf(syncerr.Conflict, ReasonSlotOccupied)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check overlap: %w", err)
	}

	customerID, err := resolveCustomer(ctx, tx, businessID, c, now)
	if err != nil {
		return err
	}

	status := c.Status
	if status == "" {
		status = models.AppointmentConfirmed
	}
	r, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO appointments (id, business_id, employee_id, service_id, customer_id, start_at, end_at, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			employee_id = excluded.employee_id,
			service_id = excluded.service_id,
			customer_id = excluded.customer_id,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			notes = excluded.notes,
			cancel_reason = '',
			updated_at = excluded.updated_at
		WHERE appointments.business_id = excluded.business_id`),
		c.AppointmentID, businessID, c.EmployeeID, nullable(c.ServiceID), customerID,
		start, end, string(status), c.Notes, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("upsert appointment: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return rejectf(syncerr.Validation, "appointment id %s belongs to another business", c.AppointmentID)
	}
	return nil
}

func resolveCustomer(ctx context.Context, tx *sqlx.Tx, businessID string, c models.CreateAppointment, now time.Time) (string, error) {
	if c.CustomerID != "" {
		if err := requireRow(ctx, tx, "customers", businessID, c.CustomerID); err != nil {
			return "", err
		}
		return c.CustomerID, nil
	}

	email := strings.ToLower(strings.TrimSpace(c.CustomerEmail))
	if email == "" {
		email = SyntheticCustomerEmail(c.AppointmentID)
	}
	name := strings.TrimSpace(c.CustomerName)
	phone := strings.TrimSpace(c.CustomerPhone)

	var id string
	err := tx.GetContext(ctx, &id, tx.Rebind(
		`SELECT id FROM customers WHERE business_id = ? AND email = ?`), businessID, email)
	if err == nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE customers SET
				name = CASE WHEN name = '' THEN ? ELSE name END,
				phone = CASE WHEN phone = '' THEN ? ELSE phone END
			WHERE id = ?`), name, phone, id); err != nil {
			return "", fmt.Errorf("update customer: %w", err)
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find customer: %w", err)
	}

	id, err = generateID("c_")
	if err != nil {
		return "", fmt.Errorf("generate customer id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO customers (id, business_id, name, phone, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		id, businessID, name, phone, email, now); err != nil {
		return "", fmt.Errorf("insert customer: %w", err)
	}
	return id, nil
}

type appointmentRow struct {
	ID         string         `db:"id"`
	EmployeeID string         `db:"employee_id"`
	ServiceID  sql.NullString `db:"service_id"`
	CustomerID string         `db:"customer_id"`
	StartAt    int64          `db:"start_at"`
	EndAt      int64          `db:"end_at"`
	Status     string         `db:"status"`
	Notes      string         `db:"notes"`
	UpdatedAt  int64          `db:"updated_at"`
}

// applyUpdate changes only the fields present. It does not re-check overlaps.
func (db *ServerDB) applyUpdate(ctx context.Context, tx *sqlx.Tx, businessID string, u models.UpdateAppointment, now time.Time) error {
	var cur appointmentRow
	err := tx.GetContext(ctx, &cur, tx.Rebind(`
		SELECT id, employee_id, service_id, customer_id, start_at, end_at, status, notes, updated_at
		FROM appointments WHERE id = ? AND business_id = ?`), u.AppointmentID, businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return rejectf(syncerr.Validation, ReasonNotFound)
	}
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	if u.EmployeeID != nil {
		if err := requireRow(ctx, tx, "employees", businessID, *u.EmployeeID); err != nil {
			return err
		}
		cur.EmployeeID = *u.EmployeeID
	}
	if u.ServiceID != nil {
		if *u.ServiceID != "" {
			if err := requireRow(ctx, tx, "services", businessID, *u.ServiceID); err != nil {
				return err
			}
		}
		cur.ServiceID = sql.NullString{String: *u.ServiceID, Valid: *u.ServiceID != ""}
	}
	if u.StartAt != nil {
		cur.StartAt = u.StartAt.Unix()
	}
	if u.EndAt != nil {
		cur.EndAt = u.EndAt.Unix()
	}
	if cur.StartAt >= cur.EndAt {
		return rejectf(syncerr.Validation, "start_at must be before end_at")
	}
	if u.Status != nil {
		cur.Status = string(*u.Status)
	}
	if u.Notes != nil {
		cur.Notes = *u.Notes
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE appointments
		SET employee_id = ?, service_id = ?, start_at = ?, end_at = ?, status = ?, notes = ?, updated_at = ?
		WHERE id = ? AND business_id = ?`),
		cur.EmployeeID, cur.ServiceID, cur.StartAt, cur.EndAt, cur.Status, cur.Notes, now.Unix(),
		u.AppointmentID, businessID); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (db *ServerDB) applyCancel(ctx context.Context, tx *sqlx.Tx, businessID string, c models.CancelAppointment, now time.Time) error {
	r, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE appointments SET status = 'cancelled', cancel_reason = ?, updated_at = ?
		WHERE id = ? AND business_id = ?`), c.Reason, now.Unix(), c.AppointmentID, businessID)
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return rejectf(syncerr.Validation, ReasonNotFound)
	}
	return nil
}
