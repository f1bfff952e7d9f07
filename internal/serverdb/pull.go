package serverdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/salonsync/salonsync/internal/models"
)

// Pull window bounds, in days.
const (
	DefaultWindowDays = 2
	MaxWindowDays     = 30
)

// ClampDays maps a requested window to [1, MaxWindowDays]; zero or
// negative means the default.
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	}
	return days
}

// Window returns [startOfToday, startOfToday+days) in loc.
func Window(now time.Time, loc *time.Location, days int) (time.Time, time.Time) {
	local := now.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, days)
}

// ListWindow returns the business's non-cancelled appointments starting in
// [from, to), ordered by start, with employee, service and customer names
// filled in from one lookup per table.
func (db *ServerDB) ListWindow(ctx context.Context, businessID string, from, to time.Time) ([]models.AppointmentSnapshot, error) {
	var rows []appointmentRow
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(`
		SELECT id, employee_id, service_id, customer_id, start_at, end_at, status, notes, updated_at
		FROM appointments
		WHERE business_id = ? AND status <> 'cancelled' AND start_at >= ? AND start_at < ?
		ORDER BY start_at, id`), businessID, from.Unix(), to.Unix()); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if len(rows) == 0 {
		return []models.AppointmentSnapshot{}, nil
	}

	var employeeIDs, serviceIDs, customerIDs []string
	for _, r := range rows {
		employeeIDs = append(employeeIDs, r.EmployeeID)
		customerIDs = append(customerIDs, r.CustomerID)
		if r.ServiceID.Valid {
			serviceIDs = append(serviceIDs, r.ServiceID.String)
		}
	}

	employees, err := db.lookupNames(ctx, "employees", employeeIDs)
	if err != nil {
		return nil, err
	}
	services, err := db.lookupNames(ctx, "services", serviceIDs)
	if err != nil {
		return nil, err
	}
	customers, err := db.lookupCustomers(ctx, customerIDs)
	if err != nil {
		return nil, err
	}

	out := make([]models.AppointmentSnapshot, 0, len(rows))
	for _, r := range rows {
		s := models.AppointmentSnapshot{
			ID:           r.ID,
			StartAt:      time.Unix(r.StartAt, 0).UTC(),
			EndAt:        time.Unix(r.EndAt, 0).UTC(),
			EmployeeID:   r.EmployeeID,
			EmployeeName: employees[r.EmployeeID],
			Status:       models.AppointmentStatus(r.Status),
			UpdatedAt:    time.Unix(r.UpdatedAt, 0).UTC(),
			Synced:       true,
		}
		if r.ServiceID.Valid {
			s.ServiceID = r.ServiceID.String
			s.ServiceName = services[s.ServiceID]
		}
		if c, ok := customers[r.CustomerID]; ok {
			s.CustomerName = c.Name
			s.CustomerPhone = c.Phone
		}
		out = append(out, s)
	}
	return out, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (db *ServerDB) lookupNames(ctx context.Context, table string, ids []string) (map[string]string, error) {
	names := make(map[string]string)
	ids = uniq(ids)
	if len(ids) == 0 {
		return names, nil
	}
	query, args, err := sqlx.In(`SELECT id, name FROM `+table+` WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build %s lookup: %w", table, err)
	}
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

type customerContact struct {
	ID    string `db:"id"`
	Name  string `db:"name"`
	Phone string `db:"phone"`
}

func (db *ServerDB) lookupCustomers(ctx context.Context, ids []string) (map[string]customerContact, error) {
	out := make(map[string]customerContact)
	ids = uniq(ids)
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, phone FROM customers WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build customer lookup: %w", err)
	}
	var rows []customerContact
	if err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lookup customers: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}
