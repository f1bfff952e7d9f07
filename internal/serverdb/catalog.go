package serverdb

import (
	"fmt"
	"strings"
	"time"
)

// Employee is a staff member appointments are booked against.
type Employee struct {
	ID         string    `db:"id"`
	BusinessID string    `db:"business_id"`
	Name       string    `db:"name"`
	CreatedAt  time.Time `db:"created_at"`
}

// Service is a bookable treatment.
type Service struct {
	ID              string    `db:"id"`
	BusinessID      string    `db:"business_id"`
	Name            string    `db:"name"`
	DurationMinutes int       `db:"duration_minutes"`
	CreatedAt       time.Time `db:"created_at"`
}

// CreateEmployee adds an employee to a business.
func (db *ServerDB) CreateEmployee(businessID, name string) (*Employee, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("employee name is required")
	}
	id, err := generateID("e_")
	if err != nil {
		return nil, fmt.Errorf("generate employee id: %w", err)
	}
	e := &Employee{ID: id, BusinessID: businessID, Name: name, CreatedAt: db.nowUTC()}
	if _, err := db.conn.NamedExec(`INSERT INTO employees (id, business_id, name, created_at)
		VALUES (:id, :business_id, :name, :created_at)`, e); err != nil {
		return nil, fmt.Errorf("insert employee: %w", err)
	}
	return e, nil
}

// CreateService adds a service to a business.
func (db *ServerDB) CreateService(businessID, name string, durationMinutes int) (*Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if durationMinutes < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	id, err := generateID("s_")
	if err != nil {
		return nil, fmt.Errorf("generate service id: %w", err)
	}
	s := &Service{ID: id, BusinessID: businessID, Name: name, DurationMinutes: durationMinutes, CreatedAt: db.nowUTC()}
	if _, err := db.conn.NamedExec(`INSERT INTO services (id, business_id, name, duration_minutes, created_at)
		VALUES (:id, :business_id, :name, :duration_minutes, :created_at)`, s); err != nil {
		return nil, fmt.Errorf("insert service: %w", err)
	}
	return s, nil
}

// ListEmployees returns a business's employees by name.
func (db *ServerDB) ListEmployees(businessID string) ([]Employee, error) {
	var out []Employee
	if err := db.conn.Select(&out, db.conn.Rebind(
		`SELECT id, business_id, name, created_at FROM employees WHERE business_id = ? ORDER BY name, id`), businessID); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return out, nil
}
