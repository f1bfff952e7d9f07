package applier

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

type seqKeys struct{ n int }

func (s *seqKeys) NextKey() string { s.n++; return fmt.Sprintf("k%d", s.n) }
func (s *seqKeys) NewID() string   { return fmt.Sprintf("appt-%d", s.n+1) }

var fixedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestApplier() *Applier {
	return New(&seqKeys{}, func() time.Time { return fixedNow })
}

func TestBookProducesPendingCreate(t *testing.T) {
	a := newTestApplier()
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	e, err := a.Book(Booking{EmployeeID: "emp-1", StartAt: start, Duration: 30 * time.Minute, CustomerName: " Ana ", CustomerPhone: "555"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if e.Status != models.QueuePending || e.ActionType != models.ActionAppointmentCreate {
		t.Fatalf("entry = %+v", e)
	}
	if e.IdempotencyKey != "k1" || !e.CreatedAt.Equal(fixedNow) {
		t.Fatalf("key %q created %v", e.IdempotencyKey, e.CreatedAt)
	}
	act, err := e.Action()
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	c := act.(models.CreateAppointment)
	if c.AppointmentID != "appt-1" || c.CustomerName != "Ana" || !c.EndAt.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("payload = %+v", c)
	}
}

func TestBookValidation(t *testing.T) {
	a := newTestApplier()
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	cases := map[string]Booking{
		"no duration": {EmployeeID: "e", StartAt: start, CustomerName: "x"},
		"no employee": {StartAt: start, Duration: time.Hour, CustomerName: "x"},
		"no customer": {EmployeeID: "e", StartAt: start, Duration: time.Hour},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Book(b)
			if !errors.Is(err, syncerr.ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestRescheduleOnlyChangedFields(t *testing.T) {
	a := newTestApplier()
	notes := "running late"
	e, err := a.Reschedule(Reschedule{AppointmentID: "appt-9", Notes: &notes})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if strings.Contains(string(e.Payload), "start_at") || strings.Contains(string(e.Payload), "employee_id") {
		t.Fatalf("payload carries unchanged fields: %s", e.Payload)
	}

	if _, err := a.Reschedule(Reschedule{AppointmentID: "appt-9", StartAt: fixedNow}); err == nil {
		t.Fatal("start without duration accepted")
	}
	if _, err := a.Reschedule(Reschedule{AppointmentID: "appt-9"}); err == nil {
		t.Fatal("empty reschedule accepted")
	}
}

func TestCancelAndAmendUseFreshKeys(t *testing.T) {
	a := newTestApplier()
	c1, err := a.Cancel("appt-3", "no show")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	c2, err := a.Amend(c1, nil)
	if err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if c1.IdempotencyKey == c2.IdempotencyKey {
		t.Fatal("amend reused the key")
	}
	if string(c1.Payload) != string(c2.Payload) {
		t.Fatalf("payload changed: %s vs %s", c1.Payload, c2.Payload)
	}

	_, err = a.Amend(c1, func(models.Action) (models.Action, error) {
		return models.CancelAppointment{AppointmentID: "appt-4"}, nil
	})
	if err == nil {
		t.Fatal("amend onto another appointment accepted")
	}
}

func TestDeviceKeysUnique(t *testing.T) {
	g := NewDeviceKeys("front-desk")
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		k := g.NextKey()
		if !strings.HasPrefix(k, "front-desk-") {
			t.Fatalf("key %q missing device prefix", k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
	if NewDeviceKeys("").NextKey()[:4] != "dev-" {
		t.Fatal("empty device did not default")
	}
}
