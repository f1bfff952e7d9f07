package serverdb

import (
	"context"
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/models"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func batchAction(t *testing.T, key string, a models.Action) BatchAction {
	t.Helper()
	typ, payload, err := models.EncodeAction(a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return BatchAction{IdempotencyKey: key, Type: typ, Payload: payload, CreatedAt: day}
}

func (f *fixture) create(id string, start, end time.Time) models.CreateAppointment {
	return models.CreateAppointment{
		AppointmentID: id,
		EmployeeID:    f.employee.ID,
		ServiceID:     f.service.ID,
		StartAt:       start,
		EndAt:         end,
		CustomerName:  "Lucia",
		CustomerPhone: "600000000",
	}
}

func (f *fixture) push(t *testing.T, actions ...BatchAction) *BatchResult {
	t.Helper()
	res, err := f.db.ProcessBatch(context.Background(), f.business.ID, actions)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(res.Results) != len(actions) {
		t.Fatalf("results = %d, want %d", len(res.Results), len(actions))
	}
	return res
}

func (f *fixture) countAppointments(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.conn.Get(&n, `SELECT COUNT(*) FROM appointments`); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestOverlapInSameBatchConflicts(t *testing.T) {
	f := newFixture(t, newTestDB(t))

	res := f.push(t,
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
		batchAction(t, "k2", f.create("a2", at(10, 15), at(10, 45))),
	)
	if res.Results[0].Outcome != OutcomeApplied {
		t.Fatalf("first = %+v", res.Results[0])
	}
	second := res.Results[1]
	if second.Outcome != OutcomeConflict || second.Reason != ReasonSlotOccupied {
		t.Fatalf("second = %+v", second)
	}
	if res.Applied() != 1 || len(res.With(OutcomeConflict)) != 1 {
		t.Fatalf("applied=%d conflicts=%d", res.Applied(), len(res.With(OutcomeConflict)))
	}
	if n := f.countAppointments(t); n != 1 {
		t.Fatalf("appointments = %d, want 1", n)
	}
}

func TestAdjacentSlotsDoNotOverlap(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	res := f.push(t,
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
		batchAction(t, "k2", f.create("a2", at(10, 30), at(11, 0))),
	)
	if res.Applied() != 2 {
		t.Fatalf("applied = %d, want 2: %+v", res.Applied(), res.Results)
	}
}

func TestRepushIsIdempotent(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	actions := []BatchAction{
		batchAction(t, "k1", f.create("a1", at(9, 0), at(9, 30))),
		batchAction(t, "k2", models.CancelAppointment{AppointmentID: "a1", Reason: "sick"}),
	}

	first := f.push(t, actions...)
	if first.Applied() != 2 {
		t.Fatalf("first push applied = %d", first.Applied())
	}

	// Response lost; the client pushes the same keys again.
	second := f.push(t, actions...)
	for _, r := range second.Results {
		if r.Outcome != OutcomeApplied || !r.Duplicate {
			t.Fatalf("re-push result = %+v", r)
		}
	}
	if n := f.countAppointments(t); n != 1 {
		t.Fatalf("appointments = %d, want 1", n)
	}
	var status string
	f.db.conn.Get(&status, `SELECT status FROM appointments WHERE id = 'a1'`)
	if status != "cancelled" {
		t.Fatalf("status = %s", status)
	}
}

func TestCreateWalkInUsesSyntheticEmail(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	f.push(t, batchAction(t, "k1", f.create("walkin-1", at(12, 0), at(12, 30))))

	var c struct {
		Name  string `db:"name"`
		Email string `db:"email"`
		Phone string `db:"phone"`
	}
	if err := f.db.conn.Get(&c, `SELECT name, email, phone FROM customers`); err != nil {
		t.Fatal(err)
	}
	if c.Email != SyntheticCustomerEmail("walkin-1") || c.Name != "Lucia" || c.Phone != "600000000" {
		t.Fatalf("customer = %+v", c)
	}
}

func TestCreateReusesCustomerByEmail(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	a := f.create("a1", at(9, 0), at(9, 30))
	a.CustomerEmail = "Lucia@Example.com"
	b := f.create("a2", at(11, 0), at(11, 30))
	b.CustomerEmail = "lucia@example.com"
	f.push(t, batchAction(t, "k1", a), batchAction(t, "k2", b))

	var n int
	f.db.conn.Get(&n, `SELECT COUNT(*) FROM customers`)
	if n != 1 {
		t.Fatalf("customers = %d, want 1", n)
	}
}

func TestRecreateSameIDDoesNotConflictWithItself(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	f.push(t, batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))))

	res := f.push(t, batchAction(t, "k2", f.create("a1", at(10, 15), at(10, 45))))
	if res.Results[0].Outcome != OutcomeApplied {
		t.Fatalf("upsert = %+v", res.Results[0])
	}
	var start int64
	f.db.conn.Get(&start, `SELECT start_at FROM appointments WHERE id = 'a1'`)
	if start != at(10, 15).Unix() {
		t.Fatalf("start not updated: %d", start)
	}
}

func TestCancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	res := f.push(t,
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
		batchAction(t, "k2", models.CancelAppointment{AppointmentID: "a1"}),
		batchAction(t, "k3", f.create("a2", at(10, 0), at(10, 30))),
	)
	if res.Applied() != 3 {
		t.Fatalf("results = %+v", res.Results)
	}
}

func TestUpdateIsPartialWithoutRecheck(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	f.push(t,
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
		batchAction(t, "k2", f.create("a2", at(11, 0), at(11, 30))),
	)

	start, end := at(10, 15), at(10, 45)
	notes := "moved"
	res := f.push(t, batchAction(t, "k3", models.UpdateAppointment{
		AppointmentID: "a2", StartAt: &start, EndAt: &end, Notes: &notes,
	}))
	if res.Results[0].Outcome != OutcomeApplied {
		t.Fatalf("update = %+v", res.Results[0])
	}

	var row appointmentRow
	if err := f.db.conn.Get(&row, `SELECT id, employee_id, service_id, customer_id, start_at, end_at, status, notes, updated_at FROM appointments WHERE id = 'a2'`); err != nil {
		t.Fatal(err)
	}
	if row.StartAt != start.Unix() || row.Notes != "moved" || row.ServiceID.String != f.service.ID {
		t.Fatalf("row = %+v", row)
	}
}

func TestUpdateRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	f.push(t, batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))))

	start := at(11, 0)
	res := f.push(t, batchAction(t, "k2", models.UpdateAppointment{AppointmentID: "a1", StartAt: &start}))
	if res.Results[0].Outcome != OutcomeFailed {
		t.Fatalf("result = %+v", res.Results[0])
	}
}

func TestMissingTargetsFail(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	notes := "x"
	res := f.push(t,
		batchAction(t, "k1", models.CancelAppointment{AppointmentID: "ghost"}),
		batchAction(t, "k2", models.UpdateAppointment{AppointmentID: "ghost", Notes: &notes}),
	)
	for _, r := range res.Results {
		if r.Outcome != OutcomeFailed || r.Reason != ReasonNotFound {
			t.Fatalf("result = %+v", r)
		}
	}

	// A failed key is not recorded, so it can be retried later.
	var n int
	f.db.conn.Get(&n, `SELECT COUNT(*) FROM sync_dedup`)
	if n != 0 {
		t.Fatalf("dedup rows = %d", n)
	}
}

func TestInvalidActionsFailIndividually(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	res := f.push(t,
		BatchAction{IdempotencyKey: "k1", Type: "APPOINTMENT_TELEPORT", Payload: []byte(`{}`)},
		BatchAction{IdempotencyKey: "", Type: models.ActionAppointmentCancel, Payload: []byte(`{"appointment_id":"a"}`)},
		BatchAction{IdempotencyKey: "k3", Type: models.ActionAppointmentCreate, Payload: []byte(`{"appointment_id":`)},
		batchAction(t, "k4", f.create("ok", at(15, 0), at(15, 30))),
	)
	for i, r := range res.Results[:3] {
		if r.Outcome != OutcomeFailed || r.Reason == "" {
			t.Fatalf("result %d = %+v", i, r)
		}
	}
	if res.Results[1].Reason != ReasonMissingKey {
		t.Fatalf("missing key reason = %q", res.Results[1].Reason)
	}
	if res.Results[3].Outcome != OutcomeApplied {
		t.Fatalf("valid action after failures = %+v", res.Results[3])
	}
}

func TestActionsAreScopedToBusiness(t *testing.T) {
	db := newTestDB(t)
	f := newFixture(t, db)
	f.push(t, batchAction(t, "k1", f.create("shared", at(10, 0), at(10, 30))))

	other, err := db.CreateBusiness("Salon Dos", "UTC", f.owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	otherEmp, _ := db.CreateEmployee(other.ID, "Bea")

	// Foreign employee.
	a := f.create("x1", at(12, 0), at(12, 30))
	res, err := db.ProcessBatch(context.Background(), other.ID, []BatchAction{batchAction(t, "k2", a)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Results[0].Outcome != OutcomeFailed {
		t.Fatalf("foreign employee = %+v", res.Results[0])
	}

	// Id owned by another business.
	b := f.create("shared", at(12, 0), at(12, 30))
	b.EmployeeID = otherEmp.ID
	b.ServiceID = ""
	c := models.CancelAppointment{AppointmentID: "shared"}
	res, err = db.ProcessBatch(context.Background(), other.ID, []BatchAction{
		batchAction(t, "k3", b),
		batchAction(t, "k4", c),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res.Results {
		if r.Outcome != OutcomeFailed {
			t.Fatalf("cross-business write = %+v", r)
		}
	}

	var status string
	db.conn.Get(&status, `SELECT status FROM appointments WHERE id = 'shared'`)
	if status != "confirmed" {
		t.Fatalf("status = %s", status)
	}
}

func TestStorageErrorFailsOnlyThatAction(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	if _, err := f.db.conn.Exec(`CREATE TRIGGER reject_boom BEFORE INSERT ON appointments
		WHEN NEW.notes = 'boom'
		BEGIN SELECT RAISE(ABORT, 'storage failure'); END`); err != nil {
		t.Fatal(err)
	}
	broken := f.create("a2", at(11, 0), at(11, 30))
	broken.Notes = "boom"

	res := f.push(t,
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
		batchAction(t, "k2", broken),
		batchAction(t, "k3", f.create("a3", at(12, 0), at(12, 30))),
	)
	if res.Results[0].Outcome != OutcomeApplied || res.Results[2].Outcome != OutcomeApplied {
		t.Fatalf("neighbours = %+v / %+v", res.Results[0], res.Results[2])
	}
	mid := res.Results[1]
	if mid.Outcome != OutcomeFailed || mid.Reason != ReasonStorage || mid.Cause == nil {
		t.Fatalf("k2 = %+v", mid)
	}
	if n := f.countAppointments(t); n != 2 {
		t.Fatalf("appointments = %d, want 2", n)
	}

	// The failed key is not recorded, so a fixed re-push is evaluated again.
	broken.Notes = "ok"
	again := f.push(t, batchAction(t, "k2", broken))
	if again.Results[0].Outcome != OutcomeApplied || again.Results[0].Duplicate {
		t.Fatalf("re-push = %+v", again.Results[0])
	}
}

func TestCancelledContextStopsBatch(t *testing.T) {
	f := newFixture(t, newTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.db.ProcessBatch(ctx, f.business.ID, []BatchAction{
		batchAction(t, "k1", f.create("a1", at(10, 0), at(10, 30))),
	})
	if err == nil {
		t.Fatal("expected an error for a cancelled request")
	}
}
