package conflicts

import (
	"errors"
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
)

type countingSyncer struct{ n int }

func (c *countingSyncer) RequestSync() { c.n++ }

type fixture struct {
	store  *db.DB
	app    *applier.Applier
	syncer *countingSyncer
	s      *Surface
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	app := applier.New(applier.NewDeviceKeys("test"), nil)
	syncer := &countingSyncer{}
	return &fixture{store: store, app: app, syncer: syncer, s: New(store, app, syncer)}
}

// book enqueues a create and drives it to the given status.
func (f *fixture) book(t *testing.T, status models.QueueStatus, reason string) models.QueueEntry {
	t.Helper()
	e, err := f.app.Book(applier.Booking{
		EmployeeID:   "emp-1",
		StartAt:      time.Date(2025, 3, 10, 10, 15, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
		CustomerName: "Ana",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := f.store.Enqueue(e); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if status != models.QueuePending {
		f.store.MarkProcessing([]string{e.IdempotencyKey})
		if err := f.store.UpdateStatus(e.IdempotencyKey, status, reason); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
	}
	return e
}

func TestListAndBadges(t *testing.T) {
	f := newFixture(t)
	f.book(t, models.QueuePending, "")
	c := f.book(t, models.QueueConflict, "Slot already occupied")
	f.book(t, models.QueueFailed, "service not found")
	f.book(t, models.QueueApplied, "")

	items, err := f.s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].Key != c.IdempotencyKey || items[0].Reason != "Slot already occupied" || items[0].AppointmentID == "" {
		t.Fatalf("first item = %+v", items[0])
	}

	b, err := f.s.Badges()
	if err != nil {
		t.Fatalf("Badges: %v", err)
	}
	if b.Waiting != 2 || b.Conflicts != 1 {
		t.Fatalf("badges = %+v, want waiting 2 conflicts 1", b)
	}
}

func TestRetryReturnsToPending(t *testing.T) {
	f := newFixture(t)
	c := f.book(t, models.QueueConflict, "Slot already occupied")

	if err := f.s.Retry(c.IdempotencyKey); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	e, _ := f.store.GetEntry(c.IdempotencyKey)
	if e.Status != models.QueuePending || e.LastError != "" {
		t.Fatalf("entry = %+v", e)
	}
	if f.syncer.n != 1 {
		t.Fatalf("sync requested %d times", f.syncer.n)
	}
}

func TestResolveRejectsSettledEntries(t *testing.T) {
	f := newFixture(t)
	p := f.book(t, models.QueuePending, "")
	a := f.book(t, models.QueueApplied, "")

	for _, key := range []string{p.IdempotencyKey, a.IdempotencyKey} {
		if err := f.s.Retry(key); !errors.Is(err, ErrNotUnresolved) {
			t.Errorf("Retry(%s) = %v", key, err)
		}
		if err := f.s.Discard(key); !errors.Is(err, ErrNotUnresolved) {
			t.Errorf("Discard(%s) = %v", key, err)
		}
	}
}

func TestAcceptServerDiscardsAndRequestsSync(t *testing.T) {
	f := newFixture(t)
	c := f.book(t, models.QueueConflict, "Slot already occupied")

	if err := f.s.AcceptServer(c.IdempotencyKey); err != nil {
		t.Fatalf("AcceptServer: %v", err)
	}
	if _, err := f.store.GetEntry(c.IdempotencyKey); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("entry still present: %v", err)
	}
	if f.syncer.n != 1 {
		t.Fatalf("sync requested %d times", f.syncer.n)
	}
}

func TestAmendQueuesCorrection(t *testing.T) {
	f := newFixture(t)
	c := f.book(t, models.QueueConflict, "Slot already occupied")

	next, err := f.s.Amend(c.IdempotencyKey, func(a models.Action) (models.Action, error) {
		create := a.(models.CreateAppointment)
		create.StartAt = create.StartAt.Add(time.Hour)
		create.EndAt = create.EndAt.Add(time.Hour)
		return create, nil
	})
	if err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if next.IdempotencyKey == c.IdempotencyKey || next.Status != models.QueuePending {
		t.Fatalf("correction = %+v", next)
	}
	if _, err := f.store.GetEntry(c.IdempotencyKey); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("original kept: %v", err)
	}
	act, _ := next.Action()
	if act.(models.CreateAppointment).StartAt.Hour() != 11 {
		t.Fatalf("correction payload = %s", next.Payload)
	}
}

func TestAmendMustTargetSameAppointment(t *testing.T) {
	f := newFixture(t)
	c := f.book(t, models.QueueFailed, "employee not found")

	_, err := f.s.Amend(c.IdempotencyKey, func(a models.Action) (models.Action, error) {
		return models.CancelAppointment{AppointmentID: "someone-else"}, nil
	})
	if err == nil {
		t.Fatal("retargeted correction accepted")
	}
	if _, err := f.store.GetEntry(c.IdempotencyKey); err != nil {
		t.Fatalf("original removed after rejected amend: %v", err)
	}
}

func TestAmendKeepsOriginalWhenStoreRejects(t *testing.T) {
	f := newFixture(t)
	c := f.book(t, models.QueueConflict, "Slot already occupied")
	// a correction whose key is already queued cannot be stored
	taken := f.book(t, models.QueuePending, "")
	f.s = New(f.store, applier.New(fixedKeys{taken.IdempotencyKey}, nil), f.syncer)

	if _, err := f.s.Amend(c.IdempotencyKey, nil); err == nil {
		t.Fatal("amend onto a taken key succeeded")
	}
	old, err := f.store.GetEntry(c.IdempotencyKey)
	if err != nil || old.Status != models.QueueConflict {
		t.Fatalf("original after failed amend = %+v, %v", old, err)
	}
	if f.syncer.n != 0 {
		t.Fatalf("sync requested %d times", f.syncer.n)
	}
}

type fixedKeys struct{ key string }

func (k fixedKeys) NextKey() string { return k.key }
func (k fixedKeys) NewID() string   { return "appt-fixed" }
