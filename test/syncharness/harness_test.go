package syncharness

import (
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

func TestOfflineBookingSyncsWhenBack(t *testing.T) {
	h := NewHarness(t, 1)
	a := h.Device("client-A")

	h.SetOffline(true)
	e := h.Book(a, "Lucia", Tomorrow(10, 0), 30*time.Minute)

	res, err := h.Sync(a)
	if err == nil {
		t.Fatal("expected sync to fail while offline")
	}
	if !syncerr.Retryable(err) {
		t.Errorf("offline error should be retryable: %v", err)
	}
	if !res.PullSkipped {
		t.Error("pull should be skipped after a failed drain")
	}
	if got := h.Status(a, e.IdempotencyKey); got != models.QueuePending {
		t.Fatalf("status after offline push = %s, want pending", got)
	}
	state, err := a.DB.GetSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if state.ConsecutiveFailures != 1 || state.LastError == "" {
		t.Errorf("sync state after failure = %+v", state)
	}

	h.SetOffline(false)
	res = h.MustSync(a)
	if res.Applied != 1 || res.Pulled != 1 {
		t.Errorf("cycle = %+v, want 1 applied and 1 pulled", res)
	}
	if got := h.Status(a, e.IdempotencyKey); got != models.QueueApplied {
		t.Errorf("status = %s, want applied", got)
	}
	agenda := h.Agenda(a)
	if len(agenda) != 1 || !agenda[0].Synced || agenda[0].CustomerName != "Lucia" {
		t.Errorf("agenda = %+v", agenda)
	}
	state, _ = a.DB.GetSyncState()
	if state.ConsecutiveFailures != 0 {
		t.Errorf("failures not reset: %d", state.ConsecutiveFailures)
	}
	h.AssertConverged()
}

func TestSameSlotFromTwoDevicesConflicts(t *testing.T) {
	h := NewHarness(t, 2)
	a, b := h.Device("client-A"), h.Device("client-B")

	h.SetOffline(true)
	ea := h.Book(a, "Lucia", Tomorrow(10, 0), 30*time.Minute)
	eb := h.Book(b, "Marta", Tomorrow(10, 15), 30*time.Minute)
	h.SetOffline(false)

	h.MustSync(a)
	res := h.MustSync(b)
	if res.Conflicts != 1 || res.Applied != 0 {
		t.Fatalf("client-B cycle = %+v, want 1 conflict", res)
	}
	if got := h.Status(a, ea.IdempotencyKey); got != models.QueueApplied {
		t.Errorf("client-A status = %s", got)
	}

	items, err := b.Surface.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Key != eb.IdempotencyKey || items[0].Reason != "Slot already occupied" {
		t.Fatalf("client-B conflicts = %+v", items)
	}
	badges, _ := b.Surface.Badges()
	if badges.Conflicts != 1 || badges.Waiting != 0 {
		t.Errorf("badges = %+v", badges)
	}

	// a conflicting change does not block the rest of the queue
	later := h.Book(b, "Pilar", Tomorrow(12, 0), 30*time.Minute)
	h.MustSync(b)
	if got := h.Status(b, later.IdempotencyKey); got != models.QueueApplied {
		t.Errorf("later booking = %s, want applied", got)
	}
	if got := h.Status(b, eb.IdempotencyKey); got != models.QueueConflict {
		t.Errorf("conflict entry changed to %s", got)
	}

	// retrying unchanged conflicts again
	if err := b.Surface.Retry(eb.IdempotencyKey); err != nil {
		t.Fatal(err)
	}
	h.MustSync(b)
	if got := h.Status(b, eb.IdempotencyKey); got != models.QueueConflict {
		t.Errorf("retried entry = %s, want conflict", got)
	}

	// moving it to a free slot goes through under a new key
	moved, err := b.Surface.Amend(eb.IdempotencyKey, func(act models.Action) (models.Action, error) {
		c := act.(models.CreateAppointment)
		c.StartAt, c.EndAt = Tomorrow(11, 0), Tomorrow(11, 30)
		return c, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if moved.IdempotencyKey == eb.IdempotencyKey {
		t.Error("amended entry reused the rejected key")
	}
	h.MustSync(b)
	if got := h.Status(b, moved.IdempotencyKey); got != models.QueueApplied {
		t.Errorf("moved entry = %s, want applied", got)
	}
	if _, err := b.DB.GetEntry(eb.IdempotencyKey); err == nil {
		t.Error("original conflict entry still queued")
	}

	h.MustSync(a)
	if n := len(h.ServerAgenda()); n != 3 {
		t.Errorf("server appointments = %d, want 3", n)
	}
	h.AssertConverged()
}

func TestLostPushResponseIsNotDoubleBooked(t *testing.T) {
	h := NewHarness(t, 2)
	a := h.Device("client-A")

	e := h.Book(a, "Lucia", Tomorrow(9, 0), time.Hour)

	h.DropNextPushResponses(1)
	if _, err := h.Sync(a); err == nil {
		t.Fatal("expected the lost response to fail the cycle")
	}
	if got := h.Status(a, e.IdempotencyKey); got != models.QueuePending {
		t.Fatalf("status = %s, want pending for re-push", got)
	}
	if n := len(h.ServerAgenda()); n != 1 {
		t.Fatalf("server should have committed the first push, has %d", n)
	}

	res := h.MustSync(a)
	if res.Applied != 1 || res.Conflicts != 0 {
		t.Errorf("re-push = %+v, want applied without conflict", res)
	}
	if h.Pushes() != 2 {
		t.Errorf("pushes = %d, want 2", h.Pushes())
	}
	if n := len(h.ServerAgenda()); n != 1 {
		t.Errorf("server appointments after re-push = %d, want 1", n)
	}

	h.MustSync(h.Device("client-B"))
	h.AssertConverged()
}

func TestAcceptServerVersion(t *testing.T) {
	h := NewHarness(t, 2)
	a, b := h.Device("client-A"), h.Device("client-B")

	h.Book(a, "Lucia", Tomorrow(15, 0), 30*time.Minute)
	h.MustSync(a)

	// client-B has not pulled yet and books over the same slot
	eb := h.Book(b, "Marta", Tomorrow(15, 0), 30*time.Minute)
	h.MustSync(b)
	if got := h.Status(b, eb.IdempotencyKey); got != models.QueueConflict {
		t.Fatalf("status = %s, want conflict", got)
	}

	if err := b.Surface.AcceptServer(eb.IdempotencyKey); err != nil {
		t.Fatal(err)
	}
	h.MustSync(b)

	agenda := h.Agenda(b)
	if len(agenda) != 1 || agenda[0].CustomerName != "Lucia" {
		t.Errorf("client-B agenda = %+v, want only the server's booking", agenda)
	}
	counts, _ := b.DB.CountByStatus()
	if counts.Conflicts() != 0 || counts.Waiting() != 0 {
		t.Errorf("client-B queue not clear: %v", counts)
	}

	if err := b.Surface.Discard(eb.IdempotencyKey); err == nil {
		t.Error("discarding a resolved entry should fail")
	}
}

func TestRescheduleAndCancelPropagate(t *testing.T) {
	h := NewHarness(t, 2)
	a, b := h.Device("client-A"), h.Device("client-B")

	h.Book(a, "Lucia", Tomorrow(10, 0), 30*time.Minute)
	h.MustSync(a)
	h.MustSync(b)

	agenda := h.Agenda(b)
	if len(agenda) != 1 {
		t.Fatalf("client-B agenda = %d entries", len(agenda))
	}
	id := agenda[0].ID

	update, err := b.Applier.Reschedule(applier.Reschedule{
		AppointmentID: id,
		StartAt:       Tomorrow(16, 0),
		Duration:      45 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.Enqueue(b, update)
	h.MustSync(b)
	h.MustSync(a)

	agenda = h.Agenda(a)
	if len(agenda) != 1 || !agenda[0].StartAt.Equal(Tomorrow(16, 0)) || !agenda[0].EndAt.Equal(Tomorrow(16, 45)) {
		t.Fatalf("client-A agenda after reschedule = %+v", agenda)
	}

	cancel, err := a.Applier.Cancel(id, "customer called")
	if err != nil {
		t.Fatal(err)
	}
	h.Enqueue(a, cancel)
	h.MustSync(a)
	h.MustSync(b)

	if n := len(h.Agenda(b)); n != 0 {
		t.Errorf("cancelled appointment still on client-B agenda")
	}
	h.AssertConverged()
}
