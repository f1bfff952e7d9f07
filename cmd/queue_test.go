package cmd

import (
	"testing"

	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
)

func TestQueueEntriesForAppointment(t *testing.T) {
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer store.Close()

	for _, e := range []struct{ key, appt string }{
		{"k1", "appt-a"}, {"k2", "appt-b"}, {"k3", "appt-a"},
	} {
		_, err := store.Enqueue(models.QueueEntry{
			IdempotencyKey: e.key,
			ActionType:     models.ActionAppointmentCancel,
			Payload:        []byte(`{"appointment_id":"` + e.appt + `"}`),
		})
		if err != nil {
			t.Fatalf("Enqueue %s: %v", e.key, err)
		}
	}
	store.MarkProcessing([]string{"k1"})
	store.UpdateStatus("k1", models.QueueApplied, "")

	got, err := queueEntries(store, "appt-a", nil)
	if err != nil {
		t.Fatalf("queueEntries: %v", err)
	}
	if len(got) != 2 || got[0].IdempotencyKey != "k1" || got[1].IdempotencyKey != "k3" {
		t.Fatalf("appointment history = %+v", got)
	}

	got, _ = queueEntries(store, "appt-a", []models.QueueStatus{models.QueuePending})
	if len(got) != 1 || got[0].IdempotencyKey != "k3" {
		t.Fatalf("pending for appt-a = %+v", got)
	}

	got, _ = queueEntries(store, "", []models.QueueStatus{models.QueuePending})
	if len(got) != 2 {
		t.Fatalf("all pending = %d entries", len(got))
	}
}
