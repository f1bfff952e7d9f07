package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	engine "github.com/salonsync/salonsync/internal/sync"
)

type fakeSource struct {
	counts    models.QueueCounts
	snaps     []models.AppointmentSnapshot
	entries   []models.QueueEntry
	state     db.SyncState
	err       error
	from, to  time.Time
	statusesQ []models.QueueStatus
}

func (f *fakeSource) CountByStatus() (models.QueueCounts, error) { return f.counts, f.err }
func (f *fakeSource) ListEntries(statuses ...models.QueueStatus) ([]models.QueueEntry, error) {
	f.statusesQ = statuses
	return f.entries, nil
}
func (f *fakeSource) ListSnapshots(from, to time.Time) ([]models.AppointmentSnapshot, error) {
	f.from, f.to = from, to
	return f.snaps, nil
}
func (f *fakeSource) GetSyncState() (db.SyncState, error) { return f.state, nil }

type fakeSyncer struct {
	requested int
	phase     engine.Phase
	online    bool
}

func (f *fakeSyncer) RequestSync()        { f.requested++ }
func (f *fakeSyncer) Phase() engine.Phase { return f.phase }
func (f *fakeSyncer) Online() bool        { return f.online }

func conflictEntry(t *testing.T) models.QueueEntry {
	t.Helper()
	typ, payload, err := models.EncodeAction(models.CancelAppointment{AppointmentID: "appt-123456789"})
	if err != nil {
		t.Fatal(err)
	}
	return models.QueueEntry{IdempotencyKey: "k1", ActionType: typ, Payload: payload, Status: models.QueueConflict, LastError: "Slot already occupied"}
}

func TestFetchData(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	src := &fakeSource{
		counts:  models.QueueCounts{models.QueuePending: 2, models.QueueFailed: 1, models.QueueConflict: 1, models.QueueApplied: 9},
		entries: []models.QueueEntry{conflictEntry(t)},
	}
	syncer := &fakeSyncer{phase: engine.PhasePulling, online: true}

	msg := FetchData(src, syncer, time.UTC, now)
	if msg.Err != nil {
		t.Fatal(msg.Err)
	}
	if msg.Badges.Waiting != 3 || msg.Badges.Conflicts != 1 {
		t.Errorf("badges = %+v", msg.Badges)
	}
	wantFrom := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !src.from.Equal(wantFrom) || !src.to.Equal(wantFrom.AddDate(0, 0, 2)) {
		t.Errorf("agenda window = [%v, %v)", src.from, src.to)
	}
	if len(src.statusesQ) != 2 {
		t.Errorf("attention statuses = %v", src.statusesQ)
	}
	if msg.Phase != engine.PhasePulling || !msg.Online {
		t.Errorf("phase=%v online=%v", msg.Phase, msg.Online)
	}
}

func TestFetchDataError(t *testing.T) {
	src := &fakeSource{err: errors.New("disk gone")}
	msg := FetchData(src, nil, time.UTC, time.Now())
	if msg.Err == nil {
		t.Fatal("expected error")
	}

	m := NewModel(src, nil, time.UTC, time.Second)
	m.Width, m.Height = 100, 30
	updated, _ := m.Update(msg)
	if view := updated.(Model).View(); !strings.Contains(view, "disk gone") {
		t.Errorf("error view = %q", view)
	}
}

func TestSyncKeyRequestsSync(t *testing.T) {
	syncer := &fakeSyncer{}
	m := NewModel(&fakeSource{}, syncer, time.UTC, time.Second)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if syncer.requested != 1 {
		t.Errorf("RequestSync called %d times", syncer.requested)
	}
	if cmd == nil {
		t.Error("expected refresh command after sync request")
	}

	// no syncer configured: key is harmless
	m = NewModel(&fakeSource{}, nil, time.UTC, time.Second)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
}

func TestViewShowsBadgesAgendaAndConflicts(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m := NewModel(&fakeSource{}, &fakeSyncer{}, time.UTC, time.Second)
	m.Width, m.Height = 120, 30

	updated, _ := m.Update(RefreshDataMsg{
		Badges: conflicts.Badges{Waiting: 4, Conflicts: 1},
		Agenda: []models.AppointmentSnapshot{{
			ID: "a1", StartAt: start, EndAt: start.Add(30 * time.Minute),
			CustomerName: "Lucia", EmployeeName: "Ana", Status: models.AppointmentConfirmed, Synced: true,
		}},
		Attention: []models.QueueEntry{conflictEntry(t)},
		Online:    false,
		Timestamp: start,
	})
	view := updated.(Model).View()
	for _, want := range []string{"4 waiting", "1 conflicts", "offline", "10:00-10:30", "Lucia", "Slot already occupied", "AGENDA", "NEEDS ATTENTION"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestCompactView(t *testing.T) {
	m := NewModel(&fakeSource{}, nil, time.UTC, time.Second)
	m.Width, m.Height = 30, 10
	m.Badges.Waiting = 2
	if view := m.View(); !strings.Contains(view, "Waiting: 2") {
		t.Errorf("compact view = %q", view)
	}
}

func TestPanelSwitchAndScroll(t *testing.T) {
	m := NewModel(&fakeSource{}, nil, time.UTC, time.Second)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.ActivePanel != PanelAttention {
		t.Fatalf("panel = %v", m.ActivePanel)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if off := next.(Model).ScrollOffset[PanelAttention]; off != 0 {
		t.Errorf("scroll offset = %d", off)
	}
}

func TestScroll(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	if got := scroll(lines, 10, 2); len(got) != 2 || got[0] != "c" {
		t.Errorf("scroll past end = %v", got)
	}
	if got := scroll(lines, 1, 2); got[0] != "b" {
		t.Errorf("scroll(1) = %v", got)
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("hello world", 6); got != "hello…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncateString("hi", 6); got != "hi" {
		t.Errorf("short = %q", got)
	}
}
