// Package syncharness runs reception devices against a real sync server
// over HTTP, with switches for dropping the network and losing responses.
package syncharness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/salonsync/salonsync/internal/api"
	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/serverdb"
	engine "github.com/salonsync/salonsync/internal/sync"
	"github.com/salonsync/salonsync/internal/syncclient"
)

// Device is one reception terminal with its own local store.
type Device struct {
	Name    string
	DB      *db.DB
	Applier *applier.Applier
	Engine  *engine.Engine
	Surface *conflicts.Surface
}

// Harness owns the server and the devices talking to it.
type Harness struct {
	t          *testing.T
	Store      *serverdb.ServerDB
	Server     *api.Server
	HTTP       *httptest.Server
	BusinessID string
	EmployeeID string
	OwnerKey   string
	Devices    map[string]*Device

	offline      atomic.Bool
	dropPushResp atomic.Int32
	pushes       atomic.Int32
}

// NewHarness starts a server with one business, one employee and numDevices
// devices logged in as the owner.
func NewHarness(t *testing.T, numDevices int) *Harness {
	t.Helper()

	store, err := serverdb.Open(serverdb.DriverSQLite3, filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := api.NewServer(api.Config{
		RateLimitIP:    100000,
		RateLimitPush:  100000,
		RateLimitPull:  100000,
		RateLimitOther: 100000,
	}, store, nil)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	h := &Harness{
		t:       t,
		Store:   store,
		Server:  srv,
		Devices: make(map[string]*Device),
	}
	h.HTTP = httptest.NewServer(h.faulty(srv.Handler()))
	t.Cleanup(h.HTTP.Close)

	owner, err := store.CreateUser("owner@salon.test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	h.OwnerKey, _, err = store.GenerateAPIKey(owner.ID, "harness", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	b, err := store.CreateBusiness("Salon", "UTC", owner.ID)
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	h.BusinessID = b.ID
	e, err := store.CreateEmployee(b.ID, "Ana")
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	h.EmployeeID = e.ID

	for i := 0; i < numDevices; i++ {
		name := "client-" + string(rune('A'+i))
		h.Devices[name] = h.newDevice(name)
	}
	return h
}

func (h *Harness) newDevice(name string) *Device {
	h.t.Helper()
	store, err := db.Open(filepath.Join(h.t.TempDir(), name))
	if err != nil {
		h.t.Fatalf("open %s store: %v", name, err)
	}
	h.t.Cleanup(func() { store.Close() })

	client := syncclient.New(h.HTTP.URL, h.OwnerKey, name).SetTimeout(5 * time.Second)
	eng := engine.New(store, &engine.HTTPRemote{Client: client, BusinessID: h.BusinessID}, engine.Config{
		WindowDays: 2,
		Interval:   -1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	app := applier.New(applier.NewDeviceKeys(name), nil)
	return &Device{
		Name:    name,
		DB:      store,
		Applier: app,
		Engine:  eng,
		Surface: conflicts.New(store, app, eng),
	}
}

// faulty wraps the server handler with the harness's network switches.
func (h *Harness) faulty(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.offline.Load() {
			dropConn(w)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/sync/push") {
			next.ServeHTTP(w, r)
			return
		}
		h.pushes.Add(1)
		if h.dropPushResp.Load() > 0 {
			h.dropPushResp.Add(-1)
			// the server commits the batch, the device never hears back
			next.ServeHTTP(httptest.NewRecorder(), r)
			dropConn(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func dropConn(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		conn.Close()
	}
}

// SetOffline cuts or restores every device's connection.
func (h *Harness) SetOffline(off bool) { h.offline.Store(off) }

// DropNextPushResponses makes the next n pushes commit on the server but
// lose their response.
func (h *Harness) DropNextPushResponses(n int) { h.dropPushResp.Store(int32(n)) }

// Pushes reports how many push requests reached the server.
func (h *Harness) Pushes() int { return int(h.pushes.Load()) }

// Device returns a device by name, failing the test if unknown.
func (h *Harness) Device(name string) *Device {
	h.t.Helper()
	d, ok := h.Devices[name]
	if !ok {
		h.t.Fatalf("unknown device %q", name)
	}
	return d
}

// Tomorrow returns tomorrow at hh:mm UTC, inside the default pull window.
func Tomorrow(hh, mm int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, hh, mm, 0, 0, time.UTC)
}

// Book queues a booking for the harness employee.
func (h *Harness) Book(d *Device, customer string, start time.Time, length time.Duration) models.QueueEntry {
	h.t.Helper()
	e, err := d.Applier.Book(applier.Booking{
		EmployeeID:   h.EmployeeID,
		StartAt:      start,
		Duration:     length,
		CustomerName: customer,
	})
	if err != nil {
		h.t.Fatalf("%s book: %v", d.Name, err)
	}
	return h.Enqueue(d, e)
}

// Enqueue stores an entry on a device.
func (h *Harness) Enqueue(d *Device, e models.QueueEntry) models.QueueEntry {
	h.t.Helper()
	stored, err := d.DB.Enqueue(e)
	if err != nil {
		h.t.Fatalf("%s enqueue: %v", d.Name, err)
	}
	return stored
}

// Sync runs one full cycle on a device.
func (h *Harness) Sync(d *Device) (engine.CycleResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Engine.RunCycle(ctx)
}

// MustSync runs a cycle and fails the test on error.
func (h *Harness) MustSync(d *Device) engine.CycleResult {
	h.t.Helper()
	res, err := h.Sync(d)
	if err != nil {
		h.t.Fatalf("%s sync: %v", d.Name, err)
	}
	return res
}

// Status returns the queue status of key on a device.
func (h *Harness) Status(d *Device, key string) models.QueueStatus {
	h.t.Helper()
	e, err := d.DB.GetEntry(key)
	if err != nil {
		h.t.Fatalf("%s get %s: %v", d.Name, key, err)
	}
	return e.Status
}

// Agenda returns the device's snapshot for today and tomorrow.
func (h *Harness) Agenda(d *Device) []models.AppointmentSnapshot {
	h.t.Helper()
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	snaps, err := d.DB.ListSnapshots(from, from.AddDate(0, 0, 2))
	if err != nil {
		h.t.Fatalf("%s agenda: %v", d.Name, err)
	}
	return snaps
}

// ServerAgenda returns what the server holds for today and tomorrow.
func (h *Harness) ServerAgenda() []models.AppointmentSnapshot {
	h.t.Helper()
	from, to := serverdb.Window(time.Now(), time.UTC, 2)
	appts, err := h.Store.ListWindow(context.Background(), h.BusinessID, from, to)
	if err != nil {
		h.t.Fatalf("server agenda: %v", err)
	}
	return appts
}

// AssertConverged checks every device's agenda matches the server's.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	want := agendaKey(h.ServerAgenda())
	for name, d := range h.Devices {
		if got := agendaKey(h.Agenda(d)); got != want {
			h.t.Errorf("%s agenda diverged:\n  device: %s\n  server: %s", name, got, want)
		}
	}
}

func agendaKey(snaps []models.AppointmentSnapshot) string {
	parts := make([]string, len(snaps))
	for i, s := range snaps {
		parts[i] = fmt.Sprintf("%s@%s-%s/%s/%s", s.ID, s.StartAt.UTC().Format("15:04"), s.EndAt.UTC().Format("15:04"), s.EmployeeID, s.Status)
	}
	return strings.Join(parts, " ")
}
