package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

type fakeRemote struct {
	mu        gosync.Mutex
	pushes    [][]Action
	pulls     []int
	pushErrs  []error // consumed one per push
	conflicts map[string]string
	failed    map[string]string
	pull      PullResult
	pullErr   error
	gate      chan struct{} // when non-nil, Push waits for it
}

func (f *fakeRemote) Push(ctx context.Context, actions []Action) (PushResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, actions)
	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		if err != nil {
			return PushResult{}, err
		}
	}
	var res PushResult
	for _, a := range actions {
		switch {
		case f.conflicts[a.IdempotencyKey] != "":
			res.Conflicts = append(res.Conflicts, Rejection{a.IdempotencyKey, f.conflicts[a.IdempotencyKey]})
		case f.failed[a.IdempotencyKey] != "":
			res.Failed = append(res.Failed, Rejection{a.IdempotencyKey, f.failed[a.IdempotencyKey]})
		default:
			res.Applied++
		}
	}
	return res, nil
}

func (f *fakeRemote) Pull(ctx context.Context, days int) (PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, days)
	if f.pullErr != nil {
		return PullResult{}, f.pullErr
	}
	res := f.pull
	if res.From.IsZero() {
		res.From = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
		res.To = res.From.AddDate(0, 0, days)
	}
	res.Days = days
	return res, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func enqueueCancel(t *testing.T, store *db.DB, key string) {
	t.Helper()
	_, err := store.Enqueue(models.QueueEntry{
		IdempotencyKey: key,
		ActionType:     models.ActionAppointmentCancel,
		Payload:        []byte(fmt.Sprintf(`{"appointment_id":"appt-%s"}`, key)),
	})
	if err != nil {
		t.Fatalf("Enqueue %s: %v", key, err)
	}
}

func statusOf(t *testing.T, store *db.DB, key string) models.QueueEntry {
	t.Helper()
	e, err := store.GetEntry(key)
	if err != nil {
		t.Fatalf("GetEntry %s: %v", key, err)
	}
	return e
}

func TestRunCycleSettlesOutcomes(t *testing.T) {
	store := newTestStore(t)
	for _, k := range []string{"k1", "k2", "k3"} {
		enqueueCancel(t, store, k)
	}
	remote := &fakeRemote{
		conflicts: map[string]string{"k2": "Slot already occupied"},
		failed:    map[string]string{"k3": "appointment not found"},
	}
	eng := New(store, remote, Config{}, nil)

	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Applied != 1 || res.Conflicts != 1 || res.Failed != 1 || res.Pushed != 3 {
		t.Fatalf("result = %+v", res)
	}
	if s := statusOf(t, store, "k1").Status; s != models.QueueApplied {
		t.Errorf("k1 = %s", s)
	}
	if e := statusOf(t, store, "k2"); e.Status != models.QueueConflict || e.LastError != "Slot already occupied" {
		t.Errorf("k2 = %+v", e)
	}
	if e := statusOf(t, store, "k3"); e.Status != models.QueueFailed || e.LastError != "appointment not found" {
		t.Errorf("k3 = %+v", e)
	}
	if len(remote.pulls) != 1 || remote.pulls[0] != DefaultWindowDays {
		t.Errorf("pulls = %v", remote.pulls)
	}
	if eng.Phase() != PhaseIdle {
		t.Errorf("phase = %s after cycle", eng.Phase())
	}
}

func TestConflictsAreNotRetried(t *testing.T) {
	store := newTestStore(t)
	enqueueCancel(t, store, "k1")
	remote := &fakeRemote{conflicts: map[string]string{"k1": "Slot already occupied"}}
	eng := New(store, remote, Config{}, nil)

	eng.RunCycle(context.Background())
	eng.RunCycle(context.Background())

	if remote.pushCount() != 1 {
		t.Fatalf("conflict pushed %d times", remote.pushCount())
	}
}

func TestTransportFailureRevertsAndSkipsPull(t *testing.T) {
	store := newTestStore(t)
	enqueueCancel(t, store, "k1")
	enqueueCancel(t, store, "k2")
	remote := &fakeRemote{pushErrs: []error{errors.New("connection reset")}}
	eng := New(store, remote, Config{}, nil)

	res, err := eng.RunCycle(context.Background())
	if !errors.Is(err, syncerr.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if !res.PullSkipped || len(remote.pulls) != 0 {
		t.Fatalf("pull ran after failed drain: %+v pulls=%v", res, remote.pulls)
	}
	if res.Failures != 1 {
		t.Fatalf("failures = %d", res.Failures)
	}
	for _, k := range []string{"k1", "k2"} {
		if s := statusOf(t, store, k).Status; s != models.QueuePending {
			t.Errorf("%s = %s, want pending", k, s)
		}
	}

	// next cycle succeeds and clears the streak
	res, err = eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if res.Failures != 0 || res.Applied != 2 {
		t.Fatalf("second result = %+v", res)
	}
	state, _ := store.GetSyncState()
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("state failures = %d", state.ConsecutiveFailures)
	}
}

func TestDrainSplitsBatchesInOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := store.Enqueue(models.QueueEntry{
			IdempotencyKey: fmt.Sprintf("k%d", i),
			ActionType:     models.ActionAppointmentCancel,
			Payload:        []byte(`{"appointment_id":"a"}`),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	remote := &fakeRemote{}
	eng := New(store, remote, Config{BatchSize: 2}, nil)

	if _, err := eng.RunCycleMode(context.Background(), ModePushOnly); err != nil {
		t.Fatalf("RunCycleMode: %v", err)
	}
	if len(remote.pushes) != 3 {
		t.Fatalf("got %d requests, want 3", len(remote.pushes))
	}
	var order []string
	for _, b := range remote.pushes {
		for _, a := range b {
			order = append(order, a.IdempotencyKey)
		}
	}
	if fmt.Sprint(order) != "[k0 k1 k2 k3 k4]" {
		t.Fatalf("order = %v", order)
	}
	if len(remote.pulls) != 0 {
		t.Fatal("push-only cycle pulled")
	}
}

func TestSecondCycleWhileInFlightIsNoop(t *testing.T) {
	store := newTestStore(t)
	enqueueCancel(t, store, "k1")
	remote := &fakeRemote{gate: make(chan struct{})}
	eng := New(store, remote, Config{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := eng.RunCycle(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for eng.Phase() == PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := eng.RunCycle(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("concurrent RunCycle err = %v", err)
	}

	close(remote.gate)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if remote.pushCount() != 1 {
		t.Fatalf("pushes = %d", remote.pushCount())
	}
}

func TestPullReplacesWindowWithoutCancelled(t *testing.T) {
	store := newTestStore(t)
	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 2)
	remote := &fakeRemote{pull: PullResult{From: from, To: to, Appointments: []models.AppointmentSnapshot{
		{ID: "a1", StartAt: from.Add(9 * time.Hour), EndAt: from.Add(10 * time.Hour), Status: models.AppointmentConfirmed},
		{ID: "a2", StartAt: from.Add(11 * time.Hour), EndAt: from.Add(12 * time.Hour), Status: models.AppointmentCancelled},
	}}}
	eng := New(store, remote, Config{}, nil)

	res, err := eng.RunCycleMode(context.Background(), ModePullOnly)
	if err != nil {
		t.Fatalf("RunCycleMode: %v", err)
	}
	if res.Pulled != 1 || !res.WindowFrom.Equal(from) || !res.WindowTo.Equal(to) {
		t.Fatalf("result = %+v", res)
	}
	snaps, _ := store.ListSnapshots(from, to)
	if len(snaps) != 1 || snaps[0].ID != "a1" || !snaps[0].Synced {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestWindowDaysClamped(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 2}, {-4, 1}, {45, 30}, {7, 7}} {
		eng := New(nil, nil, Config{WindowDays: tc.in}, nil)
		if got := eng.Config().WindowDays; got != tc.want {
			t.Errorf("WindowDays(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	base, max := 2*time.Second, 5*time.Minute
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{200, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.n, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestRunStartsCycleOnOnlineTransition(t *testing.T) {
	store := newTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enqueueCancel(t, store, "k1")
	cycles := make(chan CycleResult, 4)
	remote := &fakeRemote{}
	eng := New(store, remote, Config{
		Interval: -1,
		OnCycle:  func(r CycleResult, err error) { cycles <- r },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx, false) }()

	eng.SetOnline(false) // no transition
	eng.SetOnline(true)

	select {
	case r := <-cycles:
		if r.Trigger != TriggerOnline || r.Applied != 1 {
			t.Fatalf("cycle = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle after going online")
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunRetriesWithBackoff(t *testing.T) {
	store := newTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enqueueCancel(t, store, "k1")
	type outcome struct {
		res CycleResult
		err error
	}
	cycles := make(chan outcome, 4)
	remote := &fakeRemote{pushErrs: []error{syncerr.New(syncerr.Transient, "push", errors.New("503"))}}
	eng := New(store, remote, Config{
		Interval:    -1,
		BackoffBase: 20 * time.Millisecond,
		BackoffMax:  time.Second,
		OnCycle:     func(r CycleResult, err error) { cycles <- outcome{r, err} },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx, true) }()

	first := <-cycles
	if first.err == nil || first.res.Trigger != TriggerOnline {
		t.Fatalf("first cycle = %+v", first)
	}
	select {
	case second := <-cycles:
		if second.err != nil || second.res.Trigger != TriggerRetry || second.res.Applied != 1 {
			t.Fatalf("second cycle = %+v", second)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no retry after backoff")
	}

	cancel()
	<-runDone
}

func TestManualRequestIgnoresBackoff(t *testing.T) {
	store := newTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enqueueCancel(t, store, "k1")
	cycles := make(chan Trigger, 4)
	remote := &fakeRemote{pushErrs: []error{errors.New("no route to host")}}
	eng := New(store, remote, Config{
		Interval:    -1,
		BackoffBase: time.Hour,
		BackoffMax:  time.Hour,
		OnCycle:     func(r CycleResult, err error) { cycles <- r.Trigger },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx, true) }()

	if tr := <-cycles; tr != TriggerOnline {
		t.Fatalf("first trigger = %s", tr)
	}
	eng.RequestSync()
	select {
	case tr := <-cycles:
		if tr != TriggerManual {
			t.Fatalf("second trigger = %s", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manual sync waited for backoff")
	}
	if s := statusOf(t, store, "k1").Status; s != models.QueueApplied {
		t.Fatalf("k1 = %s", s)
	}

	cancel()
	<-runDone
}

func TestRunWaitsForInFlightCycle(t *testing.T) {
	store := newTestStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	enqueueCancel(t, store, "k1")
	remote := &fakeRemote{gate: make(chan struct{})}
	eng := New(store, remote, Config{Interval: -1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx, true) }()

	deadline := time.Now().Add(2 * time.Second)
	for eng.Phase() == PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("cycle never started")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-runDone:
		t.Fatal("Run returned with a cycle in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(remote.gate)
	<-runDone
	if s := statusOf(t, store, "k1").Status; s != models.QueueApplied {
		t.Fatalf("k1 = %s after shutdown", s)
	}
}

func TestWatchConnectivityReportsTransitionsOnly(t *testing.T) {
	eng := New(nil, nil, Config{}, nil)
	results := []error{nil, nil, errors.New("down"), errors.New("down"), nil}
	var (
		mu gosync.Mutex
		i  int
	)
	probe := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(results) {
			return nil
		}
		err := results[i]
		i++
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	eng.WatchConnectivity(ctx, probe, 5*time.Millisecond)

	var got []bool
	for {
		select {
		case ev := <-eng.events:
			got = append(got, ev.online)
			continue
		default:
		}
		break
	}
	if fmt.Sprint(got) != "[true false true]" {
		t.Fatalf("transitions = %v", got)
	}
}

func TestDrainResendsEntriesOrphanedInProcessing(t *testing.T) {
	dir := t.TempDir()
	first, err := db.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	enqueueCancel(t, first, "k1")
	if _, err := first.MarkProcessing([]string{"k1"}); err != nil {
		t.Fatal(err)
	}
	first.Close() // killed mid-push

	store, err := db.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	remote := &fakeRemote{}
	eng := New(store, remote, Config{}, nil)

	// Too recent to tell apart from a push still running elsewhere.
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, store, "k1").Status; got != models.QueueProcessing || remote.pushCount() != 0 {
		t.Fatalf("fresh processing entry touched: status=%s pushes=%d", got, remote.pushCount())
	}

	later := time.Now().Add(db.StaleProcessingAfter + time.Minute)
	store.SetClock(func() time.Time { return later })
	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 || remote.pushCount() != 1 {
		t.Fatalf("applied=%d pushes=%d", res.Applied, remote.pushCount())
	}
	if got := statusOf(t, store, "k1").Status; got != models.QueueApplied {
		t.Fatalf("status = %s, want applied", got)
	}
}

func TestBatchSizeCappedAtServerLimit(t *testing.T) {
	if got := (Config{BatchSize: 5000}).withDefaults().BatchSize; got != MaxBatchSize {
		t.Fatalf("batch size = %d, want %d", got, MaxBatchSize)
	}
	if got := (Config{}).withDefaults().BatchSize; got != DefaultBatchSize {
		t.Fatalf("default batch size = %d", got)
	}
}
