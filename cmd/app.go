package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	engine "github.com/salonsync/salonsync/internal/sync"
	"github.com/salonsync/salonsync/internal/syncclient"
	"github.com/salonsync/salonsync/internal/syncconfig"
	"github.com/salonsync/salonsync/internal/syncerr"
)

// errSyncNotConfigured is returned by commands that need a server.
var errSyncNotConfigured = errors.New("sync not configured (run: salonsync login)")

// postMutationSyncTimeout bounds the sync attempted right after a change.
const postMutationSyncTimeout = 10 * time.Second

// app is everything a command needs, opened from config.
type app struct {
	db       *db.DB
	applier  *applier.Applier
	surface  *conflicts.Surface
	engine   *engine.Engine // nil when not logged in or no business chosen
	client   *syncclient.Client
	business string
}

func dataDir() (string, error) {
	if dataDirF != "" {
		return dataDirF, nil
	}
	return syncconfig.GetDataDir()
}

// openApp opens the local store and, when credentials and a business are
// configured, the sync engine.
func openApp() (*app, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("device id: %w", err)
	}

	a := &app{
		db:       database,
		applier:  applier.New(applier.NewDeviceKeys(deviceID), nil),
		business: syncconfig.GetBusinessID(),
	}

	if syncconfig.IsAuthenticated() && a.business != "" {
		a.client = syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)
		interval := syncconfig.GetAutoSyncInterval()
		if !syncconfig.GetAutoSyncEnabled() {
			interval = -1
		}
		a.engine = engine.New(database, &engine.HTTPRemote{Client: a.client, BusinessID: a.business}, engine.Config{
			WindowDays: syncconfig.GetWindowDays(),
			BatchSize:  syncconfig.GetBatchSize(),
			Interval:   interval,
		}, slog.Default())
	}

	// a nil *Engine must not become a non-nil Syncer
	var syncer conflicts.Syncer
	if a.engine != nil {
		syncer = a.engine
	}
	a.surface = conflicts.New(database, a.applier, syncer)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// enqueue stores a new entry and, if sync is on, tries to send it at once.
// Being offline is not an error: the entry stays queued.
func (a *app) enqueue(e models.QueueEntry) (models.QueueEntry, error) {
	stored, err := a.db.Enqueue(e)
	if err != nil {
		return stored, fmt.Errorf("queue action: %w", err)
	}
	a.syncAfterMutation()
	if refreshed, err := a.db.GetEntry(stored.IdempotencyKey); err == nil {
		stored = refreshed
	}
	return stored, nil
}

func (a *app) syncAfterMutation() {
	if a.engine == nil || !syncconfig.GetAutoSyncEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), postMutationSyncTimeout)
	defer cancel()
	if _, err := a.engine.RunCycle(ctx); err != nil {
		if syncerr.Retryable(err) {
			slog.Debug("post-mutation sync", "err", err)
			return
		}
		output.Warning("sync: %v", err)
	}
}

// printEntry reports a queued change.
func printEntry(verb string, e models.QueueEntry) error {
	if jsonOut {
		return output.JSON(e)
	}
	switch e.Status {
	case models.QueueApplied:
		output.Success("%s and synced (%s)", verb, e.IdempotencyKey)
	case models.QueueConflict:
		output.Warning("%s locally but the server reported a conflict: %s", verb, e.LastError)
		fmt.Println("Resolve with: salonsync conflicts resolve")
	case models.QueueFailed:
		output.Warning("%s locally but the server rejected it: %s", verb, e.LastError)
	default:
		output.Success("%s offline; queued as %s", verb, e.IdempotencyKey)
	}
	return nil
}

// describeErr prints an error in the selected output mode and returns it.
func describeErr(code string, err error) error {
	if jsonOut {
		output.JSONError(code, err.Error())
	} else {
		output.Error("%v", err)
	}
	return err
}

// errCode maps an error to a JSON error code.
func errCode(err error) string {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, conflicts.ErrNotUnresolved), errors.Is(err, db.ErrNotRemovable):
		return output.ErrCodeNotInConflict
	case errors.Is(err, engine.ErrCycleInFlight):
		return output.ErrCodeSyncInProgress
	case errors.Is(err, errSyncNotConfigured):
		return output.ErrCodeNotLoggedIn
	}
	switch syncerr.KindOf(err) {
	case syncerr.Validation:
		return output.ErrCodeInvalidInput
	case syncerr.Unauthenticated:
		return output.ErrCodeNotLoggedIn
	case syncerr.PermissionDenied:
		return output.ErrCodePermissionError
	case syncerr.Transient:
		return output.ErrCodeServerError
	}
	return output.ErrCodeDatabaseError
}
