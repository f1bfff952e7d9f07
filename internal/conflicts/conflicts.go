// Package conflicts is the read side and resolution actions for queue
// entries that need a human: conflicts from the server and failed actions.
package conflicts

import (
	"errors"
	"fmt"
	"time"

	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/models"
)

// ErrNotUnresolved is returned when resolving an entry that is not conflict/failed.
var ErrNotUnresolved = errors.New("entry is not in conflict or failed")

// Store is the queue access the surface needs.
type Store interface {
	ListEntries(statuses ...models.QueueStatus) ([]models.QueueEntry, error)
	CountByStatus() (models.QueueCounts, error)
	GetEntry(key string) (models.QueueEntry, error)
	UpdateStatus(key string, status models.QueueStatus, lastError string) error
	Remove(key string) error
	Replace(oldKey string, e models.QueueEntry) (models.QueueEntry, error)
}

// Syncer is poked after a resolution so the change goes out promptly.
type Syncer interface {
	RequestSync()
}

// Item is one entry awaiting resolution.
type Item struct {
	Key           string
	Status        models.QueueStatus
	Type          models.ActionType
	AppointmentID string
	Reason        string
	CreatedAt     time.Time
	Action        models.Action // nil when the payload no longer decodes
}

// Badges are the counts shown to reception staff.
type Badges struct {
	Waiting   int // pending + processing + failed
	Conflicts int
}

// Surface exposes unresolved entries and the actions to settle them.
type Surface struct {
	store   Store
	applier *applier.Applier
	syncer  Syncer
}

// New creates a Surface. syncer may be nil.
func New(store Store, a *applier.Applier, syncer Syncer) *Surface {
	return &Surface{store: store, applier: a, syncer: syncer}
}

// List returns conflict and failed entries, oldest first.
func (s *Surface) List() ([]Item, error) {
	entries, err := s.store.ListEntries(models.QueueConflict, models.QueueFailed)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, toItem(e))
	}
	return items, nil
}

// Badges counts waiting and conflicting entries.
func (s *Surface) Badges() (Badges, error) {
	c, err := s.store.CountByStatus()
	if err != nil {
		return Badges{}, err
	}
	return Badges{Waiting: c.Waiting(), Conflicts: c.Conflicts()}, nil
}

func toItem(e models.QueueEntry) Item {
	it := Item{
		Key:       e.IdempotencyKey,
		Status:    e.Status,
		Type:      e.ActionType,
		Reason:    e.LastError,
		CreatedAt: e.CreatedAt,
	}
	if act, err := e.Action(); err == nil {
		it.Action = act
		it.AppointmentID = act.AppointmentRef()
	}
	return it
}

func (s *Surface) unresolved(key string) (models.QueueEntry, error) {
	e, err := s.store.GetEntry(key)
	if err != nil {
		return e, err
	}
	if !e.Status.NeedsAttention() {
		return e, fmt.Errorf("%w: %s is %s", ErrNotUnresolved, key, e.Status)
	}
	return e, nil
}

func (s *Surface) poke() {
	if s.syncer != nil {
		s.syncer.RequestSync()
	}
}

// Retry sends the entry again unchanged, under the same key.
func (s *Surface) Retry(key string) error {
	if _, err := s.unresolved(key); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(key, models.QueuePending, ""); err != nil {
		return fmt.Errorf("retry %s: %w", key, err)
	}
	s.poke()
	return nil
}

// Discard drops the local intent.
func (s *Surface) Discard(key string) error {
	if _, err := s.unresolved(key); err != nil {
		return err
	}
	return s.store.Remove(key)
}

// AcceptServer drops the local intent and asks for a pull so the snapshot
// shows the server's version.
func (s *Surface) AcceptServer(key string) error {
	if err := s.Discard(key); err != nil {
		return err
	}
	s.poke()
	return nil
}

// Amend swaps the entry for a corrected copy under a new key. edit receives
// the decoded action and returns the correction. The swap is atomic: on error
// the original stays queued.
func (s *Surface) Amend(key string, edit func(models.Action) (models.Action, error)) (models.QueueEntry, error) {
	old, err := s.unresolved(key)
	if err != nil {
		return models.QueueEntry{}, err
	}
	next, err := s.applier.Amend(old, edit)
	if err != nil {
		return models.QueueEntry{}, err
	}
	stored, err := s.store.Replace(key, next)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("amend %s: %w", key, err)
	}
	s.poke()
	return stored, nil
}
