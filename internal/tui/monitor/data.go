package monitor

import (
	"time"

	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/dateparse"
	"github.com/salonsync/salonsync/internal/models"
)

// FetchData retrieves all data needed for the monitor display. The agenda
// covers today and tomorrow in loc, matching what a pull keeps locally.
func FetchData(src Source, syncer Syncer, loc *time.Location, now time.Time) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: now}

	counts, err := src.CountByStatus()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Badges = conflicts.Badges{Waiting: counts.Waiting(), Conflicts: counts.Conflicts()}

	from := dateparse.StartOfDay(now, loc)
	if msg.Agenda, err = src.ListSnapshots(from, from.AddDate(0, 0, 2)); err != nil {
		msg.Err = err
		return msg
	}

	if msg.Attention, err = src.ListEntries(models.QueueConflict, models.QueueFailed); err != nil {
		msg.Err = err
		return msg
	}

	if msg.State, err = src.GetSyncState(); err != nil {
		msg.Err = err
		return msg
	}

	if syncer != nil {
		msg.Phase = syncer.Phase()
		msg.Online = syncer.Online()
	}
	return msg
}
