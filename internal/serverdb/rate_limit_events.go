package serverdb

import (
	"fmt"
	"time"
)

// RateLimitEvent represents a rate limit violation event.
type RateLimitEvent struct {
	ID            string    `db:"id"`
	KeyID         *string   `db:"key_id"` // nil if IP-based
	IP            string    `db:"ip"`
	EndpointClass string    `db:"endpoint_class"` // auth, push, pull, other
	CreatedAt     time.Time `db:"created_at"`
}

// InsertRateLimitEvent inserts a rate limit violation event.
// keyID may be empty for IP-based rate limiting (stored as NULL).
func (db *ServerDB) InsertRateLimitEvent(keyID, ip, endpointClass string) error {
	id, err := generateID("rl_")
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	_, err = db.conn.Exec(db.conn.Rebind(
		`INSERT INTO rate_limit_events (id, key_id, ip, endpoint_class, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, nullable(keyID), ip, endpointClass, db.nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// RecentRateLimitEvents returns violations since the given time, newest first.
func (db *ServerDB) RecentRateLimitEvents(since time.Time, limit int) ([]RateLimitEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []RateLimitEvent
	err := db.conn.Select(&out, db.conn.Rebind(`
		SELECT id, key_id, ip, endpoint_class, created_at FROM rate_limit_events
		WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT ?`), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query rate limit events: %w", err)
	}
	return out, nil
}

// CleanupRateLimitEvents deletes events older than the given age.
func (db *ServerDB) CleanupRateLimitEvents(olderThan time.Duration) (int64, error) {
	cutoff := db.nowUTC().Add(-olderThan)
	res, err := db.conn.Exec(db.conn.Rebind(`DELETE FROM rate_limit_events WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit events: %w", err)
	}
	return res.RowsAffected()
}
