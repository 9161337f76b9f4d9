// Package idempotency tracks processed events so redeliveries and concurrent
// consumers cannot double-process. Markers are Redis keys with a TTL; mutual
// exclusion comes from the store's atomic set-if-absent, so no in-process
// locking is needed.
package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jb-612/dox-asdlc/pkg/events"
	"github.com/jb-612/dox-asdlc/pkg/tenant"
)

// KeyPrefix is the marker namespace; the tenant prefix, when enabled, goes
// in front of it.
const KeyPrefix = "asdlc:worker:processed:"

// DefaultTTL is the processed-marker lifetime (7 days).
const DefaultTTL = 7 * 24 * time.Hour

// Tracker records which events have been processed. The marker value is the
// stream entry ID that processed the event; it is written once and expires
// via TTL.
type Tracker struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	tenantID string
}

// NewTracker creates a tracker scoped to tenantID (empty for single-tenant
// mode). ttl <= 0 uses DefaultTTL.
func NewTracker(rdb redis.UniversalClient, tenantID string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{rdb: rdb, ttl: ttl, tenantID: tenantID}
}

// TTL returns the configured marker lifetime.
func (t *Tracker) TTL() time.Duration { return t.ttl }

func (t *Tracker) key(idempotencyKey string) string {
	return tenant.Keyer{Enabled: t.tenantID != ""}.Key(t.tenantID, KeyPrefix+idempotencyKey)
}

func markerValue(e *events.Event) string {
	if e.ID != "" {
		return e.ID
	}
	return "unknown"
}

// IsProcessed reports whether the event's idempotency key already has a
// marker.
func (t *Tracker) IsProcessed(ctx context.Context, e *events.Event) (bool, error) {
	n, err := t.rdb.Exists(ctx, t.key(e.EnsureIdempotencyKey())).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed writes the marker unconditionally with the configured TTL.
// Consumers call this after a successful handler result, before ack.
func (t *Tracker) MarkProcessed(ctx context.Context, e *events.Event) error {
	key := t.key(e.EnsureIdempotencyKey())
	if err := t.rdb.Set(ctx, key, markerValue(e), t.ttl).Err(); err != nil {
		return err
	}
	slog.Debug("Marked event as processed", "idempotency_key", e.EnsureIdempotencyKey())
	return nil
}

// CheckAndMarkIfNew atomically writes the marker if absent, returning true
// iff this caller won the race. Losing callers must treat the event as a
// duplicate.
func (t *Tracker) CheckAndMarkIfNew(ctx context.Context, e *events.Event) (bool, error) {
	idemKey := e.EnsureIdempotencyKey()
	set, err := t.rdb.SetNX(ctx, t.key(idemKey), markerValue(e), t.ttl).Result()
	if err != nil {
		return false, err
	}
	if set {
		slog.Debug("New event marked as processing", "idempotency_key", idemKey)
	} else {
		slog.Debug("Duplicate event detected", "idempotency_key", idemKey)
	}
	return set, nil
}
