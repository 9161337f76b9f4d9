package streams

import (
	"context"
	"log/slog"

	"github.com/jb-612/dox-asdlc/pkg/events"
	"github.com/jb-612/dox-asdlc/pkg/tenant"
)

// Publisher appends validated events to the tenant-scoped stream. It injects
// the tenant ID from the keyer when the event carries none and generates the
// idempotency key at publish time if absent, so consumers can deduplicate
// deterministically.
type Publisher struct {
	client *Client
	keyer  tenant.Keyer
	maxLen int64
}

// NewPublisher creates a publisher over the client. maxLen <= 0 uses
// DefaultMaxLen.
func NewPublisher(client *Client, keyer tenant.Keyer, maxLen int64) *Publisher {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{client: client, keyer: keyer, maxLen: maxLen}
}

// Publish validates and appends the event, returning the log-assigned ID.
// The event's ID field is set on success.
func (p *Publisher) Publish(ctx context.Context, e *events.Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	if p.keyer.Enabled && e.TenantID == "" {
		e.TenantID = p.keyer.Resolve("")
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = e.EnsureIdempotencyKey()
	}

	stream := p.keyer.Stream(e.TenantID)
	id, err := p.client.Publish(ctx, stream, e.ToWire(), p.maxLen)
	if err != nil {
		return "", err
	}

	e.ID = id
	slog.Debug("Published event", "event_id", id, "event_type", e.Type, "stream", stream)
	return id, nil
}
