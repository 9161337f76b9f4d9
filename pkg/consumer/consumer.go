// Package consumer implements the per-group event loop: it reads one
// consumer group, filters by event type, dispatches to a handler, and
// decides acknowledgment from the handler result. Delivery is at-least-once;
// the idempotency tracker prevents double-commit across redeliveries.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jb-612/dox-asdlc/pkg/events"
	"github.com/jb-612/dox-asdlc/pkg/idempotency"
	"github.com/jb-612/dox-asdlc/pkg/streams"
)

// Handler processes events routed to a consumer group.
type Handler interface {
	// Handle processes one event. A returned error means the handler
	// crashed; the entry is left pending so redelivery drives the retry.
	Handle(ctx context.Context, e *events.Event) (*events.HandlerResult, error)

	// CanHandle reports whether this handler routes the given event type.
	CanHandle(t events.EventType) bool
}

// Defaults for the consumer loop.
const (
	DefaultBatchSize    = 10
	DefaultBlock        = 5 * time.Second
	DefaultStaleIdle    = 60 * time.Second
	DefaultPendingFetch = 100

	errBackoff = time.Second
)

// Consumer reads one consumer group and drives a Handler.
type Consumer struct {
	group   string
	name    string
	stream  string
	handler Handler
	client  *streams.Client
	tracker *idempotency.Tracker

	batchSize    int64
	block        time.Duration
	staleIdle    time.Duration
	pendingFetch int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Option customizes a Consumer.
type Option func(*Consumer)

// WithBatchSize sets the number of entries read per iteration.
func WithBatchSize(n int64) Option { return func(c *Consumer) { c.batchSize = n } }

// WithBlock sets the blocking timeout for group reads.
func WithBlock(d time.Duration) Option { return func(c *Consumer) { c.block = d } }

// WithStaleIdle sets the idle threshold beyond which pending entries are
// considered abandoned and eligible for claim during recovery.
func WithStaleIdle(d time.Duration) Option { return func(c *Consumer) { c.staleIdle = d } }

// New creates a consumer for the given group and stream.
func New(client *streams.Client, tracker *idempotency.Tracker, stream, group, name string, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		group:        group,
		name:         name,
		stream:       stream,
		handler:      handler,
		client:       client,
		tracker:      tracker,
		batchSize:    DefaultBatchSize,
		block:        DefaultBlock,
		staleIdle:    DefaultStaleIdle,
		pendingFetch: DefaultPendingFetch,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes events until Stop is called or ctx is cancelled. Stream
// errors back off for a second and the loop continues; it never terminates
// on its own.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		slog.Warn("Consumer already running", "consumer", c.name, "group", c.group)
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	log := slog.With("consumer", c.name, "group", c.group)
	log.Info("Consumer started", "stream", c.stream)

	for {
		select {
		case <-stopCh:
			log.Info("Consumer stopped")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, consumer stopping")
			return
		default:
		}

		if err := c.processOnce(ctx); err != nil {
			var streamErr *streams.StreamError
			if errors.As(err, &streamErr) {
				log.Error("Stream error in consumer", "error", err)
			} else {
				log.Error("Unexpected error in consumer", "error", err)
			}
			sleepCtx(ctx, errBackoff)
		}
	}
}

// Stop signals the loop to exit after the current iteration. Safe to call
// multiple times.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
}

// processOnce reads one batch and handles each event.
func (c *Consumer) processOnce(ctx context.Context) error {
	messages, err := c.client.ReadGroup(ctx, c.stream, c.group, c.name, c.batchSize, c.block)
	if err != nil {
		return err
	}

	for _, m := range messages {
		e, err := events.FromWire(m.ID, m.Values)
		if err != nil {
			// Malformed entries cannot be routed; ack so they are not
			// redelivered forever.
			slog.Warn("Skipping malformed event", "event_id", m.ID, "error", err)
			c.ack(ctx, m.ID)
			continue
		}
		c.handleEvent(ctx, e)
	}
	return nil
}

// handleEvent applies the routing decisions for one delivered event:
// unroutable types and known duplicates are acknowledged immediately,
// success marks then acks, retryable failures stay pending, and permanent
// failures ack without a processed marker.
func (c *Consumer) handleEvent(ctx context.Context, e *events.Event) {
	log := slog.With("event_id", e.ID, "event_type", e.Type, "group", c.group)

	if !c.handler.CanHandle(e.Type) {
		log.Debug("Handler does not route event type, acknowledging")
		c.ack(ctx, e.ID)
		return
	}

	processed, err := c.tracker.IsProcessed(ctx, e)
	if err != nil {
		log.Error("Idempotency check failed", "error", err)
		return
	}
	if processed {
		log.Debug("Event already processed, acknowledging")
		c.ack(ctx, e.ID)
		return
	}

	result, err := c.invokeHandler(ctx, e)
	if err != nil {
		// Handler crashed. Leave the entry pending; redelivery drives
		// the retry.
		log.Error("Handler crashed", "error", err)
		return
	}

	switch {
	case result.Success:
		if err := c.tracker.MarkProcessed(ctx, e); err != nil {
			log.Error("Failed to mark event processed", "error", err)
		}
		c.ack(ctx, e.ID)
		log.Debug("Successfully processed event")
	case result.ShouldRetry:
		log.Warn("Event requested retry", "error_message", result.ErrorMessage)
	default:
		// Permanent failure: ack to stop redelivery, but the event was
		// not processed, so no marker is written.
		c.ack(ctx, e.ID)
		log.Error("Event permanently failed", "error_message", result.ErrorMessage)
	}
}

// invokeHandler calls the handler with panics translated into errors so
// they never escape the consumer loop.
func (c *Consumer) invokeHandler(ctx context.Context, e *events.Event) (result *events.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &handlerPanic{value: r}
		}
	}()

	result, err = c.handler.Handle(ctx, e)
	if err == nil && result == nil {
		err = errors.New("handler returned no result")
	}
	return result, err
}

type handlerPanic struct{ value any }

func (p *handlerPanic) Error() string { return fmt.Sprintf("handler panicked: %v", p.value) }

func (c *Consumer) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := c.client.Ack(ctx, c.stream, c.group, id); err != nil {
		slog.Error("Failed to acknowledge event", "event_id", id, "group", c.group, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
