package consumer

import (
	"context"
	"log/slog"

	"github.com/jb-612/dox-asdlc/pkg/events"
)

// ProcessPending recovers entries left pending by a crashed run. It claims
// entries idle for at least the stale threshold under this consumer's name
// and routes each with the same decisions as the main loop, accumulating
// counts. Call on startup, before Start.
func (c *Consumer) ProcessPending(ctx context.Context) (*events.RecoveryResult, error) {
	log := slog.With("consumer", c.name, "group", c.group)
	log.Info("Processing pending events")

	result := &events.RecoveryResult{}

	pending, err := c.client.Pending(ctx, c.stream, c.group, c.pendingFetch, "")
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		log.Info("No pending events to recover")
		return result, nil
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Idle >= c.staleIdle {
			staleIDs = append(staleIDs, p.MessageID)
		}
	}
	if len(staleIDs) == 0 {
		log.Info("No stale pending events", "pending", len(pending))
		return result, nil
	}

	claimed, err := c.client.Claim(ctx, c.stream, c.group, c.name, c.staleIdle, staleIDs)
	if err != nil {
		return nil, err
	}
	result.Claimed = len(claimed)
	log.Info("Claimed stale events", "claimed", result.Claimed)

	for _, m := range claimed {
		e, err := events.FromWire(m.ID, m.Values)
		if err != nil {
			slog.Warn("Skipping malformed claimed event", "event_id", m.ID, "error", err)
			c.ack(ctx, m.ID)
			result.Skipped++
			continue
		}
		c.recoverEvent(ctx, e, result)
	}

	log.Info("Recovery complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"claimed", result.Claimed)
	return result, nil
}

// recoverEvent applies the main-loop routing to one claimed event and
// updates the counters.
func (c *Consumer) recoverEvent(ctx context.Context, e *events.Event, result *events.RecoveryResult) {
	log := slog.With("event_id", e.ID, "event_type", e.Type, "group", c.group)

	processed, err := c.tracker.IsProcessed(ctx, e)
	if err != nil {
		log.Error("Idempotency check failed during recovery", "error", err)
		result.Failed++
		return
	}
	if processed {
		log.Debug("Skipping already processed event")
		c.ack(ctx, e.ID)
		result.Skipped++
		return
	}

	if !c.handler.CanHandle(e.Type) {
		c.ack(ctx, e.ID)
		result.Skipped++
		return
	}

	handlerResult, err := c.invokeHandler(ctx, e)
	if err != nil {
		log.Error("Handler crashed during recovery", "error", err)
		result.Failed++
		return
	}

	switch {
	case handlerResult.Success:
		if err := c.tracker.MarkProcessed(ctx, e); err != nil {
			log.Error("Failed to mark recovered event processed", "error", err)
		}
		c.ack(ctx, e.ID)
		result.Processed++
	case handlerResult.ShouldRetry:
		// Leave pending for a future recovery pass.
		result.Failed++
	default:
		c.ack(ctx, e.ID)
		result.Failed++
	}
}
