package worker

import (
	"context"
	"log/slog"

	"github.com/jb-612/dox-asdlc/pkg/events"
)

// pendingFetch bounds how many pending entries one recovery pass inspects.
const pendingFetch = 100

// ProcessPending reclaims agent_started entries left pending by dead
// consumers and runs them through the normal per-event sequence. Entries
// must have been idle at least StaleClaimIdle to be claimed. Call on
// startup, before Start.
func (p *Pool) ProcessPending(ctx context.Context) (*events.RecoveryResult, error) {
	log := slog.With("group", p.cfg.ConsumerGroup, "consumer", p.cfg.ConsumerName)
	log.Info("Recovering pending events")

	result := &events.RecoveryResult{}

	pending, err := p.client.Pending(ctx, p.stream, p.cfg.ConsumerGroup, pendingFetch, "")
	if err != nil {
		return nil, err
	}

	var staleIDs []string
	for _, entry := range pending {
		if entry.Idle >= p.cfg.StaleClaimIdle {
			staleIDs = append(staleIDs, entry.MessageID)
		}
	}
	if len(staleIDs) == 0 {
		log.Info("No stale pending events", "pending", len(pending))
		return result, nil
	}

	claimed, err := p.client.Claim(ctx, p.stream, p.cfg.ConsumerGroup, p.cfg.ConsumerName, p.cfg.StaleClaimIdle, staleIDs)
	if err != nil {
		return nil, err
	}
	result.Claimed = len(claimed)
	log.Info("Claimed stale events", "claimed", result.Claimed)

	for _, m := range claimed {
		e, err := events.FromWire(m.ID, m.Values)
		if err != nil {
			slog.Warn("Skipping malformed claimed event", "event_id", m.ID, "error", err)
			p.ack(ctx, m.ID)
			result.Skipped++
			continue
		}
		if e.Type != events.EventAgentStarted {
			p.ack(ctx, e.ID)
			result.Skipped++
			continue
		}

		before := p.Stats()
		p.processEvent(ctx, e)
		after := p.Stats()

		switch {
		case after.EventsSucceeded > before.EventsSucceeded:
			result.Processed++
		case after.EventsFailed > before.EventsFailed:
			result.Failed++
		default:
			// Duplicate: acknowledged with no terminal.
			result.Skipped++
		}
	}

	log.Info("Recovery complete",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"claimed", result.Claimed)
	return result, nil
}
