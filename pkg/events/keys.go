package events

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdempotencyKey derives the deterministic key identifying the logical
// operation an event represents. Non-empty components are joined with ":"
// in the order (type, session, task, epic, extra) — this order is part of
// the wire contract — hashed with SHA-256, and truncated to 32 lowercase
// hex characters.
func IdempotencyKey(eventType EventType, sessionID, taskID, epicID, extra string) string {
	components := []string{string(eventType), sessionID}
	if taskID != "" {
		components = append(components, taskID)
	}
	if epicID != "" {
		components = append(components, epicID)
	}
	if extra != "" {
		components = append(components, extra)
	}

	sum := sha256.Sum256([]byte(strings.Join(components, ":")))
	return hex.EncodeToString(sum[:])[:32]
}

// EnsureIdempotencyKey returns the event's idempotency key, deriving one
// from its identifying tuple when the event does not carry one. Publisher
// and consumer derive identically, so deduplication is deterministic.
func (e *Event) EnsureIdempotencyKey() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return IdempotencyKey(e.Type, e.SessionID, e.TaskID, e.EpicID, "")
}
