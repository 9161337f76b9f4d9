package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptySessionID indicates an event was built without a session ID.
var ErrEmptySessionID = errors.New("session_id is required and cannot be empty")

// Wire field names for stream entries.
const (
	fieldEventType      = "event_type"
	fieldSessionID      = "session_id"
	fieldTimestamp      = "timestamp"
	fieldMode           = "mode"
	fieldEpicID         = "epic_id"
	fieldTaskID         = "task_id"
	fieldGitSHA         = "git_sha"
	fieldArtifactPaths  = "artifact_paths"
	fieldTenantID       = "tenant_id"
	fieldIdempotencyKey = "idempotency_key"
	fieldMetadata       = "metadata"
)

// Event is the record appended to the event stream. All coordination in the
// system flows through these records; the stream holds the only durable copy.
//
// ID is assigned by the log at append time and is empty before publish.
type Event struct {
	ID             string
	Type           EventType
	SessionID      string
	EpicID         string
	TaskID         string
	GitSHA         string
	ArtifactPaths  []string
	Mode           string
	TenantID       string
	Timestamp      time.Time
	IdempotencyKey string
	Metadata       map[string]any
}

// New creates a validated event with the mode defaulted to "normal" and the
// timestamp set to the current UTC time.
func New(eventType EventType, sessionID string) (*Event, error) {
	e := &Event{
		Type:      eventType,
		SessionID: sessionID,
		Mode:      ModeNormal,
		Timestamp: time.Now().UTC(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the event invariants and normalizes defaults: the session
// ID must be non-blank, the type must be known, an empty mode becomes
// "normal", and a zero timestamp becomes now in UTC.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.SessionID) == "" {
		return ErrEmptySessionID
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", string(e.Type))
	}
	if e.Mode == "" {
		e.Mode = ModeNormal
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

// ToWire converts the event to the string-to-string mapping stored in a
// stream entry. Optional fields are included only when non-empty; artifact
// paths are comma-joined and metadata is carried as one JSON string field.
func (e *Event) ToWire() map[string]string {
	data := map[string]string{
		fieldEventType: string(e.Type),
		fieldSessionID: e.SessionID,
		fieldTimestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldMode:      e.Mode,
	}

	if e.EpicID != "" {
		data[fieldEpicID] = e.EpicID
	}
	if e.TaskID != "" {
		data[fieldTaskID] = e.TaskID
	}
	if e.GitSHA != "" {
		data[fieldGitSHA] = e.GitSHA
	}
	if len(e.ArtifactPaths) > 0 {
		data[fieldArtifactPaths] = strings.Join(e.ArtifactPaths, ",")
	}
	if e.TenantID != "" {
		data[fieldTenantID] = e.TenantID
	}
	if e.IdempotencyKey != "" {
		data[fieldIdempotencyKey] = e.IdempotencyKey
	}
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			data[fieldMetadata] = string(raw)
		}
	}

	return data
}

// FromWire reconstructs an event from a stream entry. Unknown event types
// fail; a missing timestamp becomes now in UTC; malformed metadata degrades
// to an empty map.
func FromWire(eventID string, data map[string]string) (*Event, error) {
	eventType, err := ParseEventType(data[fieldEventType])
	if err != nil {
		return nil, err
	}

	e := &Event{
		ID:             eventID,
		Type:           eventType,
		SessionID:      data[fieldSessionID],
		EpicID:         data[fieldEpicID],
		TaskID:         data[fieldTaskID],
		GitSHA:         data[fieldGitSHA],
		Mode:           data[fieldMode],
		TenantID:       data[fieldTenantID],
		IdempotencyKey: data[fieldIdempotencyKey],
		Timestamp:      parseTimestamp(data[fieldTimestamp]),
		Metadata:       map[string]any{},
	}
	if e.Mode == "" {
		e.Mode = ModeNormal
	}

	if paths := data[fieldArtifactPaths]; paths != "" {
		e.ArtifactPaths = strings.Split(paths, ",")
	} else {
		e.ArtifactPaths = []string{}
	}

	if raw := data[fieldMetadata]; raw != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			e.Metadata = metadata
		}
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// parseTimestamp accepts RFC 3339 timestamps and offset-free variants, which
// are interpreted as UTC. Anything unparseable becomes now in UTC.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// MetadataString returns the named metadata value as a string, or "" when
// absent or not a string.
func (e *Event) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}
