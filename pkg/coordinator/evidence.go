package coordinator

import "context"

// GateType identifies a HITL approval checkpoint.
type GateType string

// The two gates this coordinator submits to: HITL-5 guards entry to the
// deployment phase, HITL-6 guards entry to monitoring.
const (
	GateHITL5Validation GateType = "hitl-5-validation"
	GateHITL6Release    GateType = "hitl-6-release"
)

// EvidenceItem references one artifact included in an evidence bundle.
// ContentHash is required to exist but may be empty.
type EvidenceItem struct {
	ItemType    string `json:"item_type"`
	Path        string `json:"path"`
	Description string `json:"description"`
	ContentHash string `json:"content_hash"`
}

// EvidenceBundle is the payload submitted at a gate: artifact references
// plus a markdown summary derived from the phase reports.
type EvidenceBundle struct {
	TaskID   string         `json:"task_id"`
	GateType GateType       `json:"gate_type"`
	GitSHA   string         `json:"git_sha"`
	Items    []EvidenceItem `json:"items"`
	Summary  string         `json:"summary"`
}

// GateRequest is returned by the gate dispatcher after submission.
type GateRequest struct {
	RequestID string
	TaskID    string
	SessionID string
	GateType  GateType
}

// GateDispatcher submits evidence bundles for human review. The HITL
// service behind it is an external collaborator; the coordinator never
// blocks on the decision.
type GateDispatcher interface {
	RequestGate(ctx context.Context, taskID, sessionID string, gateType GateType, bundle *EvidenceBundle, requestedBy string) (*GateRequest, error)
}
