// Package worker executes long-running agent jobs from the event stream: a
// bounded-concurrency pool pulls agent_started events, dispatches them to
// registered agents, emits agent_completed or agent_error terminals, and
// acknowledges the originals. Delivery is at-least-once with idempotent
// processing.
package worker

import "context"

// AgentContext carries the execution environment for one agent invocation.
// It is built per-event by the pool and never persisted.
type AgentContext struct {
	SessionID     string
	TaskID        string
	TenantID      string
	WorkspacePath string
	ContextPack   string
	Metadata      map[string]any
}

// AgentResult is returned by an agent. Success is lifted into the terminal
// event type by the pool; ShouldRetry is advisory and must be set
// deliberately — errors returned from Execute are treated as permanent.
type AgentResult struct {
	AgentType     string
	TaskID        string
	Success       bool
	ArtifactPaths []string
	ErrorMessage  string
	ShouldRetry   bool
	Metadata      map[string]any
}

// Agent is an opaque callable mapping (context, event metadata) to a result.
// Implementations live outside the core; the pool only needs these two
// capabilities.
type Agent interface {
	Execute(ctx context.Context, agentCtx *AgentContext, eventMetadata map[string]any) (*AgentResult, error)
	AgentType() string
}
