package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jb-612/dox-asdlc/pkg/events"
)

// AgentNotFoundError indicates an event named an agent type with no
// registered handler. The pool treats it as a permanent failure.
type AgentNotFoundError struct {
	AgentType string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("no agent registered for type %q", e.AgentType)
}

// Dispatcher routes events to agents by the agent_type carried in event
// metadata.
type Dispatcher struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{agents: make(map[string]Agent)}
}

// Register adds an agent under its type, replacing any previous
// registration for that type.
func (d *Dispatcher) Register(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.AgentType()] = a
	slog.Debug("Registered agent", "agent_type", a.AgentType())
}

// AgentTypes returns the registered agent types.
func (d *Dispatcher) AgentTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.agents))
	for t := range d.agents {
		types = append(types, t)
	}
	return types
}

// Dispatch looks up the agent named by the event's metadata and invokes it.
// A missing or unregistered agent type fails with AgentNotFoundError; agent
// panics are translated into errors so they never escape the pool.
func (d *Dispatcher) Dispatch(ctx context.Context, e *events.Event, agentCtx *AgentContext) (result *AgentResult, err error) {
	agentType := e.MetadataString("agent_type")
	if agentType == "" {
		return nil, &AgentNotFoundError{AgentType: ""}
	}

	d.mu.RLock()
	agent, ok := d.agents[agentType]
	d.mu.RUnlock()
	if !ok {
		return nil, &AgentNotFoundError{AgentType: agentType}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("agent %s panicked: %v", agentType, r)
		}
	}()

	return agent.Execute(ctx, agentCtx, e.Metadata)
}
