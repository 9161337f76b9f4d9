package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jb-612/dox-asdlc/pkg/events"
	"github.com/jb-612/dox-asdlc/pkg/idempotency"
	"github.com/jb-612/dox-asdlc/pkg/streams"
	"github.com/jb-612/dox-asdlc/pkg/tenant"
)

// State of the worker pool.
type State string

// Pool lifecycle states.
const (
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
)

// readBlock bounds each group read so the loop can observe stop requests.
const readBlock = time.Second

// Stats is a snapshot of pool counters.
type Stats struct {
	State            State `json:"state"`
	EventsProcessed  int   `json:"events_processed"`
	EventsSucceeded  int   `json:"events_succeeded"`
	EventsFailed     int   `json:"events_failed"`
	ActiveWorkers    int   `json:"active_workers"`
	ConcurrencyLimit int   `json:"concurrency_limit"`
}

// Pool consumes agent_started events with bounded concurrency. A single
// dispatcher goroutine reads batches; each accepted event runs in its own
// goroutine under a semaphore sized to PoolSize. For every accepted event
// the pool appends exactly one terminal (agent_completed or agent_error)
// before acknowledging the original; detected duplicates are acknowledged
// with no terminal.
type Pool struct {
	client        *streams.Client
	cfg           *Config
	dispatcher    *Dispatcher
	tracker       *idempotency.Tracker
	workspacePath string
	tenantID      string
	stream        string

	sem chan struct{}

	mu          sync.Mutex
	state       State
	stopCh      chan struct{}
	loopDone    chan struct{}
	cancelTasks context.CancelFunc
	active      sync.WaitGroup
	activeCount int

	statsMu         sync.Mutex
	eventsProcessed int
	eventsSucceeded int
	eventsFailed    int
}

// NewPool creates a worker pool for the given tenant (empty for
// single-tenant mode). The tracker is used as given: its marker TTL is the
// one it was created with, not read from cfg.
func NewPool(client *streams.Client, cfg *Config, dispatcher *Dispatcher, tracker *idempotency.Tracker, workspacePath, tenantID string) *Pool {
	return &Pool{
		client:        client,
		cfg:           cfg,
		dispatcher:    dispatcher,
		tracker:       tracker,
		workspacePath: workspacePath,
		tenantID:      tenantID,
		stream:        tenant.StreamName(tenantID),
		sem:           make(chan struct{}, cfg.PoolSize),
		state:         StateStopped,
	}
}

// State returns the current pool state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stream returns the stream this pool reads and writes.
func (p *Pool) Stream() string { return p.stream }

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.mu.Lock()
	state := p.state
	active := p.activeCount
	p.mu.Unlock()
	return Stats{
		State:            state,
		EventsProcessed:  p.eventsProcessed,
		EventsSucceeded:  p.eventsSucceeded,
		EventsFailed:     p.eventsFailed,
		ActiveWorkers:    active,
		ConcurrencyLimit: p.cfg.PoolSize,
	}
}

// Start runs the event loop until Stop is called. Calling Start on a
// running pool is a no-op with a warning. Start blocks; run it in its own
// goroutine.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		slog.Warn("Worker pool already running")
		return
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.state = StateRunning
	p.stopCh = make(chan struct{})
	p.loopDone = make(chan struct{})
	p.cancelTasks = cancel
	stopCh := p.stopCh
	loopDone := p.loopDone
	p.mu.Unlock()

	slog.Info("Worker pool started",
		"pool_size", p.cfg.PoolSize,
		"consumer_group", p.cfg.ConsumerGroup,
		"consumer", p.cfg.ConsumerName,
		"stream", p.stream)

	defer func() {
		close(loopDone)
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		slog.Info("Worker pool stopped")
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		evts, err := p.readAgentStarted(ctx)
		if err != nil {
			var streamErr *streams.StreamError
			if errors.As(err, &streamErr) {
				slog.Error("Stream error in pool loop", "error", err)
			} else {
				slog.Error("Unexpected error in pool loop", "error", err)
			}
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, e := range evts {
			// Acquire before spawning; when saturated the dispatcher
			// waits here instead of reading further batches.
			select {
			case p.sem <- struct{}{}:
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}

			p.mu.Lock()
			p.activeCount++
			p.mu.Unlock()
			p.active.Add(1)

			go func(e *events.Event) {
				defer p.taskDone()
				p.processEvent(taskCtx, e)
			}(e)
		}
	}
}

// Stop shuts the pool down gracefully: the loop stops accepting work,
// in-flight tasks get the configured grace period, and any remainder is
// cancelled with its events left unacknowledged for reclaim. When Stop
// returns the state is StateStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateShuttingDown
	close(p.stopCh)
	loopDone := p.loopDone
	cancel := p.cancelTasks
	p.mu.Unlock()

	slog.Info("Worker pool shutting down")
	<-loopDone

	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		slog.Warn("Shutdown timeout, cancelling remaining tasks")
		cancel()
		<-done
	}
	cancel()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
}

func (p *Pool) taskDone() {
	p.mu.Lock()
	p.activeCount--
	p.mu.Unlock()
	p.active.Done()
	<-p.sem
}

// readAgentStarted reads one batch and keeps only agent_started events.
// Events meant for other consumer groups' roles are acknowledged
// immediately so they are not redelivered here.
func (p *Pool) readAgentStarted(ctx context.Context) ([]*events.Event, error) {
	messages, err := p.client.ReadGroup(ctx, p.stream, p.cfg.ConsumerGroup, p.cfg.ConsumerName, int64(p.cfg.BatchSize), readBlock)
	if err != nil {
		return nil, err
	}

	var out []*events.Event
	for _, m := range messages {
		e, err := events.FromWire(m.ID, m.Values)
		if err != nil {
			slog.Warn("Skipping malformed event", "event_id", m.ID, "error", err)
			p.ack(ctx, m.ID)
			continue
		}
		if e.Type != events.EventAgentStarted {
			slog.Debug("Skipped non-agent_started event", "event_type", e.Type, "event_id", e.ID)
			p.ack(ctx, e.ID)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// processEvent runs the per-event sequence: duplicate check, context build,
// dispatch, terminal emission, ack.
func (p *Pool) processEvent(ctx context.Context, e *events.Event) {
	log := slog.With("event_id", e.ID, "task_id", e.TaskID, "session_id", e.SessionID)
	log.Info("Processing event")

	isNew, err := p.tracker.CheckAndMarkIfNew(ctx, e)
	if err != nil {
		log.Error("Idempotency check failed", "error", err)
		return
	}
	if !isNew {
		log.Info("Skipping duplicate event")
		p.ack(ctx, e.ID)
		return
	}

	agentCtx := p.buildContext(e)

	result, err := p.dispatcher.Dispatch(ctx, e, agentCtx)
	if ctx.Err() != nil {
		// Cancelled during shutdown: leave the event unacknowledged so
		// it goes stale and is reclaimed on the next run.
		log.Warn("Event cancelled mid-flight, leaving pending")
		return
	}
	if err != nil {
		var notFound *AgentNotFoundError
		if errors.As(err, &notFound) {
			log.Error("Agent not found for event", "error", err)
		} else {
			log.Error("Agent execution failed", "error", err)
		}
		p.countFailure()
		if !p.publishError(ctx, e, err.Error()) {
			return
		}
		p.ack(ctx, e.ID)
		return
	}

	p.countResult(result.Success)
	if !p.publishResult(ctx, e, result) {
		return
	}
	p.ack(ctx, e.ID)
}

func (p *Pool) buildContext(e *events.Event) *AgentContext {
	tenantID := p.tenantID
	if tenantID == "" {
		tenantID = e.TenantID
	}
	if tenantID == "" {
		tenantID = "default"
	}
	taskID := e.TaskID
	if taskID == "" {
		taskID = "unknown"
	}
	return &AgentContext{
		SessionID:     e.SessionID,
		TaskID:        taskID,
		TenantID:      tenantID,
		WorkspacePath: p.workspacePath,
		Metadata: map[string]any{
			"git_sha": e.GitSHA,
			"epic_id": e.EpicID,
			"mode":    e.Mode,
		},
	}
}

// publishResult appends the terminal event for an agent result. Returns
// false when the append failed; the original is then left unacknowledged so
// redelivery and the idempotency tracker coalesce.
func (p *Pool) publishResult(ctx context.Context, original *events.Event, result *AgentResult) bool {
	eventType := events.EventAgentCompleted
	if !result.Success {
		eventType = events.EventAgentError
	}

	metadata := map[string]any{
		"agent_type":    result.AgentType,
		"success":       result.Success,
		"error_message": result.ErrorMessage,
		"should_retry":  result.ShouldRetry,
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	return p.publishTerminal(ctx, original, eventType, result.ArtifactPaths, metadata)
}

// publishError appends an agent_error terminal for a dispatch failure.
// These are permanent: retry is signalled only via AgentResult.
func (p *Pool) publishError(ctx context.Context, original *events.Event, errorMessage string) bool {
	agentType := original.MetadataString("agent_type")
	if agentType == "" {
		agentType = "unknown"
	}
	metadata := map[string]any{
		"agent_type":    agentType,
		"success":       false,
		"error_message": errorMessage,
		"should_retry":  false,
	}
	return p.publishTerminal(ctx, original, events.EventAgentError, nil, metadata)
}

func (p *Pool) publishTerminal(ctx context.Context, original *events.Event, eventType events.EventType, artifactPaths []string, metadata map[string]any) bool {
	terminal := &events.Event{
		Type:          eventType,
		SessionID:     original.SessionID,
		TaskID:        original.TaskID,
		EpicID:        original.EpicID,
		GitSHA:        original.GitSHA,
		ArtifactPaths: artifactPaths,
		Mode:          original.Mode,
		TenantID:      original.TenantID,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
	if err := terminal.Validate(); err != nil {
		slog.Error("Invalid terminal event", "error", err)
		return false
	}

	id, err := p.client.Publish(ctx, p.stream, terminal.ToWire(), streams.DefaultMaxLen)
	if err != nil {
		slog.Error("Failed to publish terminal event", "event_type", eventType, "error", err)
		return false
	}
	slog.Debug("Published terminal event", "event_id", id, "event_type", eventType)
	return true
}

func (p *Pool) countResult(success bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.eventsProcessed++
	if success {
		p.eventsSucceeded++
	} else {
		p.eventsFailed++
	}
}

func (p *Pool) countFailure() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.eventsProcessed++
	p.eventsFailed++
}

func (p *Pool) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := p.client.Ack(ctx, p.stream, p.cfg.ConsumerGroup, id); err != nil {
		slog.Error("Failed to acknowledge event", "event_id", id, "error", err)
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
