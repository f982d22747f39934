package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
)

// TaskSource fetches full tasks when routing assignment events. Satisfied
// by *tasks.Service.
type TaskSource interface {
	Get(ctx context.Context, taskID string) (*models.Task, error)
}

// OverrideExpirer clears task-scoped inference overrides on terminal task
// events. Satisfied by *inference.Service.
type OverrideExpirer interface {
	EndTask(taskID string)
}

// Manager owns one runtime per server-managed agent and routes bus events
// into their input queues. It is the liveness source for task assignment
// (Running) and the phase source for inference overrides (PhaseOf).
type Manager struct {
	base    Deps // template; Config is filled per agent
	agents  *config.AgentRegistry
	tasks   TaskSource
	expirer OverrideExpirer
	log     *slog.Logger

	// infererFor selects the LLM client for an agent's provider. Nil
	// falls back to the base Deps.LLM.
	infererFor func(cfg *config.AgentConfig) Inferer

	mu       sync.RWMutex
	runtimes map[string]*Runtime
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates the runtime manager. base carries the shared
// dependencies; per-agent config is looked up from the registry at start.
func NewManager(base Deps, agents *config.AgentRegistry, tasks TaskSource, expirer OverrideExpirer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		base:     base,
		agents:   agents,
		tasks:    tasks,
		expirer:  expirer,
		log:      logger.With("component", "runtime_manager"),
		runtimes: make(map[string]*Runtime),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches a runtime for every registered agent and the event
// router. Returns after all loops are running.
func (m *Manager) Start(ctx context.Context) error {
	ids := make([]string, 0)
	for id := range m.agents.GetAll() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := m.StartAgent(ctx, id); err != nil {
			return fmt.Errorf("failed to start agent %q: %w", id, err)
		}
	}

	m.wg.Add(1)
	go m.route(ctx)
	m.log.Info("Runtime manager started", "agents", len(ids))
	return nil
}

// SetInfererFor installs a per-agent LLM selector consulted when an agent
// starts. Agents bind to different providers, so the shared base dependency
// is only a fallback.
func (m *Manager) SetInfererFor(f func(cfg *config.AgentConfig) Inferer) {
	m.infererFor = f
}

// StartAgent creates and runs the runtime for one agent. Idempotent: a
// second call for a running agent is a no-op.
func (m *Manager) StartAgent(ctx context.Context, agentID string) error {
	cfg, err := m.agents.Get(agentID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.runtimes[agentID]; exists {
		m.mu.Unlock()
		return nil
	}
	deps := m.base
	deps.Config = cfg
	if m.infererFor != nil {
		if inf := m.infererFor(cfg); inf != nil {
			deps.LLM = inf
		}
	}
	rt := New(agentID, deps)
	runCtx, cancel := context.WithCancel(ctx)
	m.runtimes[agentID] = rt
	m.cancels[agentID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		rt.Run(runCtx)
	}()

	if m.base.Bus != nil {
		env := models.NewEnvelope(bus.EventTypeAgentRegistered, cfg.Channel, agentID, map[string]any{
			"agentId":      agentID,
			"displayName":  cfg.DisplayName,
			"capabilities": cfg.Capabilities,
		})
		if err := m.base.Bus.Publish(ctx, env); err != nil {
			m.log.Debug("Failed to announce agent", "agent_id", agentID, "error", err)
		}
	}
	return nil
}

// StopAgent cancels and removes one runtime.
func (m *Manager) StopAgent(agentID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[agentID]
	delete(m.cancels, agentID)
	delete(m.runtimes, agentID)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close stops all runtimes and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
		delete(m.runtimes, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.log.Info("Runtime manager stopped")
}

// Get returns the runtime for an agent.
func (m *Manager) Get(agentID string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[agentID]
	return rt, ok
}

// Running reports whether the agent's loop is live.
func (m *Manager) Running(agentID string) bool {
	_, ok := m.Get(agentID)
	return ok
}

// PhaseOf returns the agent's current cognitive phase, defaulting to
// observation for unknown agents.
func (m *Manager) PhaseOf(agentID string) models.Phase {
	if rt, ok := m.Get(agentID); ok {
		return rt.Phase()
	}
	return models.PhaseObservation
}

// Deliver hands an externally-originated message (operator, monitor emit)
// to an agent's queue.
func (m *Manager) Deliver(agentID string, msg models.ConversationMessage) bool {
	rt, ok := m.Get(agentID)
	if !ok {
		return false
	}
	return rt.Enqueue(Input{Kind: InputMessage, Message: msg})
}

// routed event payloads. Field names match the emitting side.
type routedMessage struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

type routedTask struct {
	TaskID          string `json:"taskId"`
	AssigneeAgentID string `json:"assigneeAgentId,omitempty"`
}

// route is the central fan-in: one subscription feeds every runtime's
// queue so per-agent delivery order matches bus publish order.
func (m *Manager) route(ctx context.Context) {
	defer m.wg.Done()
	if m.base.Bus == nil {
		return
	}
	sub := m.base.Bus.Subscribe(bus.SubscribeOptions{
		Topics: []string{
			bus.EventTypeMessageDirect,
			bus.EventTypeMessageBroadcast,
			bus.EventTypeTaskAssigned,
			bus.EventTypeTaskCompleted,
			bus.EventTypeTaskFailed,
			bus.EventTypeTaskCancelled,
		},
	})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			m.dispatch(ctx, env)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, env models.Envelope) {
	switch env.Type {
	case bus.EventTypeMessageDirect:
		var msg routedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.To == "" {
			return
		}
		m.enqueueMessage(msg.To, env.ChannelID, msg)

	case bus.EventTypeMessageBroadcast:
		var msg routedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m.mu.RLock()
		targets := make([]*Runtime, 0, len(m.runtimes))
		for id, rt := range m.runtimes {
			if id == msg.From || id == env.AgentID || rt.ChannelID() != env.ChannelID {
				continue
			}
			targets = append(targets, rt)
		}
		m.mu.RUnlock()
		for _, rt := range targets {
			rt.Enqueue(Input{Kind: InputMessage, Message: models.ConversationMessage{
				Role:     models.RoleUser,
				Content:  msg.Message,
				Metadata: models.MessageMetadata{SenderAgentID: msg.From},
			}})
		}

	case bus.EventTypeTaskAssigned:
		var evt routedTask
		if err := json.Unmarshal(env.Data, &evt); err != nil || evt.AssigneeAgentID == "" {
			return
		}
		rt, ok := m.Get(evt.AssigneeAgentID)
		if !ok || m.tasks == nil {
			return
		}
		task, err := m.tasks.Get(ctx, evt.TaskID)
		if err != nil {
			m.log.Warn("Failed to load assigned task", "task_id", evt.TaskID, "error", err)
			return
		}
		rt.Enqueue(Input{Kind: InputTask, Task: task})

	case bus.EventTypeTaskCancelled:
		var evt routedTask
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return
		}
		if m.expirer != nil {
			m.expirer.EndTask(evt.TaskID)
		}
		if rt, ok := m.Get(evt.AssigneeAgentID); ok {
			rt.NotifyTaskCancelled(evt.TaskID)
			rt.Enqueue(Input{Kind: InputCancelTask, TaskID: evt.TaskID})
		}

	case bus.EventTypeTaskCompleted, bus.EventTypeTaskFailed:
		var evt routedTask
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			return
		}
		if m.expirer != nil {
			m.expirer.EndTask(evt.TaskID)
		}
	}
}

func (m *Manager) enqueueMessage(agentID, channelID string, msg routedMessage) {
	rt, ok := m.Get(agentID)
	if !ok || rt.ChannelID() != channelID {
		return
	}
	rt.Enqueue(Input{Kind: InputMessage, Message: models.ConversationMessage{
		Role:     models.RoleUser,
		Content:  msg.Message,
		Metadata: models.MessageMetadata{SenderAgentID: msg.From},
	}})
}
