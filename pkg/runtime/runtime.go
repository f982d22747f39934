// Package runtime executes the per-agent ORPAR cognitive loop: an explicit
// state machine fed by an input queue, driving inference, tool dispatch,
// and reflection. One goroutine per runtime keeps the loop logically
// single-threaded, which is what preserves the tool-call pairing invariant.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/conversation"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/llm"
	"github.com/modelexchange/mxf/pkg/memory"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/prompt"
	"github.com/modelexchange/mxf/pkg/tools"
)

// State is one node of the cognitive state machine.
type State string

const (
	StateIdle     State = "idle"
	StateObserve  State = "observe"
	StateReason   State = "reason"
	StatePlan     State = "plan"
	StateAct      State = "act"
	StateReflect  State = "reflect"
	StateComplete State = "complete"
)

// InputKind classifies queued runtime inputs.
type InputKind string

const (
	InputMessage    InputKind = "message"
	InputTask       InputKind = "task"
	InputTick       InputKind = "tick"
	InputCancelTask InputKind = "cancel_task"
)

// Input is one unit of work for the runtime's queue.
type Input struct {
	Kind    InputKind
	Message models.ConversationMessage
	Task    *models.Task
	TaskID  string // cancel_task
}

// Inferer runs one inference. Satisfied by *llm.Client.
type Inferer interface {
	Infer(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// ToolDispatcher routes tool invocations. Satisfied by *tools.Dispatcher.
type ToolDispatcher interface {
	Invoke(ctx context.Context, inv tools.Invocation, name string) (*models.ToolResult, error)
}

// TaskStarter moves an assigned task to in_progress. Satisfied by
// *tasks.Service.
type TaskStarter interface {
	Start(ctx context.Context, taskID, agentID string) (*models.Task, error)
}

// ActivityRecorder feeds the MCP keepalive timers. Satisfied by
// *mcp.Manager.
type ActivityRecorder interface {
	RecordActivity(channelID string)
}

// Deps carries everything a runtime touches, injected at construction so
// the loop never reaches for globals.
type Deps struct {
	Config       *config.AgentConfig
	Conversation *config.ConversationConfig
	LLM          Inferer
	Dispatcher   ToolDispatcher
	Registry     *tools.Registry
	Channels     *config.ChannelRegistry
	Inference    *inference.Service
	Prompt       *prompt.Builder
	Bus          *bus.Bus
	Memory       *memory.Manager
	Tasks        TaskStarter
	Activity     ActivityRecorder
	Log          *slog.Logger
}

// Runtime is one agent's cognitive loop. Exactly one instance exists per
// {agentId, channelId} at any moment.
type Runtime struct {
	agentID   string
	channelID string
	deps      Deps

	history *conversation.History
	view    *bus.ChannelView
	breaker *loopBreaker

	inputs chan Input

	state atomic.Value // State
	phase atomic.Value // models.Phase

	cancelMu      sync.Mutex
	cancelledTask map[string]struct{}
	currentTaskID string // owned by the run goroutine

	maxIterations int
}

// inputQueueSize bounds pending inputs per runtime. Overflow drops with a
// warning rather than blocking the bus router.
const inputQueueSize = 64

// New creates a runtime for an agent. Call Run to start the loop.
func New(agentID string, deps Deps) *Runtime {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	cfg := deps.Config
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = config.DefaultMaxIterations
	}
	threshold := cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = config.DefaultCircuitBreakerThreshold
	}
	if deps.Conversation == nil {
		deps.Conversation = config.DefaultConversationConfig()
	}

	r := &Runtime{
		agentID:       agentID,
		channelID:     cfg.Channel,
		deps:          deps,
		history:       conversation.NewHistory(agentID, cfg.Channel, deps.Conversation),
		breaker:       newLoopBreaker(threshold, cfg.CircuitBreakerExemptTools),
		inputs:        make(chan Input, inputQueueSize),
		cancelledTask: make(map[string]struct{}),
		maxIterations: maxIter,
	}
	if deps.Bus != nil {
		r.view = deps.Bus.ChannelView(cfg.Channel, agentID)
	}
	r.state.Store(StateIdle)
	r.phase.Store(models.PhaseObservation)
	r.deps.Log = deps.Log.With("component", "runtime", "agent_id", agentID, "channel_id", cfg.Channel)
	return r
}

// AgentID returns the owning agent.
func (r *Runtime) AgentID() string { return r.agentID }

// ChannelID returns the bound channel.
func (r *Runtime) ChannelID() string { return r.channelID }

// State returns the current loop state.
func (r *Runtime) State() State { return r.state.Load().(State) }

// Phase returns the current cognitive phase.
func (r *Runtime) Phase() models.Phase { return r.phase.Load().(models.Phase) }

// History exposes the conversation for inspection.
func (r *Runtime) History() *conversation.History { return r.history }

// Enqueue offers an input to the runtime. Returns false when the queue is
// full and the input was dropped.
func (r *Runtime) Enqueue(in Input) bool {
	select {
	case r.inputs <- in:
		return true
	default:
		r.deps.Log.Warn("Runtime input queue full, dropping input", "kind", in.Kind)
		return false
	}
}

// NotifyTaskCancelled flags a task cancellation. The loop observes the
// flag at its next state transition.
func (r *Runtime) NotifyTaskCancelled(taskID string) {
	r.cancelMu.Lock()
	r.cancelledTask[taskID] = struct{}{}
	r.cancelMu.Unlock()
}

func (r *Runtime) takeCancel(taskID string) bool {
	if taskID == "" {
		return false
	}
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if _, ok := r.cancelledTask[taskID]; ok {
		delete(r.cancelledTask, taskID)
		return true
	}
	return false
}

// Run executes the loop until ctx is cancelled. Blocks; callers start it
// on a dedicated goroutine.
func (r *Runtime) Run(ctx context.Context) {
	r.deps.Log.Info("Agent runtime started")
	for {
		select {
		case <-ctx.Done():
			r.state.Store(StateIdle)
			r.deps.Log.Info("Agent runtime stopped")
			return
		case in := <-r.inputs:
			r.runTurn(ctx, in)
		}
	}
}

func (r *Runtime) setPhase(p models.Phase) {
	prev := r.Phase()
	if prev != p && r.deps.Inference != nil {
		r.deps.Inference.ExitPhase(r.agentID, prev)
	}
	r.phase.Store(p)
}

// runTurn drives one full Observe→…→Idle cycle for a single input.
func (r *Runtime) runTurn(ctx context.Context, in Input) {
	defer r.state.Store(StateIdle)

	if in.Kind == InputCancelTask {
		r.observeCancel(in.TaskID)
		return
	}

	r.state.Store(StateObserve)
	r.setPhase(models.PhaseObservation)
	if !r.observe(ctx, in) {
		return
	}

	iterations := 0
	terminal := false
	forceReflect := false

	if r.deps.Config.Planning && iterations < r.maxIterations {
		r.planStep(ctx)
		iterations++
	}

	for !terminal {
		if ctx.Err() != nil {
			r.abortInFlight("runtime cancelled")
			return
		}
		if r.takeCancel(r.currentTaskID) {
			r.observeCancel(r.currentTaskID)
			return
		}
		if iterations >= r.maxIterations {
			r.history.Append(models.ConversationMessage{
				Role:    models.RoleAssistant,
				Content: "iteration_limit_reached",
			})
			r.emitPhase(ctx, bus.EventTypeReflection, iterations, "iteration limit reached")
			forceReflect = true
			break
		}

		r.state.Store(StateReason)
		r.setPhase(models.PhaseReasoning)
		resp, err := r.infer(ctx, models.PhaseReasoning, true)
		if err != nil {
			// Retries are exhausted inside the LLM client; surface the
			// failure as reflection input and end the turn.
			r.deps.Log.Warn("Turn ended on inference failure", "error", err)
			r.history.Append(models.ConversationMessage{
				Role:    models.RoleSystem,
				Content: fmt.Sprintf("inference failed: %s", mxerr.CodeOf(err)),
			})
			forceReflect = true
			break
		}
		iterations++

		msg := resp.Message
		msg.Role = models.RoleAssistant
		calls := msg.ToolCalls
		if len(calls) == 0 && r.deps.Config.InterpretationFallback {
			if tc, ok := interpretToolCall(msg.Content); ok && r.deps.Registry != nil && r.deps.Registry.Has(tc.Name, r.channelID) {
				calls = []models.ToolCall{tc}
				msg.ToolCalls = calls
				msg.Metadata.Source = "interpreted"
			}
		}
		r.history.Append(msg)
		r.emitPhase(ctx, bus.EventTypeReasoning, iterations, preview(msg.Content))

		if len(calls) == 0 {
			// Terminal output: plain assistant text ends the turn.
			r.emitFinal(ctx, msg.Content)
			break
		}

		r.state.Store(StateAct)
		r.setPhase(models.PhaseAction)
		sawTerminal, tripped := r.act(ctx, calls)
		terminal = sawTerminal
		forceReflect = forceReflect || tripped
	}

	if r.deps.Config.Reflection || forceReflect {
		r.reflect(ctx, iterations)
	}
	if terminal {
		r.state.Store(StateComplete)
	}
	r.compactHistory(ctx)
}

// compactHistory applies the context-window policy once the turn is
// over. Channels with the system LLM enabled get a model-written
// summary of the compacted span; everyone else gets the counting
// fallback.
func (r *Runtime) compactHistory(ctx context.Context) {
	var summarize conversation.Summarizer
	if r.deps.Channels != nil && r.deps.LLM != nil {
		if ch, err := r.deps.Channels.Get(r.channelID); err == nil && ch.SystemLLMEnabled {
			summarize = r.summarizeSpan
		}
	}
	before := r.history.Len()
	if err := r.history.Compact(ctx, summarize); err != nil {
		r.deps.Log.Warn("History compaction failed", "error", err)
		return
	}
	if after := r.history.Len(); after < before {
		r.deps.Log.Info("Compacted conversation history", "before", before, "after", after)
	}
}

// summarizeSpan asks the model for a compaction summary. Runs outside
// the phase machinery: no usage attribution per phase, no override
// consumption.
func (r *Runtime) summarizeSpan(ctx context.Context, msgs []models.ConversationMessage) (string, error) {
	resp, err := r.deps.LLM.Infer(ctx, &llm.Request{
		System:   "Summarize this conversation span in a few sentences. Keep decisions, task state, and tool outcomes.",
		Messages: prompt.RenderHistory(msgs),
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// observe gathers turn context and appends the triggering message.
// Returns false when the turn should not proceed (duplicate input, empty
// tick).
func (r *Runtime) observe(ctx context.Context, in Input) bool {
	switch in.Kind {
	case InputMessage:
		if !r.history.Append(in.Message) {
			r.deps.Log.Debug("Dropped duplicate input message")
			return false
		}
	case InputTask:
		if in.Task == nil {
			return false
		}
		r.currentTaskID = in.Task.TaskID
		if r.deps.Tasks != nil {
			if _, err := r.deps.Tasks.Start(ctx, in.Task.TaskID, r.agentID); err != nil {
				r.deps.Log.Warn("Failed to start assigned task",
					"task_id", in.Task.TaskID, "error", err)
			}
		}
		r.history.Append(models.ConversationMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("[task %s] %s\n%s", in.Task.TaskID, in.Task.Title, in.Task.Description),
		})
	case InputTick:
		if r.history.Len() == 0 {
			return false
		}
	default:
		return false
	}

	memoryKeys := 0
	if r.deps.Memory != nil {
		actor := memory.Actor{AgentID: r.agentID, ChannelID: r.channelID}
		if keys, err := r.deps.Memory.List(ctx, actor, models.ScopeAgent, ""); err == nil {
			memoryKeys = len(keys)
		}
	}
	r.emitPhaseData(ctx, bus.EventTypeObservation, map[string]any{
		"input":      in.Kind,
		"historyLen": r.history.Len(),
		"memoryKeys": memoryKeys,
		"taskId":     r.currentTaskID,
	})
	return true
}

// observeCancel acknowledges a task cancellation: synthetic results for
// any unanswered tool calls, a note in the history, back to idle.
func (r *Runtime) observeCancel(taskID string) {
	r.abortInFlight(fmt.Sprintf("task %s cancelled", taskID))
	if r.currentTaskID == taskID {
		r.currentTaskID = ""
	}
	r.deps.Log.Info("Observed task cancellation", "task_id", taskID)
}

// abortInFlight closes out unanswered tool calls so the next turn starts
// from a paired history.
func (r *Runtime) abortInFlight(note string) {
	if synth, err := r.history.EnsurePaired(config.PairingPolicySynthesize); err == nil && len(synth) > 0 {
		r.deps.Log.Info("Synthesized results for in-flight tool calls",
			"count", len(synth), "note", note)
	}
	r.history.Append(models.ConversationMessage{Role: models.RoleSystem, Content: note})
}

// planStep runs the optional planning inference. The plan is recorded as
// an assistant message; its tool calls, if any, are ignored by design.
func (r *Runtime) planStep(ctx context.Context) {
	r.state.Store(StatePlan)
	r.setPhase(models.PhasePlanning)
	resp, err := r.infer(ctx, models.PhasePlanning, false)
	if err != nil {
		r.deps.Log.Warn("Planning inference failed", "error", err)
		return
	}
	msg := resp.Message
	msg.Role = models.RoleAssistant
	msg.ToolCalls = nil
	r.history.Append(msg)
	r.emitPhase(ctx, bus.EventTypePlan, 0, preview(msg.Content))
}

// infer enforces pairing, resolves parameters (consuming any next_call
// override), builds the prompt, and runs one inference.
func (r *Runtime) infer(ctx context.Context, phase models.Phase, withTools bool) (*llm.Response, error) {
	synth, err := r.history.EnsurePaired(r.deps.Conversation.PairingPolicy)
	if err != nil {
		return nil, err
	}
	if len(synth) > 0 {
		r.deps.Log.Warn("Pairing enforcer synthesized missing tool results", "count", len(synth))
	}

	params := r.deps.Inference.ResolveForCall(r.agentID, r.channelID, phase)

	system, err := r.deps.Prompt.BuildSystemPrompt(prompt.Request{
		AgentID:  r.agentID,
		Phase:    phase,
		Provider: r.deps.Config.LLMProvider,
		Model:    params.Model,
	})
	if err != nil {
		return nil, err
	}

	req := &llm.Request{
		System:   system,
		Messages: prompt.RenderHistory(r.history.Messages()),
		Params:   params,
	}
	if withTools {
		req.Tools = r.availableTools()
	}

	resp, err := r.deps.LLM.Infer(ctx, req)
	if err != nil {
		return nil, err
	}
	r.deps.Inference.RecordUsage(r.agentID, phase, params.Model, resp.Usage)
	return resp, nil
}

// availableTools lists the descriptors this agent may actually call,
// mirroring dispatch-time resolution so the model is never offered a tool
// that would be rejected.
func (r *Runtime) availableTools() []models.ToolDescriptor {
	if r.deps.Registry == nil {
		return nil
	}
	var channelAllowed []string
	if r.deps.Channels != nil {
		if ch, err := r.deps.Channels.Get(r.channelID); err == nil {
			channelAllowed = ch.AllowedTools
		}
	}
	agentAllowed := r.deps.Config.AllowedTools

	all := r.deps.Registry.List(r.channelID, tools.ListFilter{})
	out := all[:0]
	for _, d := range all {
		if channelAllowed != nil && !contains(channelAllowed, d.Name) {
			continue
		}
		if agentAllowed != nil && !contains(agentAllowed, d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// act dispatches one inference's tool calls in parallel, appends results
// in deterministic toolCallId order, and runs breaker bookkeeping.
// Parallel dispatch plus toolCallId-ordered results is the public
// contract; callers must not rely on side-effect ordering between tools.
func (r *Runtime) act(ctx context.Context, calls []models.ToolCall) (terminal, tripped bool) {
	r.emitPhaseData(ctx, bus.EventTypeAction, map[string]any{"toolCalls": callNames(calls)})
	if r.deps.Activity != nil {
		r.deps.Activity.RecordActivity(r.channelID)
	}

	type slot struct {
		result  *models.ToolResult
		skipped bool // breaker was already open, not dispatched
		first   bool
	}
	slots := make([]slot, len(calls))
	hashes := make([]string, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		hashes[i] = canonicalArgsHash(tc.Arguments)
		if !r.breaker.allow(tc.Name, hashes[i]) {
			slots[i] = slot{result: circuitOpenResult(tc), skipped: true}
			tripped = true
			continue
		}
		wg.Add(1)
		go func(i int, tc models.ToolCall) {
			defer wg.Done()
			res, err := r.deps.Dispatcher.Invoke(ctx, tools.Invocation{
				AgentID:    r.agentID,
				ChannelID:  r.channelID,
				ToolCallID: tc.ID,
				Args:       tc.Arguments,
			}, tc.Name)
			if err != nil {
				res = infraFailureResult(tc, err)
			}
			slots[i].result = res
		}(i, tc)
	}
	wg.Wait()

	// Breaker bookkeeping runs after the fan-in, on the loop goroutine.
	progress := false
	for i, tc := range calls {
		if slots[i].skipped {
			continue
		}
		first := !r.breaker.seen(tc.Name, hashes[i])
		if r.breaker.record(tc.Name, hashes[i]) {
			tripped = true
		}
		if first && !slots[i].result.IsError {
			progress = true
		}
	}
	if progress && !tripped && !r.breaker.anyTripped() {
		r.breaker.noteProgress()
	}

	results := make([]*models.ToolResult, len(slots))
	for i := range slots {
		results[i] = slots[i].result
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ToolCallID < results[j].ToolCallID })
	for _, res := range results {
		r.history.Append(models.ConversationMessage{
			Role:       models.RoleTool,
			Content:    res.Content,
			ToolCallID: res.ToolCallID,
			ToolName:   res.Name,
			Metadata:   models.MessageMetadata{IsToolResult: true},
		})
	}

	for _, tc := range calls {
		switch tc.Name {
		case "task_complete":
			terminal = true
			r.currentTaskID = ""
		case "no_further_action":
			terminal = true
		}
	}
	if tripped {
		r.emitPhase(ctx, bus.EventTypeReflection, 0, "circuit breaker tripped, forcing reflection")
	}
	return terminal, tripped
}

// reflect runs the closing reflection inference and writes the outcome to
// agent memory.
func (r *Runtime) reflect(ctx context.Context, iterations int) {
	r.state.Store(StateReflect)
	r.setPhase(models.PhaseReflection)

	resp, err := r.infer(ctx, models.PhaseReflection, false)
	if err != nil {
		r.deps.Log.Warn("Reflection inference failed", "error", err)
		return
	}
	msg := resp.Message
	msg.Role = models.RoleAssistant
	msg.ToolCalls = nil
	r.history.Append(msg)
	r.emitPhase(ctx, bus.EventTypeReflection, iterations, preview(msg.Content))

	if r.deps.Memory != nil && msg.Content != "" {
		actor := memory.Actor{AgentID: r.agentID, ChannelID: r.channelID}
		if err := r.deps.Memory.Put(ctx, actor, memory.PutRequest{
			Scope: models.ScopeAgent,
			Key:   "last_reflection",
			Value: msg.Content,
			Type:  "reflection",
		}); err != nil {
			r.deps.Log.Warn("Failed to store reflection", "error", err)
		}
	}
}

// phaseEvent is the payload of controlloop.* events.
type phaseEvent struct {
	Iteration int    `json:"iteration,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (r *Runtime) emitPhase(ctx context.Context, eventType string, iteration int, detail string) {
	if r.view == nil {
		return
	}
	if err := r.view.Emit(ctx, eventType, phaseEvent{Iteration: iteration, Detail: detail}); err != nil {
		r.deps.Log.Debug("Failed to emit phase event", "event_type", eventType, "error", err)
	}
}

func (r *Runtime) emitPhaseData(ctx context.Context, eventType string, payload map[string]any) {
	if r.view == nil {
		return
	}
	if err := r.view.Emit(ctx, eventType, payload); err != nil {
		r.deps.Log.Debug("Failed to emit phase event", "event_type", eventType, "error", err)
	}
}

// emitFinal publishes the agent's terminal plain-text output.
func (r *Runtime) emitFinal(ctx context.Context, content string) {
	if r.view == nil || content == "" {
		return
	}
	payload := map[string]any{"from": r.agentID, "message": content}
	if err := r.view.Emit(ctx, bus.EventTypeMessageSent, payload); err != nil {
		r.deps.Log.Debug("Failed to emit final message", "error", err)
	}
}

func circuitOpenResult(tc models.ToolCall) *models.ToolResult {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   string(mxerr.CodeCircuitOpen),
		"message": "repeated identical invocation; vary the approach or reflect",
	})
	return &models.ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    string(body),
		IsError:    true,
	}
}

func infraFailureResult(tc models.ToolCall, err error) *models.ToolResult {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   string(mxerr.CodeOf(err)),
		"message": err.Error(),
	})
	return &models.ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    string(body),
		IsError:    true,
	}
}

func callNames(calls []models.ToolCall) []string {
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Name
	}
	return names
}

func preview(s string) string {
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
