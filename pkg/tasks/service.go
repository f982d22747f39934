// Package tasks implements the task lifecycle: creation, assignment,
// monotonic progress, and terminal transitions. Completion happens only
// through the task_complete tool invoked by the assignee or a configured
// completion agent.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// Assigner is the external intelligent-assignment collaborator. Candidates
// are capability-matching agent ids; the returned id must be one of them.
type Assigner interface {
	Assign(ctx context.Context, task *models.Task, candidates []string) (string, error)
}

// Presence reports whether an agent has a live runtime. Used by orphan
// recovery to return abandoned tasks to pending.
type Presence interface {
	Running(agentID string) bool
}

// Service owns task state. Safe for concurrent use.
type Service struct {
	cfg      *config.TasksConfig
	store    store.TaskStore
	agents   *config.AgentRegistry
	channels *config.ChannelRegistry
	bus      *bus.Bus
	log      *slog.Logger

	// assigner backs intelligent mode. Nil falls back to round-robin.
	assigner Assigner
	presence Presence

	// completionAgent, when set, may complete any task in addition to the
	// assignee.
	completionAgent string

	// onTerminal fires after a task reaches a terminal status. Wired to the
	// inference service so task-scoped overrides expire.
	onTerminal func(taskID string)

	mu sync.Mutex
	rr map[string]int // per-channel round-robin cursor
}

// Option configures optional collaborators.
type Option func(*Service)

// WithAssigner installs the intelligent-assignment collaborator.
func WithAssigner(a Assigner) Option { return func(s *Service) { s.assigner = a } }

// WithPresence installs the runtime presence source for orphan recovery.
func WithPresence(p Presence) Option { return func(s *Service) { s.presence = p } }

// SetPresence installs the presence source after construction. The runtime
// manager depends on this service, so presence is wired once both exist.
func (s *Service) SetPresence(p Presence) { s.presence = p }

// WithCompletionAgent authorizes an extra agent to complete any task.
func WithCompletionAgent(agentID string) Option {
	return func(s *Service) { s.completionAgent = agentID }
}

// WithTerminalHook registers a callback for terminal transitions.
func WithTerminalHook(fn func(taskID string)) Option {
	return func(s *Service) { s.onTerminal = fn }
}

// NewService creates the task lifecycle service.
func NewService(cfg *config.TasksConfig, st store.TaskStore, agents *config.AgentRegistry, channels *config.ChannelRegistry, b *bus.Bus, logger *slog.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.DefaultTasksConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		store:    st,
		agents:   agents,
		channels: channels,
		bus:      b,
		log:      logger.With("component", "tasks"),
		rr:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a new task.
type CreateRequest struct {
	ChannelID       string              `json:"channelId"`
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	Priority        models.TaskPriority `json:"priority,omitempty"`
	Capabilities    []string            `json:"capabilities,omitempty"`
	AssigneeAgentID string              `json:"assigneeAgentId,omitempty"`
	AssignerID      string              `json:"assignerId,omitempty"`
}

// Create stores a task and assigns it: to the requested assignee when one
// is named, otherwise via the configured assignment mode.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, mxerr.New(mxerr.CodeMissingRequired, "task title is required")
	}
	if s.channels != nil && !s.channels.Has(req.ChannelID) {
		return nil, mxerr.Newf(mxerr.CodeNotFound, "channel %q does not exist", req.ChannelID)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	now := time.Now().UTC()
	task := &models.Task{
		TaskID:       uuid.NewString(),
		ChannelID:    req.ChannelID,
		Title:        req.Title,
		Description:  req.Description,
		Priority:     priority,
		Status:       models.TaskPending,
		AssignerID:   req.AssignerID,
		Capabilities: req.Capabilities,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.emit(ctx, bus.EventTypeTaskCreated, task)

	assignee := req.AssigneeAgentID
	if assignee == "" {
		assignee = s.pickAssignee(ctx, task)
	}
	if assignee != "" {
		if err := s.assignLoaded(ctx, task, assignee); err != nil {
			s.log.Warn("Task assignment failed",
				"task_id", task.TaskID, "assignee", assignee, "error", err)
		}
	}
	return task, nil
}

// pickAssignee selects an agent for an unassigned task. Intelligent mode
// defers to the collaborator; when it is absent or fails, round-robin over
// capability-matching channel members.
func (s *Service) pickAssignee(ctx context.Context, task *models.Task) string {
	candidates := s.candidates(task)
	if len(candidates) == 0 {
		return ""
	}

	if s.cfg.Assignment == config.AssignmentModeIntelligent && s.assigner != nil {
		id, err := s.assigner.Assign(ctx, task, candidates)
		if err == nil && slices.Contains(candidates, id) {
			return id
		}
		s.log.Warn("Intelligent assignment unavailable, falling back to round-robin",
			"task_id", task.TaskID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.rr[task.ChannelID] % len(candidates)
	s.rr[task.ChannelID]++
	return candidates[idx]
}

// candidates lists channel members matching the task's capability tags,
// sorted for deterministic round-robin order.
func (s *Service) candidates(task *models.Task) []string {
	if s.agents == nil {
		return nil
	}
	var out []string
	for _, id := range s.agents.InChannel(task.ChannelID) {
		cfg, err := s.agents.Get(id)
		if err != nil {
			continue
		}
		if len(task.Capabilities) > 0 && !hasAny(cfg.Capabilities, task.Capabilities) {
			continue
		}
		if s.presence != nil && !s.presence.Running(id) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// Assign moves a pending task to assigned.
func (s *Service) Assign(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.assignLoaded(ctx, task, agentID); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) assignLoaded(ctx context.Context, task *models.Task, agentID string) error {
	if task.Status != models.TaskPending {
		return mxerr.Newf(mxerr.CodeOperationFailed,
			"task %s is %s, only pending tasks can be assigned", task.TaskID, task.Status)
	}
	if s.channels != nil && !s.channels.IsMember(task.ChannelID, agentID) {
		return mxerr.Newf(mxerr.CodeNotFound,
			"agent %q is not a member of channel %s", agentID, task.ChannelID)
	}

	task.Status = models.TaskAssigned
	task.AssigneeAgentID = agentID
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to persist assignment: %w", err)
	}
	s.emit(ctx, bus.EventTypeTaskAssigned, task)
	return nil
}

// Start moves an assigned task to in_progress. Only the assignee may start.
func (s *Service) Start(ctx context.Context, taskID, agentID string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssigneeAgentID != agentID {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden,
			"task %s is assigned to %q", taskID, task.AssigneeAgentID)
	}
	if task.Status == models.TaskInProgress {
		return task, nil
	}
	if task.Status != models.TaskAssigned {
		return nil, mxerr.Newf(mxerr.CodeOperationFailed,
			"task %s is %s, cannot start", taskID, task.Status)
	}
	task.Status = models.TaskInProgress
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task start: %w", err)
	}
	return task, nil
}

// UpdateProgress records progress in [0,100]. Updates are monotonic
// non-decreasing; a lower value is rejected.
func (s *Service) UpdateProgress(ctx context.Context, taskID, agentID string, progress int) (*models.Task, error) {
	if progress < 0 || progress > 100 {
		return nil, mxerr.Newf(mxerr.CodeValidationError, "progress %d outside [0,100]", progress)
	}
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssigneeAgentID != agentID {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden,
			"task %s is assigned to %q", taskID, task.AssigneeAgentID)
	}
	if task.Status.IsTerminal() {
		return nil, mxerr.Newf(mxerr.CodeOperationFailed, "task %s is already %s", taskID, task.Status)
	}
	if progress < task.Progress {
		return nil, mxerr.Newf(mxerr.CodeValidationError,
			"progress may not decrease (%d -> %d)", task.Progress, progress)
	}

	task.Progress = progress
	if task.Status == models.TaskAssigned {
		task.Status = models.TaskInProgress
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist progress: %w", err)
	}
	s.emit(ctx, bus.EventTypeTaskProgressUpdated, task)
	return task, nil
}

// CompleteByTool is the task_complete entry point. The agent's active task
// (in_progress first, then assigned) transitions to completed or failed.
// Only the assignee or the configured completion agent may complete.
func (s *Service) CompleteByTool(ctx context.Context, agentID, summary string, success bool, details string) (*models.Task, error) {
	task, err := s.activeTaskFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if task.AssigneeAgentID != agentID && agentID != s.completionAgent {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden,
			"agent %q may not complete task %s", agentID, task.TaskID)
	}

	now := time.Now().UTC()
	result := summary
	if details != "" {
		result = summary + "\n\n" + details
	}

	task.UpdatedAt = now
	task.CompletedAt = &now
	if success {
		task.Status = models.TaskCompleted
		task.Progress = 100
		task.Result = result
	} else {
		task.Status = models.TaskFailed
		task.Error = result
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist completion: %w", err)
	}

	eventType := bus.EventTypeTaskCompleted
	if !success {
		eventType = bus.EventTypeTaskFailed
	}
	s.emit(ctx, eventType, task)
	s.terminal(task.TaskID)
	s.log.Info("Task reached terminal status",
		"task_id", task.TaskID, "status", task.Status, "agent_id", agentID)
	return task, nil
}

// activeTaskFor finds the task an agent is currently working.
func (s *Service) activeTaskFor(ctx context.Context, agentID string) (*models.Task, error) {
	list, err := s.store.ListAssignedTasks(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %s: %w", agentID, err)
	}
	for _, t := range list {
		if t.Status == models.TaskInProgress {
			return t, nil
		}
	}
	for _, t := range list {
		if t.Status == models.TaskAssigned {
			return t, nil
		}
	}
	return nil, mxerr.Newf(mxerr.CodeNotFound, "agent %q has no active task", agentID)
}

// Cancel transitions a non-terminal task to cancelled. Only the assigner or
// a channel admin may cancel. The assignee observes the cancel through the
// task.cancelled event at its next state transition.
func (s *Service) Cancel(ctx context.Context, taskID, principal string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, mxerr.Newf(mxerr.CodeOperationFailed, "task %s is already %s", taskID, task.Status)
	}

	authorized := principal != "" && principal == task.AssignerID
	if !authorized && s.channels != nil {
		authorized = s.channels.IsAdmin(task.ChannelID, principal)
	}
	if !authorized {
		return nil, mxerr.Newf(mxerr.CodeToolForbidden,
			"%q may not cancel task %s", principal, taskID)
	}

	now := time.Now().UTC()
	task.Status = models.TaskCancelled
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist cancellation: %w", err)
	}
	s.emit(ctx, bus.EventTypeTaskCancelled, task)
	s.terminal(taskID)
	return task, nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mxerr.Newf(mxerr.CodeNotFound, "task %q does not exist", taskID)
		}
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return task, nil
}

// List returns tasks in a channel, optionally filtered by status.
func (s *Service) List(ctx context.Context, channelID string, status models.TaskStatus) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, channelID, status)
}

// NextForAgent returns the agent's next assigned-but-unstarted task, if any.
func (s *Service) NextForAgent(ctx context.Context, agentID string) (*models.Task, bool) {
	list, err := s.store.ListAssignedTasks(ctx, agentID)
	if err != nil {
		return nil, false
	}
	for _, t := range list {
		if t.Status == models.TaskAssigned {
			return t, true
		}
	}
	return nil, false
}

// ReclaimOrphans returns tasks whose assignee has no live runtime to
// pending and reassigns them. No-op without a presence source.
func (s *Service) ReclaimOrphans(ctx context.Context) int {
	if s.presence == nil || s.channels == nil {
		return 0
	}
	reclaimed := 0
	for channelID := range s.channels.GetAll() {
		for _, status := range []models.TaskStatus{models.TaskAssigned, models.TaskInProgress} {
			list, err := s.store.ListTasks(ctx, channelID, status)
			if err != nil {
				s.log.Warn("Orphan scan failed", "channel_id", channelID, "error", err)
				continue
			}
			for _, task := range list {
				if task.AssigneeAgentID == "" || s.presence.Running(task.AssigneeAgentID) {
					continue
				}
				orphanedFrom := task.AssigneeAgentID
				task.Status = models.TaskPending
				task.AssigneeAgentID = ""
				task.UpdatedAt = time.Now().UTC()
				if err := s.store.UpdateTask(ctx, task); err != nil {
					s.log.Warn("Failed to reclaim orphaned task",
						"task_id", task.TaskID, "error", err)
					continue
				}
				reclaimed++
				s.log.Info("Reclaimed orphaned task",
					"task_id", task.TaskID, "orphaned_from", orphanedFrom)
				if next := s.pickAssignee(ctx, task); next != "" {
					if err := s.assignLoaded(ctx, task, next); err != nil {
						s.log.Warn("Failed to reassign reclaimed task",
							"task_id", task.TaskID, "error", err)
					}
				}
			}
		}
	}
	return reclaimed
}

// RunOrphanSweeper reclaims orphans every interval until ctx is cancelled.
func (s *Service) RunOrphanSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReclaimOrphans(ctx)
		}
	}
}

// taskEvent is the payload of task.* events.
type taskEvent struct {
	TaskID          string              `json:"taskId"`
	ChannelID       string              `json:"channelId"`
	Title           string              `json:"title"`
	Status          models.TaskStatus   `json:"status"`
	Priority        models.TaskPriority `json:"priority"`
	AssigneeAgentID string              `json:"assigneeAgentId,omitempty"`
	Progress        int                 `json:"progress"`
}

func (s *Service) emit(ctx context.Context, eventType string, task *models.Task) {
	if s.bus == nil {
		return
	}
	env := models.NewEnvelope(eventType, task.ChannelID, task.AssigneeAgentID, taskEvent{
		TaskID:          task.TaskID,
		ChannelID:       task.ChannelID,
		Title:           task.Title,
		Status:          task.Status,
		Priority:        task.Priority,
		AssigneeAgentID: task.AssigneeAgentID,
		Progress:        task.Progress,
	})
	if err := s.bus.Publish(ctx, env); err != nil {
		s.log.Warn("Failed to publish task event",
			"event_type", eventType, "task_id", task.TaskID, "error", err)
	}
}

func (s *Service) terminal(taskID string) {
	if s.onTerminal != nil {
		s.onTerminal(taskID)
	}
}
