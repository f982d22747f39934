package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskPriority orders pending tasks for assignment.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task is a unit of work assigned to an agent inside a channel.
// Progress is monotonic non-decreasing; completion happens only through the
// task_complete tool invoked by the assignee or a configured completion agent.
type Task struct {
	TaskID          string       `json:"taskId"`
	ChannelID       string       `json:"channelId"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Priority        TaskPriority `json:"priority"`
	Status          TaskStatus   `json:"status"`
	AssigneeAgentID string       `json:"assigneeAgentId,omitempty"`
	AssignerID      string       `json:"assignerId,omitempty"`
	Capabilities    []string     `json:"capabilities,omitempty"`
	Progress        int          `json:"progress"`
	Result          string       `json:"result,omitempty"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"`
}
