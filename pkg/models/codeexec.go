package models

import "time"

// ResourceUsage summarizes sandbox resource consumption for one execution.
type ResourceUsage struct {
	MemoryBytes int64 `json:"memory"`
	Timeout     bool  `json:"timeout"`
}

// CodeExecRequest is one sandboxed execution request. Context values are
// exposed read-only as `context` inside the code.
type CodeExecRequest struct {
	AgentID        string         `json:"agentId"`
	ChannelID      string         `json:"channelId"`
	Code           string         `json:"code"`
	Language       string         `json:"language"`
	TimeoutMS      int            `json:"timeout,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CaptureConsole bool           `json:"captureConsole,omitempty"`
}

// CodeExecResult is the unified output envelope of code_execute.
// Execution errors are data here, never Go errors.
type CodeExecResult struct {
	Success         bool          `json:"success"`
	Output          any           `json:"output,omitempty"`
	Logs            []string      `json:"logs,omitempty"`
	Error           string        `json:"error,omitempty"`
	CodeHash        string        `json:"codeHash"`
	ExecutionTimeMS int64         `json:"executionTime"`
	ResourceUsage   ResourceUsage `json:"resourceUsage"`
}

// CodeExecutionRecord is the immutable audit entry written for every
// code_execute invocation, successful or not.
type CodeExecutionRecord struct {
	ID            string        `json:"id"`
	AgentID       string        `json:"agentId"`
	ChannelID     string        `json:"channelId"`
	CodeHash      string        `json:"codeHash"`
	Language      string        `json:"language"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"executionTime"`
	ResourceUsage ResourceUsage `json:"resourceUsage"`
	Error         string        `json:"error,omitempty"`
	ExecutedAt    time.Time     `json:"executedAt"`
}
