package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates a required config file is missing
	ErrConfigNotFound = errors.New("configuration file not found")
	// ErrInvalidYAML indicates a config file failed to parse
	ErrInvalidYAML = errors.New("invalid YAML")
	// ErrAgentNotFound indicates an unknown agent id
	ErrAgentNotFound = errors.New("agent not found")
	// ErrChannelNotFound indicates an unknown channel id
	ErrChannelNotFound = errors.New("channel not found")
	// ErrMCPServerNotFound indicates an unknown MCP server id
	ErrMCPServerNotFound = errors.New("MCP server not found")
	// ErrLLMProviderNotFound indicates an unknown LLM provider id
	ErrLLMProviderNotFound = errors.New("LLM provider not found")
)

// LoadError wraps a file-level configuration load failure.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError creates a LoadError for the given file
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError aggregates configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed: %d problem(s)", len(e.Problems))
}
