package mcp

import (
	"log/slog"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/tools"
)

// NewManagerWithDialer creates a Manager whose sessions come from dial
// instead of real transports. Intended for test infrastructure that wires
// in-memory MCP servers.
func NewManagerWithDialer(registry *config.MCPServerRegistry, toolReg *tools.Registry, b *bus.Bus, logger *slog.Logger, dial dialFunc) *Manager {
	m := NewManager(registry, toolReg, b, logger)
	m.dial = dial
	return m
}
