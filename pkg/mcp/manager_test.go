package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

var objectSchema = json.RawMessage(`{"type":"object"}`)

// inMemoryDialer returns a dial function that spins up a fresh in-memory MCP
// server per connection, exposing the given tool handlers.
func inMemoryDialer(t *testing.T, handlers map[string]mcpsdk.ToolHandler) dialFunc {
	t.Helper()
	return func(ctx context.Context, _ *config.MCPServerConfig) (*mcpsdk.ClientSession, error) {
		srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "test"}, nil)
		for name, handler := range handlers {
			srv.AddTool(&mcpsdk.Tool{
				Name:        name,
				Description: "test tool: " + name,
				InputSchema: objectSchema,
			}, handler)
		}

		clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
		srvCtx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go func() { _ = srv.Run(srvCtx, serverTransport) }()

		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mxf-test", Version: "test"}, nil)
		return client.Connect(ctx, clientTransport, nil)
	}
}

func staticHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func newTestManager(t *testing.T, cfg *config.MCPServerConfig, handlers map[string]mcpsdk.ToolHandler) (*Manager, *tools.Registry) {
	t.Helper()
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{"k8s": cfg})
	toolReg := tools.NewRegistry()
	m := NewManagerWithDialer(registry, toolReg, nil, nil, inMemoryDialer(t, handlers))
	t.Cleanup(m.Close)
	return m, toolReg
}

func stdioConfig() *config.MCPServerConfig {
	return &config.MCPServerConfig{
		Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"},
		AutoStart: true,
	}
}

func TestStartPublishesServerTools(t *testing.T) {
	m, toolReg := newTestManager(t, stdioConfig(), map[string]mcpsdk.ToolHandler{
		"get_pods": staticHandler("[]"),
	})

	m.StartAll(context.Background())

	assert.Equal(t, StateReady, m.StateOf("k8s"))
	desc, err := toolReg.Resolve("get_pods", "ops", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExternalSource("k8s"), desc.Source)
	assert.Equal(t, models.ScopeGlobal, desc.Scope)
}

func TestCallToolReturnsTextContent(t *testing.T) {
	m, _ := newTestManager(t, stdioConfig(), map[string]mcpsdk.ToolHandler{
		"get_pods": staticHandler("pod-a\npod-b"),
	})
	m.StartAll(context.Background())

	result, err := m.CallTool(context.Background(), "k8s", "get_pods", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "pod-a\npod-b", result.Content)
}

func TestFailedServerReportsToolsAbsent(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{"k8s": stdioConfig()})
	toolReg := tools.NewRegistry()
	m := NewManagerWithDialer(registry, toolReg, nil, nil,
		func(context.Context, *config.MCPServerConfig) (*mcpsdk.ClientSession, error) {
			return nil, errors.New("spawn failed")
		})
	t.Cleanup(m.Close)

	m.StartAll(context.Background())
	assert.Equal(t, StateFailed, m.StateOf("k8s"))

	_, err := m.CallTool(context.Background(), "k8s", "get_pods", nil)
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeToolNotFound, mxerr.CodeOf(err))
	assert.Contains(t, err.Error(), "failed")
}

func TestUnknownServerIsToolNotFound(t *testing.T) {
	m, _ := newTestManager(t, stdioConfig(), nil)

	_, err := m.CallTool(context.Background(), "nope", "anything", nil)
	require.Error(t, err)
	assert.Equal(t, mxerr.CodeToolNotFound, mxerr.CodeOf(err))
}

func TestKeepaliveStopsIdleChannelServer(t *testing.T) {
	cfg := stdioConfig()
	cfg.Channel = "ops"
	cfg.KeepAliveMinutes = 1
	m, toolReg := newTestManager(t, cfg, map[string]mcpsdk.ToolHandler{
		"get_pods": staticHandler("[]"),
	})
	m.StartAll(context.Background())
	require.Equal(t, StateReady, m.StateOf("k8s"))

	s, found := m.server("k8s")
	require.True(t, found)
	s.mu.Lock()
	s.lastActivity = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	require.True(t, m.expireIdle(s))
	assert.Equal(t, StateStopped, m.StateOf("k8s"))
	assert.False(t, toolReg.Has("get_pods", "ops"))

	// The next call in the channel restarts the server lazily.
	result, err := m.CallTool(context.Background(), "k8s", "get_pods", nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, StateReady, m.StateOf("k8s"))
	assert.True(t, toolReg.Has("get_pods", "ops"))
}

func TestActivityResetsKeepalive(t *testing.T) {
	cfg := stdioConfig()
	cfg.Channel = "ops"
	cfg.KeepAliveMinutes = 1
	m, _ := newTestManager(t, cfg, map[string]mcpsdk.ToolHandler{
		"get_pods": staticHandler("[]"),
	})
	m.StartAll(context.Background())

	s, _ := m.server("k8s")
	s.mu.Lock()
	s.lastActivity = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	m.RecordActivity("ops")
	assert.False(t, m.expireIdle(s))
	assert.Equal(t, StateReady, m.StateOf("k8s"))
}

func TestUnregisterRemovesServerAndTools(t *testing.T) {
	m, toolReg := newTestManager(t, stdioConfig(), map[string]mcpsdk.ToolHandler{
		"get_pods": staticHandler("[]"),
	})
	m.StartAll(context.Background())
	require.True(t, toolReg.Has("get_pods", "ops"))

	m.Unregister("k8s")

	assert.False(t, toolReg.Has("get_pods", "ops"))
	assert.Equal(t, State(""), m.StateOf("k8s"))

	// Re-registering yields a working server again.
	require.NoError(t, m.Register(context.Background(), "k8s", stdioConfig()))
	assert.Equal(t, StateReady, m.StateOf("k8s"))
}

func TestRestartPinsFailedAfterCap(t *testing.T) {
	cfg := stdioConfig()
	cfg.RestartOnCrash = true
	cfg.MaxRestartAttempts = 2
	m, _ := newTestManager(t, cfg, nil)

	s := m.ensure("k8s", cfg)
	s.mu.Lock()
	s.state = StateFailed
	s.restarts = 2
	m.scheduleRestartLocked(s)
	pinned := s.lastErr
	restarts := s.restarts
	s.mu.Unlock()

	assert.Contains(t, pinned, "exhausted")
	assert.Equal(t, 2, restarts)
}
