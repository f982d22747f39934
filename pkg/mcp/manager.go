// Package mcp manages external MCP tool servers: lifecycle, health probes,
// crash restarts, and keepalive shutdown of idle channel-scoped servers.
// Tools discovered on a ready server are published into the tool registry
// under the server's scope and removed when the server leaves ready.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/tools"
)

// State is the lifecycle state of an external server.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// dialFunc opens an MCP session for a server config. Overridden in tests to
// wire in-memory servers.
type dialFunc func(ctx context.Context, cfg *config.MCPServerConfig) (*mcpsdk.ClientSession, error)

// server is the managed state of one external MCP server. All lifecycle
// transitions are serialized by mu.
type server struct {
	id  string
	cfg *config.MCPServerConfig

	mu           sync.Mutex
	state        State
	lastErr      string
	session      *mcpsdk.ClientSession
	toolCount    int
	restarts     int
	healthFails  int
	lastActivity time.Time
	stopHealth   context.CancelFunc
}

// Manager owns every external MCP server and implements the external
// invoker contract for the tool dispatcher.
type Manager struct {
	registry *config.MCPServerRegistry
	tools    *tools.Registry
	bus      *bus.Bus
	dial     dialFunc
	log      *slog.Logger

	mu      sync.RWMutex
	servers map[string]*server
}

var _ tools.ExternalInvoker = (*Manager)(nil)

// NewManager wires the external server manager. The bus is optional.
func NewManager(registry *config.MCPServerRegistry, toolReg *tools.Registry, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		tools:    toolReg,
		bus:      b,
		dial:     dialSession,
		log:      logger.With("component", "mcp"),
		servers:  make(map[string]*server),
	}
}

// StartAll registers every configured server and starts the auto-start ones.
// Startup failures are quarantined per server; the manager itself always
// comes up.
func (m *Manager) StartAll(ctx context.Context) {
	for id, cfg := range m.registry.GetAll() {
		s := m.ensure(id, cfg)
		if cfg.AutoStart {
			if err := m.start(ctx, s); err != nil {
				m.log.Warn("MCP server failed to start", "server", id, "error", err)
			}
		}
	}
}

// Register adds a server at runtime and starts it if auto-start is set.
// Re-registering a previously unregistered server yields a functionally
// equivalent fresh instance.
func (m *Manager) Register(ctx context.Context, id string, cfg *config.MCPServerConfig) error {
	m.registry.Register(id, cfg)
	s := m.ensure(id, cfg)
	if cfg.AutoStart {
		return m.start(ctx, s)
	}
	return nil
}

// Unregister stops a server and removes it and its tools entirely.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	s, found := m.servers[id]
	delete(m.servers, id)
	m.mu.Unlock()
	if found {
		m.stopServer(s, StateStopped, "unregistered")
	}
	m.registry.Unregister(id)
}

// Close stops every server. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	servers := make([]*server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.servers = make(map[string]*server)
	m.mu.Unlock()

	for _, s := range servers {
		m.stopServer(s, StateStopped, "shutdown")
	}
}

func (m *Manager) ensure(id string, cfg *config.MCPServerConfig) *server {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, found := m.servers[id]; found {
		return s
	}
	s := &server{id: id, cfg: cfg, state: StateStopped, lastActivity: time.Now()}
	m.servers[id] = s
	return s
}

func (m *Manager) server(id string) (*server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, found := m.servers[id]
	return s, found
}

// start brings a server to ready: connect, list tools, publish them into the
// registry, then begin health probing. Bounded by the server's startup
// timeout.
func (m *Manager) start(ctx context.Context, s *server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.startLocked(ctx, s)
}

func (m *Manager) startLocked(ctx context.Context, s *server) error {
	if s.state == StateReady {
		return nil
	}
	s.state = StateStarting
	s.lastErr = ""

	timeout := s.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = config.DefaultMCPStartupTimeout
	}
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := m.dial(startCtx, s.cfg)
	if err != nil {
		s.state = StateFailed
		s.lastErr = err.Error()
		return fmt.Errorf("failed to connect to %q: %w", s.id, err)
	}

	listed, err := session.ListTools(startCtx, nil)
	if err != nil {
		_ = session.Close()
		s.state = StateFailed
		s.lastErr = err.Error()
		return fmt.Errorf("failed to list tools on %q: %w", s.id, err)
	}

	s.session = session
	s.toolCount = m.publishTools(s, listed.Tools)
	s.state = StateReady
	s.restarts = 0
	s.healthFails = 0
	s.lastActivity = time.Now()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	s.stopHealth = stopHealth
	go m.healthLoop(healthCtx, s)

	m.log.Info("MCP server ready", "server", s.id, "tools", s.toolCount)
	m.emitRegistered(s)
	return nil
}

// publishTools registers the server's tools under its scope. Names collide
// unqualified; a name already taken in the scope is skipped with a warning.
func (m *Manager) publishTools(s *server, listed []*mcpsdk.Tool) int {
	scope := models.ScopeGlobal
	if s.cfg.Channel != "" {
		scope = models.ChannelScope(s.cfg.Channel)
	}

	count := 0
	for _, t := range listed {
		desc := models.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Category:    "external",
			InputSchema: marshalSchema(t.InputSchema),
			Source:      models.ExternalSource(s.id),
			Scope:       scope,
		}
		if err := m.tools.Register(desc, nil); err != nil {
			m.log.Warn("Skipping external tool",
				"server", s.id, "tool", t.Name, "error", err)
			continue
		}
		count++
	}
	return count
}

// stopServer tears the server down: close the session, drop its tools, and
// record the terminal state.
func (m *Manager) stopServer(s *server, state State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.stopServerLocked(s, state, reason)
}

func (m *Manager) stopServerLocked(s *server, state State, reason string) {
	if s.stopHealth != nil {
		s.stopHealth()
		s.stopHealth = nil
	}
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
	if removed := m.tools.UnregisterServer(s.id); removed > 0 {
		m.log.Info("Removed external tools", "server", s.id, "count", removed)
	}
	s.toolCount = 0
	s.state = state
	s.lastErr = reason
}

// healthLoop probes the server and enforces the keepalive window.
func (m *Manager) healthLoop(ctx context.Context, s *server) {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = config.DefaultMCPHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.expireIdle(s) {
				return
			}
			if !m.probe(ctx, s) {
				return
			}
		}
	}
}

// expireIdle stops a channel-scoped server whose keepalive window elapsed
// with no agent activity. The next tool call restarts it lazily.
func (m *Manager) expireIdle(s *server) bool {
	if s.cfg.Channel == "" || s.cfg.KeepAliveMinutes <= 0 {
		return false
	}
	window := time.Duration(s.cfg.KeepAliveMinutes) * time.Minute

	s.mu.Lock()
	idle := s.state == StateReady && time.Since(s.lastActivity) > window
	if idle {
		m.stopServerLocked(s, StateStopped, "keepalive expired")
	}
	s.mu.Unlock()

	if idle {
		m.log.Info("MCP server stopped after inactivity",
			"server", s.id, "keep_alive_minutes", s.cfg.KeepAliveMinutes)
	}
	return idle
}

// probe lists tools as a liveness check. Consecutive failures above the
// threshold flip the server to failed and schedule a restart when enabled.
// Returns false when this health loop should exit.
func (m *Manager) probe(ctx context.Context, s *server) bool {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	_, err := session.ListTools(probeCtx, nil)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.healthFails = 0
		return true
	}
	s.healthFails++
	m.log.Warn("MCP health probe failed",
		"server", s.id, "consecutive", s.healthFails, "error", err)
	if s.healthFails < healthFailureThreshold {
		return true
	}

	m.stopServerLocked(s, StateFailed, fmt.Sprintf("health checks failing: %s", err))
	m.scheduleRestartLocked(s)
	return false
}

// scheduleRestartLocked arranges an exponential-backoff restart. Exceeding
// the attempt cap pins the server failed until manual unregister.
func (m *Manager) scheduleRestartLocked(s *server) {
	if !s.cfg.RestartOnCrash {
		return
	}
	maxAttempts := s.cfg.MaxRestartAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMCPMaxRestartAttempts
	}
	if s.restarts >= maxAttempts {
		s.lastErr = fmt.Sprintf("restart attempts exhausted (%d)", maxAttempts)
		m.log.Error("MCP server pinned failed", "server", s.id, "attempts", s.restarts)
		return
	}
	s.restarts++
	backoff := restartBackoffBase << (s.restarts - 1)
	if backoff > restartBackoffMax {
		backoff = restartBackoffMax
	}
	attempt := s.restarts

	go func() {
		time.Sleep(backoff)
		m.log.Info("Restarting MCP server", "server", s.id, "attempt", attempt)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateFailed {
			return
		}
		if err := m.startLocked(context.Background(), s); err != nil {
			m.log.Warn("MCP server restart failed",
				"server", s.id, "attempt", attempt, "error", err)
			m.scheduleRestartLocked(s)
		}
	}()
}

// RecordActivity marks agent activity in a channel, resetting the keepalive
// timers of that channel's servers.
func (m *Manager) RecordActivity(channelID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if s.cfg.Channel == channelID {
			s.mu.Lock()
			s.lastActivity = time.Now()
			s.mu.Unlock()
		}
	}
}

// CallTool forwards a tools/call request to a live server. A server stopped
// by the keepalive timer is restarted lazily; a failed server reports its
// tools as absent with a diagnostic.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*models.ToolResult, error) {
	s, found := m.server(serverID)
	if !found {
		return nil, mxerr.Newf(mxerr.CodeToolNotFound, "MCP server %q is not registered", serverID)
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	state := s.state
	s.mu.Unlock()

	if state == StateStopped {
		if err := m.start(ctx, s); err != nil {
			return nil, mxerr.Wrap(mxerr.CodeToolNotFound,
				fmt.Sprintf("MCP server %q could not be restarted", serverID), err)
		}
	} else if state != StateReady {
		s.mu.Lock()
		diag := s.lastErr
		s.mu.Unlock()
		return nil, mxerr.Newf(mxerr.CodeToolNotFound,
			"MCP server %q is %s (%s); its tools are temporarily unavailable", serverID, state, diag)
	}

	result, err := m.callOnce(ctx, s, toolName, args)
	if err == nil {
		return result, nil
	}

	if ClassifyError(err) != RetryNewSession {
		return nil, mxerr.Wrap(mxerr.CodeOperationFailed,
			fmt.Sprintf("tool call %s.%s failed", serverID, toolName), err)
	}

	// Transport dropped under us. Recreate the session once and retry after
	// a jittered backoff.
	m.log.Info("MCP call failed, recreating session",
		"server", serverID, "tool", toolName, "error", err)
	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	m.stopServerLocked(s, StateFailed, err.Error())
	restartErr := m.startLocked(ctx, s)
	s.mu.Unlock()
	if restartErr != nil {
		return nil, mxerr.Wrap(mxerr.CodeConnectionFailed,
			fmt.Sprintf("session recreation failed for %q", serverID), restartErr)
	}

	result, err = m.callOnce(ctx, s, toolName, args)
	if err != nil {
		return nil, mxerr.Wrap(mxerr.CodeOperationFailed,
			fmt.Sprintf("retry failed for %s.%s", serverID, toolName), err)
	}
	return result, nil
}

func (m *Manager) callOnce(ctx context.Context, s *server, toolName string, args map[string]any) (*models.ToolResult, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil, mxerr.Newf(mxerr.CodeToolNotFound, "no session for server %q", s.id)
	}

	callCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Name:    toolName,
		Content: extractTextContent(result),
		IsError: result.IsError,
	}, nil
}

// ServerStatus is the externally visible state of one server.
type ServerStatus struct {
	ID        string `json:"id"`
	Channel   string `json:"channel,omitempty"`
	State     State  `json:"state"`
	Error     string `json:"error,omitempty"`
	ToolCount int    `json:"toolCount"`
	Restarts  int    `json:"restarts"`
}

// Statuses reports every managed server, sorted by id.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, s := range m.servers {
		s.mu.Lock()
		out = append(out, ServerStatus{
			ID:        s.id,
			Channel:   s.cfg.Channel,
			State:     s.state,
			Error:     s.lastErr,
			ToolCount: s.toolCount,
			Restarts:  s.restarts,
		})
		s.mu.Unlock()
	}
	sortStatuses(out)
	return out
}

// StateOf reports a single server's state. Unknown servers return "".
func (m *Manager) StateOf(serverID string) State {
	s, found := m.server(serverID)
	if !found {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func sortStatuses(list []ServerStatus) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

func (m *Manager) emitRegistered(s *server) {
	if m.bus == nil {
		return
	}
	env := models.NewEnvelope(bus.EventTypeToolRegistered, s.cfg.Channel, "system", map[string]any{
		"serverId":  s.id,
		"toolCount": s.toolCount,
	})
	if err := m.bus.Publish(context.Background(), env); err != nil {
		m.log.Warn("Failed to publish tool_registered", "server", s.id, "error", err)
	}
}

// extractTextContent concatenates the text blocks of an MCP result.
// Non-text content is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's input schema for registry storage.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(data)
}
