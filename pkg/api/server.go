// Package api exposes the MXF server surface: a small REST API for
// operators and the authenticated WebSocket duplex used by external
// agents and channel monitors.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/auth"
	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/mcp"
	"github.com/modelexchange/mxf/pkg/runtime"
	"github.com/modelexchange/mxf/pkg/sandbox"
	"github.com/modelexchange/mxf/pkg/session"
	"github.com/modelexchange/mxf/pkg/store"
	"github.com/modelexchange/mxf/pkg/tasks"
	"github.com/modelexchange/mxf/pkg/tools"
)

// Server hosts the REST routes and the WebSocket endpoint.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       *config.Config
	authn     *auth.Authenticator
	sessions  *session.Manager
	conns     *ConnectionManager
	store     store.Store
	bus       *bus.Bus
	tasks     *tasks.Service
	runtimes  *runtime.Manager
	mcp       *mcp.Manager
	sandbox   *sandbox.Pool
	registry  *tools.Registry
	inference *inference.Service
	log       *slog.Logger
}

// NewServer wires routes and middleware. Optional components (mcp,
// sandbox, runtimes) may be nil; their routes degrade gracefully.
func NewServer(
	cfg *config.Config,
	authn *auth.Authenticator,
	sessions *session.Manager,
	st store.Store,
	b *bus.Bus,
	taskSvc *tasks.Service,
	runtimes *runtime.Manager,
	mcpMgr *mcp.Manager,
	pool *sandbox.Pool,
	registry *tools.Registry,
	infSvc *inference.Service,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	s := &Server{
		echo:      e,
		cfg:       cfg,
		authn:     authn,
		sessions:  sessions,
		store:     st,
		bus:       b,
		tasks:     taskSvc,
		runtimes:  runtimes,
		mcp:       mcpMgr,
		sandbox:   pool,
		registry:  registry,
		inference: infSvc,
		log:       logger.With("component", "api"),
	}
	s.conns = NewConnectionManager(authn, sessions, b, st, cfg, logger)

	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/channels", s.listChannelsHandler)
	v1.GET("/channels/:id", s.getChannelHandler)
	v1.GET("/channels/:id/agents", s.channelAgentsHandler)
	v1.GET("/channels/:id/tasks", s.listTasksHandler)
	v1.POST("/channels/:id/tasks", s.createTaskHandler)
	v1.GET("/channels/:id/events", s.channelEventsHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	v1.POST("/agents/:id/start", s.startAgentHandler)
	v1.POST("/agents/:id/stop", s.stopAgentHandler)
	v1.GET("/memory/:scope/:owner", s.memoryKeysHandler)
	v1.GET("/memory/:scope/:owner/:key", s.memoryEntryHandler)
	v1.GET("/tools", s.listToolsHandler)
	v1.GET("/mcp/servers", s.mcpServersHandler)
	v1.GET("/executions", s.executionsHandler)
	v1.GET("/usage", s.usageHandler)
	v1.GET("/sessions", s.sessionsHandler)

	return s
}

// Start begins serving. Blocks until the listener stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.conns.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
