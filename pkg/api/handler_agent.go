package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/models"
)

// startAgentHandler handles POST /api/v1/agents/:id/start. Idempotent for
// an already-running agent.
func (s *Server) startAgentHandler(c *echo.Context) error {
	if s.runtimes == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent runtimes not configured")
	}
	agentID := c.Param("id")
	if _, err := s.cfg.AgentRegistry.Get(agentID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown agent: "+agentID)
	}
	if err := s.runtimes.StartAgent(c.Request().Context(), agentID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"agentId": agentID, "running": true})
}

// stopAgentHandler handles POST /api/v1/agents/:id/stop.
func (s *Server) stopAgentHandler(c *echo.Context) error {
	if s.runtimes == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "agent runtimes not configured")
	}
	agentID := c.Param("id")
	if _, err := s.cfg.AgentRegistry.Get(agentID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown agent: "+agentID)
	}
	s.runtimes.StopAgent(agentID)
	return c.JSON(http.StatusOK, map[string]any{"agentId": agentID, "running": false})
}

// memoryKeysHandler handles GET /api/v1/memory/:scope/:owner — read-only
// key listing for operators. Writes stay behind the agent tool surface.
func (s *Server) memoryKeysHandler(c *echo.Context) error {
	scope := models.MemoryScope(c.Param("scope"))
	if !scope.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scope: must be agent, channel, shared, or relationship")
	}
	keys, err := s.store.ListMemoryKeys(c.Request().Context(), scope, c.Param("owner"))
	if err != nil {
		return mapServiceError(err)
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, keys)
}

// memoryEntryHandler handles GET /api/v1/memory/:scope/:owner/:key.
func (s *Server) memoryEntryHandler(c *echo.Context) error {
	scope := models.MemoryScope(c.Param("scope"))
	if !scope.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scope: must be agent, channel, shared, or relationship")
	}
	entry, err := s.store.GetMemory(c.Request().Context(), scope, c.Param("owner"), c.Param("key"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, entry)
}
