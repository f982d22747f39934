package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/tools"
)

// listToolsHandler handles GET /api/v1/tools. Channel-scoped listing when
// ?channel_id is present, global tools otherwise.
func (s *Server) listToolsHandler(c *echo.Context) error {
	filter := tools.ListFilter{
		Category:    c.QueryParam("category"),
		Source:      c.QueryParam("source"),
		NamePattern: c.QueryParam("name"),
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	return c.JSON(http.StatusOK, s.registry.List(c.QueryParam("channel_id"), filter))
}

// mcpServersHandler handles GET /api/v1/mcp/servers.
func (s *Server) mcpServersHandler(c *echo.Context) error {
	if s.mcp == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "MCP federation not configured")
	}
	return c.JSON(http.StatusOK, s.mcp.Statuses())
}

// executionsHandler handles GET /api/v1/executions — the code execution
// audit log, newest first.
func (s *Server) executionsHandler(c *echo.Context) error {
	agentID := c.QueryParam("agent_id")
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.store.ListExecutions(c.Request().Context(), agentID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// usageHandler handles GET /api/v1/usage — token cost analytics grouped
// by phase, model, or hour.
func (s *Server) usageHandler(c *echo.Context) error {
	if s.inference == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inference service not configured")
	}

	groupBy := inference.GroupByPhase
	if v := c.QueryParam("group_by"); v != "" {
		switch inference.GroupBy(v) {
		case inference.GroupByPhase, inference.GroupByModel, inference.GroupByHour:
			groupBy = inference.GroupBy(v)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid group_by: must be phase, model, or hour")
		}
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from: must be RFC3339")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to: must be RFC3339")
		}
		to = t
	}

	report, err := s.inference.CostAnalytics(from, to, groupBy)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// SessionSummary is one live transport session.
type SessionSummary struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AgentID     string    `json:"agentId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	Channels    []string  `json:"channels"`
}

// sessionsHandler handles GET /api/v1/sessions.
func (s *Server) sessionsHandler(c *echo.Context) error {
	live := s.sessions.List()
	out := make([]SessionSummary, 0, len(live))
	for _, sess := range live {
		summary := SessionSummary{
			ID:          sess.ID,
			ConnectedAt: sess.ConnectedAt,
			Channels:    sess.SubscribedChannels(),
		}
		if sess.Identity != nil {
			summary.Kind = string(sess.Identity.Kind)
			summary.AgentID = sess.Identity.AgentID
			summary.UserID = sess.Identity.UserID
			summary.ChannelID = sess.Identity.ChannelID
		}
		out = append(out, summary)
	}
	return c.JSON(http.StatusOK, out)
}
