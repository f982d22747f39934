package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/models"
)

// ChannelSummary is one channel in list responses.
type ChannelSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
	Admins      []string `json:"admins,omitempty"`
	MCPServers  []string `json:"mcpServers,omitempty"`
}

// listChannelsHandler handles GET /api/v1/channels.
func (s *Server) listChannelsHandler(c *echo.Context) error {
	all := s.cfg.ChannelRegistry.GetAll()
	out := make([]ChannelSummary, 0, len(all))
	for id, ch := range all {
		out = append(out, ChannelSummary{
			ID:          id,
			Name:        ch.Name,
			Description: ch.Description,
			Members:     ch.Members,
			Admins:      ch.Admins,
			MCPServers:  ch.MCPServers,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

// getChannelHandler handles GET /api/v1/channels/:id.
func (s *Server) getChannelHandler(c *echo.Context) error {
	channelID := c.Param("id")
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id is required")
	}
	ch, err := s.cfg.ChannelRegistry.Get(channelID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	return c.JSON(http.StatusOK, ChannelSummary{
		ID:          channelID,
		Name:        ch.Name,
		Description: ch.Description,
		Members:     ch.Members,
		Admins:      ch.Admins,
		MCPServers:  ch.MCPServers,
	})
}

// AgentStatus is one agent in channel agent listings.
type AgentStatus struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"displayName,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Running      bool         `json:"running"`
	Phase        models.Phase `json:"phase,omitempty"`
}

// channelAgentsHandler handles GET /api/v1/channels/:id/agents.
func (s *Server) channelAgentsHandler(c *echo.Context) error {
	channelID := c.Param("id")
	if _, err := s.cfg.ChannelRegistry.Get(channelID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}

	ids := s.cfg.AgentRegistry.InChannel(channelID)
	sort.Strings(ids)
	out := make([]AgentStatus, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.cfg.AgentRegistry.Get(id)
		if err != nil {
			continue
		}
		st := AgentStatus{
			ID:           id,
			DisplayName:  cfg.DisplayName,
			Capabilities: cfg.Capabilities,
		}
		if s.runtimes != nil {
			st.Running = s.runtimes.Running(id)
			if st.Running {
				st.Phase = s.runtimes.PhaseOf(id)
			}
		}
		out = append(out, st)
	}
	return c.JSON(http.StatusOK, out)
}

// channelEventsHandler handles GET /api/v1/channels/:id/events — the REST
// fallback for monitor catchup when the missed window exceeds what the
// WebSocket catchup returns.
func (s *Server) channelEventsHandler(c *echo.Context) error {
	channelID := c.Param("id")
	if _, err := s.cfg.ChannelRegistry.Get(channelID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}

	sinceID := int64(0)
	if v := c.QueryParam("since_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since_id")
		}
		sinceID = n
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := s.store.EventsSince(c.Request().Context(), channelID, sinceID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	type eventRow struct {
		ID       int64           `json:"id"`
		Envelope json.RawMessage `json:"envelope"`
	}
	out := make([]eventRow, 0, len(records))
	for _, rec := range records {
		out = append(out, eventRow{ID: rec.ID, Envelope: rec.Envelope})
	}
	return c.JSON(http.StatusOK, out)
}
