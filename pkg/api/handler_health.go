package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/mcp"
	"github.com/modelexchange/mxf/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health.
// The store decides healthy vs unhealthy; degraded MCP servers and an
// unavailable sandbox only degrade the report, so an external dependency
// outage never causes an orchestrator restart loop.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.store.Ping(reqCtx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.mcp != nil {
		degraded := 0
		for _, st := range s.mcp.Statuses() {
			if st.State == mcp.StateFailed {
				degraded++
			}
		}
		if degraded > 0 {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["mcp"] = HealthCheck{Status: healthStatusDegraded, Message: "one or more MCP servers unavailable"}
		} else {
			checks["mcp"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	if s.sandbox != nil {
		if ok, reason := s.sandbox.Available(); !ok {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["sandbox"] = HealthCheck{Status: healthStatusDegraded, Message: reason}
		} else {
			checks["sandbox"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
