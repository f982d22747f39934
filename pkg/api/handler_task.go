package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/tasks"
)

// createTaskHandler handles POST /api/v1/channels/:id/tasks. Operator task
// creation; agent-side creation goes through the task_create tool.
func (s *Server) createTaskHandler(c *echo.Context) error {
	channelID := c.Param("id")
	if _, err := s.cfg.ChannelRegistry.Get(channelID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}

	var req tasks.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ChannelID = channelID

	task, err := s.tasks.Create(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, task)
}

// listTasksHandler handles GET /api/v1/channels/:id/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	channelID := c.Param("id")
	if _, err := s.cfg.ChannelRegistry.Get(channelID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}

	var status models.TaskStatus
	if v := c.QueryParam("status"); v != "" {
		status = models.TaskStatus(v)
		switch status {
		case models.TaskPending, models.TaskAssigned, models.TaskInProgress,
			models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}

	list, err := s.tasks.List(c.Request().Context(), channelID, status)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	task, err := s.tasks.Get(c.Request().Context(), taskID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// CancelTaskRequest is the POST /api/v1/tasks/:id/cancel body.
type CancelTaskRequest struct {
	RequesterID string `json:"requesterId"`
	Reason      string `json:"reason,omitempty"`
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel. Authorization
// (assigner or channel admin) is enforced by the task service.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	var req CancelTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RequesterID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requesterId is required")
	}

	task, err := s.tasks.Cancel(c.Request().Context(), taskID, req.RequesterID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}
