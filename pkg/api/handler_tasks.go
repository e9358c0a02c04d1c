package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
)

// listTasksHandler handles GET /api/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(c.Request().Context(), c.QueryParam("topicId"), spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// createTaskHandler handles POST /api/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req models.CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	task, err := s.ingest.CreateTask(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, task)
}

// patchTaskHandler handles PATCH /api/tasks/:id.
func (s *Server) patchTaskHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	var patch models.TaskPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	task, err := s.ingest.PatchTask(c.Request().Context(), id, &patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, task)
}

// deleteTaskHandler handles DELETE /api/tasks/:id.
func (s *Server) deleteTaskHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task id is required")
	}
	if err := s.ingest.DeleteTask(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// reorderTasksHandler handles POST /api/tasks/reorder.
func (s *Server) reorderTasksHandler(c *echo.Context) error {
	var req ReorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.OrderedIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "orderedIds is required")
	}
	if err := s.ingest.ReorderTasks(c.Request().Context(), req.OrderedIDs); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
