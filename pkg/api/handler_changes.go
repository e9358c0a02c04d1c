package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
)

const (
	defaultChangeLogLimit = 200
	maxChangeLogLimit     = 500
)

// ChangesResponse is one incremental sync page. Now is the server cursor
// the client should pass as since on its next call.
type ChangesResponse struct {
	Topics []*models.Topic    `json:"topics"`
	Tasks  []*models.Task     `json:"tasks"`
	Logs   []*models.LogEntry `json:"logs"`
	Now    string             `json:"now"`
}

// changesHandler handles GET /api/changes.
func (s *Server) changesHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	raw := c.QueryParam("since")
	if raw == "" || models.ParseISO(raw).IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "since must be an ISO-8601 timestamp")
	}
	since := models.NormalizeISO(raw)

	limitLogs := defaultChangeLogLimit
	if v := c.QueryParam("limitLogs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limitLogs must be a positive integer")
		}
		limitLogs = min(n, maxChangeLogLimit)
	}

	topics, err := s.store.TopicsUpdatedSince(ctx, since)
	if err != nil {
		return mapServiceError(err)
	}
	tasks, err := s.store.TasksUpdatedSince(ctx, since)
	if err != nil {
		return mapServiceError(err)
	}
	logs, err := s.store.ListLogs(ctx, store.LogFilter{Since: since, Limit: limitLogs})
	if err != nil {
		return mapServiceError(err)
	}
	if c.QueryParam("includeRaw") != "true" {
		logs = stripRaw(logs)
	}

	resp := ChangesResponse{Topics: topics, Tasks: tasks, Logs: logs, Now: models.NowISO()}
	if resp.Topics == nil {
		resp.Topics = []*models.Topic{}
	}
	if resp.Tasks == nil {
		resp.Tasks = []*models.Task{}
	}
	if resp.Logs == nil {
		resp.Logs = []*models.LogEntry{}
	}
	return c.JSON(http.StatusOK, resp)
}
