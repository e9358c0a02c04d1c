package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/store"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

// idempotencyHeader carries the producer's dedup key; it wins over the
// payload field.
const idempotencyHeader = "X-Idempotency-Key"

// listLogsHandler handles GET /api/log.
func (s *Server) listLogsHandler(c *echo.Context) error {
	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}

	filter := store.LogFilter{
		TopicID:    c.QueryParam("topicId"),
		TaskID:     c.QueryParam("taskId"),
		SessionKey: c.QueryParam("sessionKey"),
		SpaceIDs:   spaceIDs,
		Limit:      defaultLogLimit,
	}
	if v := c.QueryParam("since"); v != "" {
		if models.ParseISO(v).IsZero() {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an ISO-8601 timestamp")
		}
		filter.Since = models.NormalizeISO(v)
	}
	if v := c.QueryParam("type"); v != "" {
		filter.Types = strings.Split(v, ",")
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = min(n, maxLogLimit)
	}

	logs, err := s.store.ListLogs(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	if logs == nil {
		logs = []*models.LogEntry{}
	}
	if c.QueryParam("includeRaw") != "true" {
		logs = stripRaw(logs)
	}
	return c.JSON(http.StatusOK, logs)
}

// stripRaw copies the rows without their raw payloads.
func stripRaw(logs []*models.LogEntry) []*models.LogEntry {
	out := make([]*models.LogEntry, len(logs))
	for i, l := range logs {
		cp := *l
		cp.Raw = ""
		out[i] = &cp
	}
	return out
}

// appendLogHandler handles POST /api/log.
func (s *Server) appendLogHandler(c *echo.Context) error {
	var req models.AppendLogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entry, err := s.ingest.Append(c.Request().Context(), req, c.Request().Header.Get(idempotencyHeader))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// patchLogHandler handles PATCH /api/log/:id.
func (s *Server) patchLogHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "log id is required")
	}
	var patch models.LogPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entry, err := s.ingest.Patch(c.Request().Context(), id, &patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// deleteLogHandler handles DELETE /api/log/:id.
func (s *Server) deleteLogHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "log id is required")
	}
	deleted, err := s.ingest.Delete(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deletedIds": deleted})
}

// ingestHandler handles POST /api/ingest. With queue mode on, the payload
// is parked in the durable queue and drained by the worker; otherwise it is
// appended inline.
func (s *Server) ingestHandler(c *echo.Context) error {
	var req models.AppendLogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if key := c.Request().Header.Get(idempotencyHeader); key != "" {
		req.IdempotencyKey = key
	}

	if s.cfg.Ingest.QueueMode {
		id, err := s.store.EnqueueIngest(c.Request().Context(), req, models.NowISO())
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{"queued": true, "envelopeId": id})
	}

	entry, err := s.ingest.Append(c.Request().Context(), req, "")
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}
