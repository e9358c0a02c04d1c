package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
)

// classifierPendingHandler handles GET /api/classifier/pending.
func (s *Server) classifierPendingHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	sessions, err := s.store.PendingSessions(ctx, limit)
	if err != nil {
		return mapServiceError(err)
	}
	if sessions == nil {
		sessions = []string{}
	}
	stats, err := s.store.LogStats(ctx, s.cfg.Classifier.MaxAttempts)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions, "stats": stats})
}

// getSessionRoutingHandler handles GET /api/classifier/session-routing.
func (s *Server) getSessionRoutingHandler(c *echo.Context) error {
	sessionKey := c.QueryParam("sessionKey")
	if sessionKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionKey is required")
	}
	mem, err := s.store.GetRoutingMemory(c.Request().Context(), sessionKey)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mem)
}

// putSessionRoutingHandler handles POST /api/classifier/session-routing.
func (s *Server) putSessionRoutingHandler(c *echo.Context) error {
	var req models.SessionRoutingMemory
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionKey is required")
	}
	err := s.store.PutRoutingMemory(c.Request().Context(), req.SessionKey, req.Decisions, models.NowISO())
	if err != nil {
		return mapServiceError(err)
	}
	mem, err := s.store.GetRoutingMemory(c.Request().Context(), req.SessionKey)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mem)
}

// ReplayRequest targets one log or one whole session for reclassification.
type ReplayRequest struct {
	LogID      string `json:"logId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// classifierReplayHandler handles POST /api/classifier/replay. The targeted
// logs drop back to pending with zero attempts; the classifier picks them
// up on its next cycle.
func (s *Server) classifierReplayHandler(c *echo.Context) error {
	var req ReplayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LogID == "" && req.SessionKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "logId or sessionKey is required")
	}
	count, err := s.store.ResetLogsForReplay(c.Request().Context(), req.LogID, req.SessionKey, models.NowISO())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": count})
}
