package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
)

// ReindexRequest enqueues one reindex intent. Delete drops the row from the
// vector index instead of refreshing it.
type ReindexRequest struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Scope  string `json:"scope,omitempty"`
	Text   string `json:"text,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

// reindexHandler handles POST /api/reindex.
func (s *Server) reindexHandler(c *echo.Context) error {
	if s.queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reindex queue is not configured")
	}
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Kind == "" || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "kind and id are required")
	}

	var err error
	if req.Delete {
		err = s.queue.EnqueueDelete(req.Kind, req.ID)
	} else {
		if req.Text == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "text is required for upserts")
		}
		err = s.queue.EnqueueUpsert(req.Kind, req.ID, req.Scope, req.Text)
	}
	if err != nil {
		return mapServiceError(err)
	}

	depth, _ := s.queue.Depth()
	return c.JSON(http.StatusAccepted, map[string]any{"queued": true, "depth": depth})
}

// startFreshReplayHandler handles POST /api/admin/start-fresh-replay: drop
// every derived artifact (topics, tasks, routing memory, vectors), re-pend
// all conversation logs, and tell connected clients to resync.
func (s *Server) startFreshReplayHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	reset, err := s.store.ResetLogsForReplay(ctx, "", "", models.NowISO())
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.store.ClearDerivedState(ctx); err != nil {
		return mapServiceError(err)
	}
	s.purgeVectors(ctx)

	s.hub.Publish(events.EventTypeStreamReset, nil, models.NowISO())
	s.logger.Info("Start-fresh replay initiated", "logsReset", reset)
	return c.JSON(http.StatusOK, map[string]any{"reset": reset})
}

// purgeVectors drops every row from the vector index. Failures are logged
// only; the reindex pipeline rebuilds whatever survives.
func (s *Server) purgeVectors(ctx context.Context) {
	if s.vec == nil {
		return
	}
	counts, err := s.vec.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to enumerate vector kinds", "error", err)
		return
	}
	for kind := range counts {
		ids, err := s.vec.IDs(ctx, kind)
		if err != nil {
			s.logger.Warn("Failed to list vector ids", "kind", kind, "error", err)
			continue
		}
		for _, id := range ids {
			if err := s.vec.Delete(ctx, kind, id); err != nil {
				s.logger.Warn("Failed to delete vector", "kind", kind, "id", id, "error", err)
			}
		}
	}
}
