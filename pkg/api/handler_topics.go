package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
)

// resolveSpaceScope turns an optional ?spaceId= into the visible space set.
// No parameter means no scoping.
func (s *Server) resolveSpaceScope(c *echo.Context) ([]string, error) {
	spaceID := c.QueryParam("spaceId")
	if spaceID == "" {
		return nil, nil
	}
	allowed, err := s.store.AllowedSpaceIDs(c.Request().Context(), spaceID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return allowed, nil
}

// listTopicsHandler handles GET /api/topics.
func (s *Server) listTopicsHandler(c *echo.Context) error {
	spaceIDs, err := s.resolveSpaceScope(c)
	if err != nil {
		return err
	}
	topics, err := s.store.ListTopics(c.Request().Context(), spaceIDs)
	if err != nil {
		return mapServiceError(err)
	}
	if topics == nil {
		topics = []*models.Topic{}
	}
	return c.JSON(http.StatusOK, topics)
}

// createTopicHandler handles POST /api/topics.
func (s *Server) createTopicHandler(c *echo.Context) error {
	var req models.CreateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topic, err := s.ingest.CreateTopic(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, topic)
}

// patchTopicHandler handles PATCH /api/topics/:id.
func (s *Server) patchTopicHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}
	var patch models.TopicPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topic, err := s.ingest.PatchTopic(c.Request().Context(), id, &patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, topic)
}

// deleteTopicHandler handles DELETE /api/topics/:id.
func (s *Server) deleteTopicHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}
	if err := s.ingest.DeleteTopic(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReorderRequest carries the full manual ordering.
type ReorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

// reorderTopicsHandler handles POST /api/topics/reorder.
func (s *Server) reorderTopicsHandler(c *echo.Context) error {
	var req ReorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.OrderedIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "orderedIds is required")
	}
	if err := s.ingest.ReorderTopics(c.Request().Context(), req.OrderedIDs); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
