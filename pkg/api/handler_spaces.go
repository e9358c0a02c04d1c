package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
)

// listSpacesHandler handles GET /api/spaces.
func (s *Server) listSpacesHandler(c *echo.Context) error {
	spaces, err := s.store.ListSpaces(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if spaces == nil {
		spaces = []*models.Space{}
	}
	return c.JSON(http.StatusOK, spaces)
}

// CreateSpaceRequest is the payload for creating a space.
type CreateSpaceRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Color          string          `json:"color,omitempty"`
	DefaultVisible bool            `json:"defaultVisible"`
	Connectivity   map[string]bool `json:"connectivity,omitempty"`
}

// createSpaceHandler handles POST /api/spaces.
func (s *Server) createSpaceHandler(c *echo.Context) error {
	var req CreateSpaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	now := models.NowISO()
	sp := &models.Space{
		ID:             req.ID,
		Name:           req.Name,
		Color:          req.Color,
		DefaultVisible: req.DefaultVisible,
		Connectivity:   req.Connectivity,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSpace(c.Request().Context(), sp); err != nil {
		return mapServiceError(err)
	}
	s.hub.Publish(events.EventTypeSpaceUpserted, sp, sp.UpdatedAt)
	return c.JSON(http.StatusCreated, sp)
}

// ConnectivityRequest replaces a space's outbound visibility edges.
type ConnectivityRequest struct {
	Connectivity map[string]bool `json:"connectivity"`
}

// spaceConnectivityHandler handles PATCH /api/spaces/:id/connectivity.
func (s *Server) spaceConnectivityHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "space id is required")
	}
	var req ConnectivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if _, err := s.store.GetSpace(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	sp, err := s.store.UpdateSpaceConnectivity(c.Request().Context(), id, req.Connectivity, models.NowISO())
	if err != nil {
		return mapServiceError(err)
	}
	s.hub.Publish(events.EventTypeSpaceUpserted, sp, sp.UpdatedAt)
	return c.JSON(http.StatusOK, sp)
}

// allowedSpacesHandler handles GET /api/spaces/allowed.
func (s *Server) allowedSpacesHandler(c *echo.Context) error {
	spaceID := c.QueryParam("spaceId")
	if spaceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "spaceId is required")
	}
	allowed, err := s.store.AllowedSpaceIDs(c.Request().Context(), spaceID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"spaceId": spaceID, "allowed": allowed})
}
