package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/events"
	"github.com/clawboard/clawboard/pkg/models"
)

// ConfigResponse is the instance configuration plus deployment-derived
// token-requirement flags (never persisted).
type ConfigResponse struct {
	*models.InstanceConfig
	TokenRequiredForWrites bool `json:"tokenRequiredForWrites"`
	TokenRequiredForReads  bool `json:"tokenRequiredForReads"`
}

func (s *Server) configResponse(cfg *models.InstanceConfig) ConfigResponse {
	configured := s.cfg.Server.TokenConfigured()
	return ConfigResponse{
		InstanceConfig:         cfg,
		TokenRequiredForWrites: configured,
		// Reads stay open for loopback clients regardless.
		TokenRequiredForReads: configured,
	}
}

// getConfigHandler handles GET /api/config.
func (s *Server) getConfigHandler(c *echo.Context) error {
	cfg, err := s.store.GetInstanceConfig(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, s.configResponse(cfg))
}

// updateConfigHandler handles POST /api/config.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	var req models.InstanceConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	updated, err := s.store.UpdateInstanceConfig(c.Request().Context(), &req, models.NowISO())
	if err != nil {
		return mapServiceError(err)
	}
	s.hub.Publish(events.EventTypeConfigUpdated, updated, updated.UpdatedAt)
	return c.JSON(http.StatusOK, s.configResponse(updated))
}

// MetricsResponse summarizes pipeline health.
type MetricsResponse struct {
	Classifier       any            `json:"classifier"`
	IngestQueueDepth int            `json:"ingestQueueDepth"`
	ReindexDepth     int            `json:"reindexDepth"`
	Events           events.Stats   `json:"events"`
	Vectors          map[string]int `json:"vectors,omitempty"`
}

// metricsHandler handles GET /api/metrics.
func (s *Server) metricsHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	stats, err := s.store.LogStats(ctx, s.cfg.Classifier.MaxAttempts)
	if err != nil {
		return mapServiceError(err)
	}
	depth, err := s.store.IngestQueueDepth(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	resp := MetricsResponse{
		Classifier:       stats,
		IngestQueueDepth: depth,
		Events:           s.hub.Stats(),
	}
	if s.queue != nil {
		if d, err := s.queue.Depth(); err == nil {
			resp.ReindexDepth = d
		}
	}
	if s.vec != nil {
		if counts, err := s.vec.Count(ctx); err == nil {
			resp.Vectors = counts
		}
	}
	return c.JSON(http.StatusOK, resp)
}
