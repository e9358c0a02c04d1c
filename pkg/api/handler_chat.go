package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/models"
	"github.com/clawboard/clawboard/pkg/orchestration"
)

// ChatMessageRequest routes one user message to the external chat gateway.
type ChatMessageRequest struct {
	RequestID  string  `json:"requestId"`
	SessionKey string  `json:"sessionKey"`
	Message    string  `json:"message"`
	TopicID    *string `json:"topicId,omitempty"`
	TaskID     *string `json:"taskId,omitempty"`
	SpaceID    string  `json:"spaceId,omitempty"`
}

// chatHandler handles POST /api/openclaw/chat. The user message is
// persisted before anything is dispatched; if that write fails the request
// fails closed and the gateway never sees the message.
func (s *Server) chatHandler(c *echo.Context) error {
	var req ChatMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}
	if req.SessionKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionKey is required")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	ctx := c.Request().Context()

	entry, err := s.ingest.Append(ctx, models.AppendLogRequest{
		SpaceID:        req.SpaceID,
		TopicID:        req.TopicID,
		TaskID:         req.TaskID,
		IdempotencyKey: "openclaw-chat:" + req.RequestID,
		Type:           models.LogTypeConversation,
		Content:        req.Message,
		Source:         &models.LogSource{Channel: "openclaw", SessionKey: req.SessionKey, RequestID: req.RequestID},
	}, "")
	if err != nil {
		return mapServiceError(err)
	}

	run, err := s.orch.StartRun(ctx, req.RequestID, req.SessionKey)
	if err != nil {
		return mapServiceError(err)
	}

	dispatchErr := s.gw.Dispatch(ctx, orchestration.ChatRequest{
		RequestID:  req.RequestID,
		SessionKey: req.SessionKey,
		Message:    req.Message,
		TopicID:    entry.TopicID,
		TaskID:     entry.TaskID,
	})
	if dispatchErr != nil {
		s.recordDispatchFailure(c, req, dispatchErr)
		if errors.Is(dispatchErr, orchestration.ErrNoGateway) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "chat service is not available")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "chat gateway dispatch failed")
	}

	return c.JSON(http.StatusAccepted, map[string]any{"run": run, "log": entry})
}

// recordDispatchFailure surfaces a gateway fault inside the originating
// session so the timeline shows what happened.
func (s *Server) recordDispatchFailure(c *echo.Context, req ChatMessageRequest, dispatchErr error) {
	_, err := s.ingest.Append(c.Request().Context(), models.AppendLogRequest{
		SpaceID: req.SpaceID,
		Type:    models.LogTypeSystem,
		Content: "Chat dispatch failed: " + dispatchErr.Error(),
		Source:  &models.LogSource{Channel: "openclaw", SessionKey: req.SessionKey},
	}, "")
	if err != nil {
		s.logger.Error("Failed to record chat dispatch failure", "error", err, "requestId", req.RequestID)
	}
}

// ChatCancelRequest aborts an in-flight chat run.
type ChatCancelRequest struct {
	RequestID string `json:"requestId"`
}

// chatCancelHandler handles POST /api/openclaw/chat/cancel.
func (s *Server) chatCancelHandler(c *echo.Context) error {
	var req ChatCancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}

	ctx := c.Request().Context()
	run, err := s.orch.Cancel(ctx, req.RequestID)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.gw.Cancel(ctx, req.RequestID); err != nil && !errors.Is(err, orchestration.ErrNoGateway) {
		// The run is cancelled locally either way.
		s.logger.Warn("Gateway cancel failed", "error", err, "requestId", req.RequestID)
	}
	return c.JSON(http.StatusOK, run)
}

// chatStatusHandler handles GET /api/openclaw/chat/status.
func (s *Server) chatStatusHandler(c *echo.Context) error {
	requestID := c.QueryParam("requestId")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}
	run, items, err := s.orch.Status(c.Request().Context(), requestID)
	if err != nil {
		return mapServiceError(err)
	}
	if items == nil {
		items = []*models.OrchestrationItem{}
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "items": items})
}
