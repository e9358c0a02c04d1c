package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/clawboard/clawboard/pkg/events"
)

// ssePingInterval keeps intermediaries from idling out the stream.
const ssePingInterval = 25 * time.Second

// streamHandler handles GET /api/stream: replay from the client's cursor,
// then live fan-out until the client disconnects.
func (s *Server) streamHandler(c *echo.Context) error {
	sinceID := parseCursor(c)

	w := c.Response()
	flusher, ok := w.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming is not supported")
	}
	h := w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Sentinel so clients can distinguish an open stream from a hung dial.
	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	sub := s.hub.Subscribe(sinceID)
	defer s.hub.Unsubscribe(sub)

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeSSE(w, ev); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// parseCursor reads the replay cursor: the standard Last-Event-ID header,
// or ?since= for clients that reconnect by URL.
func parseCursor(c *echo.Context) int64 {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("since")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// writeSSE frames one event. stream.reset carries no id and is typed so
// EventSource listeners can handle it explicitly.
func writeSSE(w io.Writer, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Type == events.EventTypeStreamReset {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", events.EventTypeStreamReset, payload)
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.EventID, payload)
	return err
}
