package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoGateway is returned when no chat gateway is configured.
var ErrNoGateway = errors.New("orchestration: no chat gateway configured")

// ChatRequest is the payload forwarded to the external chat gateway.
type ChatRequest struct {
	RequestID  string  `json:"requestId"`
	SessionKey string  `json:"sessionKey"`
	Message    string  `json:"message"`
	TopicID    *string `json:"topicId,omitempty"`
	TaskID     *string `json:"taskId,omitempty"`
}

// Gateway dispatches chat requests to the external agent runtime.
type Gateway interface {
	Dispatch(ctx context.Context, req ChatRequest) error
	Cancel(ctx context.Context, requestID string) error
}

// HTTPGateway talks to the gateway over JSON HTTP.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway client. An empty baseURL yields a client
// whose calls return ErrNoGateway.
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Dispatch forwards a chat request.
func (g *HTTPGateway) Dispatch(ctx context.Context, req ChatRequest) error {
	return g.post(ctx, "/chat", req)
}

// Cancel asks the gateway to abort an in-flight request.
func (g *HTTPGateway) Cancel(ctx context.Context, requestID string) error {
	return g.post(ctx, "/chat/cancel", map[string]string{"requestId": requestID})
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) error {
	if g.baseURL == "" {
		return ErrNoGateway
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat gateway returned status %d", resp.StatusCode)
	}
	return nil
}
