// Package llm wraps the OpenAI-compatible endpoint used for session
// classification and embeddings. Any gateway speaking the chat completions
// and embeddings wire format works; base URL and token come from config.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// ErrDisabled is returned when no endpoint is configured. Callers fall back
// to their heuristic paths.
var ErrDisabled = errors.New("llm: no endpoint configured")

// Config carries the endpoint settings for one client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	Timeout    time.Duration
}

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is a thin wrapper over the OpenAI SDK with per-call timeouts.
type Client struct {
	api        openai.Client
	model      string
	embedModel string
	timeout    time.Duration
	enabled    bool
}

// NewClient builds a client from config. A client with neither base URL nor
// API key is disabled; its calls return ErrDisabled.
func NewClient(cfg Config) *Client {
	var opts []option.RequestOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 75 * time.Second
	}
	return &Client{
		api:        openai.NewClient(opts...),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		timeout:    timeout,
		enabled:    cfg.BaseURL != "" || cfg.APIKey != "",
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c.enabled }

// Complete runs one chat completion and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system string, msgs []Message) (string, error) {
	return c.complete(ctx, system, msgs, false)
}

// CompleteJSON runs one chat completion in JSON mode. The returned string is
// the raw model output; the caller validates the shape.
func (c *Client) CompleteJSON(ctx context.Context, system string, msgs []Message) (string, error) {
	return c.complete(ctx, system, msgs, true)
}

func (c *Client) complete(ctx context.Context, system string, msgs []Message, jsonMode bool) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if int(d.Index) < len(out) {
			out[d.Index] = vec
		}
	}
	return out, nil
}
