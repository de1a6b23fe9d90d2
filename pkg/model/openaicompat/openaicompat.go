// Package openaicompat implements model.Client against any backend that
// speaks the OpenAI chat completions protocol, including OpenAI itself and
// Ollama's /v1 endpoint.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/model"
)

const (
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultOllamaURL = "http://localhost:11434/v1"
)

// Config configures a Client.
type Config struct {
	// Provider labels models returned by List, e.g. "openai" or "ollama".
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	// Timeout bounds non-streaming requests. Defaults to 60s.
	Timeout time.Duration
	// HTTPClient overrides the default tracing client.
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai-compatible API error (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to one model.
type Client struct {
	cfg  Config
	http *http.Client
	opts model.Options
}

// Verify interface compliance.
var (
	_ model.Client = (*Client)(nil)
	_ model.Lister = (*Client)(nil)
)

// New creates a client.
func New(cfg Config, opts ...model.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = model.TraceClient(cfg.Provider)
	}
	return &Client{cfg: cfg, http: hc, opts: model.Apply(opts...)}
}

// With returns a client for the same backend with a different model and options.
func (c *Client) With(modelName string, opts ...model.Option) *Client {
	cfg := c.cfg
	cfg.Model = modelName
	return &Client{cfg: cfg, http: c.http, opts: model.Apply(opts...)}
}

func (c *Client) Name() string { return c.cfg.Model }

// --- Wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// --- Requests ---

func (c *Client) buildRequest(messages []model.Message, stream bool) chatRequest {
	req := chatRequest{
		Model:       c.cfg.Model,
		Stream:      stream,
		Temperature: c.opts.Temperature,
	}
	if c.opts.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: string(domain.RoleSystem), Content: c.opts.SystemPrompt})
	}
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = domain.RoleUser
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(role), Content: m.Content})
	}
	if c.opts.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []model.Message{model.User(prompt)})
}

func (c *Client) Chat(ctx context.Context, messages []model.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	slog.Debug("OpenAICompat.Chat", "provider", c.cfg.Provider, "model", c.cfg.Model, "messageCount", len(messages))
	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", c.buildRequest(messages, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", nil
	}
	return cr.Choices[0].Message.Content, nil
}

func (c *Client) StreamAsk(ctx context.Context, prompt string) (model.Stream, error) {
	return c.StreamChat(ctx, []model.Message{model.User(prompt)})
}

func (c *Client) StreamChat(ctx context.Context, messages []model.Message) (model.Stream, error) {
	slog.Debug("OpenAICompat.StreamChat", "provider", c.cfg.Provider, "model", c.cfg.Model, "messageCount", len(messages))

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.do(streamCtx, http.MethodPost, "/chat/completions", c.buildRequest(messages, true))
	if err != nil {
		cancel()
		return nil, err
	}
	closeAll := func() {
		cancel()
		resp.Body.Close()
	}
	return model.NewSeqStream(model.Accumulate(sseDeltas(resp.Body)), closeAll), nil
}

// sseDeltas yields the content deltas of an SSE chat completion stream until
// "[DONE]" or EOF.
func sseDeltas(body io.Reader) func(yield func(string, error) bool) {
	return func(yield func(string, error) bool) {
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && (err != io.EOF || line == "") {
				if err != io.EOF {
					yield("", fmt.Errorf("read stream: %w", err))
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				yield("", fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if cr.Error != nil {
				yield("", &APIError{StatusCode: http.StatusBadGateway, Message: cr.Error.Message})
				return
			}
			for _, choice := range cr.Choices {
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
	}
}

// List returns the models offered by the backend.
func (c *Client) List(ctx context.Context) ([]domain.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	models := make([]domain.Model, 0, len(mr.Data))
	for _, m := range mr.Data {
		models = append(models, domain.Model{ID: m.ID, Name: m.ID, Provider: c.cfg.Provider})
	}
	return models, nil
}
