// Package gemini implements model.Client using the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/model"
	"google.golang.org/genai"
)

// Client talks to one Gemini model.
type Client struct {
	client *genai.Client
	model  string
	opts   model.Options
}

// Verify interface compliance.
var (
	_ model.Client = (*Client)(nil)
	_ model.Lister = (*Client)(nil)
)

// New creates a client for modelName.
func New(ctx context.Context, apiKey, modelName string, opts ...model.Option) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: model.TraceClient("gemini"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Client{client: client, model: modelName, opts: model.Apply(opts...)}, nil
}

// With returns a client for the same backend with different options.
func (c *Client) With(modelName string, opts ...model.Option) *Client {
	return &Client{client: c.client, model: modelName, opts: model.Apply(opts...)}
}

// Name returns the model name.
func (c *Client) Name() string { return c.model }

// List returns the Gemini models that support generateContent.
func (c *Client) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(m.Name), "gemma") || !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		models = append(models, domain.Model{
			ID:        strings.TrimPrefix(m.Name, "models/"),
			Name:      m.DisplayName,
			Provider:  "gemini",
			MaxTokens: int(m.InputTokenLimit),
		})
	}
	return models, nil
}

func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []model.Message{model.User(prompt)})
}

func (c *Client) Chat(ctx context.Context, messages []model.Message) (string, error) {
	contents, config := c.request(messages)
	slog.Debug("Gemini.Chat", "model", c.model, "messageCount", len(contents))

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp), nil
}

func (c *Client) StreamAsk(ctx context.Context, prompt string) (model.Stream, error) {
	return c.StreamChat(ctx, []model.Message{model.User(prompt)})
}

func (c *Client) StreamChat(ctx context.Context, messages []model.Message) (model.Stream, error) {
	contents, config := c.request(messages)
	slog.Debug("Gemini.StreamChat", "model", c.model, "messageCount", len(contents))

	streamCtx, cancel := context.WithCancel(ctx)
	responses := c.client.Models.GenerateContentStream(streamCtx, c.model, contents, config)

	deltas := func(yield func(string, error) bool) {
		for resp, err := range responses {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			text := responseText(resp)
			slog.Log(streamCtx, model.LevelTrace, "Gemini delta", "len", len(text))
			if !yield(text, nil) {
				return
			}
		}
	}
	return model.NewSeqStream(model.Accumulate(iter.Seq2[string, error](deltas)), cancel), nil
}

// request converts messages into genai contents. System messages, and the
// client's system prompt, are folded into the system instruction.
func (c *Client) request(messages []model.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := toContents(c.opts.SystemPrompt, messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if c.opts.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if c.opts.Temperature != nil {
		config.Temperature = c.opts.Temperature
	}
	return contents, config
}

func toContents(systemPrompt string, messages []model.Message) ([]*genai.Content, string) {
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, msg.Content)
			continue
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		// Only the first candidate is used.
		break
	}
	return b.String()
}
