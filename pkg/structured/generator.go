// Package structured asks a language model for values of a declared shape and
// corrects the model, attempt by attempt, until its reply validates.
package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/metrics"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/prompts"
	"github.com/nstogner/smartmodel/pkg/schema"
)

// DefaultMaxAttempts bounds the number of corrective retries. A request makes
// at most DefaultMaxAttempts+1 model calls.
const DefaultMaxAttempts = 5

// ErrEmptyResponse is the validation failure recorded when the model
// produced no text.
var ErrEmptyResponse = errors.New("empty response")

// Event is published for every chunk the model streams.
type Event struct {
	RequestID string      `json:"request_id"`
	Chunk     model.Chunk `json:"chunk"`
}

// Recorder persists finished generation requests.
type Recorder interface {
	SaveGeneration(ctx context.Context, rec *domain.GenerationRecord) error
}

type config struct {
	subject     *broadcast.Subject[Event]
	maxAttempts int
	recorder    Recorder
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Option configures a Generator.
type Option func(*config)

// WithSubject publishes streamed chunks on s.
func WithSubject(s *broadcast.Subject[Event]) Option {
	return func(c *config) { c.subject = s }
}

// WithMaxAttempts sets the retry budget. Negative values are treated as zero.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = max(n, 0) }
}

func WithRecorder(r Recorder) Option {
	return func(c *config) { c.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *config) { c.metrics = m }
}

// CallOption configures a single request.
type CallOption func(*call)

type call struct {
	requestID string
}

// WithRequestID tags the request's events and records with id instead of a
// fresh UUID.
func WithRequestID(id string) CallOption {
	return func(c *call) { c.requestID = id }
}

// Generator produces values of type T described by a shape.
type Generator[T any] struct {
	client model.Client
	shape  *schema.Shape
	cfg    config
}

// New returns a generator for T. When shape is nil it is derived from T.
func New[T any](client model.Client, shape *schema.Shape, opts ...Option) *Generator[T] {
	cfg := config{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	cfg.logger = cfg.logger.With("component", "structured")
	return &Generator[T]{client: client, shape: shape, cfg: cfg}
}

// Shape returns the target shape, deriving it from T when none was given.
func (g *Generator[T]) Shape() (*schema.Shape, error) {
	if g.shape != nil {
		return g.shape, nil
	}
	return schema.Of[T]()
}

// GenerateJSON runs the correction loop with shape-level validation only and
// returns the accepted JSON text. ok is false when the retry budget ran out.
// A non-nil error means the request could not be attempted at all.
func (g *Generator[T]) GenerateJSON(ctx context.Context, prompt string, opts ...CallOption) (string, bool, error) {
	shape, err := g.Shape()
	if err != nil {
		return "", false, fmt.Errorf("derive shape: %w", err)
	}
	return g.run(ctx, shape, prompt, opts, func(candidate string) error {
		return schema.Validate(shape, []byte(candidate))
	})
}

// Generate runs the correction loop and decodes the accepted reply into T.
// It returns nil, nil when the retry budget ran out.
func (g *Generator[T]) Generate(ctx context.Context, prompt string, opts ...CallOption) (*T, error) {
	shape, err := g.Shape()
	if err != nil {
		return nil, fmt.Errorf("derive shape: %w", err)
	}
	var out *T
	_, ok, err := g.run(ctx, shape, prompt, opts, func(candidate string) error {
		if err := schema.Validate(shape, []byte(candidate)); err != nil {
			return err
		}
		v, err := decodeStrict[T](candidate)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}

func (g *Generator[T]) run(ctx context.Context, shape *schema.Shape, prompt string, opts []CallOption, accept func(string) error) (string, bool, error) {
	c := call{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.requestID == "" {
		c.requestID = uuid.New().String()
	}
	log := g.cfg.logger.With("requestID", c.requestID, "shape", shape.Name)

	// INIT
	schemaText, err := schema.RenderClosure(shape)
	if err != nil {
		g.cfg.metrics.RecordGeneration(shape.Name, metrics.OutcomeFatal)
		return "", false, fmt.Errorf("render schema: %w", err)
	}
	log.Debug("Target schema", "schema", schemaText)
	pad := &ScratchPad{Prompt: prompt, Schema: schemaText}

	rec := &domain.GenerationRecord{RequestID: c.requestID, Shape: shape.Name, Prompt: prompt}
	defer func() {
		if g.cfg.recorder == nil {
			return
		}
		rec.CreatedAt = time.Now().UTC()
		if err := g.cfg.recorder.SaveGeneration(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("Failed to record generation", "error", err)
		}
	}()

	for attempt := 0; attempt <= g.cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			g.cfg.metrics.RecordGeneration(shape.Name, metrics.OutcomeFatal)
			return "", false, err
		}
		rec.Attempts = attempt + 1

		// AWAIT_MODEL
		raw, err := g.await(ctx, c.requestID, pad)
		candidate := schema.IntegralNumbers(cleanJSON(raw))
		rec.Response = candidate

		// VALIDATE
		if err == nil {
			err = accept(candidate)
		}
		if err == nil {
			g.cfg.metrics.RecordAttempt(shape.Name, metrics.OutcomeSuccess)
			g.cfg.metrics.RecordGeneration(shape.Name, metrics.OutcomeSuccess)
			rec.Succeeded = true
			rec.LastError = ""
			log.Info("Generation accepted", "attempt", attempt)
			return candidate, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.cfg.metrics.RecordGeneration(shape.Name, metrics.OutcomeFatal)
			return "", false, ctxErr
		}

		// RETRY
		g.cfg.metrics.RecordAttempt(shape.Name, metrics.OutcomeRetry)
		rec.LastError = err.Error()
		pad.Error = prompts.ErrorCorrection(err.Error())
		if candidate != "" {
			pad.Response = candidate
		}
		log.Warn("Generation attempt failed", "attempt", attempt, "error", err)
		log.Debug("Scratch pad", "text", pad.Text())
	}

	// EXHAUSTED
	g.cfg.metrics.RecordGeneration(shape.Name, metrics.OutcomeExhausted)
	log.Error("Generation exhausted retry budget", "attempts", g.cfg.maxAttempts+1)
	return "", false, nil
}

// await streams one model reply, publishing every chunk, and returns the
// final chunk's content.
func (g *Generator[T]) await(ctx context.Context, requestID string, pad *ScratchPad) (string, error) {
	text := pad.Text()
	messages := []model.Message{
		model.System(prompts.Base(pad.Schema, text)),
		model.User(text),
	}
	stream, err := g.client.StreamChat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	defer stream.Close()

	var (
		last model.Chunk
		seen bool
	)
	for chunk, err := range stream.Chunks() {
		if err != nil {
			return last.Content, fmt.Errorf("model stream: %w", err)
		}
		seen = true
		last = chunk
		g.publish(requestID, chunk)
	}
	if !seen {
		// Observers always see a terminal chunk for the attempt.
		g.publish(requestID, model.Chunk{Done: true})
	}
	if strings.TrimSpace(last.Content) == "" {
		return "", ErrEmptyResponse
	}
	return last.Content, nil
}

func (g *Generator[T]) publish(requestID string, chunk model.Chunk) {
	if g.cfg.subject == nil {
		return
	}
	g.cfg.subject.Emit(Event{RequestID: requestID, Chunk: chunk})
}

// cleanJSON strips surrounding whitespace and a Markdown code fence.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeStrict[T any](text string) (*T, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	v := new(T)
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode: unexpected data after JSON value")
	}
	return v, nil
}
