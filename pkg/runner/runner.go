// Package runner answers a natural-language request by having a model write
// a Python program, running it, and having a model explain the result.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/interpreter"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/prompts"
	"github.com/nstogner/smartmodel/pkg/structured"
)

// DefaultMaxRepairs is the number of corrected programs requested after the
// first one fails.
const DefaultMaxRepairs = 2

// ErrNoPlan is returned when the planning model never produced a valid program.
var ErrNoPlan = errors.New("no plan produced")

// Result describes one request from plan to answer.
type Result struct {
	RequestID string `json:"request_id"`
	Request   string `json:"request"`
	// Executions holds every program run, the last one being the final attempt.
	Executions []*interpreter.Response `json:"executions"`
	Answer     string                  `json:"answer"`
}

// Final returns the last execution, or nil when nothing ran.
func (r *Result) Final() *interpreter.Response {
	if len(r.Executions) == 0 {
		return nil
	}
	return r.Executions[len(r.Executions)-1]
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRepairs bounds the repair loop. Negative values are treated as zero.
func WithMaxRepairs(n int) Option {
	return func(r *Runner) { r.maxRepairs = max(n, 0) }
}

// WithSubject publishes planner and narrator chunks on s.
func WithSubject(s *broadcast.Subject[structured.Event]) Option {
	return func(r *Runner) { r.subject = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithGeneratorOptions passes extra options to the planner's generator.
func WithGeneratorOptions(opts ...structured.Option) Option {
	return func(r *Runner) { r.genOpts = append(r.genOpts, opts...) }
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	requestID string
}

// WithRequestID tags the run's events with id instead of a fresh UUID.
func WithRequestID(id string) RunOption {
	return func(c *runConfig) { c.requestID = id }
}

// Runner coordinates the planner, the interpreter and the narrator.
type Runner struct {
	planner    *structured.Generator[interpreter.Source]
	narrator   model.Client
	interp     *interpreter.Interpreter
	subject    *broadcast.Subject[structured.Event]
	maxRepairs int
	genOpts    []structured.Option
	logger     *slog.Logger

	// mu serializes use of the interpreter, which runs one program at a time.
	mu sync.Mutex
}

// New returns a runner. planner writes programs and narrator explains their
// results; they may be the same client.
func New(planner, narrator model.Client, interp *interpreter.Interpreter, opts ...Option) *Runner {
	r := &Runner{
		narrator:   narrator,
		interp:     interp,
		maxRepairs: DefaultMaxRepairs,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "runner")

	genOpts := []structured.Option{structured.WithLogger(r.logger)}
	if r.subject != nil {
		genOpts = append(genOpts, structured.WithSubject(r.subject))
	}
	genOpts = append(genOpts, r.genOpts...)
	r.planner = structured.New[interpreter.Source](planner, interpreter.SourceShape, genOpts...)
	return r
}

// Execute runs src on the shared interpreter, waiting for any program
// already running.
func (r *Runner) Execute(ctx context.Context, src interpreter.Source) (*interpreter.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interp.Execute(ctx, src)
}

// Kill stops the program currently running, if any.
func (r *Runner) Kill() {
	r.interp.Runner().Kill()
}

// Run plans, executes, repairs and narrates. When the program still fails
// after the repair budget is spent, Run returns the result together with the
// final *interpreter.ExecutionError and no answer.
func (r *Runner) Run(ctx context.Context, request string, opts ...RunOption) (*Result, error) {
	c := runConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.requestID == "" {
		c.requestID = uuid.New().String()
	}
	log := r.logger.With("requestID", c.requestID)
	res := &Result{RequestID: c.requestID, Request: request}

	src, err := r.plan(ctx, c.requestID, plannerPrompt(request))
	if err != nil {
		return nil, err
	}

	for repairs := 0; ; repairs++ {
		log.Info("Executing program", "intent", src.Intent, "repair", repairs)
		resp, err := r.Execute(ctx, *src)
		if err != nil {
			return res, fmt.Errorf("execute: %w", err)
		}
		res.Executions = append(res.Executions, resp)
		if resp.Successful() {
			break
		}
		log.Warn("Program failed", "stderr", resp.Stderr, "repair", repairs)
		if repairs >= r.maxRepairs {
			return res, resp.Err()
		}

		next, err := r.plan(ctx, c.requestID, plannerPrompt(prompts.Repair(request, src.Code, resp.Stderr)))
		if errors.Is(err, ErrNoPlan) {
			return res, resp.Err()
		}
		if err != nil {
			return res, err
		}
		src = next
	}

	answer, err := r.narrate(ctx, c.requestID, request, res.Final())
	if err != nil {
		return res, fmt.Errorf("narrate: %w", err)
	}
	res.Answer = answer
	log.Info("Request answered", "executions", len(res.Executions))
	return res, nil
}

func (r *Runner) plan(ctx context.Context, requestID, prompt string) (*interpreter.Source, error) {
	src, err := r.planner.Generate(ctx, prompt, structured.WithRequestID(requestID))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if src == nil {
		return nil, ErrNoPlan
	}
	return src, nil
}

func (r *Runner) narrate(ctx context.Context, requestID, request string, resp *interpreter.Response) (string, error) {
	session := ""
	if len(resp.Session) > 0 {
		b, err := json.MarshalIndent(resp.Session, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal session: %w", err)
		}
		session = string(b)
	}
	stdout := interpreter.StripSession(resp.Stdout)

	stream, err := r.narrator.StreamChat(ctx, []model.Message{
		model.User(prompts.Narrator(request, stdout, session)),
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var last model.Chunk
	for chunk, err := range stream.Chunks() {
		if err != nil {
			return last.Content, err
		}
		last = chunk
		if r.subject != nil {
			r.subject.Emit(structured.Event{RequestID: requestID, Chunk: chunk})
		}
	}
	return last.Content, nil
}

func plannerPrompt(request string) string {
	return prompts.PlannerSystem + "\n\nRequest:\n" + request
}
