package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/metrics"
)

// DefaultPython is the interpreter binary used when none is configured.
const DefaultPython = "python3"

// Recorder persists finished executions.
type Recorder interface {
	SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithPython sets the interpreter binary.
func WithPython(bin string) Option {
	return func(i *Interpreter) { i.python = bin }
}

// WithTempDir sets where programs are written. The directory must exist.
func WithTempDir(dir string) Option {
	return func(i *Interpreter) { i.dir = dir }
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(i *Interpreter) { i.metrics = m }
}

func WithRecorder(r Recorder) Option {
	return func(i *Interpreter) { i.recorder = r }
}

// Interpreter instruments, runs and inspects Python programs.
type Interpreter struct {
	runner   Runner
	python   string
	dir      string
	logger   *slog.Logger
	metrics  *metrics.Collector
	recorder Recorder
}

// New returns an interpreter that runs programs with runner.
func New(runner Runner, opts ...Option) *Interpreter {
	i := &Interpreter{runner: runner, python: DefaultPython, dir: os.TempDir()}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.logger = i.logger.With("component", "interpreter")
	return i
}

// Runner returns the underlying process runner.
func (i *Interpreter) Runner() Runner { return i.runner }

// Execute runs src synchronously and always returns a response unless the
// program file could not be written. Success is judged from stderr alone.
func (i *Interpreter) Execute(ctx context.Context, src Source) (*Response, error) {
	id := uuid.New().String()
	code := Instrument(src.Code)
	path := filepath.Join(i.dir, id+".py")
	log := i.logger.With("id", id)

	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write program: %w", err)
	}
	log.Info("Created program file", "path", path, "intent", src.Intent)
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove program file", "path", path, "error", err)
		}
	}()

	start := time.Now()
	err := i.runner.Execute(ctx, []string{i.python, "-u", path}, false)
	elapsed := time.Since(start)

	resp := &Response{
		ID:           id,
		Source:       src,
		CodeExecuted: code,
		Duration:     elapsed,
	}
	if errors.Is(err, ErrBusy) {
		// The captured output belongs to the process that was running.
		resp.Stderr = err.Error()
	} else {
		stdout, stderr := i.runner.Output()
		resp.Stdout = strings.Join(stdout, "\n")
		resp.Stderr = strings.Join(stderr, "\n")
		if err != nil && resp.Stderr == "" {
			resp.Stderr = err.Error()
		}
	}
	resp.Session = ParseSession(resp.Stdout)

	log.Info("Execution finished", "successful", resp.Successful(), "duration", elapsed, "sessionKeys", len(resp.Session))
	i.metrics.RecordExecution(resp.Successful(), elapsed)
	if i.recorder != nil {
		if err := i.recorder.SaveExecution(context.WithoutCancel(ctx), resp.Record()); err != nil {
			log.Warn("Failed to record execution", "error", err)
		}
	}
	return resp, nil
}
