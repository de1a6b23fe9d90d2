package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/config"
	"github.com/nstogner/smartmodel/pkg/interpreter"
	"github.com/nstogner/smartmodel/pkg/metrics"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/model/gemini"
	"github.com/nstogner/smartmodel/pkg/model/openaicompat"
	"github.com/nstogner/smartmodel/pkg/runner"
	"github.com/nstogner/smartmodel/pkg/sandbox/docker"
	"github.com/nstogner/smartmodel/pkg/schema"
	"github.com/nstogner/smartmodel/pkg/store"
	"github.com/nstogner/smartmodel/pkg/store/sqlite"
	"github.com/nstogner/smartmodel/pkg/structured"
)

// app builds the components a command needs from the loaded config. Each
// component is created on first use.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error

	events   *broadcast.Subject[structured.Event]
	logs     *broadcast.Subject[string]
	registry *prometheus.Registry
	metrics  *metrics.Collector
	history  store.Store
	interp   *interpreter.Interpreter
	runner   *runner.Runner
}

// Close releases everything the app opened, newest first.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) Events() *broadcast.Subject[structured.Event] {
	if a.events == nil {
		a.events = broadcast.New[structured.Event]()
	}
	return a.events
}

func (a *app) Logs() *broadcast.Subject[string] {
	if a.logs == nil {
		a.logs = broadcast.New[string]()
	}
	return a.logs
}

func (a *app) Metrics() (*metrics.Collector, *prometheus.Registry) {
	if a.metrics == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewCollector(a.registry, "smartmodel")
	}
	return a.metrics, a.registry
}

// Store returns the history store, or nil when history is disabled.
func (a *app) Store() (store.Store, error) {
	if a.history != nil || a.cfg.Store.Path == "" {
		return a.history, nil
	}
	s, err := sqlite.New(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.history = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Client returns a client for the named model on the configured provider.
func (a *app) Client(ctx context.Context, name string, opts ...model.Option) (model.Client, error) {
	mc := a.cfg.Model
	switch mc.Provider {
	case config.ProviderGemini:
		if mc.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable not set")
		}
		c, err := gemini.New(ctx, mc.APIKey, name, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderOpenAI, config.ProviderOllama:
		baseURL := mc.BaseURL
		if baseURL == "" && mc.Provider == config.ProviderOllama {
			baseURL = openaicompat.DefaultOllamaURL
		}
		return openaicompat.New(openaicompat.Config{
			Provider: mc.Provider,
			BaseURL:  baseURL,
			APIKey:   mc.APIKey,
			Model:    name,
			Timeout:  mc.Timeout,
		}, opts...), nil
	}
	return nil, fmt.Errorf("unknown provider %q", mc.Provider)
}

// GeneratorClient returns the client used for structured generation.
func (a *app) GeneratorClient(ctx context.Context) (model.Client, error) {
	return a.Client(ctx, a.cfg.Model.Generator, model.WithJSON())
}

// Interpreter returns the shared interpreter over the configured process
// runner.
func (a *app) Interpreter() (*interpreter.Interpreter, error) {
	if a.interp != nil {
		return a.interp, nil
	}
	ic := a.cfg.Interpreter
	if err := os.MkdirAll(ic.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	collector, _ := a.Metrics()

	var proc interpreter.Runner
	switch ic.Runner {
	case config.RunnerDocker:
		d, err := docker.New(
			docker.WithImage(ic.DockerImage),
			docker.WithMount(ic.TempDir),
			docker.WithLogSubject(a.Logs()),
			docker.WithPollInterval(ic.PollInterval),
			docker.WithLogger(a.logger),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		proc = d
	default:
		proc = interpreter.NewExecutor(
			interpreter.WithLogSubject(a.Logs()),
			interpreter.WithPollInterval(ic.PollInterval),
			interpreter.WithExecutorLogger(a.logger),
			interpreter.WithExecutorMetrics(collector),
		)
	}

	opts := []interpreter.Option{
		interpreter.WithPython(ic.Python),
		interpreter.WithTempDir(ic.TempDir),
		interpreter.WithLogger(a.logger),
		interpreter.WithMetrics(collector),
	}
	history, err := a.Store()
	if err != nil {
		return nil, err
	}
	if history != nil {
		opts = append(opts, interpreter.WithRecorder(history))
	}
	a.interp = interpreter.New(proc, opts...)
	return a.interp, nil
}

// GeneratorOptions returns the options every structured generator shares.
func (a *app) GeneratorOptions() ([]structured.Option, error) {
	collector, _ := a.Metrics()
	opts := []structured.Option{
		structured.WithMaxAttempts(a.cfg.Generation.MaxAttempts),
		structured.WithLogger(a.logger),
		structured.WithMetrics(collector),
		structured.WithSubject(a.Events()),
	}
	history, err := a.Store()
	if err != nil {
		return nil, err
	}
	if history != nil {
		opts = append(opts, structured.WithRecorder(history))
	}
	return opts, nil
}

// Runner returns the orchestrator.
func (a *app) Runner(ctx context.Context) (*runner.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	planner, err := a.Client(ctx, a.cfg.Model.Planner, model.WithJSON())
	if err != nil {
		return nil, err
	}
	narrator, err := a.Client(ctx, a.cfg.Model.Narrator)
	if err != nil {
		return nil, err
	}
	interp, err := a.Interpreter()
	if err != nil {
		return nil, err
	}
	genOpts, err := a.GeneratorOptions()
	if err != nil {
		return nil, err
	}
	a.runner = runner.New(planner, narrator, interp,
		runner.WithMaxRepairs(a.cfg.Runner.MaxRepairs),
		runner.WithSubject(a.Events()),
		runner.WithLogger(a.logger),
		runner.WithGeneratorOptions(genOpts...),
	)
	return a.runner, nil
}

// Shapes returns the shapes generate requests may name: the built-in ones
// plus any declared in the configured shapes file.
func (a *app) Shapes() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	if err := reg.Register(interpreter.SourceShape); err != nil {
		return nil, err
	}
	path := a.cfg.Generation.ShapesFile
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shapes: %w", err)
	}
	shapes, err := schema.ParseShapes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := reg.Register(shapes...); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}
