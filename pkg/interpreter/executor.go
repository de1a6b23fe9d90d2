package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/metrics"
	"github.com/nstogner/smartmodel/pkg/sandbox"
	"golang.org/x/sync/errgroup"
)

// ErrBusy is returned by Runner.Execute when another process was running.
// The running process is killed and the new one is not started.
var ErrBusy = errors.New("execution refused: another process was running")

// Runner runs one process at a time and captures its output line by line.
type Runner interface {
	// Execute clears the captured output and starts argv. If a process is
	// already running it is killed, nothing is cleared and ErrBusy is
	// returned. A process that cannot be started yields its start error,
	// which is also recorded as stderr. With async false, Execute returns
	// after the process has exited.
	Execute(ctx context.Context, argv []string, async bool) error

	// Output returns the captured stdout and stderr lines.
	Output() (stdout, stderr []string)

	// Clear drops captured output.
	Clear()

	// Kill asks the running process to stop. The request is honoured the
	// next time the runner checks, after an output line or a poll tick.
	Kill()

	// Running reports whether a process is active.
	Running() bool
}

const (
	// DefaultPollInterval is how often a silent process is checked for a
	// kill request.
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultWaitDelay is how long a killed process's output pipes stay
	// open before they are closed regardless of who still holds them.
	DefaultWaitDelay = 2 * time.Second
)

// KilledMessage is appended to stderr when a process is killed.
const KilledMessage = "process killed"

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogSubject re-publishes every captured line on s.
func WithLogSubject(s *broadcast.Subject[string]) ExecutorOption {
	return func(e *Executor) { e.lines = s }
}

// WithPollInterval sets the kill poll interval.
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.poll = d }
}

// WithWaitDelay sets how long output pipes may outlive a kill.
func WithWaitDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.waitDelay = d }
}

func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithExecutorMetrics(m *metrics.Collector) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// Executor is a Runner for local subprocesses. Each process leads its own
// process group and kills reach the whole group.
type Executor struct {
	lines     *broadcast.Subject[string]
	poll      time.Duration
	waitDelay time.Duration
	logger    *slog.Logger
	metrics   *metrics.Collector

	kill    atomic.Bool
	capture *sandbox.Capture

	mu   sync.Mutex
	proc *process
}

// process is one started command.
type process struct {
	cmd    *exec.Cmd
	pipes  []io.Closer
	done   chan struct{}
	killed chan struct{}
	once   sync.Once
}

// Verify interface compliance.
var _ Runner = (*Executor)(nil)

// NewExecutor creates an idle executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{poll: DefaultPollInterval, waitDelay: DefaultWaitDelay}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	e.capture = sandbox.NewCapture(e.lines)
	return e
}

func (e *Executor) Execute(ctx context.Context, argv []string, async bool) error {
	e.mu.Lock()
	if p := e.proc; p != nil {
		e.logger.Warn("Execute called while a process is running; killing it", "pid", p.cmd.Process.Pid)
		e.terminate(p)
		e.mu.Unlock()
		return ErrBusy
	}
	e.capture.Clear()
	// A stale kill request must not hit the new process.
	e.kill.Store(false)

	if len(argv) == 0 {
		e.mu.Unlock()
		return e.startFailed(errors.New("empty command"))
	}

	p := &process{done: make(chan struct{}), killed: make(chan struct{})}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		e.terminate(p)
		return nil
	}
	cmd.WaitDelay = e.waitDelay
	p.cmd = cmd

	stdout, err := cmd.StdoutPipe()
	if err == nil {
		var stderr io.ReadCloser
		stderr, err = cmd.StderrPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err == nil {
			p.pipes = []io.Closer{stdout, stderr}
			e.proc = p
			e.mu.Unlock()

			e.logger.Info("Process started", "argv", strings.Join(argv, " "), "pid", cmd.Process.Pid, "async", async)
			if async {
				go e.supervise(p, stdout, stderr)
			} else {
				e.supervise(p, stdout, stderr)
			}
			return nil
		}
	}
	e.mu.Unlock()
	return e.startFailed(fmt.Errorf("start %s: %w", argv[0], err))
}

func (e *Executor) startFailed(err error) error {
	e.logger.Error("Failed to start process", "error", err)
	e.capture.Append(sandbox.Stderr, err.Error())
	return err
}

// supervise pumps output until both streams close, then reaps the process.
// Once the process is killed its pipes are closed after the wait delay, so
// a descendant that left the process group cannot keep the runner busy.
func (e *Executor) supervise(p *process, stdout, stderr io.Reader) {
	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		t := time.NewTicker(e.poll)
		defer t.Stop()
		killed := p.killed
		var grace <-chan time.Time
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				e.checkKill(p)
			case <-killed:
				killed = nil
				grace = time.After(e.waitDelay)
			case <-grace:
				grace = nil
				e.logger.Warn("Output still open after kill; closing pipes", "pid", p.cmd.Process.Pid)
				for _, c := range p.pipes {
					_ = c.Close()
				}
			}
		}
	}()

	var pumps errgroup.Group
	after := func() { e.checkKill(p) }
	pumps.Go(func() error { return e.capture.ReadLines(sandbox.Stdout, stdout, after) })
	pumps.Go(func() error { return e.capture.ReadLines(sandbox.Stderr, stderr, after) })
	if err := pumps.Wait(); err != nil && !errors.Is(err, os.ErrClosed) {
		e.logger.Warn("Output capture failed", "error", err)
	}

	waitErr := p.cmd.Wait()
	close(stop)
	<-polled

	e.logger.Info("Process exited", "pid", p.cmd.Process.Pid, "exit", p.cmd.ProcessState.ExitCode(), "error", waitErr)

	e.mu.Lock()
	e.proc = nil
	e.mu.Unlock()
	close(p.done)
}

func (e *Executor) checkKill(p *process) {
	if e.kill.CompareAndSwap(true, false) {
		e.terminate(p)
	}
}

// terminate kills p's process group once.
func (e *Executor) terminate(p *process) {
	p.once.Do(func() {
		e.logger.Info("Killing process", "pid", p.cmd.Process.Pid)
		if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.logger.Debug("Kill failed", "error", err)
		}
		e.capture.Append(sandbox.Stderr, KilledMessage)
		e.metrics.RecordKill()
		close(p.killed)
	})
}

func (e *Executor) Output() (stdout, stderr []string) { return e.capture.Output() }

func (e *Executor) Clear() { e.capture.Clear() }

func (e *Executor) Kill() {
	e.kill.Store(true)
}

func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc != nil
}

// Wait blocks until the current process, if any, has exited.
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	p := e.proc
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	done := p.done
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
