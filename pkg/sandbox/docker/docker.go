// Package docker runs programs in throwaway Docker containers.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/interpreter"
	"github.com/nstogner/smartmodel/pkg/sandbox"
)

const (
	// LabelManager identifies containers started by this package.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "smartmodel"
	// DefaultImage is the container image used when none is configured.
	DefaultImage = "python:3.12-slim"
	// DefaultPollInterval is how often a silent container is checked for a
	// kill request.
	DefaultPollInterval = 200 * time.Millisecond
)

// Option configures a Runner.
type Option func(*Runner)

// WithImage sets the container image.
func WithImage(image string) Option {
	return func(r *Runner) { r.image = image }
}

// WithMount bind-mounts dir read-only at the same path inside containers.
// The interpreter's temp directory must be mounted.
func WithMount(dir string) Option {
	return func(r *Runner) { r.mounts = append(r.mounts, dir) }
}

// WithLogSubject re-publishes every captured line on s.
func WithLogSubject(s *broadcast.Subject[string]) Option {
	return func(r *Runner) { r.lines = s }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.poll = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner implements interpreter.Runner with one container per execution.
// Containers have no network and are removed when the program exits.
type Runner struct {
	cli    *client.Client
	image  string
	mounts []string
	lines  *broadcast.Subject[string]
	poll   time.Duration
	logger *slog.Logger

	kill    atomic.Bool
	capture *sandbox.Capture

	mu   sync.Mutex
	busy bool
	id   string
	done chan struct{}
}

// Verify interface compliance.
var _ interpreter.Runner = (*Runner)(nil)

// New creates a runner using the Docker environment configuration.
func New(opts ...Option) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	r := &Runner{cli: cli, image: DefaultImage, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "docker")
	r.capture = sandbox.NewCapture(r.lines)
	return r, nil
}

// Close releases the Docker client resources.
func (r *Runner) Close() error {
	return r.cli.Close()
}

func (r *Runner) Execute(ctx context.Context, argv []string, async bool) error {
	r.mu.Lock()
	if r.busy {
		r.logger.Warn("Execute called while a container is running; killing it", "container", r.id)
		if r.id != "" {
			r.terminate(r.id)
		} else {
			// Still starting; it is killed at its first check.
			r.kill.Store(true)
		}
		r.mu.Unlock()
		return interpreter.ErrBusy
	}
	r.capture.Clear()
	if len(argv) == 0 {
		r.mu.Unlock()
		return r.startFailed(errors.New("empty command"))
	}
	r.busy = true
	r.kill.Store(false)
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	id, err := r.start(ctx, argv)
	if err != nil {
		r.finish(done)
		return r.startFailed(err)
	}
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()

	r.logger.Info("Container started", "container", id, "argv", strings.Join(argv, " "), "async", async)
	if async {
		go r.supervise(ctx, id, done)
	} else {
		r.supervise(ctx, id, done)
	}
	return nil
}

func (r *Runner) start(ctx context.Context, argv []string) (string, error) {
	if err := r.ensureImage(ctx); err != nil {
		return "", err
	}

	binds := make([]string, 0, len(r.mounts))
	for _, dir := range r.mounts {
		binds = append(binds, dir+":"+dir+":ro")
	}
	cfg := &container.Config{
		Image:           r.image,
		Cmd:             argv,
		Labels:          map[string]string{LabelManager: LabelManagerValue},
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Binds:       binds,
		NetworkMode: "none",
	}

	name := "smartmodel-" + uuid.New().String()
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		r.removeContainer(resp.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

// ensureImage pulls the image if it is not present locally.
func (r *Runner) ensureImage(ctx context.Context) error {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, r.image); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", r.image, err)
	}

	r.logger.Info("Pulling image", "image", r.image)
	rc, err := r.cli.ImagePull(ctx, r.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", r.image, err)
	}
	return nil
}

// supervise follows the container's logs until it exits, then removes it.
func (r *Runner) supervise(ctx context.Context, id string, done chan struct{}) {
	defer r.finish(done)
	defer r.removeContainer(id)

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		t := time.NewTicker(r.poll)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				r.terminate(id)
				return
			case <-t.C:
				r.checkKill(id)
			}
		}
	}()
	defer func() {
		close(stop)
		<-polled
	}()

	logs, err := r.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		r.capture.Append(sandbox.Stderr, fmt.Sprintf("following container logs: %v", err))
		r.stopContainer(id)
		return
	}
	after := func() { r.checkKill(id) }
	stdout := r.capture.Writer(sandbox.Stdout, after)
	stderr := r.capture.Writer(sandbox.Stderr, after)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Log demultiplexing failed", "container", id, "error", err)
	}
	logs.Close()
	stdout.Close()
	stderr.Close()

	waitCh, errCh := r.cli.ContainerWait(context.WithoutCancel(ctx), id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		r.logger.Info("Container exited", "container", id, "exit", res.StatusCode)
	case err := <-errCh:
		r.logger.Warn("Waiting for container failed", "container", id, "error", err)
	}
}

func (r *Runner) finish(done chan struct{}) {
	r.mu.Lock()
	r.busy = false
	r.id = ""
	r.done = nil
	r.mu.Unlock()
	close(done)
}

func (r *Runner) checkKill(id string) {
	if !r.kill.CompareAndSwap(true, false) {
		return
	}
	r.terminate(id)
}

func (r *Runner) terminate(id string) {
	r.logger.Info("Killing container", "container", id)
	r.stopContainer(id)
	r.capture.Append(sandbox.Stderr, interpreter.KilledMessage)
}

func (r *Runner) stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		r.logger.Debug("Kill failed", "container", id, "error", err)
	}
}

func (r *Runner) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		r.logger.Warn("Failed to remove container", "container", id, "error", err)
	}
}

func (r *Runner) startFailed(err error) error {
	r.logger.Error("Failed to start container", "error", err)
	r.capture.Append(sandbox.Stderr, err.Error())
	return err
}

func (r *Runner) Output() (stdout, stderr []string) { return r.capture.Output() }

func (r *Runner) Clear() { r.capture.Clear() }

func (r *Runner) Kill() { r.kill.Store(true) }

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Wait blocks until the current container, if any, has exited.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
