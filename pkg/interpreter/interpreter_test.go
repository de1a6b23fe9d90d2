package interpreter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeRunner checks the program file while "running" it and replays
// scripted output.
type fakeRunner struct {
	t       *testing.T
	err     error
	stdout  []string
	stderr  []string
	argv    []string
	program string
}

func (r *fakeRunner) Execute(ctx context.Context, argv []string, async bool) error {
	assert.False(r.t, async, "interpreter runs synchronously")
	r.argv = argv
	b, err := os.ReadFile(argv[len(argv)-1])
	require.NoError(r.t, err)
	r.program = string(b)
	return r.err
}

func (r *fakeRunner) Output() ([]string, []string) { return r.stdout, r.stderr }
func (r *fakeRunner) Clear()                       { r.stdout, r.stderr = nil, nil }
func (r *fakeRunner) Kill()                        {}
func (r *fakeRunner) Running() bool                { return false }

type memRecorder struct {
	recs []*domain.ExecutionRecord
}

func (m *memRecorder) SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func TestInterpreterExecute(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		t:      t,
		stdout: []string{"42", `<session>{"main": {"answer": 42}}</session>`},
	}
	rec := &memRecorder{}
	in := New(runner, WithTempDir(dir), WithPython("python3.12"), WithRecorder(rec))

	src := Source{Code: "def main():\n    answer = 42\n    print(answer)\nmain()", Intent: "print the answer"}
	resp, err := in.Execute(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, runner.argv, 3)
	assert.Equal(t, "python3.12", runner.argv[0])
	assert.Equal(t, "-u", runner.argv[1])
	assert.Equal(t, filepath.Join(dir, resp.ID+".py"), runner.argv[2])
	assert.Equal(t, resp.CodeExecuted, runner.program)
	assert.Contains(t, resp.CodeExecuted, "@__smartmodel_capture__\ndef main():")

	assert.True(t, resp.Successful())
	assert.Equal(t, src, resp.Source)
	assert.Equal(t, "42\n<session>{\"main\": {\"answer\": 42}}</session>", resp.Stdout)
	assert.Equal(t, map[string]any{"main": map[string]any{"answer": float64(42)}}, resp.Session)

	_, err = os.Stat(runner.argv[2])
	assert.True(t, os.IsNotExist(err), "program file must be removed")

	require.Len(t, rec.recs, 1)
	assert.Equal(t, resp.ID, rec.recs[0].ID)
	assert.True(t, rec.recs[0].Successful)
}

func TestInterpreterFailureStillCleansUp(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{t: t, stdout: []string{"partial"}, stderr: []string{"Traceback (most recent call last):", "ZeroDivisionError: division by zero"}}
	in := New(runner, WithTempDir(dir))

	resp, err := in.Execute(context.Background(), Source{Code: "print(1/0)"})
	require.NoError(t, err)
	assert.False(t, resp.Successful())
	assert.Equal(t, "partial", resp.Stdout)
	assert.Empty(t, resp.Session)
	assert.Error(t, resp.Err())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInterpreterRefusedRun(t *testing.T) {
	// Output captured for the running process must not leak into the refusal.
	runner := &fakeRunner{t: t, err: ErrBusy, stdout: []string{"other", `<session>{"f": {"x": 1}}</session>`}}
	in := New(runner, WithTempDir(t.TempDir()))
	resp, err := in.Execute(context.Background(), Source{Code: "pass"})
	require.NoError(t, err)
	assert.False(t, resp.Successful())
	assert.Equal(t, ErrBusy.Error(), resp.Stderr)
	assert.Empty(t, resp.Stdout)
	assert.Empty(t, resp.Session)
}

func TestInterpreterConcurrentExecute(t *testing.T) {
	if _, err := exec.LookPath(DefaultPython); err != nil {
		t.Skip("Skipping: python3 not installed")
	}
	defer goleak.VerifyNone(t)

	e := NewExecutor(WithPollInterval(10 * time.Millisecond))
	in := New(e, WithTempDir(t.TempDir()))

	type result struct {
		resp *Response
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := in.Execute(context.Background(), Source{Code: "import time\nprint('first-early')\ntime.sleep(5)\nprint('first-late')"})
		first <- result{resp, err}
	}()

	require.Eventually(t, func() bool {
		stdout, _ := e.Output()
		return slices.Contains(stdout, "first-early")
	}, 10*time.Second, 10*time.Millisecond)

	second, err := in.Execute(context.Background(), Source{Code: "print('second')"})
	require.NoError(t, err)
	assert.Equal(t, ErrBusy.Error(), second.Stderr)
	assert.Empty(t, second.Stdout)
	assert.Empty(t, second.Session)

	var r result
	select {
	case r = <-first:
	case <-time.After(10 * time.Second):
		t.Fatal("first execution was not killed")
	}
	require.NoError(t, r.err)
	assert.Contains(t, r.resp.Stdout, "first-early")
	assert.NotContains(t, r.resp.Stdout, "first-late")
	assert.Contains(t, r.resp.Stderr, KilledMessage)
	assert.False(t, r.resp.Successful())
}

func TestInterpreterSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	in := New(NewExecutor(), WithTempDir(dir), WithPython("/nonexistent/python"))

	resp, err := in.Execute(context.Background(), Source{Code: "print(1)"})
	require.NoError(t, err)
	assert.False(t, resp.Successful())
	assert.Empty(t, resp.Stdout)
	assert.Contains(t, resp.Stderr, "/nonexistent/python")
	assert.Empty(t, resp.Session)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInterpreterMaterialisationFailure(t *testing.T) {
	in := New(&fakeRunner{t: t}, WithTempDir(filepath.Join(t.TempDir(), "missing")))
	_, err := in.Execute(context.Background(), Source{Code: "pass"})
	assert.Error(t, err)
}

func TestInterpreterPython(t *testing.T) {
	if _, err := exec.LookPath(DefaultPython); err != nil {
		t.Skip("Skipping: python3 not installed")
	}
	in := New(NewExecutor(), WithTempDir(t.TempDir()))

	code := `import asyncio

def compute(n):
    total = sum(range(n))
    label = "sum"
    return total

async def later():
    value = "async"
    return value

compute(5)
asyncio.run(later())
print("done")`
	resp, err := in.Execute(context.Background(), Source{Code: code, Intent: "sum"})
	require.NoError(t, err)
	require.True(t, resp.Successful(), resp.Stderr)
	assert.Contains(t, resp.Stdout, "done")
	assert.Equal(t, map[string]any{"n": float64(5), "total": float64(10), "label": "sum"}, resp.Session["compute"])
	assert.Equal(t, map[string]any{"value": "async"}, resp.Session["later"])

	resp, err = in.Execute(context.Background(), Source{Code: "raise ValueError('bad')"})
	require.NoError(t, err)
	assert.False(t, resp.Successful())
	assert.Contains(t, resp.Stderr, "ValueError: bad")
	assert.Equal(t, map[string]any{}, resp.Session)
}
