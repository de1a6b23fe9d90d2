package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/interpreter"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/structured"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replies with the next scripted text on every call and
// repeats the last one when the script runs out.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	calls   [][]model.Message
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Ask(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (c *scriptedClient) Chat(ctx context.Context, messages []model.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (c *scriptedClient) StreamAsk(ctx context.Context, prompt string) (model.Stream, error) {
	return c.StreamChat(ctx, []model.Message{model.User(prompt)})
}

func (c *scriptedClient) StreamChat(ctx context.Context, messages []model.Message) (model.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return model.FromDeltas(reply), nil
}

func (c *scriptedClient) numCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeProcess plays back one scripted stderr per run.
type fakeProcess struct {
	stderrs [][]string
	runs    int
	stdout  []string
	stderr  []string
}

func (p *fakeProcess) Execute(ctx context.Context, argv []string, async bool) error {
	p.stdout = []string{"42", `<session>{"main":{"answer":42}}</session>`}
	p.stderr = nil
	if p.runs < len(p.stderrs) {
		p.stderr = p.stderrs[p.runs]
	}
	p.runs++
	return nil
}

func (p *fakeProcess) Output() ([]string, []string) { return p.stdout, p.stderr }
func (p *fakeProcess) Clear()                       { p.stdout, p.stderr = nil, nil }
func (p *fakeProcess) Kill()                        {}
func (p *fakeProcess) Running() bool                { return false }

const program = `{"code": "def main():\n    answer = 42\n    print(answer)\nmain()", "intent": "compute the answer"}`

func newTestRunner(t *testing.T, planner, narrator model.Client, proc *fakeProcess, opts ...Option) *Runner {
	t.Helper()
	interp := interpreter.New(proc, interpreter.WithTempDir(t.TempDir()))
	return New(planner, narrator, interp, opts...)
}

func TestRunAnswersRequest(t *testing.T) {
	planner := &scriptedClient{replies: []string{program}}
	narrator := &scriptedClient{replies: []string{"The answer is 42."}}
	proc := &fakeProcess{}
	subject := broadcast.New[structured.Event]()

	var (
		mu     sync.Mutex
		events []structured.Event
	)
	sub := subject.Subscribe(func(e structured.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer sub.Close()

	r := newTestRunner(t, planner, narrator, proc, WithSubject(subject))
	res, err := r.Run(context.Background(), "what is six times seven?", WithRequestID("req-1"))
	require.NoError(t, err)

	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "The answer is 42.", res.Answer)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, "compute the answer", res.Final().Source.Intent)
	assert.Equal(t, map[string]any{"main": map[string]any{"answer": float64(42)}}, res.Final().Session)

	// The narrator sees program output without the session block, and the
	// captured state separately.
	require.Equal(t, 1, narrator.numCalls())
	prompt := narrator.calls[0][0].Content
	assert.Contains(t, prompt, "what is six times seven?")
	assert.Contains(t, prompt, `"answer": 42`)
	assert.NotContains(t, prompt, "<session>")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, "req-1", e.RequestID)
	}
	last := events[len(events)-1]
	assert.True(t, last.Chunk.Done)
	assert.Equal(t, "The answer is 42.", last.Chunk.Content)
}

func TestRunRepairsFailedProgram(t *testing.T) {
	planner := &scriptedClient{replies: []string{program, program}}
	narrator := &scriptedClient{replies: []string{"42"}}
	proc := &fakeProcess{stderrs: [][]string{{"Traceback (most recent call last):", "NameError: name 'x' is not defined"}}}

	r := newTestRunner(t, planner, narrator, proc)
	res, err := r.Run(context.Background(), "answer")
	require.NoError(t, err)

	require.Len(t, res.Executions, 2)
	assert.False(t, res.Executions[0].Successful())
	assert.True(t, res.Final().Successful())

	require.Equal(t, 2, planner.numCalls())
	repair := planner.calls[1][1].Content
	assert.Contains(t, repair, "NameError: name 'x' is not defined")
	assert.Contains(t, repair, "answer = 42")
}

func TestRunRepairBudgetExhausted(t *testing.T) {
	planner := &scriptedClient{replies: []string{program}}
	narrator := &scriptedClient{replies: []string{"unused"}}
	proc := &fakeProcess{stderrs: [][]string{{"boom"}, {"boom"}, {"boom"}}}

	r := newTestRunner(t, planner, narrator, proc, WithMaxRepairs(1))
	res, err := r.Run(context.Background(), "answer")

	var execErr *interpreter.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.NotNil(t, res)
	assert.Len(t, res.Executions, 2)
	assert.Empty(t, res.Answer)
	assert.Equal(t, 0, narrator.numCalls())
}

func TestRunNoPlan(t *testing.T) {
	planner := &scriptedClient{replies: []string{"I cannot write code today"}}
	narrator := &scriptedClient{replies: []string{"unused"}}
	proc := &fakeProcess{}

	r := newTestRunner(t, planner, narrator, proc,
		WithGeneratorOptions(structured.WithMaxAttempts(1)))
	res, err := r.Run(context.Background(), "answer")

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoPlan)
	assert.Equal(t, 2, planner.numCalls())
	assert.Equal(t, 0, proc.runs)
}

func TestPlannerPromptCarriesRequest(t *testing.T) {
	p := plannerPrompt("sum the primes below 100")
	assert.True(t, strings.HasSuffix(p, "sum the primes below 100"))
	assert.Contains(t, p, "top-level functions")
}
