package structured

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nstogner/smartmodel/pkg/broadcast"
	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

var personShape = schema.Struct("Person", "",
	schema.F("Name", schema.Str()).As("name"),
	schema.F("Age", schema.Int()).As("age"),
)

// scriptedClient streams one scripted reply per call and records the
// conversation it was sent.
type scriptedClient struct {
	mu      sync.Mutex
	replies []model.Stream
	calls   [][]model.Message
	err     error
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
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return model.FromDeltas("not json"), nil
	}
	s := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return s, nil
}

func replies(texts ...string) []model.Stream {
	out := make([]model.Stream, len(texts))
	for i, t := range texts {
		out[i] = model.FromDeltas(t)
	}
	return out
}

type memRecorder struct {
	recs []*domain.GenerationRecord
}

func (r *memRecorder) SaveGeneration(ctx context.Context, rec *domain.GenerationRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

func TestGenerateRecoversAfterFailures(t *testing.T) {
	client := &scriptedClient{replies: replies(
		`{"name": "Ann"}`,
		`{"name": "Ann", "age": "forty"}`,
		"```json\n{\"name\": \"Ann\", \"age\": 40}\n```",
	)}
	rec := &memRecorder{}
	g := New[person](client, personShape, WithRecorder(rec))

	got, err := g.Generate(context.Background(), "Ann is forty", WithRequestID("req-1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, person{Name: "Ann", Age: 40}, *got)

	require.Len(t, client.calls, 3)
	first := client.calls[0][1].Content
	assert.Contains(t, first, "Original Prompt: Ann is forty")
	assert.NotContains(t, first, "Encountered an error")
	for i, msgs := range client.calls[1:] {
		require.Len(t, msgs, 2)
		assert.Equal(t, domain.RoleSystem, msgs[0].Role)
		assert.Contains(t, msgs[0].Content, "type Person struct")
		assert.Contains(t, msgs[1].Content, "Encountered an error", "attempt %d", i+1)
	}
	assert.Contains(t, client.calls[1][1].Content, `"name": "Ann"`, "the previous reply is fed back")
	assert.Contains(t, client.calls[2][1].Content, "$.age")

	require.Len(t, rec.recs, 1)
	assert.Equal(t, "req-1", rec.recs[0].RequestID)
	assert.Equal(t, 3, rec.recs[0].Attempts)
	assert.True(t, rec.recs[0].Succeeded)
	assert.Equal(t, `{"name": "Ann", "age": 40}`, rec.recs[0].Response)
}

func TestGenerateAcceptsIntegralFloats(t *testing.T) {
	client := &scriptedClient{replies: replies(`{"name": "Ann", "age": 40.0}`)}
	g := New[person](client, personShape)

	got, err := g.Generate(context.Background(), "Ann is forty")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, person{Name: "Ann", Age: 40}, *got)
	assert.Len(t, client.calls, 1)
}

func TestGenerateExhaustsAfterMaxAttemptsPlusOne(t *testing.T) {
	client := &scriptedClient{replies: replies(`{"nope": true}`)}
	rec := &memRecorder{}
	g := New[person](client, personShape, WithRecorder(rec))

	got, err := g.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, client.calls, DefaultMaxAttempts+1)

	require.Len(t, rec.recs, 1)
	assert.False(t, rec.recs[0].Succeeded)
	assert.NotEmpty(t, rec.recs[0].LastError)
	assert.NotEmpty(t, rec.recs[0].RequestID)
}

func TestGenerateCustomBudget(t *testing.T) {
	client := &scriptedClient{}
	g := New[person](client, personShape, WithMaxAttempts(1))
	_, ok, err := g.GenerateJSON(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, client.calls, 2)
}

func TestTransportErrorsAreRetried(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	g := New[person](client, personShape, WithMaxAttempts(2))
	got, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, client.calls, 3)
	assert.Contains(t, client.calls[1][1].Content, "connection refused")
}

func TestStreamedChunksArePublished(t *testing.T) {
	chunks := []model.Chunk{
		{Content: `{"name":`},
		{Content: `{"name": "Bo", "age":`},
		{Content: `{"name": "Bo", "age": 3}`, Done: true},
	}
	client := &scriptedClient{replies: []model.Stream{model.NewStaticStream(chunks...)}}
	subject := broadcast.New[Event]()
	var events []Event
	subject.Subscribe(func(e Event) { events = append(events, e) })

	g := New[person](client, personShape, WithSubject(subject))
	text, ok, err := g.GenerateJSON(context.Background(), "Bo is 3", WithRequestID("r"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"name": "Bo", "age": 3}`, text)

	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, "r", e.RequestID)
		assert.Equal(t, chunks[i], e.Chunk)
	}
	assert.True(t, events[2].Chunk.Done)
}

func TestPublishesABCInOrder(t *testing.T) {
	client := &scriptedClient{replies: []model.Stream{model.FromDeltas("a", "b", "c")}}
	subject := broadcast.New[Event]()
	var got []model.Chunk
	subject.Subscribe(func(e Event) { got = append(got, e.Chunk) })

	g := New[person](client, personShape, WithSubject(subject), WithMaxAttempts(0))
	_, ok, err := g.GenerateJSON(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []model.Chunk{{Content: "a"}, {Content: "ab"}, {Content: "abc", Done: true}}, got)
	assert.Contains(t, client.calls[0][1].Content, "Original Prompt: x")
}

func TestEmptyStreamIsAValidationFailure(t *testing.T) {
	client := &scriptedClient{replies: []model.Stream{
		model.NewStaticStream(),
		model.FromDeltas(`{"name": "C", "age": 1}`),
	}}
	subject := broadcast.New[Event]()
	var events []Event
	subject.Subscribe(func(e Event) { events = append(events, e) })

	g := New[person](client, personShape, WithSubject(subject))
	got, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[1][1].Content, ErrEmptyResponse.Error())

	require.Len(t, events, 2)
	assert.Equal(t, model.Chunk{Done: true}, events[0].Chunk)
}

func TestRenderFailureIsFatal(t *testing.T) {
	bad := schema.Struct("Bad", "", schema.F("X", schema.OneOf()))
	client := &scriptedClient{}
	g := New[person](client, bad)

	got, err := g.Generate(context.Background(), "x")
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Empty(t, client.calls)
}

func TestStrictDecodingRejectsUnknownFields(t *testing.T) {
	// The shape allows the extra field; the Go type does not.
	loose := schema.Struct("Person", "",
		schema.F("Name", schema.Str()).As("name"),
		schema.F("Age", schema.Int()).As("age"),
		schema.F("Email", schema.Str()).As("email").Opt(),
	)
	client := &scriptedClient{replies: replies(
		`{"name": "D", "age": 2, "email": "d@example.com"}`,
		`{"name": "D", "age": 2}`,
	)}
	g := New[person](client, loose)
	got, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, client.calls, 2)
	assert.Contains(t, client.calls[1][1].Content, "unknown field")
}

func TestShapeDerivedFromType(t *testing.T) {
	client := &scriptedClient{replies: replies(`{"name": "E", "age": 5}`)}
	g := New[person](client, nil)
	got, err := g.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, &person{Name: "E", Age: 5}, got)
	assert.True(t, strings.Contains(client.calls[0][0].Content, "type person struct"))
}

func TestCanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{}
	g := New[person](client, personShape)
	_, err := g.Generate(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("  {\"a\":1}\n"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}```"))
}

func TestScratchPadText(t *testing.T) {
	p := &ScratchPad{Prompt: "p", Schema: "type A struct {\n}", Response: "r", Error: "e"}
	assert.Equal(t, "Original Prompt: p\nSchema:\n    type A struct {\n    }\nResponse:\n    r\nError:\n    e\n", p.Text())
}
