// Package model defines the boundary between smartmodel and a language model
// backend.
package model

import (
	"context"
	"iter"

	"github.com/nstogner/smartmodel/pkg/domain"
)

// Message is a single conversation turn.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// User, Assistant and System build messages of the given role.
func User(content string) Message      { return Message{Role: domain.RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: domain.RoleAssistant, Content: content} }
func System(content string) Message    { return Message{Role: domain.RoleSystem, Content: content} }

// Chunk is one step of a streamed response. Content is the accumulated text
// so far, not a delta. Done marks the final chunk.
type Chunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Stream is a streamed response.
type Stream interface {
	// Chunks yields accumulated chunks. It may be ranged over once.
	Chunks() iter.Seq2[Chunk, error]

	// Close releases resources associated with this stream.
	Close() error
}

// Client is a language model client.
type Client interface {
	// Name returns the model name this client talks to.
	Name() string

	// Ask sends a single prompt and returns the complete response text.
	Ask(ctx context.Context, prompt string) (string, error)

	// Chat sends a conversation and returns the complete response text.
	Chat(ctx context.Context, messages []Message) (string, error)

	// StreamAsk is the streaming form of Ask.
	StreamAsk(ctx context.Context, prompt string) (Stream, error)

	// StreamChat is the streaming form of Chat.
	StreamChat(ctx context.Context, messages []Message) (Stream, error)
}

// Lister is implemented by clients that can enumerate the models their
// backend offers.
type Lister interface {
	List(ctx context.Context) ([]domain.Model, error)
}

// Options configure a client.
type Options struct {
	// SystemPrompt is prepended to every conversation.
	SystemPrompt string
	// JSON asks the backend to constrain output to a JSON object.
	JSON bool
	// Temperature is passed through when non-nil.
	Temperature *float32
}

// Option mutates Options.
type Option func(*Options)

func WithSystemPrompt(p string) Option { return func(o *Options) { o.SystemPrompt = p } }

func WithJSON() Option { return func(o *Options) { o.JSON = true } }

func WithTemperature(t float32) Option { return func(o *Options) { o.Temperature = &t } }

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Accumulate turns a sequence of text deltas into accumulated chunks. Empty
// deltas are dropped, so every chunk is strictly longer than the previous one,
// and the last chunk has Done set. When upstream produces no text a single
// empty Done chunk is yielded. An upstream error is yielded as-is and ends
// the sequence.
func Accumulate(deltas iter.Seq2[string, error]) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var (
			text    string
			pending bool
		)
		for delta, err := range deltas {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if delta == "" {
				continue
			}
			// Hold one chunk back so the final one can carry Done.
			if pending && !yield(Chunk{Content: text}, nil) {
				return
			}
			text += delta
			pending = true
		}
		yield(Chunk{Content: text, Done: true}, nil)
	}
}

// Collect drains s and returns the final accumulated text. It closes s.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var last Chunk
	for c, err := range s.Chunks() {
		if err != nil {
			return "", err
		}
		last = c
	}
	return last.Content, nil
}

// NewStaticStream returns a stream that yields the given chunks in order.
func NewStaticStream(chunks ...Chunk) Stream {
	return &staticStream{chunks: chunks}
}

// FromDeltas returns a stream over the accumulation of deltas.
func FromDeltas(deltas ...string) Stream {
	return &seqStream{seq: Accumulate(func(yield func(string, error) bool) {
		for _, d := range deltas {
			if !yield(d, nil) {
				return
			}
		}
	})}
}

// NewSeqStream wraps an accumulated chunk sequence. cancel, if non-nil, is
// called by Close.
func NewSeqStream(seq iter.Seq2[Chunk, error], cancel func()) Stream {
	return &seqStream{seq: seq, cancel: cancel}
}

type staticStream struct {
	chunks []Chunk
}

func (s *staticStream) Chunks() iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s *staticStream) Close() error { return nil }

type seqStream struct {
	seq    iter.Seq2[Chunk, error]
	cancel func()
}

func (s *seqStream) Chunks() iter.Seq2[Chunk, error] { return s.seq }

func (s *seqStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
