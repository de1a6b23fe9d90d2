// Package sandbox holds the output capture shared by the process runners.
package sandbox

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/nstogner/smartmodel/pkg/broadcast"
)

// Stream identifies a process output stream.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Capture accumulates output lines per stream and re-publishes each line on
// an optional subject. It is safe for concurrent use.
type Capture struct {
	lines *broadcast.Subject[string]

	mu     sync.Mutex
	stdout []string
	stderr []string
}

// NewCapture returns an empty capture. lines may be nil.
func NewCapture(lines *broadcast.Subject[string]) *Capture {
	return &Capture{lines: lines}
}

// Append records one line, without its terminator.
func (c *Capture) Append(s Stream, line string) {
	c.mu.Lock()
	if s == Stderr {
		c.stderr = append(c.stderr, line)
	} else {
		c.stdout = append(c.stdout, line)
	}
	c.mu.Unlock()
	if c.lines != nil {
		c.lines.Emit(line)
	}
}

// Output returns copies of the captured lines.
func (c *Capture) Output() (stdout, stderr []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stdout...), append([]string(nil), c.stderr...)
}

// Clear drops captured lines.
func (c *Capture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = nil
	c.stderr = nil
}

// ReadLines appends every line read from r until EOF, calling after (if
// non-nil) once per line.
func (c *Capture) ReadLines(s Stream, r io.Reader, after func()) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			c.Append(s, strings.TrimRight(line, "\r\n"))
			if after != nil {
				after()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Writer returns a writer that splits what it is given into lines. Close
// flushes a trailing partial line.
func (c *Capture) Writer(s Stream, after func()) io.WriteCloser {
	return &lineWriter{c: c, s: s, after: after}
}

type lineWriter struct {
	c     *Capture
	s     Stream
	after func()
	buf   bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := string(w.buf.Next(i + 1))
		w.emit(strings.TrimRight(line, "\r\n"))
	}
}

func (w *lineWriter) Close() error {
	if w.buf.Len() > 0 {
		w.emit(strings.TrimRight(w.buf.String(), "\r"))
		w.buf.Reset()
	}
	return nil
}

func (w *lineWriter) emit(line string) {
	w.c.Append(w.s, line)
	if w.after != nil {
		w.after()
	}
}
