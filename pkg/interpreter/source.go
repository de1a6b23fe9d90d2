// Package interpreter runs generated Python programs in a subprocess and
// recovers the local state of their top-level functions.
package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/schema"
)

// Source is a program to run and the reason it was written.
type Source struct {
	Code   string `json:"code" desc:"A complete Python 3 program. Use correct indentation."`
	Intent string `json:"intent" desc:"One sentence describing what the program does."`
}

// SourceShape is the shape models fill in when writing a Source.
var SourceShape = schema.Struct("PythonSource",
	"A Python program that can be run in a sandbox.",
	schema.F("Code", schema.Str()).As("code").Describe("A complete Python 3 program. Use correct indentation."),
	schema.F("Intent", schema.Str()).As("intent").Describe("One sentence describing what the program does."),
)

// Response is the result of one execution. It is not modified after
// Execute returns.
type Response struct {
	ID           string         `json:"id"`
	Source       Source         `json:"source"`
	CodeExecuted string         `json:"code_executed"`
	Stdout       string         `json:"stdout"`
	Stderr       string         `json:"stderr"`
	Session      map[string]any `json:"session"`
	Duration     time.Duration  `json:"duration"`
}

// Successful reports whether the program wrote nothing to stderr. The exit
// status is not consulted.
func (r *Response) Successful() bool {
	return r.Stderr == ""
}

// Err returns an *ExecutionError when the execution was not successful.
func (r *Response) Err() error {
	if r.Successful() {
		return nil
	}
	return &ExecutionError{Source: r.Source, Stderr: r.Stderr}
}

func (r *Response) MarshalJSON() ([]byte, error) {
	type plain Response
	return json.Marshal(struct {
		*plain
		Successful bool `json:"successful"`
	}{(*plain)(r), r.Successful()})
}

// Record converts the response to its persisted form.
func (r *Response) Record() *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:           r.ID,
		Intent:       r.Source.Intent,
		Code:         r.Source.Code,
		CodeExecuted: r.CodeExecuted,
		Stdout:       r.Stdout,
		Stderr:       r.Stderr,
		Session:      r.Session,
		Successful:   r.Successful(),
		Duration:     r.Duration,
		CreatedAt:    time.Now().UTC(),
	}
}

// ExecutionError reports a program that wrote to stderr.
type ExecutionError struct {
	Source Source
	Stderr string
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	if e.Source.Intent != "" {
		return fmt.Sprintf("execution failed (%s): %s", e.Source.Intent, msg)
	}
	return "execution failed: " + msg
}
