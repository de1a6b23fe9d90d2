package interpreter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSession(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   map[string]any
	}{
		{"embedded", `noise<session>{"x":1}</session>more`, map[string]any{"x": float64(1)}},
		{"no markers", "just output\n", map[string]any{}},
		{"first block wins", `<session>{"a":1}</session><session>{"b":2}</session>`, map[string]any{"a": float64(1)}},
		{"multiline", "<session>{\n\"f\": {\"y\": \"z\"}\n}</session>", map[string]any{"f": map[string]any{"y": "z"}}},
		{"malformed", `<session>{not json</session>`, map[string]any{}},
		{"not an object", `<session>[1,2]</session>`, map[string]any{}},
		{"null", `<session>null</session>`, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSession(tt.stdout)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripSession(t *testing.T) {
	assert.Equal(t, "42", StripSession("42\n<session>{\"x\":1}</session>\n"))
	assert.Equal(t, "plain", StripSession("plain"))
}

func TestResponseSuccessful(t *testing.T) {
	ok := &Response{Stdout: "anything", Stderr: ""}
	assert.True(t, ok.Successful())
	assert.NoError(t, ok.Err())

	failed := &Response{Stdout: "valid output", Stderr: "Traceback...\nValueError: bad", Source: Source{Intent: "parse"}}
	assert.False(t, failed.Successful())
	var execErr *ExecutionError
	require.ErrorAs(t, failed.Err(), &execErr)
	assert.Equal(t, "parse", execErr.Source.Intent)
	assert.Equal(t, "execution failed (parse): ValueError: bad", execErr.Error())

	b, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"successful":false`)
	assert.Contains(t, string(b), `"stderr":"Traceback...\nValueError: bad"`)

	rec := failed.Record()
	assert.False(t, rec.Successful)
	assert.Equal(t, "parse", rec.Intent)
}
