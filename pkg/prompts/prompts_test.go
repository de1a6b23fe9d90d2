package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseEmbedsSchemaAndRequest(t *testing.T) {
	p := Base("type A struct {\n\tX int `json:\"x\"`\n}", "make an A")
	assert.Contains(t, p, "Schema:\n    type A struct {\n    \tX int `json:\"x\"`\n    }")
	assert.True(t, strings.HasSuffix(p, "Request:\n    make an A\n"))
	assert.NotContains(t, p, "%!")
}

func TestErrorCorrection(t *testing.T) {
	p := ErrorCorrection("$.x: missing required field\n")
	assert.True(t, strings.HasPrefix(p, "Encountered an error: $.x: missing required field."))
}

func TestNarratorOmitsEmptySession(t *testing.T) {
	assert.NotContains(t, Narrator("q", "out", ""), "Captured function state")
	assert.Contains(t, Narrator("q", "out", `{"f":{}}`), "Captured function state")
}

func TestRepair(t *testing.T) {
	p := Repair("sum", "print(1/0)", "ZeroDivisionError")
	assert.Contains(t, p, "    print(1/0)")
	assert.Contains(t, p, "    ZeroDivisionError")
}
