package structured

import (
	"fmt"
	"strings"
)

// ScratchPad carries the state of one generation request between attempts.
type ScratchPad struct {
	// Prompt is the caller's original request.
	Prompt string
	// Schema is the rendered schema closure.
	Schema string
	// Response is the most recent raw model output that failed.
	Response string
	// Error is the correction prompt built from the most recent failure.
	Error string
}

// Text renders the pad as sent to the model.
func (p *ScratchPad) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Prompt: %s\n", p.Prompt)
	fmt.Fprintf(&b, "Schema:\n%s\n", indent(p.Schema))
	fmt.Fprintf(&b, "Response:\n%s\n", indent(p.Response))
	fmt.Fprintf(&b, "Error:\n%s\n", indent(p.Error))
	return b.String()
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}
