package interpreter

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	SessionStart = "<session>"
	SessionEnd   = "</session>"
)

var sessionPattern = regexp.MustCompile(`(?s)<session>(.*?)</session>`)

// ParseSession extracts the first session block from stdout. A missing block
// yields an empty map. So does a malformed one, which is logged.
func ParseSession(stdout string) map[string]any {
	session := map[string]any{}
	m := sessionPattern.FindStringSubmatch(stdout)
	if m == nil {
		return session
	}
	if err := json.Unmarshal([]byte(m[1]), &session); err != nil {
		slog.Warn("Malformed session block", "error", err)
		return map[string]any{}
	}
	if session == nil {
		return map[string]any{}
	}
	return session
}

// StripSession removes every session block from stdout, leaving the
// program's own output.
func StripSession(stdout string) string {
	return strings.TrimRight(sessionPattern.ReplaceAllString(stdout, ""), "\n")
}
