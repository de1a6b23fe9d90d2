package model

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

// LevelTrace is a custom log level for raw HTTP traffic with model backends.
const LevelTrace = slog.Level(-8)

// TraceTransport dumps requests and responses at LevelTrace.
type TraceTransport struct {
	Base http.RoundTripper
	// Backend labels the log lines, e.g. "gemini".
	Backend string
}

// TraceClient returns an http.Client whose transport is a TraceTransport.
func TraceClient(backend string) *http.Client {
	return &http.Client{Transport: &TraceTransport{Base: http.DefaultTransport, Backend: backend}}
}

func (t *TraceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump request", "backend", t.Backend, "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Model request", "backend", t.Backend, "url", req.URL.String(), "dump", redact(string(reqDump)))
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Streaming bodies are not dumped so they are not consumed here.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump response", "backend", t.Backend, "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Model response", "backend", t.Backend, "isStream", isStream, "dump", string(respDump))
	}
	return resp, nil
}

// redact hides credential headers in a request dump.
func redact(dump string) string {
	lines := strings.Split(dump, "\r\n")
	for i, line := range lines {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "authorization", "x-goog-api-key":
			lines[i] = name + ": [redacted]"
		}
	}
	return strings.Join(lines, "\r\n")
}
