package domain

import "time"

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ExecutionRecord is the persisted form of one sandboxed execution.
type ExecutionRecord struct {
	ID           string         `json:"id"`
	Intent       string         `json:"intent"`
	Code         string         `json:"code"`
	CodeExecuted string         `json:"code_executed"`
	Stdout       string         `json:"stdout"`
	Stderr       string         `json:"stderr"`
	Session      map[string]any `json:"session"`
	Successful   bool           `json:"successful"`
	Duration     time.Duration  `json:"duration"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GenerationRecord is the persisted form of one structured-generation request.
type GenerationRecord struct {
	RequestID string    `json:"request_id"`
	Shape     string    `json:"shape"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"attempts"`
	Succeeded bool      `json:"succeeded"`
	CreatedAt time.Time `json:"created_at"`
}
