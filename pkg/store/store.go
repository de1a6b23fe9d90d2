// Package store defines the history of executions and generation requests.
// The history is an audit log; callers do not use it as a data store.
package store

import (
	"context"
	"errors"

	"github.com/nstogner/smartmodel/pkg/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionStore persists sandboxed executions.
type ExecutionStore interface {
	// SaveExecution inserts rec, replacing any record with the same ID.
	SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error

	// GetExecution returns the execution with the given ID, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*domain.ExecutionRecord, error)

	// ListExecutions returns the most recent executions first. limit <= 0
	// means no limit.
	ListExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
}

// GenerationStore persists structured-generation requests.
type GenerationStore interface {
	// SaveGeneration inserts rec, replacing any record with the same request ID.
	SaveGeneration(ctx context.Context, rec *domain.GenerationRecord) error

	// ListGenerations returns the most recent requests first. limit <= 0
	// means no limit.
	ListGenerations(ctx context.Context, limit int) ([]domain.GenerationRecord, error)
}

// Store is the full history.
type Store interface {
	ExecutionStore
	GenerationStore
	Close() error
}
