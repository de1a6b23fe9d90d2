package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/smartmodel/pkg/domain"
	"github.com/nstogner/smartmodel/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecutionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &domain.ExecutionRecord{
		ID:           uuid.New().String(),
		Intent:       "add numbers",
		Code:         "print(1+1)",
		CodeExecuted: "...print(1+1)",
		Stdout:       "2",
		Session:      map[string]any{"main": map[string]any{"x": float64(2)}},
		Successful:   true,
		Duration:     1500 * time.Millisecond,
	}
	if err := s.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Intent != "add numbers" || got.Stdout != "2" || !got.Successful {
		t.Errorf("got %+v", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got.Duration)
	}
	main, ok := got.Session["main"].(map[string]any)
	if !ok || main["x"] != float64(2) {
		t.Errorf("Session = %v", got.Session)
	}

	if _, err := s.GetExecution(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetExecution(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListExecutionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &domain.ExecutionRecord{
			ID:        fmt.Sprintf("exec-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("SaveExecution: %v", err)
		}
	}

	all, err := s.ListExecutions(ctx, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 3 || all[0].ID != "exec-2" || all[2].ID != "exec-0" {
		t.Errorf("ListExecutions order = %v", ids(all))
	}
	if all[0].Session == nil {
		t.Error("nil session should be stored as an empty object")
	}

	two, err := s.ListExecutions(ctx, 2)
	if err != nil {
		t.Fatalf("ListExecutions(2): %v", err)
	}
	if len(two) != 2 {
		t.Errorf("len = %d, want 2", len(two))
	}
}

func TestGenerations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &domain.GenerationRecord{RequestID: "req-1", Shape: "Person", Prompt: "p", Attempts: 1}
	if err := s.SaveGeneration(ctx, rec); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	rec.Attempts = 3
	rec.Succeeded = true
	rec.Response = `{"name":"x"}`
	if err := s.SaveGeneration(ctx, rec); err != nil {
		t.Fatalf("SaveGeneration (replace): %v", err)
	}

	got, err := s.ListGenerations(ctx, 10)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Attempts != 3 || !got[0].Succeeded || got[0].Response != `{"name":"x"}` {
		t.Errorf("got %+v", got[0])
	}
}

func ids(recs []domain.ExecutionRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
