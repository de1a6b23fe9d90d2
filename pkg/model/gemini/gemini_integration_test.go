package gemini_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/smartmodel/pkg/model"
	"github.com/nstogner/smartmodel/pkg/model/gemini"
)

func setupClient(t *testing.T, opts ...model.Option) *gemini.Client {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := gemini.New(ctx, apiKey, "gemini-2.0-flash", opts...)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return c
}

func TestIntegrationGeminiListModels(t *testing.T) {
	c := setupClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("List returned no models")
	}
	for _, m := range models {
		if m.Provider != "gemini" {
			t.Errorf("Provider = %q, want gemini", m.Provider)
		}
	}
}

func TestIntegrationGeminiStreamJSON(t *testing.T) {
	c := setupClient(t, model.WithJSON())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := c.StreamAsk(ctx, `Return {"answer": 4} for 2+2.`)
	if err != nil {
		t.Fatalf("StreamAsk: %v", err)
	}
	text, err := model.Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !strings.Contains(text, "4") {
		t.Errorf("response %q does not contain 4", text)
	}
}
