package memory

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/nugget/selfhosted-assistant/internal/store"
)

func TestRenderContext_Empty(t *testing.T) {
	if got := renderContext(nil); got != "" {
		t.Errorf("expected empty string for no matches, got %q", got)
	}
}

func TestRenderContext_Bulleted(t *testing.T) {
	matches := []store.MemoryMatch{
		{Entry: store.MemoryEntry{Content: "Allergic to shellfish"}, Similarity: 0.81},
		{Entry: store.MemoryEntry{Content: "Prefers oat milk"}, Similarity: 0.42},
	}

	got := renderContext(matches)
	if !strings.HasPrefix(got, "Relevant context from memory:\n") {
		t.Fatalf("missing heading: %q", got)
	}
	if !strings.Contains(got, "- Allergic to shellfish") {
		t.Errorf("missing first entry: %q", got)
	}
	if !strings.Contains(got, "- Prefers oat milk") {
		t.Errorf("missing second entry: %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("expected no trailing newline")
	}
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Generate(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func TestGetContext_RecallFailureIsSwallowed(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping store-backed memory test")
	}

	st, err := store.Open(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(st.Close)

	svc := New(st, &fakeEmbedder{err: context.DeadlineExceeded}, nil)

	got, err := svc.GetContext(context.Background(), "does this crash?")
	if err != nil {
		t.Fatalf("GetContext should swallow recall errors, got: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty context on recall failure, got %q", got)
	}
}

func TestRememberAndRecall_RoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping store-backed memory test")
	}

	st, err := store.Open(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(st.Close)

	vector := make([]float32, store.MemoryEmbeddingDimensions)
	vector[0] = 1
	svc := New(st, &fakeEmbedder{vector: vector}, nil)

	entry, err := svc.Remember(context.Background(), "Likes jazz on Sunday mornings", store.MemorySourceUser, nil, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	t.Cleanup(func() { _ = svc.Delete(context.Background(), entry.ID) })

	matches, err := svc.Recall(context.Background(), "music preferences", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	var found bool
	for _, m := range matches {
		if m.Entry.ID == entry.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected remembered entry to surface in recall")
	}
}
