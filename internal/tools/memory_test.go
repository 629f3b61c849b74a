package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/log"
)

type fakeMemoryBackend struct {
	saved      []string
	importance float64
	hits       []MemoryHit
	forgotten  []string
}

func (f *fakeMemoryBackend) Save(_ context.Context, content, _ string, importance float64) error {
	f.saved = append(f.saved, content)
	f.importance = importance
	return nil
}

func (f *fakeMemoryBackend) Search(context.Context, string, int) ([]MemoryHit, error) {
	return f.hits, nil
}

func (f *fakeMemoryBackend) Forget(_ context.Context, ids []string) (int, error) {
	f.forgotten = ids
	return len(ids), nil
}

func newMemoryRegistry(t *testing.T, backend MemoryBackend) *Registry {
	t.Helper()
	mt, err := NewMemoryTools(backend, log.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryTools() error = %v", err)
	}
	r := NewRegistry()
	mt.Register(r)
	return r
}

func TestMemorySave(t *testing.T) {
	backend := &fakeMemoryBackend{}
	r := newMemoryRegistry(t, backend)

	got, err := r.Dispatch(context.Background(), NameMemorySave, map[string]any{
		"content": "  user prefers tabs  ",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got != "Saved." {
		t.Errorf("result = %q", got)
	}
	if len(backend.saved) != 1 || backend.saved[0] != "user prefers tabs" {
		t.Errorf("saved = %v, want trimmed content", backend.saved)
	}
	if backend.importance != 0.5 {
		t.Errorf("default importance = %v, want 0.5", backend.importance)
	}
}

func TestMemorySaveRejectsEmptyContent(t *testing.T) {
	r := newMemoryRegistry(t, &fakeMemoryBackend{})
	if _, err := r.Dispatch(context.Background(), NameMemorySave, map[string]any{
		"content": "   ",
	}); err == nil {
		t.Fatal("Dispatch() error = nil, want empty-content rejection")
	}
}

func TestMemorySaveClampsImportance(t *testing.T) {
	backend := &fakeMemoryBackend{}
	r := newMemoryRegistry(t, backend)

	if _, err := r.Dispatch(context.Background(), NameMemorySave, map[string]any{
		"content": "x", "importance": 3.0,
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if backend.importance != 1 {
		t.Errorf("importance = %v, want clamped to 1", backend.importance)
	}
}

func TestMemorySearch(t *testing.T) {
	backend := &fakeMemoryBackend{hits: []MemoryHit{
		{ID: "7", Content: "likes jazz", Category: "preference"},
		{ID: "9", Content: "deploys on fridays"},
	}}
	r := newMemoryRegistry(t, backend)

	got, err := r.Dispatch(context.Background(), NameMemorySearch, map[string]any{
		"query": "music",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	want := "[7] likes jazz (preference)\n[9] deploys on fridays"
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestMemorySearchNoHits(t *testing.T) {
	r := newMemoryRegistry(t, &fakeMemoryBackend{})
	got, err := r.Dispatch(context.Background(), NameMemorySearch, map[string]any{
		"query": "anything",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got != "No matching memories." {
		t.Errorf("result = %q", got)
	}
}

func TestMemoryForget(t *testing.T) {
	backend := &fakeMemoryBackend{}
	r := newMemoryRegistry(t, backend)

	got, err := r.Dispatch(context.Background(), NameMemoryForget, map[string]any{
		"ids": []any{"3", "5"},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !strings.Contains(got, "Forgot 2 entries.") {
		t.Errorf("result = %q", got)
	}
	if len(backend.forgotten) != 2 {
		t.Errorf("forgotten = %v", backend.forgotten)
	}
}

func TestMemoryForgetRequiresIDs(t *testing.T) {
	r := newMemoryRegistry(t, &fakeMemoryBackend{})
	if _, err := r.Dispatch(context.Background(), NameMemoryForget, map[string]any{
		"ids": []any{},
	}); err == nil {
		t.Fatal("Dispatch() error = nil, want ids-required rejection")
	}
}
