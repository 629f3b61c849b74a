package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/security"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	resolver, err := security.NewResolver(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewResolver(): %v", err)
	}
	ft, err := NewFileTools(resolver, log.NewNop())
	if err != nil {
		t.Fatalf("NewFileTools(): %v", err)
	}

	r := NewRegistry()
	ft.Register(r)
	return r
}

func TestRegistrySpecsFilter(t *testing.T) {
	r := newTestRegistry(t)

	specs := r.Specs([]string{"read_file", "WRITE_FILE", "exec", "bogus"})
	if len(specs) != 2 {
		t.Fatalf("Specs() returned %d entries, want 2", len(specs))
	}
	// registration order preserved
	if specs[0].Name != NameReadFile || specs[1].Name != NameWriteFile {
		t.Errorf("Specs() order = %s, %s", specs[0].Name, specs[1].Name)
	}
	if specs[0].SideEffecting {
		t.Error("read_file marked side-effecting")
	}
	if !specs[1].SideEffecting {
		t.Error("write_file not marked side-effecting")
	}
	if specs[0].InputSchema == nil {
		t.Error("spec missing input schema")
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, "write_file", map[string]any{"path": "a.txt", "content": "hi"}); err != nil {
		t.Fatalf("Dispatch(write_file): %v", err)
	}
	out, err := r.Dispatch(ctx, "Read_File", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("Dispatch(read_file): %v", err)
	}
	if out != "hi" {
		t.Errorf("Dispatch(read_file) = %q", out)
	}

	if _, err := r.Dispatch(ctx, "nope", nil); err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("Dispatch(unknown) = %v, want unknown tool error", err)
	}
}

func TestRegistryDispatchBadArguments(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "read_file", map[string]any{"path": 42})
	if err == nil || !strings.Contains(err.Error(), "invalid arguments") {
		t.Errorf("Dispatch() with wrong arg type = %v, want invalid arguments", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := newTestRegistry(t)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	r.Register(Spec{Name: "read_file"}, nil)
}
