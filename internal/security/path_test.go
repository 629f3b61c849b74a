package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/log"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewResolver(): %v", err)
	}
	return r
}

func TestNewResolverRequiresLogger(t *testing.T) {
	if _, err := NewResolver(t.TempDir(), nil); err == nil {
		t.Fatal("NewResolver() with nil logger succeeded, want error")
	}
}

func TestResolveRelativeInsideWorkspace(t *testing.T) {
	r := newTestResolver(t)

	got, err := r.Resolve("notes/today.md")
	if err != nil {
		t.Fatalf("Resolve(): %v", err)
	}
	want := filepath.Join(r.Root(), "notes", "today.md")
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveNonexistentTarget(t *testing.T) {
	// Targets of a pending write do not exist yet; the nearest existing
	// ancestor is canonicalized and the suffix re-appended.
	r := newTestResolver(t)

	got, err := r.Resolve("a/b/c/new.txt")
	if err != nil {
		t.Fatalf("Resolve() on nonexistent path: %v", err)
	}
	if !strings.HasPrefix(got, r.Root()) {
		t.Errorf("resolved path %q not under root %q", got, r.Root())
	}
}

func TestResolveTraversalBlocked(t *testing.T) {
	r := newTestResolver(t)

	tests := []string{
		"../../etc/passwd",
		"../sibling",
		"a/../../outside",
		"/etc/passwd",
	}

	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			if _, err := r.Resolve(path); !errors.Is(err, ErrOutsideWorkspace) {
				t.Errorf("Resolve(%q) = %v, want ErrOutsideWorkspace", path, err)
			}
		})
	}
}

func TestResolveEmptyPath(t *testing.T) {
	r := newTestResolver(t)

	for _, path := range []string{"", "   "} {
		if _, err := r.Resolve(path); !errors.Is(err, ErrEmptyPath) {
			t.Errorf("Resolve(%q) = %v, want ErrEmptyPath", path, err)
		}
	}
}

func TestResolveAbsoluteInsideWorkspace(t *testing.T) {
	r := newTestResolver(t)

	inside := filepath.Join(r.Root(), "file.txt")
	got, err := r.Resolve(inside)
	if err != nil {
		t.Fatalf("Resolve() on absolute inside path: %v", err)
	}
	if got != inside {
		t.Errorf("Resolve() = %q, want %q", got, inside)
	}
}

func TestResolveSymlinkEscapeBlocked(t *testing.T) {
	r := newTestResolver(t)

	outside := t.TempDir()
	link := filepath.Join(r.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	if _, err := r.Resolve("escape/secret.txt"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Errorf("Resolve() through escaping symlink = %v, want ErrOutsideWorkspace", err)
	}
}

func TestResolverRootCanonical(t *testing.T) {
	r := newTestResolver(t)

	// Root must already be canonical so prefix checks compare like with like.
	canonical, err := filepath.EvalSymlinks(r.Root())
	if err != nil {
		t.Fatalf("EvalSymlinks(root): %v", err)
	}
	if canonical != r.Root() {
		t.Errorf("Root() = %q, canonical form %q", r.Root(), canonical)
	}
}
