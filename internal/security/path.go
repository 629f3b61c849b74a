package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/log"
)

// ErrOutsideWorkspace indicates a path resolved outside the workspace root.
var ErrOutsideWorkspace = errors.New("path outside allowed workspace")

// ErrEmptyPath indicates an empty or whitespace-only path.
var ErrEmptyPath = errors.New("path cannot be empty")

// Resolver canonicalizes paths against a single workspace root and rejects
// anything that escapes it (CWE-22). The containment check runs on the
// resolved path, not the literal input, so traversal through symlinks is
// caught too.
type Resolver struct {
	root   string // canonical workspace root
	logger log.Logger
}

// NewResolver creates a resolver for workspaceRoot. The root is created if
// missing and canonicalized so that later prefix checks compare like with
// like.
func NewResolver(workspaceRoot string, logger log.Logger) (*Resolver, error) {
	if strings.TrimSpace(workspaceRoot) == "" {
		return nil, fmt.Errorf("workspace root: %w", ErrEmptyPath)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing workspace root: %w", err)
	}

	return &Resolver{root: canonical, logger: logger.With("component", "security.resolver")}, nil
}

// Root returns the canonical workspace root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve validates rawPath and returns its canonical absolute form.
// Relative paths are joined to the workspace root; absolute paths are
// accepted only when they stay inside it.
func (r *Resolver) Resolve(rawPath string) (string, error) {
	if strings.TrimSpace(rawPath) == "" {
		return "", ErrEmptyPath
	}

	p := rawPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}

	canonical, err := canonicalize(p)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", rawPath, err)
	}

	if !r.contains(canonical) {
		r.logger.Warn("path escapes workspace",
			"path", rawPath,
			"resolved", canonical,
			"workspace", r.root,
			"security_event", "path_traversal_blocked")
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, rawPath)
	}

	return canonical, nil
}

// Contains reports whether an already-canonical path lies inside the
// workspace. Callers that obtained the path elsewhere should use Resolve.
func (r *Resolver) Contains(canonicalPath string) bool {
	return r.contains(canonicalPath)
}

func (r *Resolver) contains(p string) bool {
	if p == r.root {
		return true
	}
	return strings.HasPrefix(p, r.root+string(filepath.Separator))
}

// canonicalize resolves symlinks and dot segments in p. Paths that do not
// exist yet (targets of a pending write) are handled by walking up to the
// nearest existing ancestor, canonicalizing that, and re-appending the
// missing suffix literally.
func canonicalize(p string) (string, error) {
	p = filepath.Clean(p)

	var suffix []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if len(suffix) == 0 {
				return resolved, nil
			}
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("canonicalizing %q: %w", cur, err)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			// filesystem root does not exist; give up
			return "", fmt.Errorf("canonicalizing %q: %w", p, err)
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}
}
