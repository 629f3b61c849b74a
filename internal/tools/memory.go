package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/log"
)

// MemoryHit is one recalled memory entry.
type MemoryHit struct {
	ID       string
	Content  string
	Category string
	Score    float64
}

// MemoryBackend is the chat-scoped view of the memory subsystem the memory
// tools talk to. These tools are routed here, never through the sandbox.
type MemoryBackend interface {
	Save(ctx context.Context, content, category string, importance float64) error
	Search(ctx context.Context, query string, limit int) ([]MemoryHit, error)
	Forget(ctx context.Context, ids []string) (int, error)
}

// MemoryTools exposes memory_save, memory_search and memory_forget.
type MemoryTools struct {
	backend MemoryBackend
	logger  log.Logger
}

// NewMemoryTools creates the memory toolset.
func NewMemoryTools(backend MemoryBackend, logger log.Logger) (*MemoryTools, error) {
	if backend == nil {
		return nil, fmt.Errorf("memory backend is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &MemoryTools{backend: backend, logger: logger.With("component", "tools.memory")}, nil
}

// Register adds the memory tools to the registry.
func (m *MemoryTools) Register(r *Registry) {
	r.Register(Spec{
		Name:        NameMemorySave,
		Description: "Remember a fact or note for future conversations.",
		InputSchema: mustSchema[MemorySaveInput](),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[MemorySaveInput](args)
		if err != nil {
			return "", err
		}
		return m.save(ctx, input)
	})

	r.Register(Spec{
		Name:        NameMemorySearch,
		Description: "Search previously remembered facts and notes.",
		InputSchema: mustSchema[MemorySearchInput](),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[MemorySearchInput](args)
		if err != nil {
			return "", err
		}
		return m.search(ctx, input)
	})

	r.Register(Spec{
		Name:        NameMemoryForget,
		Description: "Delete remembered entries by id.",
		InputSchema: mustSchema[MemoryForgetInput](),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[MemoryForgetInput](args)
		if err != nil {
			return "", err
		}
		return m.forget(ctx, input)
	})
}

func (m *MemoryTools) save(ctx context.Context, input MemorySaveInput) (string, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return "", fmt.Errorf("content cannot be empty")
	}
	importance := input.Importance
	if importance <= 0 {
		importance = 0.5
	}
	if importance > 1 {
		importance = 1
	}
	if err := m.backend.Save(ctx, content, strings.TrimSpace(input.Category), importance); err != nil {
		return "", fmt.Errorf("saving memory: %w", err)
	}
	return "Saved.", nil
}

func (m *MemoryTools) search(ctx context.Context, input MemorySearchInput) (string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query cannot be empty")
	}
	limit := input.Limit
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	hits, err := m.backend.Search(ctx, query, limit)
	if err != nil {
		return "", fmt.Errorf("searching memory: %w", err)
	}
	if len(hits) == 0 {
		return "No matching memories.", nil
	}

	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "[%s] %s", hit.ID, hit.Content)
		if hit.Category != "" {
			fmt.Fprintf(&b, " (%s)", hit.Category)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *MemoryTools) forget(ctx context.Context, input MemoryForgetInput) (string, error) {
	if len(input.IDs) == 0 {
		return "", fmt.Errorf("ids cannot be empty")
	}
	n, err := m.backend.Forget(ctx, input.IDs)
	if err != nil {
		return "", fmt.Errorf("forgetting memories: %w", err)
	}
	return fmt.Sprintf("Forgot %d entries.", n), nil
}
