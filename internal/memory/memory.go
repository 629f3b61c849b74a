// Package memory persists long-lived conversational facts per chat, backed
// by PostgreSQL + pgvector. Recall blends embedding similarity with recency;
// recall failures degrade to an empty context and never abort a run.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

// VectorDimension must match the vector(N) column in the schema.
const VectorDimension int32 = 768

// EmbedTimeout bounds a single embedding call.
const EmbedTimeout = 15 * time.Second

const summaryChars = 200

// Recall score blend. Similarity dominates; recency breaks near-ties in
// favor of fresher entries.
const (
	similarityWeight = 0.75
	recencyWeight    = 0.25
)

// Embedder generates a vector embedding for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one stored memory row.
type Entry struct {
	ID         int64
	ChatID     int64
	UserID     int64
	SessionID  int64
	SourceRole string
	Category   string
	Content    string
	Importance float64
	CreatedAt  time.Time
}

// Hit is a recalled entry with its blended relevance score.
type Hit struct {
	Entry
	Score float64
}

// Store manages chat-scoped memory backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	cfg      config.MemoryConfig
	logger   log.Logger
}

// New creates a memory Store.
func New(pool *pgxpool.Pool, embedder Embedder, cfg config.MemoryConfig, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Store{
		pool:     pool,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "memory"),
	}, nil
}

// Save stores one memory entry. An embedding failure is logged and the row
// is stored without a vector, it just becomes unrecallable by similarity.
func (s *Store) Save(ctx context.Context, chatID, userID, sessionID int64, sourceRole, category, content string, importance float64) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	importance = clampImportance(importance)

	var vec any
	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	if values, err := s.embedder.Embed(embedCtx, trimmed); err != nil {
		s.logger.Warn("embedding memory failed, storing without vector",
			"chat_id", chatID, "error", err)
	} else {
		vec = pgvector.NewVector(values)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_memories
		 (chat_id, user_id, session_id, source_role, category, content, embedding, importance)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		chatID, userID, sessionID, sourceRole, category, trimmed, vec, importance,
	)
	if err != nil {
		return fmt.Errorf("saving memory for chat %d: %w", chatID, err)
	}
	return nil
}

// Recall returns the most relevant entries for the query, best first.
// Results below the configured minimum relevance are dropped.
func (s *Store) Recall(ctx context.Context, chatID int64, query string) ([]Hit, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	limit := s.cfg.RecallLimit
	if limit <= 0 {
		limit = 5
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	values, err := s.embedder.Embed(embedCtx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("embedding recall query: %w", err)
	}
	vec := pgvector.NewVector(values)

	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, COALESCE(user_id, 0), COALESCE(session_id, 0),
		        source_role, category, content, importance, created_at,
		        1 - (embedding <=> $1) AS similarity,
		        GREATEST(EXTRACT(EPOCH FROM now() - created_at) / 86400.0, 0) AS recency_days
		 FROM agent_memories
		 WHERE chat_id = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memories for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var similarity, recencyDays float64
		if err := rows.Scan(&hit.ID, &hit.ChatID, &hit.UserID, &hit.SessionID,
			&hit.SourceRole, &hit.Category, &hit.Content, &hit.Importance,
			&hit.CreatedAt, &similarity, &recencyDays); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		hit.Score = blendScore(similarity, recencyDays)
		if hit.Score < s.cfg.MinRelevance {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Recent returns the newest entries for the chat, newest first.
func (s *Store) Recent(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, COALESCE(user_id, 0), COALESCE(session_id, 0),
		        source_role, category, content, importance, created_at
		 FROM agent_memories
		 WHERE chat_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memories for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.UserID, &e.SessionID,
			&e.SourceRole, &e.Category, &e.Content, &e.Importance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return entries, nil
}

// Forget deletes the given entries. Ids belonging to other chats are
// ignored, a chat can only forget its own memories.
func (s *Store) Forget(ctx context.Context, chatID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_memories WHERE chat_id = $1 AND id = ANY($2)`,
		chatID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("forgetting memories for chat %d: %w", chatID, err)
	}
	return tag.RowsAffected(), nil
}

// PruneOlderThan deletes entries older than the retention window. A zero or
// negative retention disables pruning.
func (s *Store) PruneOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_memories
		 WHERE created_at < now() - ($1 * interval '1 day')`,
		retentionDays,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning memories: %w", err)
	}
	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Info("pruned agent memories", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// ContextBlock renders recalled hits as a prompt block within the configured
// character budget. Returns "" when nothing fits.
func (s *Store) ContextBlock(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	budget := s.cfg.ContextCharBudget
	if budget <= 0 {
		budget = 2000
	}

	lines := []string{"[Memory context]"}
	used := len([]rune(lines[0]))
	for i, hit := range hits {
		line := fmt.Sprintf("%d. [%s] %s", i+1, hit.SourceRole, Summarize(hit.Content))
		next := used + 1 + len([]rune(line))
		if next > budget {
			break
		}
		used = next
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// Summarize collapses whitespace and truncates to a single short line.
func Summarize(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	runes := []rune(normalized)
	if len(runes) <= summaryChars {
		return normalized
	}
	return string(runes[:summaryChars]) + "..."
}

func blendScore(similarity, recencyDays float64) float64 {
	if similarity < 0 {
		similarity = 0
	}
	if recencyDays < 0 {
		recencyDays = 0
	}
	return similarityWeight*similarity + recencyWeight*(1/(1+recencyDays))
}

func clampImportance(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
