// Package store persists agent run records: sessions, the append-only turn
// log, and per-tool-call audit rows.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/internal/log"
)

// Session statuses as persisted. A session leaves "running" exactly once.
const (
	SessionRunning              = "running"
	SessionCompleted            = "completed"
	SessionAwaitingConfirmation = "awaiting_confirmation"
	SessionDenied               = "denied"
	SessionCancelled            = "cancelled"
	SessionLimitReached         = "limit_reached"
	SessionFailed               = "failed"
	SessionSuperseded           = "superseded"
)

// Tool-call statuses as persisted.
const (
	CallRequested            = "requested"
	CallAwaitingConfirmation = "awaiting_confirmation"
	CallDenied               = "denied"
	CallCompleted            = "completed"
	CallFailed               = "failed"
	CallCancelled            = "cancelled"
)

// Session is one agent run record.
type Session struct {
	ID             int64
	ChatID         int64
	UserID         int64
	ModelName      string
	Prompt         string
	SelectedSkills []string
	Status         string
	FinalResponse  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Step is one turn in a session's append-only log. Raw holds the
// provider-shaped turn so a suspended run can be replayed verbatim.
type Step struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	Raw       json.RawMessage
	CreatedAt time.Time
}

// Store manages agent session persistence backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a session Store.
func New(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool:   pool,
		logger: logger.With("component", "store"),
	}, nil
}

// CreateSession inserts a new session in the running state and returns its id.
func (s *Store) CreateSession(ctx context.Context, chatID, userID int64, modelName, prompt string, selectedSkills []string) (int64, error) {
	if selectedSkills == nil {
		selectedSkills = []string{}
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_sessions (chat_id, user_id, model_name, prompt, selected_skills, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		chatID, userID, modelName, prompt, selectedSkills, SessionRunning,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

// AppendStep appends one turn to the session log and returns the step id.
func (s *Store) AppendStep(ctx context.Context, sessionID int64, role, content string, raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_steps (session_id, role, content, raw)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		sessionID, role, content, raw,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("appending step to session %d: %w", sessionID, err)
	}
	return id, nil
}

// InsertToolCall records one requested tool invocation and returns the row id.
func (s *Store) InsertToolCall(ctx context.Context, sessionID, stepID int64, callID, toolName string, args json.RawMessage, status string, requiresConfirmation bool) (int64, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_tool_calls
		 (session_id, step_id, tool_call_id, tool_name, args, status, requires_confirmation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		sessionID, stepID, callID, toolName, args, status, requiresConfirmation,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("recording tool call %q: %w", toolName, err)
	}
	return id, nil
}

// UpdateToolCallStatus transitions a tool-call row. A nil result keeps the
// stored result; a nil confirmedBy keeps the stored confirming user.
func (s *Store) UpdateToolCallStatus(ctx context.Context, id int64, status string, result json.RawMessage, confirmedBy *int64) error {
	var resultArg any
	if len(result) > 0 {
		resultArg = result
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE agent_tool_calls
		 SET status = $1,
		     result = COALESCE($2, result),
		     confirmed_by = COALESCE($3, confirmed_by),
		     completed_at = now()
		 WHERE id = $4`,
		status, resultArg, confirmedBy, id,
	)
	if err != nil {
		return fmt.Errorf("updating tool call %d: %w", id, err)
	}
	return nil
}

// CompleteSession sets the terminal status. An empty finalResponse keeps any
// previously stored response.
func (s *Store) CompleteSession(ctx context.Context, sessionID int64, status, finalResponse string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agent_sessions
		 SET status = $1,
		     final_response = COALESCE(NULLIF($2, ''), final_response),
		     updated_at = now()
		 WHERE id = $3`,
		status, finalResponse, sessionID,
	)
	if err != nil {
		return fmt.Errorf("completing session %d: %w", sessionID, err)
	}
	return nil
}

// SupersedeActiveSessions marks all running or suspended sessions for the
// chat/user pair as superseded and returns the number affected.
func (s *Store) SupersedeActiveSessions(ctx context.Context, chatID, userID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_sessions
		 SET status = $1, updated_at = now()
		 WHERE chat_id = $2 AND user_id = $3 AND status IN ($4, $5)`,
		SessionSuperseded, chatID, userID, SessionRunning, SessionAwaitingConfirmation,
	)
	if err != nil {
		return 0, fmt.Errorf("superseding sessions for chat %d: %w", chatID, err)
	}
	return tag.RowsAffected(), nil
}

// ListRecentSessions returns the most recently updated sessions for the
// chat/user pair, newest first.
func (s *Store) ListRecentSessions(ctx context.Context, chatID, userID int64, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, user_id, model_name, prompt, selected_skills,
		        status, COALESCE(final_response, ''), created_at, updated_at
		 FROM agent_sessions
		 WHERE chat_id = $1 AND user_id = $2
		 ORDER BY updated_at DESC
		 LIMIT $3`,
		chatID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for chat %d: %w", chatID, err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSteps returns a session's turn log in append order.
func (s *Store) ListSteps(ctx context.Context, sessionID int64) ([]Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, COALESCE(content, ''), raw, created_at
		 FROM agent_steps
		 WHERE session_id = $1
		 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing steps for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Role, &st.Content, &st.Raw, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating steps: %w", err)
	}
	return steps, nil
}

// PruneSessionsOlderThan deletes terminal sessions not updated within the
// retention window. Steps and tool calls go with them via cascade. A zero or
// negative retention disables pruning.
func (s *Store) PruneSessionsOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_sessions
		 WHERE status NOT IN ($1, $2)
		   AND updated_at < now() - ($3 * interval '1 day')`,
		SessionRunning, SessionAwaitingConfirmation, retentionDays,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Info("pruned agent sessions", "deleted", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

func scanSessions(rows pgx.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ChatID, &sess.UserID, &sess.ModelName,
			&sess.Prompt, &sess.SelectedSkills, &sess.Status, &sess.FinalResponse,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}
