// Package agent implements the orchestration loop: it selects skills for a
// prompt, assembles the system prompt, drives the provider tool loop inside
// a per-chat workspace, and suspends runs that hit a side-effecting tool
// until a human confirms or cancels.
package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/tools"
)

// Sentinel errors for agent operations.
// Only errors that are checked with errors.Is() are defined here.
var (
	// ErrConfirmationExpired indicates the confirmation key does not match
	// any pending action, typically because it was already resolved or the
	// process restarted.
	ErrConfirmationExpired = errors.New("confirmation expired or already handled")

	// ErrNotRequester indicates a user other than the run's requester tried
	// to confirm or cancel a pending action.
	ErrNotRequester = errors.New("only the requesting user may confirm or cancel")

	// ErrRateLimited indicates the chat exceeded its run rate budget.
	ErrRateLimited = errors.New("too many runs, slow down")
)

// ChatProvider is the model backend the runtime drives. History turns are
// opaque provider-native JSON; the runtime stores and replays them without
// inspecting their structure.
type ChatProvider interface {
	Name() string
	Generate(ctx context.Context, model, system string, history []json.RawMessage, specs []tools.Spec) (*provider.Reply, error)
	UserTurn(prompt string) json.RawMessage
	ToolResultTurn(call provider.ToolCall, result string, isError bool) json.RawMessage
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// Outcome is the result of a run, a resume or a cancel. Status holds a
// store.Session* value; ConfirmationID is set only while the run is
// suspended awaiting confirmation.
type Outcome struct {
	SessionID      int64
	Status         string
	Text           string
	SelectedSkills []string

	ConfirmationID string
	PendingTool    string
	PendingArgs    map[string]any
}
