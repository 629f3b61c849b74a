package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/provider"
)

// pendingAction is the full suspended state of a run paused on a
// side-effecting tool call. It carries everything needed to re-enter the
// provider loop after confirmation: the conversation history up to and
// including the assistant turn that requested the tool, plus the sandbox
// and policy context the run started with.
type pendingAction struct {
	id        string
	chatID    int64
	userID    int64
	sessionID int64

	call       provider.ToolCall
	callRowID  int64
	iterations int

	workspaceRoot  string
	model          string
	system         string
	allowedTools   []string
	selectedSkills []string
	history        []json.RawMessage

	createdAt time.Time
}

// pendingStore holds suspended actions in memory, keyed by confirmation ID.
// Pending actions do not survive a process restart; their sessions stay in
// awaiting_confirmation until hygiene prunes them.
type pendingStore struct {
	mu      sync.Mutex
	actions map[string]*pendingAction
}

func newPendingStore() *pendingStore {
	return &pendingStore{actions: make(map[string]*pendingAction)}
}

// put registers the action and returns its new confirmation ID.
func (p *pendingStore) put(a *pendingAction) string {
	a.id = uuid.NewString()
	a.createdAt = time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[a.id] = a
	return a.id
}

// take removes and returns the action for id. Each action can be taken at
// most once, so concurrent confirm and cancel cannot both act on it. A
// mismatched user leaves the action in place for the real requester.
func (p *pendingStore) take(id string, userID int64) (*pendingAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.actions[id]
	if !ok {
		return nil, ErrConfirmationExpired
	}
	if a.userID != userID {
		return nil, ErrNotRequester
	}
	delete(p.actions, id)
	return a, nil
}

// takeAllForChat removes every pending action the user holds in the chat.
func (p *pendingStore) takeAllForChat(chatID, userID int64) []*pendingAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var taken []*pendingAction
	for id, a := range p.actions {
		if a.chatID == chatID && a.userID == userID {
			taken = append(taken, a)
			delete(p.actions, id)
		}
	}
	return taken
}

func (p *pendingStore) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}
