package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/skills"
	"github.com/wardenhq/warden/internal/tools"
)

// fakeProvider replays a scripted sequence of replies and records what the
// runtime sent it.
type fakeProvider struct {
	mu      sync.Mutex
	replies []*provider.Reply

	generateCalls int
	lastSystem    string
	lastSpecs     []string
	lastHistory   []json.RawMessage
	completeText  string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, _, system string, history []json.RawMessage, specs []tools.Spec) (*provider.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.generateCalls++
	f.lastSystem = system
	f.lastHistory = append([]json.RawMessage{}, history...)
	f.lastSpecs = f.lastSpecs[:0]
	for _, s := range specs {
		f.lastSpecs = append(f.lastSpecs, s.Name)
	}

	if len(f.replies) == 0 {
		return nil, fmt.Errorf("fake provider: no scripted replies left")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeProvider) UserTurn(prompt string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"role": "user", "content": prompt})
	return raw
}

func (f *fakeProvider) ToolResultTurn(call provider.ToolCall, result string, isError bool) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"role": "tool", "call": call.ID, "content": result, "is_error": isError,
	})
	return raw
}

func (f *fakeProvider) Complete(context.Context, string, string, string) (string, error) {
	return f.completeText, nil
}

func textReply(text string) *provider.Reply {
	raw, _ := json.Marshal(map[string]string{"role": "assistant", "content": text})
	return &provider.Reply{Turn: raw, Text: text}
}

func toolReply(calls ...provider.ToolCall) *provider.Reply {
	raw, _ := json.Marshal(map[string]any{"role": "assistant", "tool_calls": len(calls)})
	return &provider.Reply{Turn: raw, ToolCalls: calls}
}

func TestChatFolderName(t *testing.T) {
	tests := []struct {
		chatID int64
		want   string
	}{
		{42, "chat_42"},
		{0, "chat_0"},
		{-100123, "chat_neg_100123"},
	}
	for _, tt := range tests {
		if got := chatFolderName(tt.chatID); got != tt.want {
			t.Errorf("chatFolderName(%d) = %q, want %q", tt.chatID, got, tt.want)
		}
	}
}

func TestEnsureChatWorkspace(t *testing.T) {
	base := t.TempDir()

	dir, err := EnsureChatWorkspace(base, 42)
	if err != nil {
		t.Fatalf("EnsureChatWorkspace() error = %v", err)
	}
	if filepath.Base(dir) != "chat_42" {
		t.Errorf("workspace dir = %q, want basename chat_42", dir)
	}

	for _, p := range []string{
		filepath.Join(base, "AGENTS.md"),
		filepath.Join(base, "MEMORY.md"),
		filepath.Join(dir, "AGENTS.md"),
		filepath.Join(dir, "MEMORY.md"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("scaffold file %s missing: %v", p, err)
		}
	}

	// Existing files must survive re-scaffolding.
	custom := filepath.Join(dir, "AGENTS.md")
	if err := os.WriteFile(custom, []byte("my rules"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureChatWorkspace(base, 42); err != nil {
		t.Fatalf("second EnsureChatWorkspace() error = %v", err)
	}
	got, err := os.ReadFile(custom)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "my rules" {
		t.Errorf("AGENTS.md overwritten: %q", got)
	}
}

func TestEnsureChatWorkspaceNegativeID(t *testing.T) {
	dir, err := EnsureChatWorkspace(t.TempDir(), -7)
	if err != nil {
		t.Fatalf("EnsureChatWorkspace() error = %v", err)
	}
	if filepath.Base(dir) != "chat_neg_7" {
		t.Errorf("workspace dir = %q, want basename chat_neg_7", dir)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("custom guidelines"), 0o640); err != nil {
		t.Fatal(err)
	}

	active := []skills.Skill{{
		Name:         "release",
		Description:  "Release procedure.",
		AllowedTools: []string{"exec"},
		Instructions: "Tag, build, publish.",
	}}
	got := buildSystemPrompt(dir, "- release: Release procedure.", active)

	for _, want := range []string{
		"Workspace root: " + dir,
		"Workspace agent guidelines (AGENTS.md):",
		"custom guidelines",
		"MEMORY.md not found in workspace root.",
		"Skill catalog:",
		"Active skill instructions:",
		"Skill: release",
		"Tag, build, publish.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q\nprompt:\n%s", want, got)
		}
	}
}

func TestBuildSystemPromptNoActiveSkills(t *testing.T) {
	got := buildSystemPrompt(t.TempDir(), "", nil)
	if !strings.Contains(got, "No additional skills selected.") {
		t.Errorf("prompt missing empty-selection placeholder:\n%s", got)
	}
	if strings.Contains(got, "Skill catalog:") {
		t.Error("prompt contains skill catalog section without a catalog")
	}
}

func TestBuildSystemPromptTruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("x", maxPromptFileChars+100)
	if err := os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte(big), 0o640); err != nil {
		t.Fatal(err)
	}

	got := buildSystemPrompt(dir, "", nil)
	if !strings.Contains(got, "[Truncated]") {
		t.Error("oversized MEMORY.md was not truncated")
	}
	if strings.Contains(got, big) {
		t.Error("full oversized MEMORY.md body inlined")
	}
}

func TestAugmentPrompt(t *testing.T) {
	if got := augmentPrompt("", "hello"); got != "hello" {
		t.Errorf("augmentPrompt with empty block = %q", got)
	}
	got := augmentPrompt("[Memory context]\n1. [user] likes jazz", "hello")
	want := "[Memory context]\n1. [user] likes jazz\n\nUser request:\nhello"
	if got != want {
		t.Errorf("augmentPrompt() = %q, want %q", got, want)
	}
}

func TestTruncateChars(t *testing.T) {
	if got := truncateChars("short", 10); got != "short" {
		t.Errorf("truncateChars() = %q", got)
	}
	got := truncateChars("日本語のテキスト", 3)
	if got != "日本語\n\n[Truncated]" {
		t.Errorf("truncateChars() = %q", got)
	}
}

func TestPendingStoreTakeOnce(t *testing.T) {
	ps := newPendingStore()
	id := ps.put(&pendingAction{chatID: 1, userID: 10, sessionID: 99})

	if _, err := ps.take(id, 20); err != ErrNotRequester {
		t.Fatalf("take by other user: error = %v, want ErrNotRequester", err)
	}
	// The mismatched take must not consume the action.
	a, err := ps.take(id, 10)
	if err != nil {
		t.Fatalf("take by requester: error = %v", err)
	}
	if a.sessionID != 99 {
		t.Errorf("sessionID = %d, want 99", a.sessionID)
	}
	if _, err := ps.take(id, 10); err != ErrConfirmationExpired {
		t.Errorf("second take: error = %v, want ErrConfirmationExpired", err)
	}
}

func TestPendingStoreTakeAllForChat(t *testing.T) {
	ps := newPendingStore()
	ps.put(&pendingAction{chatID: 1, userID: 10})
	ps.put(&pendingAction{chatID: 1, userID: 10})
	ps.put(&pendingAction{chatID: 1, userID: 20}) // other user
	ps.put(&pendingAction{chatID: 2, userID: 10}) // other chat

	taken := ps.takeAllForChat(1, 10)
	if len(taken) != 2 {
		t.Errorf("takeAllForChat() returned %d actions, want 2", len(taken))
	}
	if ps.len() != 2 {
		t.Errorf("remaining actions = %d, want 2", ps.len())
	}
}

func TestStartHygieneStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := &Runtime{
		cfg:    &config.Config{Agent: config.AgentConfig{HygieneIntervalMinutes: 60}},
		logger: log.NewNop(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.StartHygiene(ctx)
	cancel()
	// goleak fails the test if the loop goroutine outlives the context.
	time.Sleep(10 * time.Millisecond)
}

func TestStartHygieneDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := &Runtime{
		cfg:    &config.Config{Agent: config.AgentConfig{HygieneIntervalMinutes: 0}},
		logger: log.NewNop(),
	}
	rt.StartHygiene(context.Background())
}

func TestChatLimiter(t *testing.T) {
	// 1 token/minute refill with burst 2: two immediate runs pass, the
	// third is rejected.
	lim := newChatLimiter(1, 2)
	if !lim.allow(1) || !lim.allow(1) {
		t.Fatal("burst allowance rejected")
	}
	if lim.allow(1) {
		t.Error("third run allowed, want rate limited")
	}
	if !lim.allow(2) {
		t.Error("separate chat shares the limiter")
	}
}
