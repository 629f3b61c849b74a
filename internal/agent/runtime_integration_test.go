//go:build integration

package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Provider:  "gemini",
		ModelName: "test-model",
		ACL:       config.ACLConfig{Enabled: false},
		Policy:    config.PolicyConfig{Enabled: true},
		Exec: config.ExecConfig{
			TimeoutSeconds:      10,
			MaxOutputChars:      16000,
			RestrictToWorkspace: true,
		},
		Agent: config.AgentConfig{
			WorkspaceDir:       t.TempDir(),
			MaxToolIterations:  4,
			ConfirmTools:       []string{"write_file", "edit_file", "exec"},
			RateLimitPerMinute: 600,
			RateLimitBurst:     100,
		},
		Skills: config.SkillsConfig{
			Dir:            filepath.Join(t.TempDir(), "skills"),
			MaxActive:      3,
			CandidateLimit: 8,
		},
	}
}

func newTestRuntime(t *testing.T, cfg *config.Config, fp *fakeProvider) *Runtime {
	t.Helper()

	db := testutil.SetupTestDB(t)
	logger := log.NewNop()

	st, err := store.New(db.Pool, logger)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	pol, err := policy.NewEvaluator(cfg.Policy, logger)
	if err != nil {
		t.Fatalf("policy.NewEvaluator() error = %v", err)
	}
	rt, err := New(cfg, fp, st, nil, acl.NewManager(cfg.ACL, logger), pol, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return rt
}

func TestRunCompletes(t *testing.T) {
	cfg := testConfig(t)
	fp := &fakeProvider{replies: []*provider.Reply{textReply("all done")}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "say hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionCompleted {
		t.Errorf("Status = %q, want %q", out.Status, store.SessionCompleted)
	}
	if out.Text != "all done" {
		t.Errorf("Text = %q", out.Text)
	}
	if fp.lastSystem == "" || !strings.Contains(fp.lastSystem, "Workspace root:") {
		t.Errorf("system prompt not sent: %q", fp.lastSystem)
	}
	// Core workspace tools must be offered.
	specs := strings.Join(fp.lastSpecs, ",")
	for _, name := range []string{"read_file", "write_file", "edit_file", "exec"} {
		if !strings.Contains(specs, name) {
			t.Errorf("tool %s not offered to the model (got %s)", name, specs)
		}
	}
}

func TestRunExecutesReadOnlyTool(t *testing.T) {
	cfg := testConfig(t)
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "read_file", Args: map[string]any{"path": "notes.txt"}}),
		textReply("the file says: hi"),
	}}
	rt := newTestRuntime(t, cfg, fp)

	ws, err := EnsureChatWorkspace(cfg.Agent.WorkspaceDir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "notes.txt"), []byte("hi"), 0o640); err != nil {
		t.Fatal(err)
	}

	out, err := rt.Run(context.Background(), 1, 10, "read my notes")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	if fp.generateCalls != 2 {
		t.Errorf("generate calls = %d, want 2", fp.generateCalls)
	}
	// History must carry user turn, assistant turn and the tool result.
	if len(fp.lastHistory) != 3 {
		t.Errorf("history length = %d, want 3", len(fp.lastHistory))
	}
}

func TestRunSuspendsAndResumes(t *testing.T) {
	cfg := testConfig(t)
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "write_file", Args: map[string]any{
			"path": "out.txt", "content": "hello",
		}}),
		textReply("written"),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "write a file")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionAwaitingConfirmation {
		t.Fatalf("Status = %q, want awaiting_confirmation", out.Status)
	}
	if out.ConfirmationID == "" || out.PendingTool != "write_file" {
		t.Fatalf("unexpected suspension: %+v", out)
	}

	// A stranger cannot confirm.
	if _, err := rt.Resume(context.Background(), out.ConfirmationID, 999); err != ErrNotRequester {
		t.Fatalf("Resume by stranger: error = %v, want ErrNotRequester", err)
	}

	final, err := rt.Resume(context.Background(), out.ConfirmationID, 10)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if final.Status != store.SessionCompleted {
		t.Errorf("Status = %q, want completed", final.Status)
	}
	if final.Text != "written" {
		t.Errorf("Text = %q", final.Text)
	}

	ws, _ := EnsureChatWorkspace(cfg.Agent.WorkspaceDir, 1)
	data, err := os.ReadFile(filepath.Join(ws, "out.txt"))
	if err != nil {
		t.Fatalf("confirmed write_file did not run: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("written content = %q", data)
	}

	if _, err := rt.Resume(context.Background(), out.ConfirmationID, 10); err != ErrConfirmationExpired {
		t.Errorf("replayed Resume: error = %v, want ErrConfirmationExpired", err)
	}
}

func TestRunCancelPending(t *testing.T) {
	cfg := testConfig(t)
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "exec", Args: map[string]any{"command": "touch x"}}),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "run something")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionAwaitingConfirmation {
		t.Fatalf("Status = %q, want awaiting_confirmation", out.Status)
	}

	cancelled, err := rt.Cancel(context.Background(), out.ConfirmationID, 10)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != store.SessionCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}
	if cancelled.Text != "User cancelled side-effect tool execution." {
		t.Errorf("Text = %q", cancelled.Text)
	}
	if rt.PendingCount() != 0 {
		t.Errorf("pending count = %d after cancel", rt.PendingCount())
	}
}

func TestRunDeniesToolOutsideSkills(t *testing.T) {
	cfg := testConfig(t)
	// The model asks for a tool no active skill allows; the loop records a
	// denial turn and continues to a normal completion.
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "launch_missiles", Args: map[string]any{}}),
		textReply("could not do that"),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "do something forbidden")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	// The denial reason itself must have been fed back to the model, not a
	// generic notice.
	var sawReason bool
	for _, turn := range fp.lastHistory {
		if strings.Contains(string(turn), "not allowed by the active skills") {
			sawReason = true
		}
	}
	if !sawReason {
		t.Error("denial reason missing from history")
	}
}

func writePermissionFile(t *testing.T, path string, allowTools []string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"version": 1,
		"chats": map[string]any{
			"1": map[string]any{
				"allow_commands": []string{"agent"},
				"allow_tools":    allowTools,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal permissions: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		t.Fatalf("write permissions: %v", err)
	}
}

func TestResumeDeniedAfterPermissionRevocation(t *testing.T) {
	cfg := testConfig(t)
	permPath := filepath.Join(t.TempDir(), "permissions.json")
	writePermissionFile(t, permPath, []string{"read_file", "write_file", "edit_file", "exec"})
	cfg.ACL = config.ACLConfig{Enabled: true, Path: permPath, ReloadTTLSeconds: 30}

	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "write_file", Args: map[string]any{
			"path": "out.txt", "content": "hello",
		}}),
		textReply("written"),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "write a file")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionAwaitingConfirmation {
		t.Fatalf("Status = %q, want awaiting_confirmation", out.Status)
	}

	// The permission file revokes write_file while the run is suspended.
	writePermissionFile(t, permPath, []string{"read_file"})
	if err := rt.acl.ReloadNow(); err != nil {
		t.Fatalf("ReloadNow() error = %v", err)
	}

	final, err := rt.Resume(context.Background(), out.ConfirmationID, 10)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if final.Status != store.SessionDenied {
		t.Errorf("Status = %q, want denied", final.Status)
	}
	if final.Text != "Tool execution denied by policy." {
		t.Errorf("Text = %q", final.Text)
	}

	ws, _ := EnsureChatWorkspace(cfg.Agent.WorkspaceDir, 1)
	if _, err := os.Stat(filepath.Join(ws, "out.txt")); !os.IsNotExist(err) {
		t.Errorf("revoked tool still executed: stat error = %v", err)
	}
}

func TestRunHitsIterationLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.MaxToolIterations = 2
	call := provider.ToolCall{ID: "c", Name: "read_file", Args: map[string]any{"path": "missing.txt"}}
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(call), toolReply(call), toolReply(call),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionLimitReached {
		t.Errorf("Status = %q, want limit_reached", out.Status)
	}
	if out.Text != "Tool call limit reached. Please refine your request or confirm required actions." {
		t.Errorf("Text = %q", out.Text)
	}
	if fp.generateCalls != 2 {
		t.Errorf("generate calls = %d, want 2", fp.generateCalls)
	}
}

func TestRunRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.RateLimitPerMinute = 1
	cfg.Agent.RateLimitBurst = 1
	fp := &fakeProvider{replies: []*provider.Reply{textReply("ok")}}
	rt := newTestRuntime(t, cfg, fp)

	if _, err := rt.Run(context.Background(), 1, 10, "first"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if _, err := rt.Run(context.Background(), 1, 10, "second"); err != ErrRateLimited {
		t.Errorf("second Run() error = %v, want ErrRateLimited", err)
	}
}

func TestCancelAllForChat(t *testing.T) {
	cfg := testConfig(t)
	fp := &fakeProvider{replies: []*provider.Reply{
		toolReply(provider.ToolCall{ID: "c1", Name: "exec", Args: map[string]any{"command": "true"}}),
	}}
	rt := newTestRuntime(t, cfg, fp)

	out, err := rt.Run(context.Background(), 1, 10, "start then abandon")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != store.SessionAwaitingConfirmation {
		t.Fatalf("Status = %q", out.Status)
	}

	n, err := rt.CancelAllForChat(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("CancelAllForChat() error = %v", err)
	}
	if n != 1 {
		t.Errorf("affected sessions = %d, want 1", n)
	}
	if _, err := rt.Resume(context.Background(), out.ConfirmationID, 10); err != ErrConfirmationExpired {
		t.Errorf("Resume after cancel-all: error = %v, want ErrConfirmationExpired", err)
	}
}
