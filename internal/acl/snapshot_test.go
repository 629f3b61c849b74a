package acl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wardenhq/warden/internal/log"
)

func writePermissionFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "permissions.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing permission file: %v", err)
	}
	return path
}

const samplePermissions = `{
	"version": 3,
	"owner_user_ids": [1],
	"full_access_chat_ids": [99],
	"global": {"allow_commands": ["Help", "/start"], "allow_tools": ["read_file"]},
	"chats": {
		"5": {
			"full_access": false,
			"allow_commands": ["img", "summary"],
			"deny_commands": ["img"],
			"allow_tools": ["exec"],
			"deny_tools": ["web_search"]
		},
		"7": {"full_access": true}
	}
}`

func loadSample(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := LoadSnapshot(writePermissionFile(t, samplePermissions), log.NewNop())
	if err != nil {
		t.Fatalf("LoadSnapshot(): %v", err)
	}
	return snap
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Help", "help"},
		{"/start", "start"},
		{"  /IMG  ", "img"},
		{"", ""},
		{"/", ""},
		{"  ", ""},
	}

	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthorizeDecisionOrder(t *testing.T) {
	snap := loadSample(t)

	tests := []struct {
		name    string
		chatID  int64
		userID  int64
		cmd     string
		kind    Kind
		allowed bool
		reason  string
	}{
		{"owner bypasses chat deny", 5, 1, "img", KindCommand, true, ReasonOwnerBypass},
		{"chat deny wins over chat allow", 5, 2, "img", KindCommand, false, ReasonChatDeny},
		{"chat allow", 5, 2, "summary", KindCommand, true, ReasonChatAllow},
		{"global allow", 5, 2, "help", KindCommand, true, ReasonGlobalAllow},
		{"global allow normalized", 5, 2, "/Start", KindCommand, true, ReasonGlobalAllow},
		{"not allowed", 5, 2, "deploy", KindCommand, false, ReasonNotAllowed},
		{"full access chat", 99, 2, "anything", KindCommand, true, ReasonFullAccessChat},
		{"chat rule full access", 7, 2, "anything", KindCommand, true, ReasonChatFullAccess},
		{"empty command", 5, 2, "  ", KindCommand, false, ReasonEmptyCommand},
		{"empty tool", 5, 2, "/", KindTool, false, ReasonEmptyTool},
		{"tool chat allow", 5, 2, "exec", KindTool, true, ReasonChatAllow},
		{"tool chat deny", 5, 2, "web_search", KindTool, false, ReasonChatDeny},
		{"tool global allow", 5, 2, "read_file", KindTool, true, ReasonGlobalAllow},
		{"tool not allowed", 5, 2, "write_file", KindTool, false, ReasonNotAllowed},
		{"unknown chat falls to global", 1234, 2, "help", KindCommand, true, ReasonGlobalAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snap.Authorize(tt.chatID, tt.userID, tt.cmd, tt.kind)
			if got.Allowed != tt.allowed || got.Reason != tt.reason {
				t.Errorf("Authorize() = {%v %q}, want {%v %q}",
					got.Allowed, got.Reason, tt.allowed, tt.reason)
			}
		})
	}
}

func TestLoadSnapshotSkipsMalformedChatKeys(t *testing.T) {
	path := writePermissionFile(t, `{
		"version": 1,
		"chats": {
			"5": {"allow_commands": ["img"]},
			"notanumber": {"full_access": true},
			"": {"full_access": true}
		}
	}`)

	snap, err := LoadSnapshot(path, log.NewNop())
	if err != nil {
		t.Fatalf("LoadSnapshot(): %v", err)
	}
	if len(snap.Chats) != 1 {
		t.Errorf("Chats = %d, want 1 (malformed keys skipped)", len(snap.Chats))
	}
	if snap.SkippedChatKeys != 2 {
		t.Errorf("SkippedChatKeys = %d, want 2", snap.SkippedChatKeys)
	}
	if got := snap.Authorize(5, 2, "img", KindCommand); !got.Allowed {
		t.Errorf("valid chat rule lost when skipping malformed keys: %+v", got)
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"), log.NewNop()); err == nil {
		t.Error("LoadSnapshot() on missing file succeeded, want error")
	}
	if _, err := LoadSnapshot(writePermissionFile(t, "{not json"), log.NewNop()); err == nil {
		t.Error("LoadSnapshot() on malformed JSON succeeded, want error")
	}
}

func TestCompileSetDropsEmptyNames(t *testing.T) {
	set := compileSet([]string{"A", "/b", "", "  ", "/", "a"})
	if len(set) != 2 {
		t.Errorf("compileSet() = %v, want exactly {a, b}", set)
	}
	if !set.has("a") || !set.has("b") {
		t.Errorf("compileSet() = %v, missing normalized names", set)
	}
}
