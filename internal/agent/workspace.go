package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const defaultAgentsMD = `# AGENTS

You are running inside a dedicated agent workspace.

Rules:
- Work only inside this workspace directory.
- Prefer small, reversible file edits.
- Explain what changed and why.
- Keep dangerous operations explicit and minimal.
`

const defaultMemoryMD = `# MEMORY

Persistent notes for this workspace.

- Store important facts, preferences, and decisions.
- Remove stale or incorrect notes when needed.
`

// EnsureBaseWorkspace creates the base workspace directory with its scaffold
// markdown files and returns its absolute path. Scaffolding is guarded by a
// file lock so concurrent processes do not race on first creation.
func EnsureBaseWorkspace(baseDir string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("workspace dir is not configured")
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", fmt.Errorf("creating workspace root %q: %w", base, err)
	}

	lock := flock.New(filepath.Join(base, ".warden.lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking workspace root: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := ensureScaffold(base); err != nil {
		return "", err
	}
	return base, nil
}

// EnsureChatWorkspace creates (if needed) and returns the workspace
// directory for a chat under baseDir. Negative chat IDs, as used by group
// chats, map to chat_neg_<abs> directories.
func EnsureChatWorkspace(baseDir string, chatID int64) (string, error) {
	base, err := EnsureBaseWorkspace(baseDir)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(base, chatFolderName(chatID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating chat workspace %q: %w", dir, err)
	}
	if err := ensureScaffold(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func chatFolderName(chatID int64) string {
	if chatID < 0 {
		return fmt.Sprintf("chat_neg_%d", -chatID)
	}
	return fmt.Sprintf("chat_%d", chatID)
}

func ensureScaffold(dir string) error {
	if err := ensureTextFile(filepath.Join(dir, "AGENTS.md"), defaultAgentsMD); err != nil {
		return err
	}
	return ensureTextFile(filepath.Join(dir, "MEMORY.md"), defaultMemoryMD)
}

// ensureTextFile writes defaultContent to path only when the file does not
// exist yet. Existing files are never touched.
func ensureTextFile(path, defaultContent string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("creating %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(defaultContent); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}
