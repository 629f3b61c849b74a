package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/skills"
)

// maxPromptFileChars caps how much of each workspace markdown file is
// inlined into the system prompt.
const maxPromptFileChars = 4000

// buildSystemPrompt assembles the per-run system prompt: identity and
// workspace preamble, the workspace AGENTS.md and MEMORY.md contents, the
// skill catalog and the active skills' full instructions.
func buildSystemPrompt(workspaceRoot string, catalog string, active []skills.Skill) string {
	now := time.Now().UTC().Format("2006-01-02 15:04:05 UTC")

	intro := fmt.Sprintf(
		"You are warden, an automation agent that reasons in multiple steps and uses tools.\n"+
			"Current time: %s\n"+
			"Workspace root: %s\n"+
			"Work strictly inside the workspace and avoid unsafe side effects.\n"+
			"If you call side-effecting tools (write_file/edit_file/exec), execution may require confirmation.\n"+
			"Follow selected skills as operational procedures.\n",
		now, workspaceRoot)

	sections := []string{intro}

	agentsBody := loadOptionalFile(filepath.Join(workspaceRoot, "AGENTS.md"))
	if agentsBody == "" {
		agentsBody = "AGENTS.md not found in workspace root."
	}
	sections = append(sections, section("Workspace agent guidelines (AGENTS.md):", agentsBody))

	memoryBody := loadOptionalFile(filepath.Join(workspaceRoot, "MEMORY.md"))
	if memoryBody == "" {
		memoryBody = "MEMORY.md not found in workspace root."
	}
	sections = append(sections, section("Persistent memory notes (MEMORY.md):", memoryBody))

	if catalog != "" {
		sections = append(sections, section("Skill catalog:", catalog))
	}

	activeContext := skills.ActiveContext(active)
	if activeContext == "" {
		activeContext = "No additional skills selected."
	}
	sections = append(sections, section("Active skill instructions:", activeContext))

	return strings.Join(sections, "\n")
}

// augmentPrompt prepends the recalled memory context block to the user
// prompt. An empty block leaves the prompt untouched.
func augmentPrompt(memoryBlock, prompt string) string {
	if memoryBlock == "" {
		return prompt
	}
	return memoryBlock + "\n\nUser request:\n" + prompt
}

func section(title, body string) string {
	return title + "\n" + body + "\n"
}

// loadOptionalFile returns the trimmed, char-capped contents of path, or ""
// when the file is missing or blank.
func loadOptionalFile(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}
	return truncateChars(trimmed, maxPromptFileChars)
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[Truncated]"
}
