// Package skills implements skill discovery and selection.
//
// A skill is a named capability bundle: instructions, trigger keywords, tags
// and an allowed-tool list, authored as a markdown file with a YAML
// frontmatter header. Selection ranks skills against the user prompt with a
// cheap heuristic and optionally re-ranks the candidates with a model; the
// union of the selected skills' allowed tools is the input to the tool
// policy evaluator.
package skills

import (
	"fmt"
	"slices"
	"strings"
)

// Risk levels, informational only.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Skill is a loaded skill document.
type Skill struct {
	Name         string
	Description  string
	Tags         []string
	Triggers     []string
	AllowedTools []string
	RiskLevel    string
	Version      string
	Enabled      bool
	AlwaysActive bool

	// Instructions is the free-text body below the frontmatter.
	Instructions string

	// Path is the source file, empty for built-in skills.
	Path string
}

// CoreWorkspaceName is the built-in always-active skill carrying the
// workspace file and shell tools.
const CoreWorkspaceName = "core-workspace"

// CoreWorkspace returns the built-in skill present unconditionally in every
// run. It does not count against the max-active budget.
func CoreWorkspace() Skill {
	return Skill{
		Name:         CoreWorkspaceName,
		Description:  "Core workspace file and shell operations.",
		AllowedTools: []string{"read_file", "write_file", "edit_file", "exec"},
		RiskLevel:    RiskMedium,
		Enabled:      true,
		AlwaysActive: true,
		Instructions: "Operate only inside the chat workspace. Prefer reading " +
			"before writing, keep edits minimal, and report command failures verbatim.",
	}
}

// ToolUnion returns the sorted, deduplicated, case-normalized union of the
// allowed-tool lists of the given skills.
func ToolUnion(selected []Skill) []string {
	seen := make(map[string]struct{})
	var union []string
	for _, s := range selected {
		for _, t := range s.AllowedTools {
			norm := strings.ToLower(strings.TrimSpace(t))
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			union = append(union, norm)
		}
	}
	slices.Sort(union)
	return union
}

// Catalog renders a one-line-per-skill listing for the system prompt.
func Catalog(all []Skill) string {
	var b strings.Builder
	for _, s := range all {
		tags := "-"
		if len(s.Tags) > 0 {
			tags = strings.Join(s.Tags, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s (tags: %s; risk: %s)\n", s.Name, s.Description, tags, s.RiskLevel)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ActiveContext renders the full instruction blocks of the active skills
// for the system prompt.
func ActiveContext(active []Skill) string {
	var blocks []string
	for _, s := range active {
		allowed := "-"
		if len(s.AllowedTools) > 0 {
			allowed = strings.Join(s.AllowedTools, ", ")
		}
		blocks = append(blocks, fmt.Sprintf(
			"Skill: %s\nDescription: %s\nAllowed tools: %s\nInstructions:\n%s",
			s.Name, s.Description, allowed, s.Instructions))
	}
	return strings.Join(blocks, "\n\n")
}
