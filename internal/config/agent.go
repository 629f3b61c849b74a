package config

import (
	"slices"
	"strings"
	"time"
)

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	// WorkspaceDir is the base directory holding per-chat workspaces
	// (default: ~/.warden/workspaces).
	WorkspaceDir string `mapstructure:"workspace_dir" json:"workspace_dir"`

	// MaxToolIterations caps provider round-trips per run (default: 8).
	MaxToolIterations int `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`

	// ConfirmTools lists side-effecting tools that must pause for human
	// confirmation before executing (default: write_file, edit_file, exec).
	ConfirmTools []string `mapstructure:"confirm_tools" json:"confirm_tools"`

	// RateLimitPerMinute and RateLimitBurst bound how fast a single chat
	// can start new runs.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Hygiene loop settings.
	HygieneIntervalMinutes int `mapstructure:"hygiene_interval_minutes" json:"hygiene_interval_minutes"`
	SessionRetentionDays   int `mapstructure:"session_retention_days" json:"session_retention_days"`
	MemoryRetentionDays    int `mapstructure:"memory_retention_days" json:"memory_retention_days"`
}

// RequiresConfirmation reports whether toolName is configured to pause for
// confirmation. Matching is case-insensitive.
func (c AgentConfig) RequiresConfirmation(toolName string) bool {
	name := strings.ToLower(strings.TrimSpace(toolName))
	return slices.ContainsFunc(c.ConfirmTools, func(t string) bool {
		return strings.ToLower(strings.TrimSpace(t)) == name
	})
}

// HygieneInterval returns the hygiene loop period as a duration.
func (c AgentConfig) HygieneInterval() time.Duration {
	return time.Duration(c.HygieneIntervalMinutes) * time.Minute
}

// SkillsConfig controls skill discovery and selection.
type SkillsConfig struct {
	// Dir is the skill document directory (default: ~/.warden/skills).
	Dir string `mapstructure:"dir" json:"dir"`

	// MaxActive caps selected skills per run, not counting always-active
	// skills (default: 3).
	MaxActive int `mapstructure:"max_active" json:"max_active"`

	// CandidateLimit caps heuristic candidates handed to the re-ranker
	// (default: 8).
	CandidateLimit int `mapstructure:"candidate_limit" json:"candidate_limit"`

	// RerankEnabled toggles the model-assisted re-ranking stage.
	RerankEnabled bool `mapstructure:"rerank_enabled" json:"rerank_enabled"`
}

// MemoryConfig controls the memory subsystem.
type MemoryConfig struct {
	// EmbedderModel is the Gemini embedding model (default: gemini-embedding-001).
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// RecallLimit caps entries recalled per run (default: 5).
	RecallLimit int `mapstructure:"recall_limit" json:"recall_limit"`

	// MinRelevance drops recalled entries scoring below this blend value.
	MinRelevance float64 `mapstructure:"min_relevance" json:"min_relevance"`

	// ContextCharBudget caps the rendered memory context block.
	ContextCharBudget int `mapstructure:"context_char_budget" json:"context_char_budget"`
}
