package config

import "time"

// ACLConfig controls the authorization engine.
type ACLConfig struct {
	// Enabled toggles enforcement. When false every authorization check
	// allows with reason "acl_disabled".
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Path is the permission file location (default: ~/.warden/permissions.json).
	Path string `mapstructure:"path" json:"path"`

	// ReloadTTLSeconds bounds how often the permission file's mtime is
	// re-checked (default: 30).
	ReloadTTLSeconds int `mapstructure:"reload_ttl_seconds" json:"reload_ttl_seconds"`
}

// ReloadTTL returns the reload TTL as a duration.
func (c ACLConfig) ReloadTTL() time.Duration {
	return time.Duration(c.ReloadTTLSeconds) * time.Second
}

// PolicyConfig controls the tool policy evaluator.
type PolicyConfig struct {
	// Enabled toggles enforcement. When false Evaluate always passes.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// DenyTools is a static denylist checked after the skill allowlist.
	DenyTools []string `mapstructure:"deny_tools" json:"deny_tools"`

	// AllowTools, when non-empty, restricts tools to this static allowlist.
	AllowTools []string `mapstructure:"allow_tools" json:"allow_tools"`

	// ExecAllowPatterns, when non-empty, restricts the exec tool to
	// commands matching at least one of these regular expressions.
	ExecAllowPatterns []string `mapstructure:"exec_allow_patterns" json:"exec_allow_patterns"`
}

// ExecConfig controls the shell sandbox.
type ExecConfig struct {
	// TimeoutSeconds is the hard wall-clock limit per command (default: 60).
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`

	// MaxOutputChars truncates combined stdout/stderr (default: 16000).
	MaxOutputChars int `mapstructure:"max_output_chars" json:"max_output_chars"`

	// RestrictToWorkspace rejects commands referencing paths outside the
	// chat workspace (default: true).
	RestrictToWorkspace bool `mapstructure:"restrict_to_workspace" json:"restrict_to_workspace"`

	// DenyPatterns are additional regexes rejected on top of the built-in
	// dangerous-command set.
	DenyPatterns []string `mapstructure:"deny_patterns" json:"deny_patterns"`
}

// Timeout returns the command timeout as a duration.
func (c ExecConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
