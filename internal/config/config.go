// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.warden/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: model provider selection and generation limits
//   - ACL: permission file location and reload policy (see acl.go)
//   - Policy: tool allow/deny lists and exec command allowlist (see acl.go)
//   - Exec: shell sandbox limits (see acl.go)
//   - Agent: orchestration loop, workspaces, rate limit, hygiene (see agent.go)
//   - Skills: skill directory and selection budgets (see agent.go)
//   - Memory: embedder and recall tuning (see agent.go)
//   - Storage: PostgreSQL connection (see storage.go)
//   - Tracing: OTLP trace export (see observability.go)
//
// Error Handling:
//   - Sentinel errors for Go-idiomatic checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxToolIterations indicates the iteration cap is out of range.
	ErrInvalidMaxToolIterations = errors.New("invalid max tool iterations")

	// ErrInvalidACLReloadTTL indicates the ACL reload TTL is out of range.
	ErrInvalidACLReloadTTL = errors.New("invalid acl reload ttl")

	// ErrInvalidExecTimeout indicates the shell timeout is out of range.
	ErrInvalidExecTimeout = errors.New("invalid exec timeout")

	// ErrInvalidExecMaxOutput indicates the output budget is out of range.
	ErrInvalidExecMaxOutput = errors.New("invalid exec max output chars")

	// ErrInvalidSkillBudget indicates a skill selection budget is out of range.
	ErrInvalidSkillBudget = errors.New("invalid skill selection budget")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default but supports
// truncation via OutputDimensionality; the pgvector schema uses 768.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// Model provider configuration
	Provider    string  `mapstructure:"provider" json:"provider"`       // "gemini" (default) or "openrouter"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`   // e.g. "gemini-2.5-flash", "anthropic/claude-sonnet-4"
	RerankModel string  `mapstructure:"rerank_model" json:"rerank_model"` // cheap model for skill re-ranking; empty disables re-rank
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Subsystem configuration
	ACL     ACLConfig     `mapstructure:"acl" json:"acl"`
	Policy  PolicyConfig  `mapstructure:"policy" json:"policy"`
	Exec    ExecConfig    `mapstructure:"exec" json:"exec"`
	Agent   AgentConfig   `mapstructure:"agent" json:"agent"`
	Skills  SkillsConfig  `mapstructure:"skills" json:"skills"`
	Memory  MemoryConfig  `mapstructure:"memory" json:"memory"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Dir returns the warden configuration directory (~/.warden).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	return filepath.Join(home, ".warden"), nil
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	// 0750: the directory holds the permission file and workspaces
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("rerank_model", "gemini-2.5-flash-lite")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 4096)

	// PostgreSQL defaults for a local development database
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "warden")
	viper.SetDefault("postgres_password", "warden_dev_password")
	viper.SetDefault("postgres_db_name", "warden")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// ACL defaults
	viper.SetDefault("acl.enabled", true)
	viper.SetDefault("acl.path", filepath.Join(configDir, "permissions.json"))
	viper.SetDefault("acl.reload_ttl_seconds", 30)

	// Policy defaults
	viper.SetDefault("policy.enabled", true)
	viper.SetDefault("policy.deny_tools", []string{})
	viper.SetDefault("policy.allow_tools", []string{})
	viper.SetDefault("policy.exec_allow_patterns", []string{})

	// Exec sandbox defaults
	viper.SetDefault("exec.timeout_seconds", 60)
	viper.SetDefault("exec.max_output_chars", 16000)
	viper.SetDefault("exec.restrict_to_workspace", true)
	viper.SetDefault("exec.deny_patterns", []string{})

	// Agent defaults
	viper.SetDefault("agent.workspace_dir", filepath.Join(configDir, "workspaces"))
	viper.SetDefault("agent.max_tool_iterations", 8)
	viper.SetDefault("agent.confirm_tools", []string{"write_file", "edit_file", "exec"})
	viper.SetDefault("agent.rate_limit_per_minute", 6)
	viper.SetDefault("agent.rate_limit_burst", 3)
	viper.SetDefault("agent.hygiene_interval_minutes", 60)
	viper.SetDefault("agent.session_retention_days", 30)
	viper.SetDefault("agent.memory_retention_days", 180)

	// Skills defaults
	viper.SetDefault("skills.dir", filepath.Join(configDir, "skills"))
	viper.SetDefault("skills.max_active", 3)
	viper.SetDefault("skills.candidate_limit", 8)
	viper.SetDefault("skills.rerank_enabled", true)

	// Memory defaults
	viper.SetDefault("memory.embedder_model", DefaultEmbedderModel)
	viper.SetDefault("memory.recall_limit", 5)
	viper.SetDefault("memory.min_relevance", 0.25)
	viper.SetDefault("memory.context_char_budget", 2000)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "warden")
}

// bindEnvVariables binds environment variable overrides explicitly.
// Provider API keys (GEMINI_API_KEY, OPENROUTER_API_KEY) are read directly
// by the provider package, not via viper; Validate() checks their presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "WARDEN_PROVIDER")
	mustBind("model_name", "WARDEN_MODEL_NAME")
	mustBind("acl.path", "WARDEN_ACL_PATH")
	mustBind("acl.enabled", "WARDEN_ACL_ENABLED")
	mustBind("skills.dir", "WARDEN_SKILLS_DIR")
	mustBind("agent.workspace_dir", "WARDEN_WORKSPACE_DIR")
	mustBind("tracing.enabled", "WARDEN_TRACING_ENABLED")
	mustBind("tracing.endpoint", "WARDEN_TRACING_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
