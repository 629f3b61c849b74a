package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenRouter:
		if os.Getenv("OPENROUTER_API_KEY") == "" {
			return fmt.Errorf("%w: OPENROUTER_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q, must be %q or %q",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenRouter)
	}

	// 2. Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 3. Orchestration bounds
	if c.Agent.MaxToolIterations < 1 || c.Agent.MaxToolIterations > 64 {
		return fmt.Errorf("%w: must be between 1 and 64, got %d",
			ErrInvalidMaxToolIterations, c.Agent.MaxToolIterations)
	}

	// 4. ACL configuration
	if c.ACL.ReloadTTLSeconds < 1 || c.ACL.ReloadTTLSeconds > 3600 {
		return fmt.Errorf("%w: must be between 1 and 3600 seconds, got %d",
			ErrInvalidACLReloadTTL, c.ACL.ReloadTTLSeconds)
	}

	// 5. Exec sandbox bounds
	if c.Exec.TimeoutSeconds < 1 || c.Exec.TimeoutSeconds > 600 {
		return fmt.Errorf("%w: must be between 1 and 600 seconds, got %d",
			ErrInvalidExecTimeout, c.Exec.TimeoutSeconds)
	}
	if c.Exec.MaxOutputChars < 100 || c.Exec.MaxOutputChars > 1_000_000 {
		return fmt.Errorf("%w: must be between 100 and 1,000,000, got %d",
			ErrInvalidExecMaxOutput, c.Exec.MaxOutputChars)
	}

	// 6. Skill selection budgets
	if c.Skills.MaxActive < 1 || c.Skills.MaxActive > 16 {
		return fmt.Errorf("%w: max_active must be between 1 and 16, got %d",
			ErrInvalidSkillBudget, c.Skills.MaxActive)
	}
	if c.Skills.CandidateLimit < c.Skills.MaxActive || c.Skills.CandidateLimit > 64 {
		return fmt.Errorf("%w: candidate_limit must be between max_active (%d) and 64, got %d",
			ErrInvalidSkillBudget, c.Skills.MaxActive, c.Skills.CandidateLimit)
	}

	// 7. Memory configuration
	if c.Memory.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 8. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "warden_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 9. PostgreSQL SSL mode. Deprecated allow/prefer modes are excluded.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
