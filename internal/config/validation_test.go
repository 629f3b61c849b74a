package config

import (
	"errors"
	"strings"
	"testing"
)

// validBaseConfig returns a Config with all required fields set.
func validBaseConfig() *Config {
	return &Config{
		Provider:         ProviderGemini,
		ModelName:        "gemini-2.5-flash",
		Temperature:      0.7,
		MaxTokens:        4096,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "warden",
		PostgresPassword: "test_password",
		PostgresDBName:   "warden",
		PostgresSSLMode:  "disable",
		ACL: ACLConfig{
			Enabled:          true,
			Path:             "/tmp/permissions.json",
			ReloadTTLSeconds: 30,
		},
		Exec: ExecConfig{
			TimeoutSeconds: 60,
			MaxOutputChars: 16000,
		},
		Agent: AgentConfig{
			MaxToolIterations: 8,
			ConfirmTools:      []string{"write_file", "edit_file", "exec"},
		},
		Skills: SkillsConfig{
			MaxActive:      3,
			CandidateLimit: 8,
		},
		Memory: MemoryConfig{
			EmbedderModel: DefaultEmbedderModel,
		},
	}
}

func TestValidateSuccess(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")

	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("Validate() on valid config: %v", err)
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil config = %v, want ErrConfigNil", err)
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	err := validBaseConfig().Validate()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateOpenRouterAPIKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test-or-key")

	cfg := validBaseConfig()
	cfg.Provider = ProviderOpenRouter
	cfg.ModelName = "anthropic/claude-sonnet-4"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with OpenRouter provider: %v", err)
	}

	t.Setenv("OPENROUTER_API_KEY", "")
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() without OPENROUTER_API_KEY = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateRanges(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown provider", func(c *Config) { c.Provider = "mistral" }, ErrInvalidProvider},
		{"empty model name", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"zero iterations", func(c *Config) { c.Agent.MaxToolIterations = 0 }, ErrInvalidMaxToolIterations},
		{"huge iterations", func(c *Config) { c.Agent.MaxToolIterations = 100 }, ErrInvalidMaxToolIterations},
		{"zero reload ttl", func(c *Config) { c.ACL.ReloadTTLSeconds = 0 }, ErrInvalidACLReloadTTL},
		{"zero exec timeout", func(c *Config) { c.Exec.TimeoutSeconds = 0 }, ErrInvalidExecTimeout},
		{"tiny output budget", func(c *Config) { c.Exec.MaxOutputChars = 10 }, ErrInvalidExecMaxOutput},
		{"zero max active skills", func(c *Config) { c.Skills.MaxActive = 0 }, ErrInvalidSkillBudget},
		{"candidate limit below max active", func(c *Config) { c.Skills.CandidateLimit = 1 }, ErrInvalidSkillBudget},
		{"empty embedder model", func(c *Config) { c.Memory.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port too high", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"short password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalJSONMasksPassword(t *testing.T) {
	cfg := validBaseConfig()
	cfg.PostgresPassword = "super_secret_password_123"

	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON(): %v", err)
	}
	if strings.Contains(string(data), "super_secret_password_123") {
		t.Error("MarshalJSON() leaked the postgres password")
	}
	if !strings.Contains(string(data), maskedValue) {
		t.Error("MarshalJSON() did not mask the postgres password")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", maskedValue},
		{"12345678", maskedValue},
		{"my_long_secret_key", "my<" + maskedValue + ">ey"},
	}

	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequiresConfirmation(t *testing.T) {
	cfg := AgentConfig{ConfirmTools: []string{"write_file", "Exec"}}

	tests := []struct {
		tool string
		want bool
	}{
		{"write_file", true},
		{"WRITE_FILE", true},
		{" exec ", true},
		{"read_file", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := cfg.RequiresConfirmation(tt.tool); got != tt.want {
			t.Errorf("RequiresConfirmation(%q) = %v, want %v", tt.tool, got, tt.want)
		}
	}
}
