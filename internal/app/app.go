// Package app provides application initialization and dependency wiring.
//
// Setup builds the full component graph in dependency order: tracing,
// database pool with migrations, authorization, tool policy, the model
// provider, the memory subsystem and finally the agent runtime. Call Close
// to release everything in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenhq/warden/db"
	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/store"
)

// Environment variables holding provider credentials. They are read here,
// not via the config file, so secrets never land on disk.
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
)

// App is the application container.
type App struct {
	Config  *config.Config
	Logger  log.Logger
	DBPool  *pgxpool.Pool
	ACL     *acl.Manager
	Policy  *policy.Evaluator
	Store   *store.Store
	Memory  *memory.Store
	Runtime *agent.Runtime

	tracingShutdown func(context.Context) error
}

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	shutdown, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	a.tracingShutdown = shutdown

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.ACL = acl.NewManager(cfg.ACL, logger)
	a.Policy, err = policy.NewEvaluator(cfg.Policy, logger)
	if err != nil {
		return nil, err
	}

	a.Store, err = store.New(pool, logger)
	if err != nil {
		return nil, err
	}

	chat, err := provideChatProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Memory, err = provideMemory(ctx, cfg, pool, logger)
	if err != nil {
		return nil, err
	}

	a.Runtime, err = agent.New(cfg, chat, a.Store, a.Memory, a.ACL, a.Policy, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases all resources in reverse initialization order.
func (a *App) Close() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.DBPool = nil
	}
	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracingShutdown(ctx); err != nil {
			return fmt.Errorf("flushing traces: %w", err)
		}
		a.tracingShutdown = nil
	}
	return nil
}

func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func provideChatProvider(cfg *config.Config, logger log.Logger) (agent.ChatProvider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		chat, err := provider.NewGemini(os.Getenv(EnvGeminiAPIKey), provider.GeminiOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
		if errors.Is(err, provider.ErrNoAPIKey) {
			return nil, fmt.Errorf("%w: set %s", err, EnvGeminiAPIKey)
		}
		return chat, err
	case config.ProviderOpenRouter:
		chat, err := provider.NewOpenRouter(os.Getenv(EnvOpenRouterAPIKey), provider.OpenRouterOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
		if errors.Is(err, provider.ErrNoAPIKey) {
			return nil, fmt.Errorf("%w: set %s", err, EnvOpenRouterAPIKey)
		}
		return chat, err
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}

// provideMemory builds the memory subsystem. Embeddings always come from
// the Gemini embedder regardless of the chat provider; without a Gemini key
// memory is disabled and runs proceed without recall.
func provideMemory(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger log.Logger) (*memory.Store, error) {
	apiKey := os.Getenv(EnvGeminiAPIKey)
	if apiKey == "" {
		logger.Warn("memory disabled: no embedder credentials", "env", EnvGeminiAPIKey)
		return nil, nil
	}

	embedder, err := memory.NewGenAIEmbedder(ctx, apiKey, cfg.Memory.EmbedderModel)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return memory.New(pool, embedder, cfg.Memory, logger)
}
