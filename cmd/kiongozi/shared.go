package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bassmang/kiongozi/internal/config"
	"github.com/bassmang/kiongozi/internal/events"
	"github.com/bassmang/kiongozi/internal/llm"
	"github.com/bassmang/kiongozi/internal/llm/anthropic"
	"github.com/bassmang/kiongozi/internal/llm/openai"
	"github.com/bassmang/kiongozi/internal/observability"
	"github.com/bassmang/kiongozi/internal/orchestrator"
	"github.com/bassmang/kiongozi/internal/storage"
	pgstore "github.com/bassmang/kiongozi/internal/storage/postgres"
	sqlitestore "github.com/bassmang/kiongozi/internal/storage/sqlite"
	"github.com/bassmang/kiongozi/internal/team"
)

// SharedComponents holds all initialized subsystems that both server and
// one-shot modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Registry *prometheus.Registry       // nil = metrics disabled.
	Tracer   *observability.TracerSetup // nil = tracing disabled.
	Broker   *events.Broker
	Team     *team.Team
	Engine   *orchestrator.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between server and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Metrics.
	if cfg.Observability != nil && cfg.Observability.Metrics != nil && cfg.Observability.Metrics.Enabled {
		sc.Registry = prometheus.NewRegistry()
		logger.Debug("metrics registry initialized")
	}

	// Tracing.
	if cfg.Observability != nil && cfg.Observability.Tracing != nil && cfg.Observability.Tracing.Enabled {
		ts, err := observability.NewTracerSetup(cfg.Observability.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		sc.Tracer = ts
		sc.addCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ts.Shutdown(shutdownCtx)
		})
		logger.Debug("tracing initialized")
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(ctx, cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() { _ = store.Close() })
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Completion oracle.
	oracleProvider, err := newLLMProvider(cfg, oracleProviderName(cfg), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing oracle provider: %w", err)
	}
	var oracleMaxTokens int
	if cfg.Orchestrator != nil {
		oracleMaxTokens = cfg.Orchestrator.OracleMaxTokens
	}
	oracle := orchestrator.NewOracle(oracleProvider, oracleMaxTokens)

	// Worker team.
	tm, err := buildTeam(ctx, cfg, sc, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing team: %w", err)
	}
	sc.Team = tm
	logger.Debug("team initialized", slog.Int("workers", tm.Size()))

	// Event broker for live observers.
	sc.Broker = events.NewBroker()

	// Orchestrator and run engine.
	var metrics *orchestrator.Metrics
	if sc.Registry != nil {
		metrics = orchestrator.NewMetrics(sc.Registry)
	}
	orch := orchestrator.New(oracle, tm, logger).
		WithStore(store.Runs()).
		WithBroker(sc.Broker).
		WithMetrics(metrics).
		WithConfig(orchestrator.Config{MaxTurns: cfg.Orchestrator.TurnBudget()})
	if sc.Tracer != nil {
		orch = orch.WithTracer(sc.Tracer.Tracer())
	}

	sc.Engine = orchestrator.NewEngine(
		store.Runs(), orch, metrics, logger,
		orchestrator.EngineConfig{MaxTurns: cfg.Orchestrator.TurnBudget()},
	).WithBroker(sc.Broker)

	return sc, nil
}

// initStore opens the configured storage backend and runs migrations.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.StorageDriver() {
	case storage.DriverSQLite:
		store, err = sqlitestore.Open(sqlitestore.Config{Path: cfg.DatabasePath()}, logger)
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		store, err = pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.StorageDriver())
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

// oracleProviderName resolves the provider answering planning queries.
func oracleProviderName(cfg *config.Config) string {
	if cfg.Orchestrator != nil && cfg.Orchestrator.OracleProvider != "" {
		return cfg.Orchestrator.OracleProvider
	}
	return cfg.Providers.DefaultProvider()
}

// newLLMProvider builds the named provider, wrapping it in a fallback chain
// when one is configured.
func newLLMProvider(cfg *config.Config, name string, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(name, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Build fallback chain if configured.
	var fallbacks []llm.Provider
	for _, fbName := range cfg.Providers.Fallback {
		if fbName == name {
			continue
		}
		fb, err := buildProvider(fbName, cfg, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", fbName),
				slog.String("error", err.Error()),
			)
			continue
		}
		fallbacks = append(fallbacks, fb)
	}
	if len(fallbacks) > 0 {
		return llm.NewFallbackProvider(primary, logger, fallbacks...), nil
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "openai", "":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "anthropic":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// buildTeam constructs the fixed worker roster from config. MCP workers
// register their close functions on the shared cleanup stack.
func buildTeam(ctx context.Context, cfg *config.Config, sc *SharedComponents, logger *slog.Logger) (*team.Team, error) {
	workers := make([]team.Worker, 0, len(cfg.Team))
	for _, wc := range cfg.Team {
		switch wc.WorkerKind() {
		case "llm":
			providerName := wc.Provider
			if providerName == "" {
				providerName = cfg.Providers.DefaultProvider()
			}
			provider, err := newLLMProvider(cfg, providerName, logger)
			if err != nil {
				return nil, fmt.Errorf("worker %s: %w", wc.Name, err)
			}
			var opts []team.LLMWorkerOption
			if wc.Execution {
				opts = append(opts, team.WithExecution())
			}
			if wc.MaxTokens > 0 {
				opts = append(opts, team.WithMaxTokens(wc.MaxTokens))
			}
			workers = append(workers, team.NewLLMWorker(wc.Name, wc.Description, provider, logger, opts...))

		case "mcp":
			worker, closeFn, err := team.NewMCPWorker(ctx, wc.Name, wc.Description, wc.Execution, team.MCPConfig{
				Transport: wc.MCP.Transport,
				Command:   wc.MCP.Command,
				Args:      wc.MCP.Args,
				Env:       wc.MCP.Env,
				URL:       wc.MCP.URL,
				Headers:   wc.MCP.Headers,
				Tool:      wc.MCP.Tool,
				ArgKey:    wc.MCP.ArgKey,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("worker %s: %w", wc.Name, err)
			}
			sc.addCleanup(func() { _ = closeFn() })
			workers = append(workers, worker)

		default:
			return nil, fmt.Errorf("worker %s: unknown kind %q", wc.Name, wc.Kind)
		}
	}
	return team.New(workers...)
}
