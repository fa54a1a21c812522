// Package config handles loading and validating Kiongozi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kiongozi.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.kiongozi/data. Override: KIONGOZI_DATA_DIR env var.
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Team          []WorkerConfig       `json:"team" yaml:"team"`
	Orchestrator  *OrchestratorConfig  `json:"orchestrator,omitempty" yaml:"orchestrator,omitempty"` // nil = defaults
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`           // nil = sqlite in the data dir
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = cron scheduler disabled
}

// ProvidersConfig selects and configures the completion backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "openai", "anthropic", "ollama". Empty = "openai".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

// DefaultProvider returns the configured default provider name.
func (p *ProvidersConfig) DefaultProvider() string {
	if p.Default != "" {
		return p.Default
	}
	return "openai"
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// WorkerConfig declares one member of the fixed team.
type WorkerConfig struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"` // Doubles as the worker's system prompt.
	Kind        string     `json:"kind" yaml:"kind"`               // "llm" (default) or "mcp".
	Execution   bool       `json:"execution" yaml:"execution"`     // Worker can execute fenced scripts.
	Provider    string     `json:"provider,omitempty" yaml:"provider,omitempty"` // Per-worker provider override.
	MaxTokens   int        `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MCP         *MCPConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"` // Required when kind is "mcp".
}

// WorkerKind returns the worker kind, defaulting to "llm".
func (w *WorkerConfig) WorkerKind() string {
	if w.Kind != "" {
		return w.Kind
	}
	return "llm"
}

// MCPConfig configures a tool-backed worker speaking the Model Context
// Protocol.
type MCPConfig struct {
	Transport string            `json:"transport" yaml:"transport"` // "stdio" (default), "sse", "streamable-http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Tool      string            `json:"tool" yaml:"tool"`                             // Tool invoked on each turn.
	ArgKey    string            `json:"arg_key,omitempty" yaml:"arg_key,omitempty"`   // Argument carrying the instruction. Default: "input".
}

// OrchestratorConfig tunes the control loop.
type OrchestratorConfig struct {
	MaxTurns        int    `json:"max_turns" yaml:"max_turns"`                 // Default: 30.
	OracleProvider  string `json:"oracle_provider" yaml:"oracle_provider"`     // Provider answering planning queries. Empty = default provider.
	OracleMaxTokens int    `json:"oracle_max_tokens" yaml:"oracle_max_tokens"` // 0 = provider default.
}

// TurnBudget returns the configured turn budget with a default of 30.
func (o *OrchestratorConfig) TurnBudget() int {
	if o != nil && o.MaxTurns > 0 {
		return o.MaxTurns
	}
	return 30
}

// StorageConfig configures the persistence backend.
// When nil, runs live in memory only.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// GatewaysConfig groups the outward-facing surfaces.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"` // Live event stream for observers.
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	EnableDocs        bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr        string            `json:"listen_addr" yaml:"listen_addr"`
	APIKeyUserMapping map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the WebSocket event stream.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`   // URL path for the WebSocket endpoint. Default: "/ws/events".
	Token   string `json:"token" yaml:"token"` // Shared token for observer authentication.
}

// WSPath returns the WebSocket path with a default of "/ws/events".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/events"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kiongozi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Service returns the reported service name with a default of "kiongozi".
func (t *TracingConfig) Service() string {
	if t != nil && t.ServiceName != "" {
		return t.ServiceName
	}
	return "kiongozi"
}

// SamplerRatio returns the trace sampling ratio with a default of 1.0.
func (t *TracingConfig) SamplerRatio() float64 {
	if t == nil || t.SampleRate <= 0 {
		return 1.0
	}
	return t.SampleRate
}

// SchedulerConfig configures cron-driven task submission.
// When nil, no scheduled jobs run.
type SchedulerConfig struct {
	Enabled             bool           `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int            `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 30.
	Jobs                []ScheduledJob `json:"jobs" yaml:"jobs"`
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// ScheduledJob submits a fixed task on a cron schedule.
type ScheduledJob struct {
	Name string `json:"name" yaml:"name"`
	Cron string `json:"cron" yaml:"cron"` // Standard 5-field cron expression.
	Task string `json:"task" yaml:"task"`
}

// DefaultConfigPath returns the default config file path (~/.kiongozi/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kiongozi.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kiongozi", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	// Environment variable overrides — env vars take precedence over config values.
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		cfg.Providers.Anthropic.APIKey = envKey
	}
	if envDD := os.Getenv("KIONGOZI_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvedDataDir returns the data directory, defaulting to ~/.kiongozi/data.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		dir, err := resolvePath(c.DataDir)
		if err == nil {
			return dir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".kiongozi", "data")
	}
	return filepath.Join(home, ".kiongozi", "data")
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
	}
	return filepath.Join(c.ResolvedDataDir(), "kiongozi.db")
}

func (c *Config) validate() error {
	if len(c.Team) == 0 {
		return fmt.Errorf("team must declare at least one worker")
	}
	seen := make(map[string]bool, len(c.Team))
	for i, w := range c.Team {
		if w.Name == "" {
			return fmt.Errorf("team[%d]: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("team[%d]: duplicate worker name %q", i, w.Name)
		}
		seen[w.Name] = true
		if w.Description == "" {
			return fmt.Errorf("team[%d] (%s): description is required", i, w.Name)
		}
		switch w.WorkerKind() {
		case "llm":
		case "mcp":
			if w.MCP == nil {
				return fmt.Errorf("team[%d] (%s): mcp settings are required for mcp workers", i, w.Name)
			}
			if w.MCP.Tool == "" {
				return fmt.Errorf("team[%d] (%s): mcp.tool is required", i, w.Name)
			}
		default:
			return fmt.Errorf("team[%d] (%s): unknown worker kind %q", i, w.Name, w.Kind)
		}
		if w.Provider != "" {
			if err := c.validateProviderName(w.Provider); err != nil {
				return fmt.Errorf("team[%d] (%s): %w", i, w.Name, err)
			}
		}
	}

	if err := c.validateProviderName(c.Providers.DefaultProvider()); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProviderName(name); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	if c.Orchestrator != nil && c.Orchestrator.OracleProvider != "" {
		if err := c.validateProviderName(c.Orchestrator.OracleProvider); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	}

	if c.Storage != nil {
		switch c.Storage.StorageDriver() {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
		}
	}

	if c.Scheduler != nil && c.Scheduler.Enabled {
		for i, job := range c.Scheduler.Jobs {
			if job.Name == "" || job.Cron == "" || job.Task == "" {
				return fmt.Errorf("scheduler.jobs[%d]: name, cron, and task are all required", i)
			}
		}
	}
	return nil
}

func (c *Config) validateProviderName(name string) error {
	switch name {
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "ollama":
		// Local, no key.
	default:
		return fmt.Errorf("unknown provider %q", name)
	}
	return nil
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
