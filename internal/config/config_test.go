package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
providers:
  default: openai
  openai:
    api_key: sk-test
    model: gpt-4o
team:
  - name: Surfer
    description: Browses the web for facts.
  - name: Runner
    description: Executes python and shell scripts.
    execution: true
orchestrator:
  max_turns: 10
gateways:
  http:
    enabled: true
    listen_addr: ":9090"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.DefaultProvider() != "openai" {
		t.Errorf("default provider = %q", cfg.Providers.DefaultProvider())
	}
	if len(cfg.Team) != 2 || cfg.Team[0].Name != "Surfer" {
		t.Errorf("unexpected team: %+v", cfg.Team)
	}
	if !cfg.Team[1].Execution {
		t.Error("Runner should be execution-capable")
	}
	if cfg.Orchestrator.TurnBudget() != 10 {
		t.Errorf("turn budget = %d, want 10", cfg.Orchestrator.TurnBudget())
	}
	if cfg.Gateways.HTTP.Addr() != ":9090" {
		t.Errorf("listen addr = %q", cfg.Gateways.HTTP.Addr())
	}
}

func TestLoadJSON(t *testing.T) {
	jsonCfg := `{
		"providers": {"default": "ollama", "ollama": {"model": "llama3"}},
		"team": [{"name": "Solo", "description": "Does everything."}]
	}`
	cfg, err := Load(writeConfig(t, "config.json", jsonCfg))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Ollama.Model != "llama3" {
		t.Errorf("ollama model = %q", cfg.Providers.Ollama.Model)
	}
	// Defaults when sections are absent.
	if cfg.Orchestrator.TurnBudget() != 30 {
		t.Errorf("default turn budget = %d, want 30", cfg.Orchestrator.TurnBudget())
	}
	if cfg.Gateways.HTTP.Addr() != ":8080" {
		t.Errorf("default listen addr = %q", cfg.Gateways.HTTP.Addr())
	}
	if cfg.Gateways.WebSocket.WSPath() != "/ws/events" {
		t.Errorf("default ws path = %q", cfg.Gateways.WebSocket.WSPath())
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("KIONGOZI_DATA_DIR", "/tmp/kiongozi-test")
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env override", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.DataDir != "/tmp/kiongozi-test" {
		t.Errorf("data dir = %q, want env override", cfg.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty team", func(c *Config) { c.Team = nil }, "at least one worker"},
		{"duplicate names", func(c *Config) { c.Team[1].Name = c.Team[0].Name }, "duplicate"},
		{"missing description", func(c *Config) { c.Team[0].Description = "" }, "description"},
		{"unknown kind", func(c *Config) { c.Team[0].Kind = "robot" }, "unknown worker kind"},
		{"mcp without settings", func(c *Config) { c.Team[0].Kind = "mcp" }, "mcp settings"},
		{"mcp without tool", func(c *Config) {
			c.Team[0].Kind = "mcp"
			c.Team[0].MCP = &MCPConfig{Command: "server"}
		}, "mcp.tool"},
		{"unknown provider", func(c *Config) { c.Providers.Default = "palantir" }, "unknown provider"},
		{"openai without key", func(c *Config) { c.Providers.OpenAI.APIKey = "" }, "api_key"},
		{"postgres without dsn", func(c *Config) {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}, "dsn"},
		{"job missing fields", func(c *Config) {
			c.Scheduler = &SchedulerConfig{Enabled: true, Jobs: []ScheduledJob{{Name: "daily"}}}
		}, "cron"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func baseConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Default: "openai",
			OpenAI:  OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"},
		},
		Team: []WorkerConfig{
			{Name: "Surfer", Description: "Browses the web."},
			{Name: "Runner", Description: "Runs scripts.", Execution: true},
		},
	}
}

func TestDatabasePathDefault(t *testing.T) {
	cfg := baseConfig()
	cfg.DataDir = t.TempDir()
	want := filepath.Join(cfg.DataDir, "kiongozi.db")
	if got := cfg.DatabasePath(); got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
}

func TestTracingConfigDefaults(t *testing.T) {
	var tc *TracingConfig
	if got := tc.Service(); got != "kiongozi" {
		t.Errorf("Service = %q, want kiongozi", got)
	}
	if got := tc.SamplerRatio(); got != 1.0 {
		t.Errorf("SamplerRatio = %v, want 1.0", got)
	}

	tc = &TracingConfig{ServiceName: "svc", SampleRate: 0.25}
	if got := tc.Service(); got != "svc" {
		t.Errorf("Service = %q, want svc", got)
	}
	if got := tc.SamplerRatio(); got != 0.25 {
		t.Errorf("SamplerRatio = %v, want 0.25", got)
	}
}

func TestResolvePathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := resolvePath("~/x/y")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Errorf("resolvePath = %q", got)
	}
}
