package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Runner.Concurrency)
	assert.Equal(t, 4, cfg.Runner.AnalysisConcurrency)
	assert.Equal(t, 45*time.Second, cfg.BusinessTimeout())
	assert.Equal(t, 5*time.Minute, cfg.BatchTimeout())
	assert.Equal(t, 24*time.Hour, cfg.RevisitInterval())
	assert.Equal(t, 2*time.Hour, cfg.StuckThreshold())
	assert.Equal(t, "auto", cfg.Analyzer.Mode)
	assert.Equal(t, 2, cfg.Analyzer.Browser.PoolSize)
	assert.Equal(t, 25, cfg.Analyzer.NavTimeoutSeconds)
	assert.Equal(t, 8, cfg.Analyzer.PerformanceBudgetSeconds)
	assert.Equal(t, 5, cfg.Analyzer.FacetBudgetSeconds)
	assert.Equal(t, "@every 30m", cfg.Orchestrator.Schedule)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "prospector", cfg.Telemetry.ServiceName)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 0.0001)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
runner:
  concurrency: 6
  business_timeout_seconds: 30
analyzer:
  mode: http
  dns:
    enabled: false
sources:
  directories:
    pages:
      search_url: "https://pages.example/search?q={query}&where={location}"
      item_selector: ".listing"
      name_selector: "h2"
      website_selector: "a.site"
      max_pages: 3
  static:
    demo:
      - name: Acme Plumbing
        category: plumber
        city: Lyon
        website: https://acme.example
storage:
  backend: local
  local_dir: /tmp/prospector
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, 6, cfg.Runner.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.BusinessTimeout())
	assert.Equal(t, "http", cfg.Analyzer.Mode)
	assert.False(t, cfg.Analyzer.DNS.Enabled)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level)

	dirCfg, ok := cfg.Sources.Directories["pages"]
	require.True(t, ok)
	assert.Equal(t, ".listing", dirCfg.ItemSelector)
	assert.Equal(t, 3, dirCfg.MaxPages)

	static := cfg.Sources.Static["demo"]
	require.Len(t, static, 1)
	assert.Equal(t, "Acme Plumbing", static[0].Name)
	assert.Equal(t, "https://acme.example", static[0].Website)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:       ServerConfig{Port: 8080},
		Runner:       RunnerConfig{Concurrency: 3, AnalysisConcurrency: 4},
		Analyzer:     AnalyzerConfig{Mode: "http"},
		Storage:      StorageConfig{Backend: "memory"},
		Orchestrator: OrchestratorConfig{MaxZones: 5},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "concurrency too low", mutate: func(c *Config) { c.Runner.Concurrency = 0 }, want: "runner.concurrency"},
		{name: "concurrency too high", mutate: func(c *Config) { c.Runner.Concurrency = 11 }, want: "runner.concurrency"},
		{name: "inverted delays", mutate: func(c *Config) { c.Runner.DelayMinMs = 10 }, want: "runner.delay_max_ms"},
		{name: "unknown mode", mutate: func(c *Config) { c.Analyzer.Mode = "magic" }, want: "analyzer.mode"},
		{
			name:   "browser without pool",
			mutate: func(c *Config) { c.Analyzer.Mode = "browser" },
			want:   "analyzer.browser.pool_size",
		},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "no zones per cycle", mutate: func(c *Config) { c.Orchestrator.MaxZones = 0 }, want: "orchestrator.max_zones"},
		{name: "sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, want: "telemetry.sample_ratio"},
		{
			name: "directory without selectors",
			mutate: func(c *Config) {
				c.Sources.Directories = map[string]DirectoryConfig{"pages": {SearchURL: "https://x"}}
			},
			want: "sources.directories.pages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
