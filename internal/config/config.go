// Package config loads and validates prospector configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	DB           DBConfig           `mapstructure:"db"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Runner       RunnerConfig       `mapstructure:"runner"`
	Analyzer     AnalyzerConfig     `mapstructure:"analyzer"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// SchedulerConfig governs zone eligibility and stuck-zone recovery.
type SchedulerConfig struct {
	RevisitIntervalHours  int `mapstructure:"revisit_interval_hours"`
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes"`
}

// RunnerConfig governs zone execution.
type RunnerConfig struct {
	Concurrency            int `mapstructure:"concurrency"`
	AnalysisConcurrency    int `mapstructure:"analysis_concurrency"`
	BusinessTimeoutSeconds int `mapstructure:"business_timeout_seconds"`
	BatchTimeoutSeconds    int `mapstructure:"batch_timeout_seconds"`
	MaxResults             int `mapstructure:"max_results"`
	DelayMinMs             int `mapstructure:"delay_min_ms"`
	DelayMaxMs             int `mapstructure:"delay_max_ms"`
}

// AnalyzerConfig configures the website analyzer.
type AnalyzerConfig struct {
	// Mode is one of auto, browser or http. Auto falls back to http when no browser starts.
	Mode                     string        `mapstructure:"mode"`
	UserAgent                string        `mapstructure:"user_agent"`
	NavTimeoutSeconds        int           `mapstructure:"nav_timeout_seconds"`
	SettleMs                 int           `mapstructure:"settle_ms"`
	IdleTimeoutMs            int           `mapstructure:"idle_timeout_ms"`
	PerformanceBudgetSeconds int           `mapstructure:"performance_budget_seconds"`
	FacetBudgetSeconds       int           `mapstructure:"facet_budget_seconds"`
	Archive                  bool          `mapstructure:"archive"`
	Browser                  BrowserConfig `mapstructure:"browser"`
	HTTP                     HTTPConfig    `mapstructure:"http"`
	DNS                      DNSConfig     `mapstructure:"dns"`
}

// BrowserConfig configures the headless render pool.
type BrowserConfig struct {
	PoolSize       int     `mapstructure:"pool_size"`
	ExecPath       string  `mapstructure:"exec_path"`
	Headless       bool    `mapstructure:"headless"`
	PerDomainRPS   float64 `mapstructure:"per_domain_rps"`
	PerDomainBurst int     `mapstructure:"per_domain_burst"`
}

// HTTPConfig configures the lightweight analyzer client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DNSConfig configures the pre-flight resolver.
type DNSConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Servers   []string `mapstructure:"servers"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

// SourcesConfig lists the discovery adapters to register.
type SourcesConfig struct {
	Maps        MapsConfig                 `mapstructure:"maps"`
	Directories map[string]DirectoryConfig `mapstructure:"directories"`
	Static      map[string][]StaticEntry   `mapstructure:"static"`
}

// MapsConfig configures the browser-driven maps adapter.
type MapsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	ScrollRounds int    `mapstructure:"scroll_rounds"`
}

// DirectoryConfig describes a server-rendered listing site scraped with selectors.
type DirectoryConfig struct {
	SearchURL       string `mapstructure:"search_url"`
	ItemSelector    string `mapstructure:"item_selector"`
	NameSelector    string `mapstructure:"name_selector"`
	AddressSelector string `mapstructure:"address_selector"`
	CitySelector    string `mapstructure:"city_selector"`
	PhoneSelector   string `mapstructure:"phone_selector"`
	EmailSelector   string `mapstructure:"email_selector"`
	WebsiteSelector string `mapstructure:"website_selector"`
	NextSelector    string `mapstructure:"next_selector"`
	MaxPages        int    `mapstructure:"max_pages"`
}

// StaticEntry is one fixed business served by a static source.
type StaticEntry struct {
	Name     string `mapstructure:"name"`
	Category string `mapstructure:"category"`
	City     string `mapstructure:"city"`
	Address  string `mapstructure:"address"`
	Phone    string `mapstructure:"phone"`
	Email    string `mapstructure:"email"`
	Website  string `mapstructure:"website"`
}

// StorageConfig selects the assessment archive backend.
type StorageConfig struct {
	// Backend is one of memory, local or gcs.
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for event notifications. An empty project disables publishing.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	LeadTopic  string `mapstructure:"lead_topic"`
	CycleTopic string `mapstructure:"cycle_topic"`
}

// OrchestratorConfig controls the scheduled cycle.
type OrchestratorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	MaxZones int    `mapstructure:"max_zones"`
}

// TelemetryConfig controls OpenTelemetry tracing. Spans are exported to Cloud Trace
// when a project is set and kept in-process otherwise.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("scheduler.revisit_interval_hours", 24)
	v.SetDefault("scheduler.stuck_threshold_minutes", 120)
	v.SetDefault("runner.concurrency", 3)
	v.SetDefault("runner.analysis_concurrency", 4)
	v.SetDefault("runner.business_timeout_seconds", 45)
	v.SetDefault("runner.batch_timeout_seconds", 300)
	v.SetDefault("runner.max_results", 20)
	v.SetDefault("runner.delay_min_ms", 500)
	v.SetDefault("runner.delay_max_ms", 2000)
	v.SetDefault("analyzer.mode", "auto")
	v.SetDefault("analyzer.user_agent", "prospector-bot/0.1")
	v.SetDefault("analyzer.nav_timeout_seconds", 25)
	v.SetDefault("analyzer.settle_ms", 1000)
	v.SetDefault("analyzer.idle_timeout_ms", 3000)
	v.SetDefault("analyzer.performance_budget_seconds", 8)
	v.SetDefault("analyzer.facet_budget_seconds", 5)
	v.SetDefault("analyzer.archive", true)
	v.SetDefault("analyzer.browser.pool_size", 2)
	v.SetDefault("analyzer.browser.headless", true)
	v.SetDefault("analyzer.browser.per_domain_rps", 0.5)
	v.SetDefault("analyzer.browser.per_domain_burst", 1)
	v.SetDefault("analyzer.http.timeout_seconds", 15)
	v.SetDefault("analyzer.dns.enabled", true)
	v.SetDefault("analyzer.dns.servers", []string{"1.1.1.1:53", "8.8.8.8:53"})
	v.SetDefault("analyzer.dns.timeout_ms", 2000)
	v.SetDefault("sources.maps.base_url", "https://www.google.com/maps/search/")
	v.SetDefault("sources.maps.scroll_rounds", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.prefix", "assessments")
	v.SetDefault("pubsub.lead_topic", "lead.upserted")
	v.SetDefault("pubsub.cycle_topic", "cycle.completed")
	v.SetDefault("orchestrator.schedule", "@every 30m")
	v.SetDefault("orchestrator.max_zones", 10)
	v.SetDefault("telemetry.service_name", "prospector")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Runner.Concurrency < 1 || c.Runner.Concurrency > 10 {
		return fmt.Errorf("runner.concurrency must be between 1 and 10")
	}
	if c.Runner.AnalysisConcurrency <= 0 {
		return fmt.Errorf("runner.analysis_concurrency must be > 0")
	}
	if c.Runner.DelayMaxMs < c.Runner.DelayMinMs {
		return fmt.Errorf("runner.delay_max_ms must be >= runner.delay_min_ms")
	}
	switch c.Analyzer.Mode {
	case "auto", "browser", "http":
	default:
		return fmt.Errorf("analyzer.mode must be auto, browser or http")
	}
	if c.Analyzer.Mode != "http" && c.Analyzer.Browser.PoolSize <= 0 {
		return fmt.Errorf("analyzer.browser.pool_size must be > 0 when the browser is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs")
	}
	if c.Orchestrator.MaxZones <= 0 {
		return fmt.Errorf("orchestrator.max_zones must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	for name, dir := range c.Sources.Directories {
		if dir.SearchURL == "" || dir.ItemSelector == "" || dir.NameSelector == "" {
			return fmt.Errorf("sources.directories.%s needs search_url, item_selector and name_selector", name)
		}
	}
	return nil
}

// RevisitInterval is the minimum time between two runs of the same zone.
func (c Config) RevisitInterval() time.Duration {
	return time.Duration(c.Scheduler.RevisitIntervalHours) * time.Hour
}

// StuckThreshold is how long a zone may stay locked before recovery unlocks it.
func (c Config) StuckThreshold() time.Duration {
	return time.Duration(c.Scheduler.StuckThresholdMinutes) * time.Minute
}

// BatchTimeout is the ceiling for one RunBatch call.
func (c Config) BatchTimeout() time.Duration {
	return time.Duration(c.Runner.BatchTimeoutSeconds) * time.Second
}

// BusinessTimeout bounds the analysis of a single business website.
func (c Config) BusinessTimeout() time.Duration {
	return time.Duration(c.Runner.BusinessTimeoutSeconds) * time.Second
}
