// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/cost"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig                 `yaml:"server"`
	Database  DatabaseConfig               `yaml:"database"`
	Auth      AuthConfig                   `yaml:"auth"`
	Tiers     map[string]warden.TierLimits `yaml:"tiers"`
	Budget    BudgetConfig                 `yaml:"budget"`
	Pricing   cost.Pricing                 `yaml:"pricing"`
	Gate      GateConfig                   `yaml:"gate"`
	Model     ModelConfig                  `yaml:"model"`
	Telemetry TelemetryConfig              `yaml:"telemetry"`
	Workers   WorkerConfig                 `yaml:"workers"`
	Sessions  []SessionEntry               `yaml:"sessions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`    // HMAC secret for signed session tokens
	SessionTTL   time.Duration `yaml:"session_ttl"`   // 0 = sessions never expire
	CacheEntries int           `yaml:"cache_entries"` // resolver cache size
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// BudgetConfig holds the global daily spend controls and the
// per-conversation token ceiling.
type BudgetConfig struct {
	DailyCapCents            int64 `yaml:"daily_cap_cents"`
	AlertThresholdPcts       []int `yaml:"alert_threshold_pcts"`
	ConversationTokenCeiling int64 `yaml:"conversation_token_ceiling"`
}

// GateConfig holds content gate settings. Extra signatures are appended
// after the built-in list, so built-in classifications win on overlap.
type GateConfig struct {
	ExtraSignatures []GateSignatureEntry `yaml:"extra_signatures"`
}

// GateSignatureEntry is a user-supplied gate pattern.
type GateSignatureEntry struct {
	Reason  string `yaml:"reason"`
	Pattern string `yaml:"pattern"`
}

// ModelConfig points at the upstream completion endpoint.
type ModelConfig struct {
	Name      string          `yaml:"name"` // model identifier sent upstream
	BaseURL   string          `yaml:"base_url"`
	APIKey    string          `yaml:"api_key"`
	Timeout   time.Duration   `yaml:"timeout"`
	Hosting   string          `yaml:"hosting"` // "", "vertex"
	Region    string          `yaml:"region"`  // GCP region for Vertex hosting
	Project   string          `yaml:"project"` // GCP project ID for Vertex hosting
	Summarize SummarizeConfig `yaml:"summarize"`
}

// SummarizeConfig controls the remediation summary call.
type SummarizeConfig struct {
	MaxOutputTokens int `yaml:"max_output_tokens"`
	TurnWindow      int `yaml:"turn_window"` // most recent turns fed to the summarizer, 0 = all
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	LogBatchSize     int           `yaml:"log_batch_size"`
	LogFlushInterval time.Duration `yaml:"log_flush_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// SessionEntry is a session seed in the config file.
type SessionEntry struct {
	Subject string `yaml:"subject"`
	Token   string `yaml:"token"` // plaintext, hashed on bootstrap
	Tier    string `yaml:"tier"`
}

// Limits resolves the configured limits for a tier, falling back to the
// anonymous tier for unknown names.
func (c *Config) Limits(tier warden.Tier) warden.TierLimits {
	if l, ok := c.Tiers[string(tier)]; ok {
		return l
	}
	return c.Tiers[string(warden.TierAnonymous)]
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the built-in configuration. Tier limits follow the
// shipped policy table; everything is overridable from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "warden.db",
		},
		Auth: AuthConfig{
			CacheEntries: 10_000,
			CacheTTL:     30 * time.Second,
		},
		Tiers: map[string]warden.TierLimits{
			string(warden.TierAnonymous): {
				RequestsPerMinute: 5,
				RequestsPerHour:   30,
				RequestsPerDay:    100,
				DailyTokenLimit:   0,
				MaxOutputTokens:   512,
			},
			string(warden.TierStandard): {
				RequestsPerMinute: 20,
				RequestsPerHour:   200,
				RequestsPerDay:    1_000,
				DailyTokenLimit:   200_000,
				MaxOutputTokens:   1_024,
			},
			string(warden.TierElevated): {
				RequestsPerMinute: 60,
				RequestsPerHour:   1_000,
				RequestsPerDay:    5_000,
				DailyTokenLimit:   1_000_000,
				MaxOutputTokens:   4_096,
			},
		},
		Budget: BudgetConfig{
			DailyCapCents:            5_000,
			AlertThresholdPcts:       []int{50, 80, 95},
			ConversationTokenCeiling: 100_000,
		},
		Pricing: cost.Pricing{
			InputCentsPerMillion:  300,
			OutputCentsPerMillion: 1_500,
		},
		Model: ModelConfig{
			Name:    "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 60 * time.Second,
			Summarize: SummarizeConfig{
				MaxOutputTokens: 512,
			},
		},
		Workers: WorkerConfig{
			LogBatchSize:     64,
			LogFlushInterval: 2 * time.Second,
			SweepInterval:    10 * time.Minute,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Budget.DailyCapCents <= 0 {
		return fmt.Errorf("budget.daily_cap_cents must be positive, got %d", c.Budget.DailyCapCents)
	}
	if c.Budget.ConversationTokenCeiling <= 0 {
		return fmt.Errorf("budget.conversation_token_ceiling must be positive, got %d", c.Budget.ConversationTokenCeiling)
	}
	for _, pct := range c.Budget.AlertThresholdPcts {
		if pct <= 0 || pct > 100 {
			return fmt.Errorf("budget.alert_threshold_pcts entry %d out of range (0, 100]", pct)
		}
	}
	if _, ok := c.Tiers[string(warden.TierAnonymous)]; !ok {
		return fmt.Errorf("tiers must define %q", warden.TierAnonymous)
	}
	return nil
}
