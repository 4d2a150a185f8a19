// Package config loads process configuration from the environment and the
// per-project badge requirements from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Project   string
	Providers ProvidersConfig
	Sender    SenderConfig
	Alert     AlertConfig
	Tracing   TracingConfig
	Server    ServerConfig
	Log       LogConfig

	ProjectFile string
}

type ProvidersConfig struct {
	Snowscan SnowscanConfig
	Glacier  GlacierConfig
	Arena    ArenaConfig
}

type SnowscanConfig struct {
	BaseURL        string
	APIKeys        []string
	RatePerSecond  float64
	MaxAttempts    int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
}

type GlacierConfig struct {
	BaseURL        string
	RatePerSecond  float64
	MaxAttempts    int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
}

type ArenaConfig struct {
	BaseURL        string
	RatePerSecond  float64
	MaxAttempts    int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	BatchSize      int
	CacheSize      int
}

type SenderConfig struct {
	Endpoint   string
	Token      string
	DryRun     bool
	ExportOnly bool
	ExportDir  string
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	CooldownMin     int
}

type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Project: getEnv("PROJECT_NAME", "arena-badges"),
		Providers: ProvidersConfig{
			Snowscan: SnowscanConfig{
				BaseURL:        getEnv("SNOWSCAN_BASE_URL", "https://api.snowscan.xyz/api"),
				APIKeys:        splitList(getEnv("SNOWSCAN_API_KEYS", "")),
				RatePerSecond:  getEnvFloat("SNOWSCAN_RATE_PER_SEC", 4),
				MaxAttempts:    getEnvInt("SNOWSCAN_MAX_ATTEMPTS", 3),
				BaseDelay:      time.Duration(getEnvInt("SNOWSCAN_BASE_DELAY_MS", 2000)) * time.Millisecond,
				RequestTimeout: time.Duration(getEnvInt("SNOWSCAN_TIMEOUT_SEC", 30)) * time.Second,
			},
			Glacier: GlacierConfig{
				BaseURL:        getEnv("GLACIER_BASE_URL", "https://glacier-api.avax.network/v1/chains/43114"),
				RatePerSecond:  getEnvFloat("GLACIER_RATE_PER_SEC", 8),
				MaxAttempts:    getEnvInt("GLACIER_MAX_ATTEMPTS", 3),
				BaseDelay:      time.Duration(getEnvInt("GLACIER_BASE_DELAY_MS", 1000)) * time.Millisecond,
				RequestTimeout: time.Duration(getEnvInt("GLACIER_TIMEOUT_SEC", 30)) * time.Second,
			},
			Arena: ArenaConfig{
				BaseURL:        getEnv("ARENA_BASE_URL", "https://api.starsarena.com"),
				RatePerSecond:  getEnvFloat("ARENA_RATE_PER_SEC", 2),
				MaxAttempts:    getEnvInt("ARENA_MAX_ATTEMPTS", 3),
				BaseDelay:      time.Duration(getEnvInt("ARENA_BASE_DELAY_MS", 3000)) * time.Millisecond,
				RequestTimeout: time.Duration(getEnvInt("ARENA_TIMEOUT_SEC", 30)) * time.Second,
				BatchSize:      getEnvInt("ARENA_BATCH_SIZE", 10),
				CacheSize:      getEnvInt("ARENA_CACHE_SIZE", 4096),
			},
		},
		Sender: SenderConfig{
			Endpoint:   getEnv("BADGE_API_ENDPOINT", ""),
			Token:      getEnv("BADGE_API_TOKEN", ""),
			DryRun:     getEnvBool("DRY_RUN", false),
			ExportOnly: getEnvBool("EXPORT_ONLY", false),
			ExportDir:  getEnv("EXPORT_DIR", "exports"),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			CooldownMin:     getEnvInt("ALERT_COOLDOWN_MIN", 15),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		ProjectFile: getEnv("PROJECT_CONFIG", "config/project.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Providers.Snowscan.BaseURL == "" {
		return fmt.Errorf("SNOWSCAN_BASE_URL is required")
	}
	if c.Providers.Glacier.BaseURL == "" {
		return fmt.Errorf("GLACIER_BASE_URL is required")
	}
	if c.ProjectFile == "" {
		return fmt.Errorf("PROJECT_CONFIG is required")
	}
	if !c.Sender.DryRun && !c.Sender.ExportOnly && c.Sender.Endpoint == "" {
		return fmt.Errorf("BADGE_API_ENDPOINT is required unless DRY_RUN or EXPORT_ONLY is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
