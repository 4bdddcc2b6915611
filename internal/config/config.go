package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"driftsync/internal/models"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Network    NetworkConfig    `yaml:"network"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type NetworkConfig struct {
	// ProbeEndpoints are probed concurrently; one success means online.
	ProbeEndpoints []string `yaml:"probe_endpoints"`
	ProbeTimeout   int      `yaml:"probe_timeout_seconds"`
	Interval       int      `yaml:"interval_seconds"`
	// DebounceProbes is the number of consecutive consistent probe
	// results required before the status flips.
	DebounceProbes int `yaml:"debounce_probes"`
}

type SyncConfig struct {
	UpstreamURL      string      `yaml:"upstream_url"`
	MaxRetries       int         `yaml:"max_retries"`
	ConflictStrategy string      `yaml:"conflict_strategy"`
	BatchSize        int         `yaml:"batch_size"`
	HandlerTimeout   int         `yaml:"handler_timeout_seconds"`
	WaitForInflight  bool        `yaml:"wait_for_inflight"`
	AutoSync         bool        `yaml:"auto_sync"`
	Retry            RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	InitialDelay  string  `yaml:"initial_delay"`
	MaxDelay      string  `yaml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment variables referenced from the YAML
	// may come from anywhere.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if len(c.Network.ProbeEndpoints) == 0 {
		return errors.New("at least one network probe endpoint is required")
	}
	for _, endpoint := range c.Network.ProbeEndpoints {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid probe endpoint: %s", endpoint)
		}
	}

	if !models.ValidStrategy(c.Sync.ConflictStrategy) {
		return fmt.Errorf("unknown conflict strategy: %s", c.Sync.ConflictStrategy)
	}

	if c.Sync.MaxRetries < 0 {
		return errors.New("sync max_retries must not be negative")
	}

	if _, _, err := c.Sync.Retry.Delays(); err != nil {
		return err
	}

	return nil
}

// Delays parses the retry backoff durations.
func (r RetryConfig) Delays() (initial, max time.Duration, _ error) {
	if r.InitialDelay != "" {
		d, err := time.ParseDuration(r.InitialDelay)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid retry initial_delay: %w", err)
		}
		initial = d
	}
	if r.MaxDelay != "" {
		d, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid retry max_delay: %w", err)
		}
		max = d
	}
	return initial, max, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "driftsync"
	}

	if c.Network.ProbeTimeout <= 0 {
		c.Network.ProbeTimeout = models.DefaultProbeTimeoutSeconds
	}
	if c.Network.Interval <= 0 {
		c.Network.Interval = models.DefaultMonitorIntervalSeconds
	}
	if c.Network.DebounceProbes <= 0 {
		c.Network.DebounceProbes = models.DefaultDebounceProbes
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.ConflictStrategy == "" {
		c.Sync.ConflictStrategy = models.StrategyManual
	}
	if c.Sync.HandlerTimeout <= 0 {
		c.Sync.HandlerTimeout = models.DefaultHandlerTimeoutSeconds
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Enabled && !c.API.Auth.Enabled {
		// auth on by default when the API is exposed
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
