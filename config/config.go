// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Window    WindowConfig    `yaml:"window"`
	Cache     CacheConfig     `yaml:"cache"`
	Alias     AliasConfig     `yaml:"alias"`
	Access    AccessConfig    `yaml:"access"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SourceConfig selects and configures the log source.
// Kind is "remote", "fixture" or "sqlite".
type SourceConfig struct {
	Kind       string        `yaml:"kind"`
	URL        string        `yaml:"url,omitempty"`       // remote store base URL
	LogGroup   string        `yaml:"log_group,omitempty"` // remote log group identifier
	Region     string        `yaml:"region,omitempty"`
	DSN        string        `yaml:"dsn,omitempty"` // sqlite database path
	PageSize   int           `yaml:"page_size"`
	EventLimit int           `yaml:"event_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
}

// WindowConfig configures time-window resolution.
type WindowConfig struct {
	DefaultHours int `yaml:"default_hours"`
}

// CacheConfig configures the aggregation result cache.
type CacheConfig struct {
	TTLSeconds    int           `yaml:"ttl_seconds"`
	ComputeBudget time.Duration `yaml:"compute_budget"`
}

// AliasConfig configures the client alias map.
type AliasConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// AccessConfig configures request authentication.
type AccessConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TeamDomain    string        `yaml:"team_domain,omitempty"`
	Audience      string        `yaml:"audience,omitempty"`
	ServiceID     string        `yaml:"service_id,omitempty"`
	ServiceSecret string        `yaml:"service_secret,omitempty"`
	SkipPaths     []string      `yaml:"skip_paths"`
	KeysTTL       time.Duration `yaml:"keys_ttl"`
}

// RateLimitConfig configures the request budget on the serving surface.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file. Environment variables override
// file values, so a deployment can keep secrets out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables referenced inside the file
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	USAGEGATE_SOURCE                - log source: remote, fixture or sqlite
//	USAGEGATE_LOGSTORE_URL          - remote log store base URL
//	USAGEGATE_LOG_GROUP             - remote log group identifier
//	USAGEGATE_REGION                - remote log store region
//	USAGEGATE_SOURCE_DSN            - sqlite database path
//	USAGEGATE_WINDOW_HOURS          - default window width (default: 24)
//	USAGEGATE_EVENT_LIMIT           - max records per aggregation run
//	USAGEGATE_PAGE_SIZE             - remote page size
//	USAGEGATE_CACHE_TTL             - cache TTL in seconds (default: 60)
//	USAGEGATE_ALIAS_FILE            - alias map YAML path
//	USAGEGATE_ACCESS_ENABLED        - enable the access gate
//	USAGEGATE_ACCESS_TEAM_DOMAIN    - identity provider base URL (issuer)
//	USAGEGATE_ACCESS_AUD            - expected token audience
//	USAGEGATE_ACCESS_CLIENT_ID      - static service-token client id
//	USAGEGATE_ACCESS_CLIENT_SECRET  - static service-token client secret
//	USAGEGATE_ACCESS_SKIP_PATHS     - comma-separated paths exempt from auth
//	USAGEGATE_SERVER_HOST           - listen host (default: 0.0.0.0)
//	USAGEGATE_SERVER_PORT           - listen port (default: 8080)
//	USAGEGATE_LOG_LEVEL             - debug, info, warn, error
//	USAGEGATE_LOG_FORMAT            - json or console
//	USAGEGATE_METRICS_ENABLED       - enable /metrics
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. This is the recommended entry point for deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	if HasEnvConfig() {
		return LoadFromEnv()
	}
	return nil, fmt.Errorf("no configuration found: provide a config file or set USAGEGATE_SOURCE")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("USAGEGATE_SOURCE") != ""
}

// applyEnvOverrides applies USAGEGATE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USAGEGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("USAGEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("USAGEGATE_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("USAGEGATE_LOGSTORE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("USAGEGATE_LOG_GROUP"); v != "" {
		cfg.Source.LogGroup = v
	}
	if v := os.Getenv("USAGEGATE_REGION"); v != "" {
		cfg.Source.Region = v
	}
	if v := os.Getenv("USAGEGATE_SOURCE_DSN"); v != "" {
		cfg.Source.DSN = v
	}
	if v := os.Getenv("USAGEGATE_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Source.PageSize = n
		}
	}
	if v := os.Getenv("USAGEGATE_EVENT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Source.EventLimit = n
		}
	}
	if v := os.Getenv("USAGEGATE_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Source.Timeout = d
		}
	}

	if v := os.Getenv("USAGEGATE_WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Window.DefaultHours = n
		}
	}

	if v := os.Getenv("USAGEGATE_CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}

	if v := os.Getenv("USAGEGATE_ALIAS_FILE"); v != "" {
		cfg.Alias.Path = v
	}
	if v := os.Getenv("USAGEGATE_ALIAS_WATCH"); v != "" {
		cfg.Alias.Watch = parseBool(v)
	}

	if v := os.Getenv("USAGEGATE_ACCESS_ENABLED"); v != "" {
		cfg.Access.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGEGATE_ACCESS_TEAM_DOMAIN"); v != "" {
		cfg.Access.TeamDomain = v
	}
	if v := os.Getenv("USAGEGATE_ACCESS_AUD"); v != "" {
		cfg.Access.Audience = v
	}
	if v := os.Getenv("USAGEGATE_ACCESS_CLIENT_ID"); v != "" {
		cfg.Access.ServiceID = v
	}
	if v := os.Getenv("USAGEGATE_ACCESS_CLIENT_SECRET"); v != "" {
		cfg.Access.ServiceSecret = v
	}
	if v := os.Getenv("USAGEGATE_ACCESS_SKIP_PATHS"); v != "" {
		var paths []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		cfg.Access.SkipPaths = paths
	}

	if v := os.Getenv("USAGEGATE_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v)
	}

	if v := os.Getenv("USAGEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGEGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("USAGEGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGEGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "fixture"
	}
	if cfg.Source.PageSize == 0 {
		cfg.Source.PageSize = 1000
	}
	if cfg.Source.EventLimit == 0 {
		cfg.Source.EventLimit = 10000
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 10 * time.Second
	}
	if cfg.Source.Retries == 0 {
		cfg.Source.Retries = 2
	}

	if cfg.Window.DefaultHours == 0 {
		cfg.Window.DefaultHours = 24
	}

	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 60
	}
	if cfg.Cache.ComputeBudget == 0 {
		cfg.Cache.ComputeBudget = time.Minute
	}

	if cfg.Access.KeysTTL == 0 {
		cfg.Access.KeysTTL = time.Hour
	}
	if len(cfg.Access.SkipPaths) == 0 {
		cfg.Access.SkipPaths = []string{"/health"}
	}

	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validKinds := map[string]bool{"remote": true, "fixture": true, "sqlite": true}
	if !validKinds[cfg.Source.Kind] {
		return fmt.Errorf("source.kind must be 'remote', 'fixture' or 'sqlite', got %q", cfg.Source.Kind)
	}
	if cfg.Source.Kind == "remote" {
		if cfg.Source.URL == "" {
			return fmt.Errorf("source.url is required when source.kind is 'remote'")
		}
		if cfg.Source.LogGroup == "" {
			return fmt.Errorf("source.log_group is required when source.kind is 'remote'")
		}
	}
	if cfg.Source.Kind == "sqlite" && cfg.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required when source.kind is 'sqlite'")
	}

	if cfg.Window.DefaultHours < 0 {
		return fmt.Errorf("window.default_hours must be positive")
	}

	// Access enabled requires either a token verifier configuration or a
	// static service-token pair - refusing to start half-configured.
	if cfg.Access.Enabled {
		hasToken := cfg.Access.TeamDomain != "" && cfg.Access.Audience != ""
		hasServicePair := cfg.Access.ServiceID != "" && cfg.Access.ServiceSecret != ""
		if !hasToken && !hasServicePair {
			return fmt.Errorf("access is enabled but neither team_domain+audience nor a service credential pair is configured")
		}
	}

	return nil
}
