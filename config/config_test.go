package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usagegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalRemote = `
source:
  kind: remote
  url: https://logs.example.com
  log_group: gateway-access
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalRemote))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Window.DefaultHours != 24 {
		t.Errorf("Window.DefaultHours = %d, want 24", cfg.Window.DefaultHours)
	}
	if cfg.Cache.TTLSeconds != 60 {
		t.Errorf("Cache.TTLSeconds = %d, want 60", cfg.Cache.TTLSeconds)
	}
	if cfg.Cache.ComputeBudget != time.Minute {
		t.Errorf("Cache.ComputeBudget = %v, want 1m", cfg.Cache.ComputeBudget)
	}
	if cfg.Source.PageSize != 1000 {
		t.Errorf("Source.PageSize = %d, want 1000", cfg.Source.PageSize)
	}
	if cfg.Source.EventLimit != 10000 {
		t.Errorf("Source.EventLimit = %d, want 10000", cfg.Source.EventLimit)
	}
	if len(cfg.Access.SkipPaths) != 1 || cfg.Access.SkipPaths[0] != "/health" {
		t.Errorf("Access.SkipPaths = %v", cfg.Access.SkipPaths)
	}
	if cfg.Access.KeysTTL != time.Hour {
		t.Errorf("Access.KeysTTL = %v, want 1h", cfg.Access.KeysTTL)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
source:
  kind: sqlite
  dsn: logs.db
  event_limit: 5000
window:
  default_hours: 48
cache:
  ttl_seconds: 120
alias:
  path: aliases.yaml
  watch: true
access:
  enabled: true
  team_domain: https://team.cloudflareaccess.com
  audience: usage-dashboard
  skip_paths: ["/health", "/ping"]
rate_limit:
  enabled: true
  rps: 5
  burst: 2
logging:
  level: debug
  format: console
metrics:
  enabled: true
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Source.Kind != "sqlite" || cfg.Source.DSN != "logs.db" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Window.DefaultHours != 48 {
		t.Errorf("DefaultHours = %d", cfg.Window.DefaultHours)
	}
	if cfg.Cache.TTLSeconds != 120 {
		t.Errorf("TTLSeconds = %d", cfg.Cache.TTLSeconds)
	}
	if !cfg.Alias.Watch || cfg.Alias.Path != "aliases.yaml" {
		t.Errorf("alias = %+v", cfg.Alias)
	}
	if !cfg.Access.Enabled || cfg.Access.Audience != "usage-dashboard" {
		t.Errorf("access = %+v", cfg.Access)
	}
	if len(cfg.Access.SkipPaths) != 2 {
		t.Errorf("SkipPaths = %v", cfg.Access.SkipPaths)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 2 {
		t.Errorf("rate_limit = %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown source kind",
			content: "source:\n  kind: kafka\n",
			wantErr: "source.kind",
		},
		{
			name:    "remote without url",
			content: "source:\n  kind: remote\n  log_group: g\n",
			wantErr: "source.url",
		},
		{
			name:    "remote without log group",
			content: "source:\n  kind: remote\n  url: https://x\n",
			wantErr: "source.log_group",
		},
		{
			name:    "sqlite without dsn",
			content: "source:\n  kind: sqlite\n",
			wantErr: "source.dsn",
		},
		{
			name:    "access enabled without provider",
			content: "source:\n  kind: fixture\naccess:\n  enabled: true\n",
			wantErr: "access is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("USAGEGATE_SERVER_PORT", "9999")
	t.Setenv("USAGEGATE_SOURCE", "sqlite")
	t.Setenv("USAGEGATE_SOURCE_DSN", "override.db")
	t.Setenv("USAGEGATE_WINDOW_HOURS", "12")
	t.Setenv("USAGEGATE_CACHE_TTL", "300")
	t.Setenv("USAGEGATE_ACCESS_SKIP_PATHS", "/health, /ping")

	cfg, err := Load(writeConfig(t, minimalRemote))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Source.Kind != "sqlite" || cfg.Source.DSN != "override.db" {
		t.Errorf("source = %+v, want env override", cfg.Source)
	}
	if cfg.Window.DefaultHours != 12 {
		t.Errorf("DefaultHours = %d, want 12", cfg.Window.DefaultHours)
	}
	if cfg.Cache.TTLSeconds != 300 {
		t.Errorf("TTLSeconds = %d, want 300", cfg.Cache.TTLSeconds)
	}
	want := []string{"/health", "/ping"}
	if len(cfg.Access.SkipPaths) != 2 || cfg.Access.SkipPaths[0] != want[0] || cfg.Access.SkipPaths[1] != want[1] {
		t.Errorf("SkipPaths = %v, want %v", cfg.Access.SkipPaths, want)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("USAGEGATE_SOURCE", "fixture")
	t.Setenv("USAGEGATE_LOG_LEVEL", "debug")

	if !HasEnvConfig() {
		t.Fatal("HasEnvConfig() = false with USAGEGATE_SOURCE set")
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Source.Kind != "fixture" {
		t.Errorf("Source.Kind = %q", cfg.Source.Kind)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadWithFallback(t *testing.T) {
	// File present: file wins.
	path := writeConfig(t, minimalRemote)
	cfg, err := LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Source.Kind != "remote" {
		t.Errorf("Source.Kind = %q", cfg.Source.Kind)
	}

	// No file, no env: explicit error.
	if _, err := LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadWithFallback() succeeded with no configuration")
	}
}

func TestExpandEnvInFile(t *testing.T) {
	t.Setenv("TEST_LOG_GROUP", "expanded-group")

	cfg, err := Load(writeConfig(t, `
source:
  kind: remote
  url: https://logs.example.com
  log_group: ${TEST_LOG_GROUP}
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source.LogGroup != "expanded-group" {
		t.Errorf("LogGroup = %q, want expanded env value", cfg.Source.LogGroup)
	}
}
