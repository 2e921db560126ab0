package config

import (
	"strings"
	"testing"
	"time"

	"github.com/sanjabh11/consultflow/model"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Mode != IdentityJWT || cfg.Identity.Audience != "consultflow" {
		t.Errorf("Identity = %+v", cfg.Identity)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Policy.CacheTTL != 2*time.Minute {
		t.Errorf("Policy.CacheTTL = %v, want 2m", cfg.Policy.CacheTTL)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != "/var/lib/consultflow/consult.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if len(cfg.Audit.Sinks) != 3 {
		t.Errorf("Audit.Sinks = %v", cfg.Audit.Sinks)
	}
	if cfg.Tracking.DefaultInterval != 15*time.Minute || !cfg.Tracking.AutoStart {
		t.Errorf("Tracking = %+v", cfg.Tracking)
	}
	want := model.Thresholds{DeadlineWarningDays: 21, ProgressionWarningPercent: 15, RiskAlertLevel: model.LevelMedium}
	if cfg.Tracking.Thresholds != want {
		t.Errorf("Tracking.Thresholds = %+v, want %+v", cfg.Tracking.Thresholds, want)
	}
	if cfg.Tracking.MaxSnapshots != 200 || cfg.Tracking.MaxAlerts != 50 {
		t.Errorf("retention caps = %d/%d, want 200/50", cfg.Tracking.MaxSnapshots, cfg.Tracking.MaxAlerts)
	}
	if !cfg.Idempotency.Enabled || cfg.Idempotency.Driver != "redis" || cfg.Idempotency.TTL != 12*time.Hour {
		t.Errorf("Idempotency = %+v", cfg.Idempotency)
	}
	if cfg.Observability.LogLevel != "debug" || cfg.Observability.LogFormat != "console" || cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if _, err := Load("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_invalid_reports_every_problem(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	if err == nil {
		t.Fatal("Load() with invalid config should return error")
	}
	for _, want := range []string{
		"identity.audience",
		"store.dsn_env",
		`unknown sink "carrier-pigeon"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Policy.CacheTTL != 5*time.Minute {
		t.Errorf("default Policy.CacheTTL = %v, want 5m", cfg.Policy.CacheTTL)
	}
	if cfg.Tracking.DefaultInterval != 30*time.Minute {
		t.Errorf("default Tracking.DefaultInterval = %v, want 30m", cfg.Tracking.DefaultInterval)
	}
	if cfg.Tracking.Thresholds != model.DefaultThresholds() {
		t.Errorf("default thresholds = %+v", cfg.Tracking.Thresholds)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONSULT_SERVER_PORT", "3000")
	t.Setenv("CONSULT_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("CONSULT_STORE_DRIVER", "memory")
	t.Setenv("CONSULT_TRACKING_AUTO_START", "false")
	t.Setenv("CONSULT_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override beats file)", cfg.Server.Port)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want env override", cfg.Store.Driver)
	}
	if cfg.Tracking.AutoStart {
		t.Error("Tracking.AutoStart = true, want env override false")
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown identity mode", func(c *Config) { c.Identity.Mode = "kerberos" }, "identity.mode"},
		{"jwt without key", func(c *Config) {
			c.Identity.Mode = IdentityJWT
			c.Identity.Audience = "x"
			c.Identity.SecretEnv = ""
		}, "secret_env or identity.public_key_file"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.SQLitePath = "" }, "store.sqlite_path"},
		{"file sink without path", func(c *Config) { c.Audit.Sinks = []string{"file"} }, "audit.file_path"},
		{"zero interval", func(c *Config) { c.Tracking.DefaultInterval = 0 }, "tracking.default_interval"},
		{"bad risk level", func(c *Config) { c.Tracking.Thresholds.RiskAlertLevel = "extreme" }, "risk_alert_level"},
		{"redis without addr", func(c *Config) {
			c.Idempotency.Enabled = true
			c.Idempotency.Driver = "redis"
			c.Idempotency.AddrEnv = ""
		}, "idempotency.addr_env"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, "log_level"},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "log_format"},
		{"bad exporter", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "zipkin"
		}, "tracing.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %s", err, tt.want)
			}
		})
	}
}
