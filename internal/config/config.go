// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanjabh11/consultflow/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Policy        PolicyConfig        `yaml:"policy"`
	Store         StoreConfig         `yaml:"store"`
	Audit         AuditConfig         `yaml:"audit"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// Identity modes.
const (
	IdentityHeader = "header"
	IdentityJWT    = "jwt"
)

// IdentityConfig describes how callers are authenticated. In header mode
// the caller's identity is taken from X-Subject-Id and X-Roles and no token
// is verified; it is meant for local development behind a trusted proxy.
type IdentityConfig struct {
	Mode          string            `yaml:"mode"`
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	SecretEnv     string            `yaml:"secret_env"`
	PublicKeyFile string            `yaml:"public_key_file"`
	Algorithms    []string          `yaml:"algorithms"`
	Leeway        time.Duration     `yaml:"leeway"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
}

// PolicyConfig describes the role to capability policy.
type PolicyConfig struct {
	File     string        `yaml:"file"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StoreConfig describes workflow persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuditConfig selects where audit entries are written.
type AuditConfig struct {
	Sinks    []string `yaml:"sinks"`
	FilePath string   `yaml:"file_path"`
}

// TrackingConfig describes progress tracking and retention.
type TrackingConfig struct {
	DefaultInterval   time.Duration    `yaml:"default_interval"`
	AutoStart         bool             `yaml:"auto_start"`
	CleanupInterval   time.Duration    `yaml:"cleanup_interval"`
	Thresholds        model.Thresholds `yaml:"thresholds"`
	MaxSnapshots      int              `yaml:"max_snapshots"`
	MaxAlerts         int              `yaml:"max_alerts"`
	MaxActivities     int              `yaml:"max_activities"`
	MaxReports        int              `yaml:"max_reports"`
	SnapshotRetention time.Duration    `yaml:"snapshot_retention"`
	ActivityRetention time.Duration    `yaml:"activity_retention"`
}

// TemplatesConfig lists directories of milestone template files that
// override the built-in templates.
type TemplatesConfig struct {
	Directories []string `yaml:"directories"`
}

// IdempotencyConfig describes the POST replay cache.
type IdempotencyConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Driver    string        `yaml:"driver"`
	AddrEnv   string        `yaml:"addr_env"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			Mode:       IdentityHeader,
			SecretEnv:  "CONSULT_JWT_SECRET",
			Algorithms: []string{"HS256"},
			Leeway:     30 * time.Second,
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"name":       "name",
				"roles":      "roles",
			},
		},
		Policy: PolicyConfig{
			CacheTTL: 5 * time.Minute,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "CONSULT_DATABASE_URL",
			SQLitePath:      "consultflow.db",
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Audit: AuditConfig{
			Sinks: []string{"log", "store"},
		},
		Tracking: TrackingConfig{
			DefaultInterval:   30 * time.Minute,
			CleanupInterval:   time.Hour,
			Thresholds:        model.DefaultThresholds(),
			MaxSnapshots:      100,
			MaxAlerts:         50,
			MaxActivities:     1000,
			MaxReports:        20,
			SnapshotRetention: 90 * 24 * time.Hour,
			ActivityRetention: 30 * 24 * time.Hour,
		},
		Idempotency: IdempotencyConfig{
			Driver:    "memory",
			AddrEnv:   "CONSULT_REDIS_ADDR",
			TTL:       24 * time.Hour,
			KeyPrefix: "consult:idem:",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path starts from Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

var (
	validStoreDrivers       = map[string]bool{"memory": true, "postgres": true, "sqlite": true}
	validAuditSinks         = map[string]bool{"log": true, "store": true, "file": true}
	validIdempotencyDrivers = map[string]bool{"memory": true, "redis": true}
	validLogLevels          = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats         = map[string]bool{"json": true, "console": true}
	validExporters          = map[string]bool{"otlp": true, "stdout": true}
)

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Identity.Mode {
	case IdentityHeader:
	case IdentityJWT:
		if c.Identity.Audience == "" {
			errs = append(errs, "identity.audience is required in jwt mode")
		}
		if c.Identity.SecretEnv == "" && c.Identity.PublicKeyFile == "" {
			errs = append(errs, "identity.secret_env or identity.public_key_file is required in jwt mode")
		}
		if len(c.Identity.Algorithms) == 0 {
			errs = append(errs, "identity.algorithms must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.mode %q must be header or jwt", c.Identity.Mode))
	}

	if !validStoreDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory, postgres or sqlite", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSNEnv == "" {
		errs = append(errs, "store.dsn_env is required for the postgres driver")
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, "store.sqlite_path is required for the sqlite driver")
	}

	for _, s := range c.Audit.Sinks {
		if !validAuditSinks[s] {
			errs = append(errs, fmt.Sprintf("audit.sinks: unknown sink %q", s))
		}
		if s == "file" && c.Audit.FilePath == "" {
			errs = append(errs, "audit.file_path is required for the file sink")
		}
	}

	if c.Tracking.DefaultInterval <= 0 {
		errs = append(errs, "tracking.default_interval must be positive")
	}
	if c.Tracking.Thresholds.DeadlineWarningDays < 0 {
		errs = append(errs, "tracking.thresholds.deadline_warning_days must not be negative")
	}
	if l := c.Tracking.Thresholds.RiskAlertLevel; l != "" && l.Rank() == 0 {
		errs = append(errs, fmt.Sprintf("tracking.thresholds.risk_alert_level %q is not a risk level", l))
	}

	if c.Idempotency.Enabled {
		if !validIdempotencyDrivers[c.Idempotency.Driver] {
			errs = append(errs, fmt.Sprintf("idempotency.driver %q must be memory or redis", c.Idempotency.Driver))
		}
		if c.Idempotency.Driver == "redis" && c.Idempotency.AddrEnv == "" {
			errs = append(errs, "idempotency.addr_env is required for the redis driver")
		}
	}

	if !validLogLevels[c.Observability.LogLevel] {
		errs = append(errs, fmt.Sprintf("observability.log_level %q is invalid", c.Observability.LogLevel))
	}
	if !validLogFormats[c.Observability.LogFormat] {
		errs = append(errs, fmt.Sprintf("observability.log_format %q must be json or console", c.Observability.LogFormat))
	}
	if c.Observability.Tracing.Enabled && !validExporters[c.Observability.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("observability.tracing.exporter %q must be otlp or stdout", c.Observability.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CONSULT_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONSULT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CONSULT_IDENTITY_MODE"); v != "" {
		cfg.Identity.Mode = v
	}
	if v := os.Getenv("CONSULT_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("CONSULT_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("CONSULT_POLICY_FILE"); v != "" {
		cfg.Policy.File = v
	}
	if v := os.Getenv("CONSULT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CONSULT_STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("CONSULT_TRACKING_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracking.AutoStart = b
		}
	}
	if v := os.Getenv("CONSULT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CONSULT_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
