package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"codeexec/internal/engine"
	"codeexec/internal/monitor"
	"codeexec/internal/runtime"
	"codeexec/internal/storage"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig                 `yaml:"server"`
	Engine     EngineConfig                 `yaml:"engine"`
	Toolchains map[string]runtime.Toolchain `yaml:"toolchains"`
	Database   DatabaseConfig               `yaml:"database"`
	Metrics    MetricsConfig                `yaml:"metrics"`
	Tracing    TracingConfig                `yaml:"tracing"`
	Security   SecurityConfig               `yaml:"security"`
	TLS        TLSConfig                    `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// EngineConfig controls job execution.
type EngineConfig struct {
	ScratchRoot    string        `yaml:"scratch_root"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	CompileTimeout time.Duration `yaml:"compile_timeout"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	OrphanMaxAge   time.Duration `yaml:"orphan_max_age"`
	Env            []string      `yaml:"env"`
}

// DatabaseConfig selects the audit store. Driver is "postgres" or "sqlite";
// an empty DSN disables auditing.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OTLP/HTTP span export.
type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
	Insecure bool    `yaml:"insecure"`
}

type SecurityConfig struct {
	APIKeyHeader         string   `yaml:"api_key_header"`
	AllowedKeys          []string `yaml:"allowed_keys"`
	AllowUnauthenticated bool     `yaml:"allow_unauthenticated"`
	RateLimitRPS         float64  `yaml:"rate_limit_rps"`
	RateLimitBurst       int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    125 * time.Second, // > compile_timeout + max_timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Engine: EngineConfig{
			ScratchRoot:    filepath.Join(os.TempDir(), "codeexec"),
			DefaultTimeout: 10 * time.Second,
			MaxTimeout:     60 * time.Second,
			CompileTimeout: 30 * time.Second,
			MaxConcurrent:  16,
			MaxOutputBytes: 1 << 20,
			OrphanMaxAge:   time.Hour,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			DSN:             "",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be positive")
	}
	if c.Engine.DefaultTimeout > c.Engine.MaxTimeout {
		return fmt.Errorf("engine.default_timeout (%s) must be <= max_timeout (%s)",
			c.Engine.DefaultTimeout, c.Engine.MaxTimeout)
	}
	if c.Engine.CompileTimeout <= 0 {
		return fmt.Errorf("engine.compile_timeout must be positive")
	}
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine.max_concurrent must be >= 1")
	}
	if c.Engine.MaxOutputBytes < 1024 {
		return fmt.Errorf("engine.max_output_bytes must be >= 1024")
	}
	if c.Engine.ScratchRoot == "" {
		return fmt.Errorf("engine.scratch_root is required")
	}
	for name := range c.Toolchains {
		if _, ok := runtime.DefaultToolchains()[runtime.Normalize(name)]; !ok {
			return fmt.Errorf("toolchains: unknown language %q", name)
		}
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Tracing.Sample < 0 || c.Tracing.Sample > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.Driver == "postgres" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// ApplyEnv overrides settings from the environment. PORT replaces
// server.port when it parses as a port number.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid PORT %q", port)
		}
		c.Server.Port = n
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EngineOptions converts the engine and toolchain sections.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		ScratchRoot:    c.Engine.ScratchRoot,
		DefaultTimeout: c.Engine.DefaultTimeout,
		MaxTimeout:     c.Engine.MaxTimeout,
		CompileTimeout: c.Engine.CompileTimeout,
		MaxConcurrent:  c.Engine.MaxConcurrent,
		MaxOutputBytes: c.Engine.MaxOutputBytes,
		OrphanMaxAge:   c.Engine.OrphanMaxAge,
		Toolchains:     c.Toolchains,
		Env:            c.Engine.Env,
	}
}

// StorageOptions converts the database section.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// TracingOptions converts the tracing section.
func (c *Config) TracingOptions() monitor.TracingOptions {
	return monitor.TracingOptions{
		Enabled:    c.Tracing.Enabled,
		Endpoint:   c.Tracing.Endpoint,
		SampleRate: c.Tracing.Sample,
		Insecure:   c.Tracing.Insecure,
	}
}
