package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
	Responder ResponderConfig `yaml:"responder"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ClientConfig holds settings for the streaming chat client.
type ClientConfig struct {
	URL       string `yaml:"url"`
	Diagnosis string `yaml:"diagnosis"`

	// ConnTimeout bounds dialing; RespTimeout bounds the wait for response
	// headers. Neither limits how long a stream may run once it has started.
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`

	// MaxErrorBody caps how much of a non-success response body is quoted
	// in the error message.
	MaxErrorBody   int64                `yaml:"max_error_body"`
	ReadBufferSize int                  `yaml:"read_buffer_size"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for the chat endpoint.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ServerConfig holds settings for the reference event-stream server.
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	CORSOrigins  []string        `yaml:"cors_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// ResponderConfig selects and configures the server's reply backend.
type ResponderConfig struct {
	Type        string  `yaml:"type"` // "echo" or "bedrock"
	Model       string  `yaml:"model"`
	Region      string  `yaml:"region,omitempty"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// SystemPrompt is a template; {{diagnosis}} is replaced per request.
	SystemPrompt string        `yaml:"system_prompt"`
	EchoDelay    time.Duration `yaml:"echo_delay,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// DefaultSystemPrompt mirrors the assistant persona the chat endpoint serves.
const DefaultSystemPrompt = "You are a helpful medical assistant. You are in a chat with a patient " +
	"diagnosed with {{diagnosis}}. Explain to them what the disease is and their options as a doctor."

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			URL:            "http://localhost:8000/chat",
			ConnTimeout:    30 * time.Second,
			RespTimeout:    120 * time.Second,
			MaxErrorBody:   4096,
			ReadBufferSize: 4096,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Server: ServerConfig{
			Addr:         ":8000",
			WriteTimeout: 0,
			MaxBodyBytes: 1 << 20,
			CORSOrigins:  []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 100,
				Burst:          20,
			},
		},
		Responder: ResponderConfig{
			Type:         "echo",
			Model:        "anthropic.claude-sonnet-4-5-20250929-v1:0",
			Region:       "us-east-1",
			MaxTokens:    2048,
			Temperature:  0.7,
			SystemPrompt: DefaultSystemPrompt,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads the YAML file at path on top of Defaults, applies PRISMATIC_*
// environment overrides and validates the result. A missing file is not an
// error: defaults plus overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps PRISMATIC_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRISMATIC_CLIENT_URL"); v != "" {
		cfg.Client.URL = v
	}
	if v := os.Getenv("PRISMATIC_CLIENT_DIAGNOSIS"); v != "" {
		cfg.Client.Diagnosis = v
	}
	if v := os.Getenv("PRISMATIC_CLIENT_CONN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.ConnTimeout = d
		}
	}
	if v := os.Getenv("PRISMATIC_CLIENT_RESP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.RespTimeout = d
		}
	}
	if v := os.Getenv("PRISMATIC_CLIENT_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.Client.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv("PRISMATIC_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PRISMATIC_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("PRISMATIC_SERVER_RATE_LIMIT_ENABLED"); v != "" {
		cfg.Server.RateLimit.Enabled = v == "true"
	}
	if v := os.Getenv("PRISMATIC_SERVER_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("PRISMATIC_RESPONDER_TYPE"); v != "" {
		cfg.Responder.Type = v
	}
	if v := os.Getenv("PRISMATIC_RESPONDER_MODEL"); v != "" {
		cfg.Responder.Model = v
	}
	if v := os.Getenv("PRISMATIC_RESPONDER_REGION"); v != "" {
		cfg.Responder.Region = v
	}
	if v := os.Getenv("PRISMATIC_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PRISMATIC_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PRISMATIC_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PRISMATIC_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element,
// dropping empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
