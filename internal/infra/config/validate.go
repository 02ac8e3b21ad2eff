package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateServer(cfg, ve)
	validateResponder(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("client.url %q must be an absolute http(s) URL", c.URL)
		}
	}
	if c.ConnTimeout < 0 {
		ve.Add("client.conn_timeout must be >= 0")
	}
	if c.RespTimeout < 0 {
		ve.Add("client.resp_timeout must be >= 0")
	}
	if c.MaxErrorBody <= 0 {
		ve.Add("client.max_error_body must be > 0")
	}
	if c.ReadBufferSize <= 0 {
		ve.Add("client.read_buffer_size must be > 0")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.MaxFailures == 0 {
		ve.Add("client.circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is not host:port: %v", s.Addr, err)
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	if s.WriteTimeout < 0 {
		ve.Add("server.write_timeout must be >= 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerMin <= 0 {
			ve.Add("server.rate_limit.requests_per_min must be > 0 when enabled")
		}
		if s.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when enabled")
		}
	}
}

var validResponderTypes = map[string]bool{
	"echo":    true,
	"bedrock": true,
}

func validateResponder(cfg *Config, ve *ValidationError) {
	r := cfg.Responder
	if !validResponderTypes[r.Type] {
		ve.Add("responder.type %q is not supported (want echo or bedrock)", r.Type)
	}
	if r.Type == "bedrock" && r.Model == "" {
		ve.Add("responder.model is required for bedrock")
	}
	if r.MaxTokens <= 0 {
		ve.Add("responder.max_tokens must be > 0")
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		ve.Add("responder.temperature must be within [0, 1]")
	}
	if r.EchoDelay < 0 {
		ve.Add("responder.echo_delay must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not one of stdout, noop", cfg.Tracer.Exporter)
	}
}
