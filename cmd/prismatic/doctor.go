package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"prismatic/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func runDoctor(flags cliFlags) error {
	cfgPath := configPath(flags)
	cfg, cfgErr := loadConfig(flags)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Chat endpoint", Fn: checkChatEndpoint},
		{Name: "Server address", Fn: checkServerAddr},
		{Name: "Responder", Fn: checkResponder},
	}
	return reportChecks(os.Stdout, checks, cfg)
}

// reportChecks runs every check against cfg and prints a summary. It fails
// when any check fails.
func reportChecks(w io.Writer, checks []Check, cfg *config.Config) error {
	fmt.Fprintln(w, "prismatic doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config loaded. A missing file is only
// a warning: defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix %s or the PRISMATIC_* variables", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// healthURL maps a chat endpoint to the server's health route.
func healthURL(chatURL string) (string, error) {
	u, err := url.Parse(chatURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", chatURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String(), nil
}

// checkChatEndpoint probes the health route next to client.url.
func checkChatEndpoint(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	endpoint, err := healthURL(cfg.Client.URL)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad client.url: %v", err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Start the server with 'prismatic serve' or pass --url",
		}
	}
	defer resp.Body.Close()

	var body struct {
		Message string `json:"message"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil || body.Message != "Healthy" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered %d but did not report healthy", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s healthy (latency: %dms)", endpoint, latency.Milliseconds()),
	}
}

// checkServerAddr reports whether server.addr can be bound.
func checkServerAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Server.Addr, err),
			Fix:     "Set server.addr or PRISMATIC_SERVER_ADDR if you run 'prismatic serve' here",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is free", cfg.Server.Addr)}
}

// checkResponder verifies the server-side backend can start. For Bedrock it
// resolves AWS credentials without calling the model.
func checkResponder(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	r := cfg.Responder
	switch r.Type {
	case "", "echo":
		return CheckResult{Status: StatusPass, Message: "echo responder (no model)"}
	case "bedrock":
	default:
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("unknown responder type %q", r.Type)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(r.Region))
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("aws config: %v", err)}
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no AWS credentials: %v", err),
			Fix:     "Configure AWS credentials (env, shared config or instance role)",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("bedrock %s in %s", r.Model, awsCfg.Region),
	}
}
