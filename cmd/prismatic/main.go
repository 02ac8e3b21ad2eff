package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"prismatic/internal/infra/config"
	"prismatic/internal/infra/logger"
	"prismatic/internal/infra/tracer"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	flags, err := parseFlags(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\nRun 'prismatic --help' for usage information.\n", err)
		os.Exit(2)
	}
	if flags.Help {
		showUsage()
		return
	}

	var run func(cliFlags) error
	switch os.Args[1] {
	case "serve":
		run = runServe
	case "chat":
		run = runChat
	case "ask":
		run = runAsk
	case "doctor":
		run = runDoctor
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'prismatic --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`prismatic - streaming chat client and reference event-stream server

USAGE:
    prismatic COMMAND [FLAGS] [MESSAGE]

COMMANDS:
    serve       Run the reference chat server
    chat        Interactive chat; replies print as they stream in
    ask         Send one message and print the reply
    doctor      Check config, endpoint and responder

FLAGS:
    -h, --help          Show this help message
    --config PATH       Config file path (default: ./config.yaml)
    --url URL           Chat endpoint (overrides client.url)
    --diagnosis TEXT    Diagnosis sent with every message
    --no-stream         ask: use the non-streaming endpoint

CONFIGURATION:
    Config file: ./config.yaml (or PRISMATIC_CONFIG)
    Environment: PRISMATIC_* variables (or ./.env) override config

EXAMPLES:
    prismatic serve
    prismatic chat --diagnosis asthma
    prismatic ask --url http://localhost:8000/chat "What is asthma?"`)
}

// cliFlags holds the flags shared by every command.
type cliFlags struct {
	Config    string
	URL       string
	Diagnosis string
	NoStream  bool
	Help      bool
	Args      []string
}

// parseFlags extracts the known flags from args; everything else is
// positional.
func parseFlags(args []string) (cliFlags, error) {
	var flags cliFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--url", "--diagnosis":
			if !hasValue {
				if i+1 >= len(args) {
					return flags, fmt.Errorf("flag %s needs a value", name)
				}
				i++
				value = args[i]
			}
			switch name {
			case "--config":
				flags.Config = value
			case "--url":
				flags.URL = value
			case "--diagnosis":
				flags.Diagnosis = value
			}
		case "--no-stream":
			flags.NoStream = true
		case "-h", "--help":
			flags.Help = true
		default:
			if strings.HasPrefix(arg, "--") {
				return flags, fmt.Errorf("unknown flag: %s", arg)
			}
			flags.Args = append(flags.Args, arg)
		}
	}
	return flags, nil
}

func configPath(flags cliFlags) string {
	if flags.Config != "" {
		return flags.Config
	}
	if p := os.Getenv("PRISMATIC_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads the config and applies command-line overrides. A .env
// file in the working directory seeds PRISMATIC_* variables not already set.
func loadConfig(flags cliFlags) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath(flags))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.URL != "" {
		cfg.Client.URL = flags.URL
	}
	if flags.Diagnosis != "" {
		cfg.Client.Diagnosis = flags.Diagnosis
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// setup loads config and starts logging and tracing. The returned cleanup
// flushes both.
func setup(ctx context.Context, flags cliFlags, component string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, nil, err
	}

	log, logCloser, err := logger.New(cfg.Logger, component)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}

	cleanup := func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Error("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return cfg, log, cleanup, nil
}
