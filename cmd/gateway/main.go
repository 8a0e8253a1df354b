// Package main is the entry point for the API Gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool

	issueToken bool
	subject    string
	scopes     string
	ttl        time.Duration
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadAndValidateConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if flags.issueToken {
		if err := issueToken(context.Background(), cfg, flags, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := initLogger(flags, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avagate",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)
	logConfigSummary(cfg, logger)

	app, err := newApplication(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize gateway", observability.Error(err))
	}

	app.pinnedLogLevel = flags.logLevel != ""

	runGateway(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("avagate", flag.ContinueOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", os.Getenv("GATEWAY_LOG_LEVEL"),
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&f.logFormat, "log-format", os.Getenv("GATEWAY_LOG_FORMAT"),
		"Log format (json, console); overrides the configuration")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	fs.BoolVar(&f.issueToken, "issue-token", false, "Print a signed token for -subject and exit")
	fs.StringVar(&f.subject, "subject", "", "Token subject")
	fs.StringVar(&f.scopes, "scopes", "", "Comma-separated token scopes")
	fs.DurationVar(&f.ttl, "ttl", time.Hour, "Token lifetime")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "avagate version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger builds the process logger. Flags win over the configuration.
func initLogger(flags cliFlags, cfg *config.GatewayConfig) (observability.Logger, error) {
	lc := observability.LogConfig{
		Level:  cfg.Spec.Observability.Logging.Level,
		Format: cfg.Spec.Observability.Logging.Format,
		Output: cfg.Spec.Observability.Logging.Output,
	}
	if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		lc.Format = flags.logFormat
	}
	return observability.NewLogger(lc)
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string) (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func logConfigSummary(cfg *config.GatewayConfig, logger observability.Logger) {
	authRoutes := 0
	for i := range cfg.Spec.Routes {
		if cfg.Spec.Routes[i].AuthRequired {
			authRoutes++
		}
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("address", cfg.Spec.Listen.Address),
		observability.String("admin_address", cfg.Spec.Listen.AdminAddress),
		observability.Int("routes", len(cfg.Spec.Routes)),
		observability.Int("auth_routes", authRoutes),
		observability.Bool("rate_limit", cfg.Spec.RateLimit != nil && cfg.Spec.RateLimit.Enabled),
		observability.Bool("circuit_breaker", cfg.Spec.CircuitBreaker != nil && cfg.Spec.CircuitBreaker.Enabled),
	)
}

// splitScopes parses a comma-separated scope list.
func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
