// telemetryd is the agent telemetry MCP server. It records invocation,
// outcome, and routing-gap events into the append-only day-partitioned
// store and answers point and aggregate queries over them, speaking MCP
// over stdio.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/basket/agenthub/internal/config"
	"github.com/basket/agenthub/internal/eventlog"
	"github.com/basket/agenthub/internal/logging"
	"github.com/basket/agenthub/internal/mcpserver"
	"github.com/basket/agenthub/internal/telemetry"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

Speaks MCP over stdio; run it from an MCP client configuration, not a shell.

FLAGS:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  AGENTHUB_HOME               Data directory (default: ~/.agenthub)
  AGENTHUB_TELEMETRY_DIR      Event log directory override
  AGENTHUB_DISABLE_TELEMETRY  Set to 1 to acknowledge writes without persisting
  AGENTHUB_LOG_LEVEL          debug, info, warn, or error
`)
}

func main() {
	telemetryDir := flag.String("telemetry-dir", "", "event log directory (overrides config)")
	disabled := flag.Bool("disable-telemetry", false, "acknowledge writes without persisting")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Usage = printUsage
	flag.Parse()

	if err := run(*telemetryDir, *disabled, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "telemetryd: %v\n", err)
		os.Exit(1)
	}
}

func run(telemetryDir string, disabled bool, logLevel string) error {
	home, err := config.HomeDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}
	if telemetryDir != "" {
		cfg.TelemetryDir = telemetryDir
	}
	if disabled {
		cfg.DisableTelemetry = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, closer, err := logging.NewLogger(home, "telemetryd", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	store := eventlog.NewStore(cfg.TelemetryDir, cfg.DisableTelemetry)
	svc := telemetry.NewService(store, logger)
	s := mcpserver.NewTelemetryServer(svc)

	logger.Info("telemetryd starting",
		"telemetry_dir", cfg.TelemetryDir,
		"disabled", cfg.DisableTelemetry,
		"version", mcpserver.Version)

	// ServeStdio handles one request at a time and returns when the
	// session closes (EOF or interrupt); a dispatched request runs to
	// completion.
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	logger.Info("telemetryd session closed")
	return nil
}
