// registryd is the agent registry MCP server. It discovers capability
// packages under the agents directory, scores them against task
// descriptions, serves their documents as resources, and executes their
// bundled scripts, speaking MCP over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/basket/agenthub/internal/config"
	"github.com/basket/agenthub/internal/discovery"
	"github.com/basket/agenthub/internal/executor"
	"github.com/basket/agenthub/internal/logging"
	"github.com/basket/agenthub/internal/mcpserver"
	"github.com/basket/agenthub/internal/registry"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

Speaks MCP over stdio; run it from an MCP client configuration, not a shell.

FLAGS:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  AGENTHUB_HOME        Data directory (default: ~/.agenthub)
  AGENTHUB_AGENTS_DIR  Agents directory override
  AGENTHUB_LOG_LEVEL   debug, info, warn, or error
`)
}

func main() {
	agentsDir := flag.String("agents-dir", "", "agents directory (overrides config)")
	watch := flag.Bool("watch", false, "reload the registry when the agents directory changes")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Usage = printUsage
	flag.Parse()

	if err := run(*agentsDir, *watch, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "registryd: %v\n", err)
		os.Exit(1)
	}
}

func run(agentsDir string, watch bool, logLevel string) error {
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
	if agentsDir != "" {
		cfg.AgentsDir = agentsDir
	}
	if watch {
		cfg.WatchAgents = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, closer, err := logging.NewLogger(home, "registryd", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := registry.New(cfg.AgentsDir, logger)
	eng := discovery.NewEngine(reg)
	gw := executor.NewGateway(reg, logger, time.Duration(cfg.ScriptTimeoutSeconds)*time.Second)
	s := mcpserver.NewRegistryServer(reg, eng, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.WatchAgents {
		w := registry.NewWatcher(cfg.AgentsDir, logger)
		if err := w.Start(ctx); err != nil {
			logger.Warn("agents watcher disabled", "error", err)
		} else {
			go func() {
				for range w.Events() {
					if n, err := reg.Reload(); err != nil {
						logger.Warn("registry reload failed", "error", err)
					} else {
						logger.Info("registry reloaded", "agents", n)
					}
				}
			}()
		}
	}

	logger.Info("registryd starting",
		"agents_dir", cfg.AgentsDir,
		"watch", cfg.WatchAgents,
		"script_timeout_seconds", cfg.ScriptTimeoutSeconds,
		"version", mcpserver.Version)

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	logger.Info("registryd session closed")
	return nil
}
