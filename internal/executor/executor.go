// Package executor runs scripts bundled inside agent packages and captures
// their output. A missing agent or script is a normal not-found result at
// this level, never an error: only the protocol layer decides what counts as
// a fault.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/basket/agenthub/internal/registry"
)

// Result is constructed fresh per call and never persisted.
type Result struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Gateway resolves scripts through the registry's fixed path convention and
// spawns them as isolated child processes.
type Gateway struct {
	reg            *registry.Registry
	logger         *slog.Logger
	defaultTimeout time.Duration
}

func NewGateway(reg *registry.Registry, logger *slog.Logger, defaultTimeout time.Duration) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &Gateway{reg: reg, logger: logger, defaultTimeout: defaultTimeout}
}

// Execute runs <agent>/scripts/<script> with no input stream, draining
// stdout and stderr independently until exit, within the given budget
// (0 uses the gateway default). Expiry of the budget is reported as a
// distinct timed-out result, not a generic failure.
//
// params is accepted but not forwarded to the child: the bundled scripts
// take no arguments, and inventing an argv convention here would change
// their contract.
func (g *Gateway) Execute(ctx context.Context, agent, script string, params map[string]any, timeout time.Duration) Result {
	path, ok, err := g.reg.ScriptPath(agent, script)
	if err != nil {
		return Result{Success: false, ReturnCode: -1, Error: fmt.Sprintf("resolve script: %v", err)}
	}
	if !ok {
		return Result{
			Success:    false,
			ReturnCode: -1,
			Error:      fmt.Sprintf("script %q not found for agent %q", script, agent),
		}
	}
	if len(params) > 0 {
		g.logger.Debug("script parameters accepted but not forwarded",
			"agent", agent, "script", script, "params", len(params))
	}

	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path)
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ReturnCode = -1
		res.Error = fmt.Sprintf("script exceeded %s budget", timeout)
	case err == nil:
		res.Success = true
		res.ReturnCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
		} else {
			res.ReturnCode = -1
			res.Error = err.Error()
		}
	}

	g.logger.Info("script executed",
		"agent", agent, "script", script,
		"returncode", res.ReturnCode, "timed_out", res.TimedOut,
		"elapsed", elapsed.Round(time.Millisecond))
	return res
}
