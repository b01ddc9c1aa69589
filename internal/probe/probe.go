// Package probe implements the machine capability detector. A probe is a
// probe-input node whose dependency set is always {probe source content,
// machine identity}; because the host is in its dependency set, relocating
// a cache store to a different machine invalidates the probe through the
// ordinary staleness rule, with no separate "is this a different machine"
// check anywhere.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/executor"
)

// CommandDetector runs a capability probe command (compile-and-run style)
// and reports its stdout as the probe result. The engine canonicalizes the
// result before recording, so token order in the probe's output does not
// affect the fingerprint.
type CommandDetector struct {
	// Dir is the working directory for probe commands.
	Dir string

	// runner is swappable for tests.
	runner func(ctx context.Context, dir string, argv []string) (string, error)
}

// NewCommandDetector returns a detector that launches real subprocesses.
func NewCommandDetector(dir string) *CommandDetector {
	return &CommandDetector{Dir: dir, runner: runCommand}
}

// Execute implements executor.Adapter.
func (d *CommandDetector) Execute(ctx context.Context, task executor.Task) (executor.Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(task.Output.Command) == 0 {
		return executor.Result{}, fmt.Errorf("probe '%s' declares no command", task.Output.ID)
	}

	logger.Debug("Running capability probe.", "probe", task.Output.ID, "argv", task.Output.Command)
	out, err := d.runner(ctx, d.Dir, task.Output.Command)
	if err != nil {
		return executor.Result{}, fmt.Errorf("probe failed: %w", err)
	}
	return executor.Result{ProbeResult: out}, nil
}

func runCommand(ctx context.Context, dir string, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
