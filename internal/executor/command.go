package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/staleguard/internal/ctxlog"
)

// CommandAdapter is the builtin adapter that produces an output by running
// the command declared on its rule. If the rule declares a depfile, the
// adapter parses it after the command succeeds and reports the listed paths
// as discovered inputs, so depfile support works identically for every
// output instead of being a privilege of one backend.
type CommandAdapter struct {
	// Dir is the working directory for launched commands. Empty means the
	// engine process's working directory.
	Dir string
}

// Execute implements Adapter.
func (a *CommandAdapter) Execute(ctx context.Context, task Task) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(task.Output.Command) == 0 {
		return Result{}, fmt.Errorf("output '%s' uses the command executor but declares no command", task.Output.ID)
	}

	cmd := exec.CommandContext(ctx, task.Output.Command[0], task.Output.Command[1:]...)
	cmd.Dir = a.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Running command.", "output", task.Output.ID, "argv", task.Output.Command)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return Result{}, fmt.Errorf("command failed: %w: %s", err, msg)
		}
		return Result{}, fmt.Errorf("command failed: %w", err)
	}

	result := Result{ArtifactHandle: task.Output.ID}
	if task.Output.Depfile != "" {
		discovered, err := readDepfile(task.Output.Depfile)
		if err != nil {
			return Result{}, fmt.Errorf("reading depfile '%s': %w", task.Output.Depfile, err)
		}
		result.DiscoveredInputs = discovered
	}
	return result, nil
}

// readDepfile parses a dependency file into the list of paths it names.
// Both plain path-per-line listings and Make-style "target: dep dep"
// depfiles are accepted; backslash continuations and '#' comments are
// handled.
func readDepfile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := strings.ReplaceAll(string(data), "\\\n", " ")
	var paths []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		// Drop a Make-style target prefix.
		if i := strings.IndexByte(line, ':'); i >= 0 {
			line = line[i+1:]
		}
		for _, field := range strings.Fields(line) {
			if _, ok := seen[field]; ok {
				continue
			}
			seen[field] = struct{}{}
			paths = append(paths, field)
		}
	}
	return paths, nil
}
