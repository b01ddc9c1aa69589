// Package cli parses command-line arguments into an app configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/staleguard/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("staleguard", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
staleguard - incremental build dependency and cache-invalidation engine.

Usage:
  staleguard [options] [RULES_PATH]

Arguments:
  RULES_PATH
    Path to a single .hcl rule file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	rulesFlag := flagSet.String("rules", "", "Path to the rule file or directory.")
	rFlag := flagSet.String("r", "", "Path to the rule file or directory (shorthand).")
	storeFlag := flagSet.String("store", ".staleguard", "Path to the cache store.")
	backendFlag := flagSet.String("store-backend", "file", "Cache store backend. Options: 'file' or 'badger'.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 8, "Number of concurrent workers for the executor.")
	watchFlag := flagSet.Bool("watch", false, "Keep running and rebuild when declared inputs change.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Compute and print the plan without executing anything.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *rulesFlag != "" {
		path = *rulesFlag
	} else if *rFlag != "" {
		path = *rFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		RulesPath:    path,
		StorePath:    *storeFlag,
		StoreBackend: strings.ToLower(*backendFlag),
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		WorkerCount:  *workersFlag,
		Watch:        *watchFlag,
		DryRun:       *dryRunFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
