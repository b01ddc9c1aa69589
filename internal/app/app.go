// Package app contains the application lifecycle: configuration, builtin
// adapter registration, store selection, and the run/watch loops, decoupled
// from any specific entrypoint like a CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/engine"
	"github.com/vk/staleguard/internal/executor"
	"github.com/vk/staleguard/internal/probe"
	"github.com/vk/staleguard/internal/registry"
	"github.com/vk/staleguard/internal/ruleset"
	"github.com/vk/staleguard/internal/watch"
)

// ErrOutputsFailed is returned by Run when the invocation completed but one
// or more outputs failed or were skipped.
var ErrOutputsFailed = errors.New("one or more outputs failed")

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
}

// NewApp constructs the application with its own isolated logger and
// adapter registry. The builtin adapters are registered first; extra
// registrations let embedders and tests add their own kinds.
func NewApp(outW io.Writer, config *Config, register ...func(*registry.Registry)) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)

	reg := registry.New()
	reg.Register("command", &executor.CommandAdapter{})
	reg.Register("probe-command", probe.NewCommandDetector(""))
	for _, fn := range register {
		fn(reg)
	}

	return &App{
		outW:     outW,
		logger:   logger,
		config:   config,
		registry: reg,
	}
}

// Registry returns the application's adapter registry, primarily for tests.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// openStore selects the configured cache store backend.
func (a *App) openStore() (cachestore.Store, error) {
	switch a.config.StoreBackend {
	case BackendBadger:
		return cachestore.NewBadgerStore(cachestore.BadgerConfig{
			Path:       a.config.StorePath,
			SyncWrites: true,
		})
	default:
		return cachestore.NewFileStore(a.config.StorePath)
	}
}

// Run executes the application: a single invocation, a dry-run preview, or
// the watch loop, per configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run started.", "rules", a.config.RulesPath, "store", a.config.StorePath)

	model, err := ruleset.Load(ctx, a.config.RulesPath)
	if err != nil {
		return fmt.Errorf("failed to load rule set: %w", err)
	}

	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer store.Close()

	eng := engine.New(store, a.registry, a.config.WorkerCount)

	if a.config.DryRun {
		return a.preview(ctx, eng, model)
	}

	if err := a.runOnce(ctx, eng, model); err != nil && !a.config.Watch {
		return err
	}
	if !a.config.Watch {
		return nil
	}

	watcher, err := watch.New(model.SourceFilePaths(), watch.DefaultDebounce)
	if err != nil {
		return err
	}
	defer watcher.Close()
	a.logger.Info("Watching declared inputs for changes.")
	return watcher.Run(ctx, func(ctx context.Context) error {
		return a.runOnce(ctx, eng, model)
	})
}

func (a *App) runOnce(ctx context.Context, eng *engine.Engine, model *ruleset.Model) error {
	rep, err := eng.Run(ctx, model)
	if err != nil {
		return err
	}
	if err := rep.Write(a.outW); err != nil {
		return err
	}
	if rep.Failed() {
		return ErrOutputsFailed
	}
	return nil
}

func (a *App) preview(ctx context.Context, eng *engine.Engine, model *ruleset.Model) error {
	plan, err := eng.Preview(ctx, model)
	if err != nil {
		return err
	}
	for _, n := range plan.Stale {
		fmt.Fprintf(a.outW, "would rebuild %s (%s)\n", n.ID, plan.Reasons[n.ID])
	}
	for _, blocked := range plan.Blocked {
		fmt.Fprintf(a.outW, "blocked      %s: %v\n", blocked.Output, blocked)
	}
	fmt.Fprintf(a.outW, "%d stale, %d fresh, %d blocked\n",
		len(plan.Stale), len(plan.Fresh), len(plan.Blocked))
	return nil
}
