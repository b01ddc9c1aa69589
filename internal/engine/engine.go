// Package engine wires the components into the invocation control flow:
// load the cache store, recompute fingerprints for all declared inputs,
// diff against stored fingerprints to plan the minimal stale set, drive the
// executor over that set, and commit records as outputs complete.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/executor"
	"github.com/vk/staleguard/internal/fingerprint"
	"github.com/vk/staleguard/internal/graph"
	"github.com/vk/staleguard/internal/planner"
	"github.com/vk/staleguard/internal/report"
	"github.com/vk/staleguard/internal/ruleset"
)

// Engine coordinates one or more invocations against a single cache store.
type Engine struct {
	store   cachestore.Store
	lookup  executor.AdapterLookup
	fp      *fingerprint.Provider
	workers int
}

// New assembles an engine. The worker count bounds both executor
// parallelism and fingerprint scanning.
func New(store cachestore.Store, lookup executor.AdapterLookup, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		store:   store,
		lookup:  lookup,
		fp:      fingerprint.New(workers),
		workers: workers,
	}
}

// invocation is the shared state of one planning pass.
type invocation struct {
	runID   string
	graph   *graph.Graph
	snap    *fingerprint.Snapshot
	records map[string]*cachestore.Record
	plan    *planner.Result
}

// prepare builds the graph, restores persisted dynamic edges, loads the
// store, snapshots fingerprints, and computes the plan.
func (e *Engine) prepare(ctx context.Context, model *ruleset.Model) (*invocation, error) {
	logger := ctxlog.FromContext(ctx)

	g, err := graph.Build(ctx, model)
	if err != nil {
		return nil, err
	}

	records, err := e.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, cachestore.ErrCorrupt) {
			return nil, fmt.Errorf("loading cache store: %w", err)
		}
		// Partial trust in a corrupted store reintroduces staleness risk;
		// treat it as empty and rebuild everything.
		logger.Warn("Cache store is corrupt; discarding all prior records.", "error", err)
		records = make(map[string]*cachestore.Record)
	}

	// Dynamic edges discovered in a previous run are static-equivalent for
	// this one: restore them before fingerprinting so newly implicated
	// files are scanned too.
	for _, out := range g.Producibles() {
		rec := records[out.ID]
		if rec == nil || len(rec.DynamicDeps) == 0 {
			continue
		}
		if err := g.SetDynamicEdges(out.ID, rec.DynamicDeps); err != nil {
			return nil, fmt.Errorf("restoring dynamic dependencies of '%s': %w", out.ID, err)
		}
	}

	snap, err := e.fp.Snapshot(ctx, g.Nodes())
	if err != nil {
		return nil, fmt.Errorf("fingerprinting inputs: %w", err)
	}
	if missing := snap.MissingIDs(); len(missing) > 0 {
		logger.Warn("Declared source inputs are missing.", "inputs", missing)
	}

	return &invocation{
		runID:   uuid.NewString(),
		graph:   g,
		snap:    snap,
		records: records,
		plan:    planner.Plan(ctx, g, snap, records),
	}, nil
}

// Preview computes and returns the plan without executing anything.
func (e *Engine) Preview(ctx context.Context, model *ruleset.Model) (*planner.Result, error) {
	inv, err := e.prepare(ctx, model)
	if err != nil {
		return nil, err
	}
	return inv.plan, nil
}

// Run executes one full invocation. Configuration-time errors (cycles,
// ambiguous producers, unloadable store) return a nil report and an error
// before anything executes; execution-time failures are scoped to their
// subtrees and land in the report.
func (e *Engine) Run(ctx context.Context, model *ruleset.Model) (*report.Report, error) {
	inv, err := e.prepare(ctx, model)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("run_id", inv.runID)
	ctx = ctxlog.WithLogger(ctx, logger)

	rep := &report.Report{RunID: inv.runID, StartedAt: time.Now().UTC()}

	logger.Info("Plan computed.",
		"stale", len(inv.plan.Stale), "fresh", len(inv.plan.Fresh), "blocked", len(inv.plan.Blocked))

	runner := executor.New(inv.graph, e.lookup, e.store, e.fp, inv.snap, inv.records, e.workers, inv.runID)
	entries, execErr := runner.Run(ctx, inv.plan)
	for _, entry := range entries {
		if entry.Status == report.StatusRebuilt {
			entry.Reason = string(inv.plan.Reasons[entry.Output])
		}
		rep.Add(entry)
	}

	for _, fresh := range inv.plan.Fresh {
		rec := inv.records[fresh]
		entry := report.Entry{Output: fresh, Status: report.StatusFresh}
		if rec != nil {
			entry.ArtifactHandle = rec.ArtifactHandle
		}
		rep.Add(entry)
	}
	for _, blocked := range inv.plan.Blocked {
		rep.Add(report.Entry{
			Output: blocked.Output,
			Status: report.StatusFailed,
			Reason: "missing input",
			Err:    blocked,
		})
	}

	rep.Sort()
	rep.FinishedAt = time.Now().UTC()

	if execErr != nil {
		return rep, fmt.Errorf("execution aborted: %w", execErr)
	}
	return rep, nil
}
