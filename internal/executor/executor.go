// Package executor drives a computed plan over a bounded worker pool. An
// output is never dispatched until every dependency has been confirmed
// fresh by the planner or completed production in this run.
package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/fingerprint"
	"github.com/vk/staleguard/internal/graph"
	"github.com/vk/staleguard/internal/node"
	"github.com/vk/staleguard/internal/planner"
	"github.com/vk/staleguard/internal/report"
)

// Runner executes one plan. It is single-use.
type Runner struct {
	graph   *graph.Graph
	lookup  AdapterLookup
	store   cachestore.Store
	fp      *fingerprint.Provider
	snap    *fingerprint.Snapshot
	workers int
	runID   string

	// records starts as the loaded store contents and accumulates commits
	// made during the run, so dependents fingerprint against fresh state.
	records map[string]*cachestore.Record

	// stopping is set on a fatal error: in-flight executions finish and
	// commit (their results are still valid), but nothing new dispatches.
	stopping atomic.Bool

	mu       sync.Mutex
	planned  map[string]*node.Node
	depCount map[string]int
	done     map[string]bool
	outcomes map[string]report.Entry
}

// New prepares a Runner for one plan execution.
func New(g *graph.Graph, lookup AdapterLookup, store cachestore.Store, fp *fingerprint.Provider,
	snap *fingerprint.Snapshot, records map[string]*cachestore.Record, workers int, runID string) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		graph:    g,
		lookup:   lookup,
		store:    store,
		fp:       fp,
		snap:     snap,
		records:  records,
		workers:  workers,
		runID:    runID,
		planned:  make(map[string]*node.Node),
		depCount: make(map[string]int),
		done:     make(map[string]bool),
		outcomes: make(map[string]report.Entry),
	}
}

// Run executes every stale output in the plan and returns one report entry
// per planned output. Execution-time failures are scoped to the failing
// subtree and reported in the entries, not as an error; the returned error
// is reserved for fatal conditions that aborted dispatch.
func (r *Runner) Run(ctx context.Context, plan *planner.Result) ([]report.Entry, error) {
	logger := ctxlog.FromContext(ctx)
	if len(plan.Stale) == 0 {
		return nil, nil
	}

	for _, n := range plan.Stale {
		r.planned[n.ID] = n
	}
	for _, n := range plan.Stale {
		count := 0
		for _, dep := range r.graph.Dependencies(n.ID) {
			if _, ok := r.planned[dep]; ok {
				count++
			}
		}
		r.depCount[n.ID] = count
	}

	// Buffered to the plan size so workers never block on hand-off.
	readyChan := make(chan *node.Node, len(plan.Stale))
	var wg sync.WaitGroup
	wg.Add(len(plan.Stale))

	// Seed in plan order so the first wave dispatches deterministically.
	for _, n := range plan.Stale {
		if r.depCount[n.ID] == 0 {
			readyChan <- n
		}
	}

	workers := min(r.workers, len(plan.Stale))
	logger.Debug("Executor starting.", "planned", len(plan.Stale), "workers", workers)
	for i := 0; i < workers; i++ {
		go r.worker(ctx, readyChan, &wg, i)
	}

	wg.Wait()
	close(readyChan)

	entries := make([]report.Entry, 0, len(plan.Stale))
	r.mu.Lock()
	for _, n := range plan.Stale {
		entries = append(entries, r.outcomes[n.ID])
	}
	r.mu.Unlock()

	if r.stopping.Load() {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// Records returns the record state after the run, including commits made
// during it.
func (r *Runner) Records() map[string]*cachestore.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*cachestore.Record, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out
}

// currentFP mirrors the planner's dependent-visible fingerprint rule, but
// reads the run-local record state so freshly produced dependencies are
// observed.
func (r *Runner) currentFP(id string) (string, bool) {
	n, ok := r.graph.Node(id)
	if !ok {
		return "", false
	}
	switch n.Kind {
	case node.SourceInput:
		return r.snap.Value(id)
	case node.ProbeInput:
		r.mu.Lock()
		rec := r.records[id]
		r.mu.Unlock()
		if rec != nil {
			return fingerprint.HashString(rec.ProbeResult), true
		}
	case node.DerivedOutput:
		r.mu.Lock()
		rec := r.records[id]
		r.mu.Unlock()
		if rec != nil {
			return rec.Digest(), true
		}
	}
	return "", false
}

// terminate records an output's final state and releases its waitgroup
// slot. Each planned output terminates exactly once.
func (r *Runner) terminate(n *node.Node, entry report.Entry, wg *sync.WaitGroup) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done[n.ID] {
		return false
	}
	r.done[n.ID] = true
	r.outcomes[n.ID] = entry
	wg.Done()
	return true
}
