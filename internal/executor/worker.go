package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/fingerprint"
	"github.com/vk/staleguard/internal/node"
	"github.com/vk/staleguard/internal/report"
)

// worker is the processing loop for one concurrent worker.
func (r *Runner) worker(ctx context.Context, readyChan chan *node.Node, wg *sync.WaitGroup, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "output", n.ID)

		r.mu.Lock()
		alreadyDone := r.done[n.ID]
		r.mu.Unlock()
		if alreadyDone {
			continue
		}

		if r.stopping.Load() || ctx.Err() != nil {
			r.terminate(n, report.Entry{
				Output: n.ID,
				Status: report.StatusSkipped,
				Reason: "run aborted before dispatch",
			}, wg)
			continue
		}

		workerLogger.Debug("Worker picked up output for production.")
		rec, err := r.produce(ctx, n)
		if err != nil {
			workerLogger.Error("Production failed.", "error", err)
			r.terminate(n, report.Entry{
				Output: n.ID,
				Status: report.StatusFailed,
				Err:    &ExecutionError{Output: n.ID, Err: err},
			}, wg)
			r.skipDependents(ctx, n, wg)
			continue
		}

		workerLogger.Debug("Production succeeded.", "artifact", rec.ArtifactHandle)
		r.terminate(n, report.Entry{
			Output:         n.ID,
			Status:         report.StatusRebuilt,
			ArtifactHandle: rec.ArtifactHandle,
		}, wg)

		// Unlock planned dependents whose dependencies are all settled.
		for _, dependent := range r.graph.Dependents(n.ID) {
			r.mu.Lock()
			dn, planned := r.planned[dependent]
			ready := false
			if planned && !r.done[dependent] {
				r.depCount[dependent]--
				ready = r.depCount[dependent] == 0
			}
			r.mu.Unlock()
			if ready {
				workerLogger.Debug("Unlocking dependent output.", "dependent", dependent)
				readyChan <- dn
			}
		}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// produce runs the adapter for one output, merges any discovered dynamic
// edges into the graph, and commits the cache record. Edge merging happens
// strictly before the commit so the recorded dependency set always reflects
// what the tool actually read, independent of which adapter emitted it.
func (r *Runner) produce(ctx context.Context, n *node.Node) (*cachestore.Record, error) {
	adapter, ok := r.lookup.Adapter(n.Executor)
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind '%s'", n.Executor)
	}

	task := Task{Output: n}
	for _, dep := range r.graph.Dependencies(n.ID) {
		depNode, _ := r.graph.Node(dep)
		fp, _ := r.currentFP(dep)
		task.Inputs = append(task.Inputs, ResolvedInput{Node: depNode, Fingerprint: fp})
	}

	result, err := adapter.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	discovered := make([]string, 0, len(result.DiscoveredInputs))
	for _, in := range result.DiscoveredInputs {
		discovered = append(discovered, filepath.Clean(in))
	}
	if err := r.graph.SetDynamicEdges(n.ID, discovered); err != nil {
		return nil, err
	}

	deps := make(map[string]string)
	for _, dep := range r.graph.Dependencies(n.ID) {
		fp, ok := r.currentFP(dep)
		if !ok {
			// A discovered input has no snapshot entry yet; fingerprint it
			// now. If the tool claimed to read a file that does not exist,
			// the execution cannot be trusted.
			depNode, found := r.graph.Node(dep)
			if !found {
				return nil, fmt.Errorf("dependency '%s' vanished from graph", dep)
			}
			fp, err = r.fp.Fingerprint(depNode)
			if err != nil {
				return nil, fmt.Errorf("fingerprinting discovered input: %w", err)
			}
			r.snap.Set(dep, fp)
		}
		deps[dep] = fp
	}

	rec := &cachestore.Record{
		Output:         n.ID,
		Deps:           deps,
		DynamicDeps:    r.graph.DynamicDependencies(n.ID),
		ArtifactHandle: result.ArtifactHandle,
		RunID:          r.runID,
		ProducedAt:     time.Now().UTC(),
	}
	if n.Kind == node.ProbeInput {
		rec.ProbeResult = fingerprint.CanonicalizeProbeResult(result.ProbeResult)
	}

	if err := r.store.Commit(ctx, rec); err != nil {
		// A store that cannot commit invalidates the rest of the run:
		// dependents would compare against state that was never persisted.
		r.stopping.Store(true)
		return nil, fmt.Errorf("committing record: %w", err)
	}

	r.mu.Lock()
	r.records[n.ID] = rec
	r.mu.Unlock()
	return rec, nil
}

// skipDependents walks the planned dependent subtree of a failed output and
// marks every member skipped. Outputs not depending on the failure continue
// unaffected.
func (r *Runner) skipDependents(ctx context.Context, failed *node.Node, wg *sync.WaitGroup) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range r.graph.Dependents(failed.ID) {
		r.mu.Lock()
		dn, planned := r.planned[dependent]
		settled := r.done[dependent]
		r.mu.Unlock()
		if !planned || settled {
			continue
		}
		if r.terminate(dn, report.Entry{
			Output: dependent,
			Status: report.StatusSkipped,
			Reason: fmt.Sprintf("dependency '%s' failed", failed.ID),
		}, wg) {
			logger.Debug("Skipping dependent of failed output.", "output", dependent, "failed", failed.ID)
			r.skipDependents(ctx, dn, wg)
		}
	}
}
