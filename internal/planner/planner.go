// Package planner implements the invalidation engine: given the dependency
// graph, the current fingerprint snapshot, and the loaded cache records, it
// computes the minimal stale set and a deterministic execution order.
//
// Staleness is necessary and sufficient for inclusion in the plan. An
// output is stale if (a) it has no cache record, (b) any recorded
// dependency fingerprint differs from the current one, (c) its dependency
// set itself differs from the recorded set, or (d) any producible node it
// depends on is itself stale.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/fingerprint"
	"github.com/vk/staleguard/internal/graph"
	"github.com/vk/staleguard/internal/node"
)

// Reason records why an output was included in the plan.
type Reason string

const (
	ReasonNoRecord             Reason = "no-record"
	ReasonFingerprintChanged   Reason = "fingerprint-changed"
	ReasonDependencySetChanged Reason = "dependency-set-changed"
	ReasonUpstreamStale        Reason = "upstream-stale"
)

// BlockedError reports an output that cannot be built because a declared
// source input in its transitive dependency set is missing. The chain runs
// from the output down to the missing node.
type BlockedError struct {
	Output string
	Chain  []string
	Cause  error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("output '%s' cannot be built: %v (dependency chain: %s)",
		e.Output, e.Cause, strings.Join(e.Chain, " -> "))
}

func (e *BlockedError) Unwrap() error {
	return e.Cause
}

// Result is the computed plan for one invocation.
type Result struct {
	// Stale lists the outputs to (re)produce, in a valid execution order:
	// topologically sorted, ties broken by declaration order.
	Stale []*node.Node
	// Reasons maps each stale output to why it was included.
	Reasons map[string]Reason
	// Blocked maps outputs excluded from execution because of a missing
	// input somewhere in their dependency closure.
	Blocked map[string]*BlockedError
	// Fresh lists outputs whose records still match; they are untouched.
	Fresh []string
}

// Plan diffs current fingerprints against recorded ones and produces the
// ordered stale set. Outputs with no stale dependency are excluded entirely.
func Plan(ctx context.Context, g *graph.Graph, snap *fingerprint.Snapshot, records map[string]*cachestore.Record) *Result {
	logger := ctxlog.FromContext(ctx)
	res := &Result{
		Reasons: make(map[string]Reason),
		Blocked: make(map[string]*BlockedError),
	}

	producibles := g.Producibles()
	ordered := topoOrder(g, producibles)

	// currentFP is the dependent-visible fingerprint of any node as of the
	// loaded state. Producible nodes without a record have no fingerprint
	// yet; their dependents are caught by the dependency's own staleness.
	currentFP := func(id string) (string, bool) {
		n, ok := g.Node(id)
		if !ok {
			return "", false
		}
		switch n.Kind {
		case node.SourceInput:
			return snap.Value(id)
		case node.ProbeInput:
			if rec := records[id]; rec != nil {
				return fingerprint.HashString(rec.ProbeResult), true
			}
		case node.DerivedOutput:
			if rec := records[id]; rec != nil {
				return rec.Digest(), true
			}
		}
		return "", false
	}

	// First pass, in topological order so upstream staleness is already
	// known when a dependent is considered.
	for _, out := range ordered {
		if blocked := blockedBy(g, snap, out); blocked != nil {
			res.Blocked[out.ID] = blocked
			continue
		}

		deps := g.Dependencies(out.ID)

		// Rule (d): any producible dependency already stale. A blocked
		// dependency needs no handling here: its missing input is in this
		// output's closure too, so blockedBy above already caught it.
		upstream := false
		for _, dep := range deps {
			if _, stale := res.Reasons[dep]; stale {
				upstream = true
				break
			}
		}
		if upstream {
			res.Reasons[out.ID] = ReasonUpstreamStale
			continue
		}

		rec := records[out.ID]
		if rec == nil {
			// Rule (a).
			res.Reasons[out.ID] = ReasonNoRecord
			continue
		}

		// Rule (c): the dependency set itself changed, an edge added or
		// removed since last success, including dynamic ones.
		recorded := make([]string, 0, len(rec.Deps))
		for id := range rec.Deps {
			recorded = append(recorded, id)
		}
		sort.Strings(recorded)
		if !equalStrings(deps, recorded) {
			res.Reasons[out.ID] = ReasonDependencySetChanged
			continue
		}

		// Rule (b): any recorded fingerprint differs from the current one.
		for _, dep := range deps {
			cur, ok := currentFP(dep)
			if !ok || cur != rec.Deps[dep] {
				res.Reasons[out.ID] = ReasonFingerprintChanged
				break
			}
		}
	}

	for _, out := range ordered {
		switch {
		case res.Reasons[out.ID] != "":
			res.Stale = append(res.Stale, out)
		case res.Blocked[out.ID] == nil:
			res.Fresh = append(res.Fresh, out.ID)
		}
	}

	logger.Debug("Plan computed.",
		"stale", len(res.Stale), "fresh", len(res.Fresh), "blocked", len(res.Blocked))
	return res
}

// blockedBy returns the blocking condition for an output whose transitive
// closure contains a missing declared input, or nil.
func blockedBy(g *graph.Graph, snap *fingerprint.Snapshot, out *node.Node) *BlockedError {
	for _, dep := range g.DependenciesOf(out.ID) {
		if cause := snap.Missing(dep); cause != nil {
			return &BlockedError{
				Output: out.ID,
				Chain:  g.Chain(out.ID, dep),
				Cause:  cause,
			}
		}
	}
	return nil
}

// topoOrder returns the producible nodes in dependency-first order, ties
// broken by declaration order to keep runs deterministic and diff-friendly.
func topoOrder(g *graph.Graph, producibles []*node.Node) []*node.Node {
	byID := make(map[string]*node.Node, len(producibles))
	indeg := make(map[string]int, len(producibles))
	for _, p := range producibles {
		byID[p.ID] = p
	}
	for _, p := range producibles {
		for _, dep := range g.Dependencies(p.ID) {
			if _, ok := byID[dep]; ok {
				indeg[p.ID]++
			}
		}
	}

	remaining := make([]*node.Node, len(producibles))
	copy(remaining, producibles)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Order < remaining[j].Order })

	var order []*node.Node
	for len(remaining) > 0 {
		picked := -1
		for i, p := range remaining {
			if indeg[p.ID] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			// A cycle would have been rejected at graph mutation time;
			// nothing sensible remains to order.
			break
		}
		p := remaining[picked]
		remaining = append(remaining[:picked], remaining[picked+1:]...)
		order = append(order, p)
		for _, dependent := range g.Dependents(p.ID) {
			if _, ok := byID[dependent]; ok {
				indeg[dependent]--
			}
		}
	}
	return order
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
