package graph

import (
	"context"
	"fmt"

	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/ruleset"
)

// Build constructs a validated dependency graph from a rule-set model. The
// result carries only static edges; the engine restores persisted dynamic
// edges from the cache store before planning.
func Build(ctx context.Context, model *ruleset.Model) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	g := New()

	// First pass: create all declared nodes.
	for _, n := range model.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("error building dependency graph: %w", err)
		}
	}
	logger.Debug("Graph node creation complete.", "node_count", len(model.Nodes))

	// Second pass: declare static edges.
	for _, out := range g.Producibles() {
		for _, in := range model.StaticInputs[out.ID] {
			if err := g.DeclareStaticEdge(out.ID, in); err != nil {
				return nil, fmt.Errorf("error linking '%s': %w", out.ID, err)
			}
		}
	}
	logger.Debug("Graph edge linking complete.")
	return g, nil
}
