// Package graph implements the explicit dependency DAG: declared nodes,
// static edges from rule declarations, and dynamic edges discovered at
// execution time. All operations on the graph are concurrency-safe.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/staleguard/internal/node"
)

// runtimeOrderBase sorts nodes created at runtime (discovered dynamic
// inputs) after every declared node.
const runtimeOrderBase = 1 << 30

// CycleError is the fatal configuration error reported when an edge
// mutation introduces a cycle, naming the offending output.
type CycleError struct {
	Output string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving output '%s'", e.Output)
}

// Graph is the dependency DAG. Edges point from a producible node to the
// nodes it depends on. Static and dynamic edge sets are kept separate so
// dynamic discovery can replace its set wholesale without touching declared
// edges.
type Graph struct {
	mutex        sync.RWMutex
	nodes        map[string]*node.Node
	static       map[string]map[string]struct{}
	dynamic      map[string]map[string]struct{}
	runtimeOrder int
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]*node.Node),
		static:  make(map[string]map[string]struct{}),
		dynamic: make(map[string]map[string]struct{}),
	}
}

// AddNode adds a declared node to the graph. Duplicate identities are a
// configuration error.
func (g *Graph) AddNode(n *node.Node) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node identity '%s'", n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// Node returns the node with the given identity, if present.
func (g *Graph) Node(id string) (*node.Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in the graph in declaration order, including
// nodes created at runtime for discovered dynamic inputs.
func (g *Graph) Nodes() []*node.Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := make([]*node.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Producibles returns every derived-output and probe-input node in
// declaration order.
func (g *Graph) Producibles() []*node.Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var out []*node.Node
	for _, n := range g.nodes {
		if n.Producible() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// DeclareStaticEdge records that output depends on input. Both nodes must
// already exist and output must be producible. Cycle detection runs after
// the mutation; on a cycle the edge is removed and a CycleError returned.
func (g *Graph) DeclareStaticEdge(outputID, inputID string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err := g.checkEdge(outputID, inputID); err != nil {
		return err
	}
	if g.static[outputID] == nil {
		g.static[outputID] = make(map[string]struct{})
	}
	g.static[outputID][inputID] = struct{}{}

	if err := g.detectCycles(); err != nil {
		delete(g.static[outputID], inputID)
		return err
	}
	return nil
}

// SetDynamicEdges replaces the dynamic dependency set of an output with the
// given inputs. Replacement, not union: a dependency the producing tool no
// longer reads must not linger from a previous run. Unknown input identities
// are created as file source-input nodes, since dynamic discovery reports
// file paths the tool read. Cycle detection runs after the mutation; on a
// cycle the previous dynamic set is restored.
func (g *Graph) SetDynamicEdges(outputID string, inputIDs []string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	out, ok := g.nodes[outputID]
	if !ok {
		return fmt.Errorf("output node not found: %s", outputID)
	}
	if !out.Producible() {
		return fmt.Errorf("node '%s' is a %s and cannot have dependencies", outputID, out.Kind)
	}

	next := make(map[string]struct{}, len(inputIDs))
	for _, id := range inputIDs {
		if id == outputID {
			return fmt.Errorf("self-referential edge not allowed: %s -> %s", outputID, outputID)
		}
		if _, ok := g.nodes[id]; !ok {
			g.runtimeOrder++
			g.nodes[id] = &node.Node{
				ID:     id,
				Kind:   node.SourceInput,
				Method: node.FileContent,
				Path:   id,
				Order:  runtimeOrderBase + g.runtimeOrder,
			}
		}
		next[id] = struct{}{}
	}

	prev := g.dynamic[outputID]
	g.dynamic[outputID] = next
	if err := g.detectCycles(); err != nil {
		g.dynamic[outputID] = prev
		return err
	}
	return nil
}

// Dependencies returns the direct dependency identities of an output, the
// union of its static and dynamic sets, sorted.
func (g *Graph) Dependencies(outputID string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.directDeps(outputID))
}

// DynamicDependencies returns the current dynamic dependency identities of
// an output, sorted.
func (g *Graph) DynamicDependencies(outputID string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.dynamic[outputID])
}

// DependenciesOf returns the transitive dependency closure of an output,
// sorted.
func (g *Graph) DependenciesOf(outputID string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]struct{})
	var walk func(id string)
	walk = func(id string) {
		for dep := range g.directDeps(id) {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(outputID)
	return sortedKeys(seen)
}

// Dependents returns the identities of producible nodes that directly
// depend on the given node, sorted.
func (g *Graph) Dependents(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	deps := make(map[string]struct{})
	for outID := range g.nodes {
		if _, ok := g.directDeps(outID)[id]; ok {
			deps[outID] = struct{}{}
		}
	}
	return sortedKeys(deps)
}

// Chain returns a dependency path from an output down to a target node, for
// error reporting. The result starts with the output and ends with the
// target; it is nil if no path exists.
func (g *Graph) Chain(outputID, targetID string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		path = append(path, id)
		if id == targetID {
			return path
		}
		for _, dep := range sortedKeys(g.directDeps(id)) {
			if found := walk(dep, path); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(outputID, nil)
}

// ValidateAcyclic checks the whole graph for cycles.
func (g *Graph) ValidateAcyclic() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.detectCycles()
}

// directDeps must be called with the mutex held.
func (g *Graph) directDeps(outputID string) map[string]struct{} {
	merged := make(map[string]struct{}, len(g.static[outputID])+len(g.dynamic[outputID]))
	for id := range g.static[outputID] {
		merged[id] = struct{}{}
	}
	for id := range g.dynamic[outputID] {
		merged[id] = struct{}{}
	}
	return merged
}

// checkEdge must be called with the mutex held.
func (g *Graph) checkEdge(outputID, inputID string) error {
	out, ok := g.nodes[outputID]
	if !ok {
		return fmt.Errorf("output node not found: %s", outputID)
	}
	if !out.Producible() {
		return fmt.Errorf("node '%s' is a %s and cannot have dependencies", outputID, out.Kind)
	}
	if _, ok := g.nodes[inputID]; !ok {
		return fmt.Errorf("input node not found: %s", inputID)
	}
	if outputID == inputID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", outputID, outputID)
	}
	return nil
}

// detectCycles must be called with the mutex held. Classic depth-first
// search with permanent and temporary marks over the dependency direction.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return &CycleError{Output: id}
		}
		temporary[id] = true
		for dep := range g.directDeps(id) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for id := range g.nodes {
		if !permanent[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
