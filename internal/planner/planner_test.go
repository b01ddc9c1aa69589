package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/staleguard/internal/cachestore"
	"github.com/vk/staleguard/internal/fingerprint"
	"github.com/vk/staleguard/internal/graph"
	"github.com/vk/staleguard/internal/node"
)

// fixture wires a real graph, real files, and a real fingerprint snapshot
// so staleness comes from actual content changes.
type fixture struct {
	t       *testing.T
	dir     string
	g       *graph.Graph
	p       *fingerprint.Provider
	records map[string]*cachestore.Record
	order   int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:       t,
		dir:     t.TempDir(),
		g:       graph.New(),
		p:       fingerprint.New(2),
		records: make(map[string]*cachestore.Record),
	}
}

func (f *fixture) write(name, content string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) source(name, content string) string {
	f.t.Helper()
	path := f.write(name, content)
	require.NoError(f.t, f.g.AddNode(&node.Node{
		ID: path, Kind: node.SourceInput, Method: node.FileContent, Path: path, Order: f.order,
	}))
	f.order++
	return path
}

func (f *fixture) output(id string, deps ...string) string {
	f.t.Helper()
	require.NoError(f.t, f.g.AddNode(&node.Node{
		ID: id, Kind: node.DerivedOutput, Executor: "test", Order: f.order,
	}))
	f.order++
	for _, dep := range deps {
		require.NoError(f.t, f.g.DeclareStaticEdge(id, dep))
	}
	return id
}

func (f *fixture) snapshot() *fingerprint.Snapshot {
	f.t.Helper()
	snap, err := f.p.Snapshot(context.Background(), f.g.Nodes())
	require.NoError(f.t, err)
	return snap
}

// commit records an output as successfully produced against the current
// state, the way the executor would.
func (f *fixture) commit(snap *fingerprint.Snapshot, out string) {
	f.t.Helper()
	deps := make(map[string]string)
	for _, dep := range f.g.Dependencies(out) {
		n, ok := f.g.Node(dep)
		require.True(f.t, ok)
		switch n.Kind {
		case node.SourceInput:
			fp, ok := snap.Value(dep)
			require.True(f.t, ok, "no fingerprint for %s", dep)
			deps[dep] = fp
		case node.DerivedOutput:
			deps[dep] = f.records[dep].Digest()
		case node.ProbeInput:
			deps[dep] = fingerprint.HashString(f.records[dep].ProbeResult)
		}
	}
	f.records[out] = &cachestore.Record{
		Output:         out,
		Deps:           deps,
		DynamicDeps:    f.g.DynamicDependencies(out),
		ArtifactHandle: "artifact/" + out,
		RunID:          "test-run",
	}
}

func staleIDs(res *Result) []string {
	ids := make([]string, 0, len(res.Stale))
	for _, n := range res.Stale {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestPlanMinimality(t *testing.T) {
	f := newFixture(t)
	src := f.source("a.txt", "x")
	out := f.output("out", src)

	snap := f.snapshot()
	f.commit(snap, out)

	res := Plan(context.Background(), f.g, f.snapshot(), f.records)
	assert.Empty(t, res.Stale, "unchanged inputs must produce an empty plan")
	assert.Equal(t, []string{"out"}, res.Fresh)
}

func TestPlanNoRecord(t *testing.T) {
	f := newFixture(t)
	src := f.source("a.txt", "x")
	f.output("out", src)

	res := Plan(context.Background(), f.g, f.snapshot(), f.records)
	assert.Equal(t, []string{"out"}, staleIDs(res))
	assert.Equal(t, ReasonNoRecord, res.Reasons["out"])
}

func TestPlanCompleteness(t *testing.T) {
	f := newFixture(t)
	src := f.source("a.txt", "x")
	b := f.output("b", src)
	c := f.output("c", b)
	d := f.output("d", c)
	other := f.output("other", f.source("z.txt", "z"))

	snap := f.snapshot()
	f.commit(snap, b)
	f.commit(snap, c)
	f.commit(snap, d)
	f.commit(snap, other)

	f.write("a.txt", "y")
	res := Plan(context.Background(), f.g, f.snapshot(), f.records)

	// The change propagates through the whole derived chain, in
	// dependency-first order; the unrelated output is untouched.
	assert.Equal(t, []string{"b", "c", "d"}, staleIDs(res))
	assert.Equal(t, ReasonFingerprintChanged, res.Reasons["b"])
	assert.Equal(t, ReasonUpstreamStale, res.Reasons["c"])
	assert.Equal(t, ReasonUpstreamStale, res.Reasons["d"])
	assert.Equal(t, []string{"other"}, res.Fresh)
}

func TestPlanDependencySetChanged(t *testing.T) {
	f := newFixture(t)
	a := f.source("a.txt", "x")
	b := f.source("b.txt", "y")
	out := f.output("out", a)

	snap := f.snapshot()
	f.commit(snap, out)

	t.Run("edge added", func(t *testing.T) {
		require.NoError(t, f.g.DeclareStaticEdge(out, b))
		res := Plan(context.Background(), f.g, f.snapshot(), f.records)
		assert.Equal(t, []string{"out"}, staleIDs(res))
		assert.Equal(t, ReasonDependencySetChanged, res.Reasons["out"])
	})

	t.Run("recorded dynamic edge no longer current", func(t *testing.T) {
		// Record claims {a, b, c.txt} but the graph now holds only {a, b}.
		rec := f.records[out]
		rec.Deps[filepath.Join(f.dir, "c.txt")] = "sha256:gone"
		res := Plan(context.Background(), f.g, f.snapshot(), f.records)
		assert.Equal(t, ReasonDependencySetChanged, res.Reasons["out"])
	})
}

func TestPlanDeterministicOrder(t *testing.T) {
	f := newFixture(t)
	src := f.source("a.txt", "x")
	// Declared in this order; all independent of each other.
	f.output("gamma", src)
	f.output("alpha", src)
	f.output("beta", src)

	res := Plan(context.Background(), f.g, f.snapshot(), f.records)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, staleIDs(res),
		"ties must break by declaration order, not identity")
}

func TestPlanBlockedOnMissingInput(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.dir, "gone.txt")
	require.NoError(t, f.g.AddNode(&node.Node{
		ID: missing, Kind: node.SourceInput, Method: node.FileContent, Path: missing, Order: 0,
	}))
	f.order = 1
	b := f.output("b", missing)
	f.output("c", b)
	ok := f.output("ok", f.source("fine.txt", "x"))

	res := Plan(context.Background(), f.g, f.snapshot(), f.records)

	require.Contains(t, res.Blocked, "b")
	require.Contains(t, res.Blocked, "c", "blocking propagates through derived chains")
	assert.Equal(t, []string{"c", "b", missing}, res.Blocked["c"].Chain)
	assert.ErrorContains(t, res.Blocked["b"], "does not exist")
	assert.Equal(t, []string{ok}, staleIDs(res))
}

func TestPlanCrossMachineInvalidation(t *testing.T) {
	f := newFixture(t)
	probeSrc := f.source("probe.c", "int main(){}")
	require.NoError(t, f.g.AddNode(&node.Node{
		ID: node.MachineIdentityID, Kind: node.SourceInput, Method: node.HostIdentity, Order: f.order,
	}))
	f.order++
	require.NoError(t, f.g.AddNode(&node.Node{
		ID: "cpu.features", Kind: node.ProbeInput, Executor: "probe", Path: probeSrc, Order: f.order,
	}))
	f.order++
	require.NoError(t, f.g.DeclareStaticEdge("cpu.features", probeSrc))
	require.NoError(t, f.g.DeclareStaticEdge("cpu.features", node.MachineIdentityID))
	out := f.output("out", "cpu.features")

	snap := f.snapshot()
	f.records["cpu.features"] = &cachestore.Record{
		Output:      "cpu.features",
		ProbeResult: "avx2\nsse4",
		Deps: map[string]string{
			probeSrc:               mustValue(t, snap, probeSrc),
			node.MachineIdentityID: mustValue(t, snap, node.MachineIdentityID),
		},
	}
	f.commit(snap, out)

	t.Run("same machine stays fresh", func(t *testing.T) {
		res := Plan(context.Background(), f.g, f.snapshot(), f.records)
		assert.Empty(t, res.Stale)
	})

	t.Run("record from another machine is always stale", func(t *testing.T) {
		f.records["cpu.features"].Deps[node.MachineIdentityID] = "host:sha256:some-other-machine"
		res := Plan(context.Background(), f.g, f.snapshot(), f.records)
		assert.Equal(t, []string{"cpu.features", "out"}, staleIDs(res))
		assert.Equal(t, ReasonFingerprintChanged, res.Reasons["cpu.features"])
		assert.Equal(t, ReasonUpstreamStale, res.Reasons[out])
	})
}

func mustValue(t *testing.T, snap *fingerprint.Snapshot, id string) string {
	t.Helper()
	fp, ok := snap.Value(id)
	require.True(t, ok)
	return fp
}
