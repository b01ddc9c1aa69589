package executor

import (
	"context"
	"fmt"

	"github.com/vk/staleguard/internal/node"
)

// ResolvedInput is one dependency handed to an adapter, with the
// fingerprint the engine observed for it.
type ResolvedInput struct {
	Node        *node.Node
	Fingerprint string
}

// Task is the unit of work the engine dispatches to an adapter. Inputs are
// the output's full current dependency set, sorted by identity.
type Task struct {
	Output *node.Node
	Inputs []ResolvedInput
}

// Result is what an adapter reports back on success.
type Result struct {
	// ArtifactHandle is an opaque pointer to the produced artifact,
	// usually a path. Stored and reported, never dereferenced.
	ArtifactHandle string
	// ProbeResult is the raw probe output for probe-input tasks; the
	// engine canonicalizes it before recording. Ignored for outputs.
	ProbeResult string
	// DiscoveredInputs are additional inputs the tool reported reading.
	// The engine treats this list as authoritative and replaces the
	// output's dynamic edge set with it before committing, for every
	// adapter kind uniformly.
	DiscoveredInputs []string
}

// Adapter is the pluggable contract that actually produces an output. One
// implementation is registered per rule kind.
type Adapter interface {
	Execute(ctx context.Context, task Task) (Result, error)
}

// AdapterLookup resolves a rule kind name to its registered adapter.
type AdapterLookup interface {
	Adapter(kind string) (Adapter, bool)
}

// ExecutionError reports a failed execution. The failing output and its
// dependent subtree are marked unbuilt for the run; siblings proceed.
type ExecutionError struct {
	Output string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("producing '%s': %v", e.Output, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
