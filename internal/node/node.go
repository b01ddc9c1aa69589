// Package node defines the identity-addressed units tracked by the
// dependency graph: source inputs, derived outputs, and probe inputs.
package node

// Kind distinguishes the three classes of graph node.
type Kind int

const (
	// SourceInput is an external input, never produced by the engine.
	SourceInput Kind = iota
	// DerivedOutput is produced by exactly one rule executor.
	DerivedOutput
	// ProbeInput is a computed environment fact, e.g. a detected CPU
	// feature set. Probes are produced by the engine like outputs, but
	// their fingerprint is the canonical probe result value.
	ProbeInput
)

// String returns the kind's configuration-facing name.
func (k Kind) String() string {
	switch k {
	case SourceInput:
		return "source-input"
	case DerivedOutput:
		return "derived-output"
	case ProbeInput:
		return "probe-input"
	}
	return "unknown"
}

// Method selects how a source input's fingerprint is computed.
type Method int

const (
	// FileContent hashes the file's bytes. Timestamps are never consulted.
	FileContent Method = iota
	// EnvValue hashes an environment variable's current value, with unset
	// distinct from every set value including the empty string.
	EnvValue
	// VersionTag uses a declared version string verbatim, compared for
	// exact equality.
	VersionTag
	// HostIdentity is the composite identity of the execution host.
	HostIdentity
)

// MachineIdentityID is the reserved identity of the builtin host node that
// every probe input depends on. Declaring a node with this identity is a
// configuration error.
const MachineIdentityID = "machine.identity"

// Node is a single vertex in the dependency graph.
type Node struct {
	// ID is the stable identity, unique within the graph: a canonical path
	// for file nodes or a symbolic name for everything else.
	ID string
	// Kind classifies the node.
	Kind Kind
	// Order is the zero-based declaration order in the merged rule set,
	// used as the deterministic tie-break when planning. Nodes created at
	// runtime (discovered dynamic inputs) sort after all declared nodes.
	Order int

	// Method applies to source inputs only.
	Method Method
	// Path is the file path for FileContent nodes and for the probe source
	// of probe inputs.
	Path string
	// EnvVar is the variable name for EnvValue nodes.
	EnvVar string
	// Tag is the declared version string for VersionTag nodes.
	Tag string

	// Executor names the registered adapter kind that produces this node.
	// Set for derived outputs and probe inputs only.
	Executor string
	// Command and Depfile configure the builtin command adapter, when used.
	Command []string
	Depfile string
}

// Producible reports whether the engine is responsible for producing this
// node (derived outputs and probe inputs).
func (n *Node) Producible() bool {
	return n.Kind == DerivedOutput || n.Kind == ProbeInput
}
