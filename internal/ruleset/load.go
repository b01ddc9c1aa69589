// Package ruleset loads and merges HCL rule declarations into the
// format-agnostic model the engine plans against.
package ruleset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/staleguard/internal/ctxlog"
	"github.com/vk/staleguard/internal/fsutil"
	"github.com/vk/staleguard/internal/node"
)

// RuleFileExtension is the suffix rule files are discovered by.
const RuleFileExtension = ".hcl"

// AmbiguousProducerError is the fatal configuration error reported when two
// rules declare the same output identity.
type AmbiguousProducerError struct {
	Output string
}

func (e *AmbiguousProducerError) Error() string {
	return fmt.Sprintf("output '%s' is declared by more than one rule", e.Output)
}

// Model is the merged, validated rule set. Nodes appear in declaration
// order across all merged files; StaticInputs maps each producible node to
// its declared input identities.
type Model struct {
	Nodes        []*node.Node
	StaticInputs map[string][]string

	byID map[string]*node.Node
}

// Node returns the declared node with the given identity, if present.
func (m *Model) Node(id string) (*node.Node, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// SourceFilePaths returns the paths of every declared file node, including
// probe sources. Watch mode observes exactly this set.
func (m *Model) SourceFilePaths() []string {
	var paths []string
	for _, n := range m.Nodes {
		if n.Kind == node.SourceInput && n.Method == node.FileContent {
			paths = append(paths, n.Path)
		}
	}
	return paths
}

// Load finds, parses, and merges one or more HCL rule files from the given
// path into a single validated Model.
func Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.ResolveRulePath(path, RuleFileExtension)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules path '%s': %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s rule files found at '%s'", RuleFileExtension, path)
	}
	logger.Debug("Found rule files to process.", "count", len(files), "path", path)

	merged := &fileSchema{}
	parser := hclparse.NewParser()
	evalCtx := newEvalContext()
	for _, file := range files {
		cfg, err := decodeRuleFile(parser, file, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule file '%s': %w", file, err)
		}
		merged.Sources = append(merged.Sources, cfg.Sources...)
		merged.Envs = append(merged.Envs, cfg.Envs...)
		merged.Versions = append(merged.Versions, cfg.Versions...)
		merged.Outputs = append(merged.Outputs, cfg.Outputs...)
		merged.Probes = append(merged.Probes, cfg.Probes...)
	}

	model, err := buildModel(merged)
	if err != nil {
		return nil, err
	}
	logger.Debug("Rule files loaded and merged.",
		"nodes", len(model.Nodes), "producible", len(model.StaticInputs))
	return model, nil
}

// newEvalContext exposes the variables rule file expressions may reference:
// the platform pair for OS-specific rules, and the working directory so
// rule sets can stay relocatable.
func newEvalContext() *hcl.EvalContext {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"os":      cty.StringVal(runtime.GOOS),
			"arch":    cty.StringVal(runtime.GOARCH),
			"workdir": cty.StringVal(wd),
		},
	}
}

func decodeRuleFile(parser *hclparse.Parser, path string, evalCtx *hcl.EvalContext) (*fileSchema, error) {
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	cfg := &fileSchema{}
	if diags := gohcl.DecodeBody(file.Body, evalCtx, cfg); diags.HasErrors() {
		return nil, diags
	}
	return cfg, nil
}

// buildModel turns merged blocks into nodes, preserving declaration order
// and validating identities.
func buildModel(cfg *fileSchema) (*Model, error) {
	m := &Model{
		StaticInputs: make(map[string][]string),
		byID:         make(map[string]*node.Node),
	}

	add := func(n *node.Node) error {
		if n.ID == node.MachineIdentityID {
			return fmt.Errorf("node identity '%s' is reserved", n.ID)
		}
		if prev, ok := m.byID[n.ID]; ok {
			if prev.Producible() && n.Producible() {
				return &AmbiguousProducerError{Output: n.ID}
			}
			return fmt.Errorf("duplicate node identity '%s'", n.ID)
		}
		n.Order = len(m.Nodes)
		m.Nodes = append(m.Nodes, n)
		m.byID[n.ID] = n
		return nil
	}

	for _, b := range cfg.Sources {
		path := filepath.Clean(b.Path)
		if err := add(&node.Node{ID: path, Kind: node.SourceInput, Method: node.FileContent, Path: path}); err != nil {
			return nil, err
		}
	}
	for _, b := range cfg.Envs {
		if err := add(&node.Node{ID: b.Name, Kind: node.SourceInput, Method: node.EnvValue, EnvVar: b.Name}); err != nil {
			return nil, err
		}
	}
	for _, b := range cfg.Versions {
		if b.Tag == "" {
			return nil, fmt.Errorf("version '%s' declares an empty tag", b.Name)
		}
		if err := add(&node.Node{ID: b.Name, Kind: node.SourceInput, Method: node.VersionTag, Tag: b.Tag}); err != nil {
			return nil, err
		}
	}
	for _, b := range cfg.Outputs {
		if b.Executor == "" {
			return nil, fmt.Errorf("output '%s' does not name an executor", b.Name)
		}
		id := filepath.Clean(b.Name)
		if err := add(&node.Node{
			ID: id, Kind: node.DerivedOutput,
			Executor: b.Executor, Command: b.Command, Depfile: b.Depfile,
		}); err != nil {
			return nil, err
		}
		inputs := make([]string, 0, len(b.Inputs))
		for _, in := range b.Inputs {
			inputs = append(inputs, canonicalInputID(m, in))
		}
		m.StaticInputs[id] = inputs
	}
	for _, b := range cfg.Probes {
		if b.Executor == "" {
			return nil, fmt.Errorf("probe '%s' does not name an executor", b.Name)
		}
		if b.Source == "" {
			return nil, fmt.Errorf("probe '%s' does not declare a source", b.Name)
		}
		src := filepath.Clean(b.Source)
		// Auto-declare the probe source file if the rule set has not.
		if _, ok := m.byID[src]; !ok {
			if err := add(&node.Node{ID: src, Kind: node.SourceInput, Method: node.FileContent, Path: src}); err != nil {
				return nil, err
			}
		}
		if err := add(&node.Node{
			ID: b.Name, Kind: node.ProbeInput,
			Executor: b.Executor, Path: src, Command: b.Command,
		}); err != nil {
			return nil, err
		}
		m.StaticInputs[b.Name] = []string{src, node.MachineIdentityID}
	}

	// The builtin host node participates in every probe's dependency set.
	host := &node.Node{
		ID:     node.MachineIdentityID,
		Kind:   node.SourceInput,
		Method: node.HostIdentity,
		Order:  len(m.Nodes),
	}
	m.Nodes = append(m.Nodes, host)
	m.byID[host.ID] = host

	// Static inputs must reference declared nodes; an undeclared influence
	// is outside the engine's guarantee and is rejected loudly rather than
	// silently tolerated.
	for outID, inputs := range m.StaticInputs {
		for _, in := range inputs {
			if _, ok := m.byID[in]; !ok {
				return nil, fmt.Errorf("output '%s' references undeclared input '%s'", outID, in)
			}
		}
	}
	return m, nil
}

// canonicalInputID maps an input reference to its node identity. File paths
// are cleaned; symbolic names (env, version, output, probe) pass through.
func canonicalInputID(m *Model, ref string) string {
	if _, ok := m.byID[ref]; ok {
		return ref
	}
	return filepath.Clean(ref)
}
