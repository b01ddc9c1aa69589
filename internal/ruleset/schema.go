package ruleset

// The block schema for rule files. A rule set declares every node that
// participates in the engine's guarantee: an environment variable that
// influences an output but is not declared here is, by construction,
// outside that guarantee.

// SourceBlock declares a source-input file node: `source "src/a.vert" {}`.
type SourceBlock struct {
	Path string `hcl:"path,label"`
}

// EnvBlock declares an environment-variable node: `env "CC" {}`.
type EnvBlock struct {
	Name string `hcl:"name,label"`
}

// VersionBlock declares an externally versioned bundle node whose
// fingerprint is the declared tag itself.
type VersionBlock struct {
	Name string `hcl:"name,label"`
	Tag  string `hcl:"tag"`
}

// OutputBlock declares a derived-output node, the executor kind that
// produces it, and its static inputs. Command and depfile are consumed by
// the builtin command adapter; other adapters ignore them.
type OutputBlock struct {
	Name     string   `hcl:"name,label"`
	Executor string   `hcl:"executor"`
	Inputs   []string `hcl:"inputs,optional"`
	Command  []string `hcl:"command,optional"`
	Depfile  string   `hcl:"depfile,optional"`
}

// ProbeBlock declares a probe-input node. Its dependency set is always
// {probe source content, machine identity}, so relocating the cache to a
// different host invalidates the probe through the ordinary staleness rule.
type ProbeBlock struct {
	Name     string   `hcl:"name,label"`
	Executor string   `hcl:"executor"`
	Source   string   `hcl:"source"`
	Command  []string `hcl:"command,optional"`
}

// fileSchema is the top-level structure of a single rule file.
type fileSchema struct {
	Sources  []*SourceBlock  `hcl:"source,block"`
	Envs     []*EnvBlock     `hcl:"env,block"`
	Versions []*VersionBlock `hcl:"version,block"`
	Outputs  []*OutputBlock  `hcl:"output,block"`
	Probes   []*ProbeBlock   `hcl:"probe,block"`
}
