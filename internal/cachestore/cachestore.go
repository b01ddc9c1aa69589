// Package cachestore persists, per output node, the dependency fingerprints
// recorded at last successful production plus the artifact handle. The store
// is keyed by output identity only; there is deliberately no global "build
// version" flag, because a single flag cannot express that some outputs are
// stale while others are not.
package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrCorrupt reports a store whose contents cannot be parsed. Callers must
// treat a corrupt store as "no prior record for any output": a full rebuild
// is safe, partial trust in corrupted records is not.
var ErrCorrupt = errors.New("cache store corrupt")

// Record is the persisted state of one successfully produced output.
// Records are only ever written for successful productions; a failed
// execution leaves the prior record (or absence thereof) intact.
type Record struct {
	// Output is the identity of the produced node.
	Output string `json:"output"`
	// Deps maps every dependency node identity, static and dynamic, to the
	// fingerprint observed when the output was produced.
	Deps map[string]string `json:"deps"`
	// DynamicDeps lists which Deps keys were discovered dynamically, so the
	// next invocation can restore them as static-equivalent edges.
	DynamicDeps []string `json:"dynamic_deps,omitempty"`
	// ArtifactHandle is an opaque pointer to the produced artifact,
	// supplied by the executor. The engine never dereferences it.
	ArtifactHandle string `json:"artifact,omitempty"`
	// ProbeResult is the canonicalized probe value for probe-input nodes.
	ProbeResult string `json:"probe_result,omitempty"`
	// RunID identifies the invocation that committed this record.
	RunID string `json:"run_id"`
	// ProducedAt is informational only; it never participates in staleness.
	ProducedAt time.Time `json:"produced_at"`
}

// Digest returns the fingerprint this record presents to dependent nodes.
// It is a deterministic summary of the recorded dependency fingerprints and
// the artifact handle, so a rebuilt upstream output changes fingerprint for
// everything downstream.
func (r *Record) Digest() string {
	keys := make([]string, 0, len(r.Deps))
	for k := range r.Deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, r.Deps[k])
	}
	fmt.Fprintf(h, "artifact=%s\n", r.ArtifactHandle)
	return "record:sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Store is the persistence contract. Commits are atomic per record: a
// crashed or killed execution must leave the prior record intact, never a
// half-written one. Implementations are safe for concurrent per-output
// commits from multiple workers.
type Store interface {
	// Load returns every persisted record keyed by output identity.
	// A corrupt store surfaces ErrCorrupt.
	Load(ctx context.Context) (map[string]*Record, error)
	// RecordFor returns the record for one output, or nil if absent.
	RecordFor(ctx context.Context, output string) (*Record, error)
	// Commit durably replaces the record for rec.Output.
	Commit(ctx context.Context, rec *Record) error
	// Close releases any underlying resources.
	Close() error
}
