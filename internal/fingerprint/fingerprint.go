// Package fingerprint computes stable identity values for graph nodes.
//
// Fingerprints are the correctness anchor of the whole engine: two
// invocations observing bit-identical underlying state must produce
// identical fingerprints. File nodes therefore hash content, never
// timestamps; environment nodes distinguish unset from empty; version
// nodes use the declared tag verbatim.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/staleguard/internal/hostid"
	"github.com/vk/staleguard/internal/node"
)

// MissingInputError reports a declared source-input file that does not
// exist at fingerprint time. Absence is surfaced, never aliased with an
// empty fingerprint, because an empty fingerprint could collide with a
// legitimately empty file.
type MissingInputError struct {
	Node string
	Path string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("declared source input '%s' does not exist (path %s)", e.Node, e.Path)
}

// Provider computes fingerprints for source and probe-source nodes. It is
// pure given the current external state and safe for concurrent use.
type Provider struct {
	// host is resolved once per provider so every probe in one invocation
	// observes the same machine identity.
	host     hostid.Identity
	hostOnce sync.Once
	hostFP   string

	// Parallelism bound for snapshot scanning.
	limit int
}

// New returns a Provider that scans with the given parallelism bound.
// A bound below one falls back to serial scanning.
func New(limit int) *Provider {
	if limit < 1 {
		limit = 1
	}
	return &Provider{host: hostid.Current(), limit: limit}
}

// HashString returns the canonical value-hash fingerprint for an arbitrary
// string, used for environment values and canonicalized probe results.
func HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HashFile returns the content-hash fingerprint of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalizeProbeResult normalizes raw probe output into a deterministic
// value: whitespace-separated tokens are deduplicated and sorted, so a
// capability set reported in a different order fingerprints identically.
func CanonicalizeProbeResult(raw string) string {
	fields := strings.Fields(raw)
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "\n")
}

// Fingerprint computes the current fingerprint of a single source-input
// node. Missing files yield a MissingInputError.
func (p *Provider) Fingerprint(n *node.Node) (string, error) {
	if n.Kind != node.SourceInput {
		return "", fmt.Errorf("node '%s' is a %s; only source inputs are fingerprinted directly", n.ID, n.Kind)
	}
	switch n.Method {
	case node.FileContent:
		fp, err := HashFile(n.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return "", &MissingInputError{Node: n.ID, Path: n.Path}
		}
		if err != nil {
			return "", err
		}
		return fp, nil
	case node.EnvValue:
		value, ok := os.LookupEnv(n.EnvVar)
		if !ok {
			// Unset is a distinct state from every set value, including "".
			return "env:unset", nil
		}
		return "env:" + HashString(value), nil
	case node.VersionTag:
		return "tag:" + n.Tag, nil
	case node.HostIdentity:
		p.hostOnce.Do(func() { p.hostFP = p.host.Fingerprint() })
		return p.hostFP, nil
	}
	return "", fmt.Errorf("node '%s' has unknown fingerprint method", n.ID)
}

// Snapshot holds the fingerprints of every source-input node at one point
// in time, plus the set of declared inputs found missing. It is safe for
// concurrent use: executor workers read it and add discovered-input
// fingerprints while a run is in flight.
type Snapshot struct {
	mu      sync.RWMutex
	values  map[string]string
	missing map[string]error
}

// Value returns the fingerprint recorded for a node identity.
func (s *Snapshot) Value(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.values[id]
	return fp, ok
}

// Missing returns the MissingInput condition for a node identity, or nil.
func (s *Snapshot) Missing(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing[id]
}

// MissingIDs returns the identities of all missing inputs, sorted.
func (s *Snapshot) MissingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.missing))
	for id := range s.missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Set records a fingerprint for a node scanned after the snapshot was
// taken, such as a dynamically discovered input.
func (s *Snapshot) Set(id, fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = fp
}

// Snapshot fingerprints all given nodes concurrently, bounded by the
// provider's limit. Source inputs that do not exist are collected as
// missing rather than failing the whole scan; any other error aborts.
func (p *Provider) Snapshot(ctx context.Context, nodes []*node.Node) (*Snapshot, error) {
	snap := &Snapshot{
		values:  make(map[string]string, len(nodes)),
		missing: make(map[string]error),
	}
	var mu sync.Mutex

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(p.limit)
	for _, n := range nodes {
		if n.Kind != node.SourceInput {
			continue
		}
		n := n
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := p.Fingerprint(n)
			mu.Lock()
			defer mu.Unlock()
			var missing *MissingInputError
			switch {
			case errors.As(err, &missing):
				snap.missing[n.ID] = err
			case err != nil:
				return err
			default:
				snap.values[n.ID] = fp
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
