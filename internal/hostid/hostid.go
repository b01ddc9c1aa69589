// Package hostid computes the composite machine identity that every
// probe-input node depends on. Relocating a cache store to a different host
// changes this identity's fingerprint, which forces probe re-detection
// through the ordinary staleness rule rather than a special-cased check.
package hostid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
)

// Identity is the set of host attributes that can change the outcome of a
// capability probe.
type Identity struct {
	OS       string
	Arch     string
	Hostname string
	NumCPU   int
}

// Current collects the identity of the executing host.
func Current() Identity {
	hostname, err := os.Hostname()
	if err != nil {
		// A host without a resolvable name still needs a stable identity
		// within this invocation.
		hostname = "unknown"
	}
	return Identity{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
		NumCPU:   runtime.NumCPU(),
	}
}

// Fingerprint returns the deterministic fingerprint of the identity. Two
// hosts with identical attributes produce identical fingerprints.
func (id Identity) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "os=%s\narch=%s\nhostname=%s\nncpu=%d\n", id.OS, id.Arch, id.Hostname, id.NumCPU)
	return "host:sha256:" + hex.EncodeToString(h.Sum(nil))
}
