// Package report assembles the user-visible outcome of one engine
// invocation: every output attempted and what happened to it, so "nothing
// to do" is distinguishable from "succeeded".
package report

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Status is the outcome of one output in one invocation.
type Status string

const (
	// StatusFresh means the output's record still matched and it was not
	// touched, re-hashed, or re-executed.
	StatusFresh Status = "fresh-reused"
	// StatusRebuilt means the output was (re)produced and committed.
	StatusRebuilt Status = "rebuilt"
	// StatusFailed means the executor reported failure, or a declared
	// input was missing; no record was written.
	StatusFailed Status = "failed"
	// StatusSkipped means a dependency failed, so this output was never
	// dispatched.
	StatusSkipped Status = "skipped-dependency-failed"
)

// Entry is the outcome of a single output.
type Entry struct {
	Output         string
	Status         Status
	Reason         string
	ArtifactHandle string
	Err            error
}

// Report is the full outcome of one invocation.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []Entry
}

// Add appends an entry.
func (r *Report) Add(e Entry) {
	r.Entries = append(r.Entries, e)
}

// Sort orders entries by output identity for stable presentation.
func (r *Report) Sort() {
	sort.Slice(r.Entries, func(i, j int) bool { return r.Entries[i].Output < r.Entries[j].Output })
}

// Failed reports whether any output failed or was skipped.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Status == StatusFailed || e.Status == StatusSkipped {
			return true
		}
	}
	return false
}

// Counts returns the number of entries per status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, e := range r.Entries {
		counts[e.Status]++
	}
	return counts
}

// Write renders the report as text, one line per output plus a summary.
func (r *Report) Write(w io.Writer) error {
	for _, e := range r.Entries {
		line := fmt.Sprintf("%-26s %s", e.Status, e.Output)
		if e.Reason != "" {
			line += fmt.Sprintf(" (%s)", e.Reason)
		}
		if e.Err != nil {
			line += fmt.Sprintf(": %v", e.Err)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	counts := r.Counts()
	_, err := fmt.Fprintf(w, "run %s: %d rebuilt, %d fresh, %d failed, %d skipped in %s\n",
		r.RunID,
		counts[StatusRebuilt], counts[StatusFresh], counts[StatusFailed], counts[StatusSkipped],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return err
}
