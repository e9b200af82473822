// Package state implements the run-wide host-outcome aggregator (C7):
// a thread-safe Map[Outcome -> Set[Hostname]] mutated by a single
// owning goroutine's worth of callers and rendered into the
// "Nodes: ..." summary line the Reporter publishes.
package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wikimedia/puppet-compiler/pkg/outcome"
)

// HostResult is one host worker's terminal (or in-flight) classification.
type HostResult struct {
	Hostname string
	Outcome  outcome.Outcome
}

// RunState is the aggregator. Zero value is not usable; use New.
type RunState struct {
	mu       sync.Mutex
	buckets  map[outcome.Outcome]map[string]bool
	hostSeen map[string]outcome.Outcome
}

// New returns an empty aggregator.
func New() *RunState {
	return &RunState{
		buckets:  make(map[outcome.Outcome]map[string]bool),
		hostSeen: make(map[string]outcome.Outcome),
	}
}

// Add records hostname's outcome, moving it out of any bucket it was
// previously in. A host may only move into a new bucket if its previous
// outcome, if any, was not terminal — terminal outcomes other than
// Cancelled are final (spec.md §3's invariant); Cancelled may still be
// overwritten by a worker's best-effort publish completing afterward
// (SPEC_FULL.md §13.4).
func (s *RunState) Add(r HostResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.hostSeen[r.Hostname]; ok {
		if prev != outcome.Cancelled {
			return
		}
		if b := s.buckets[prev]; b != nil {
			delete(b, r.Hostname)
		}
	}

	if s.buckets[r.Outcome] == nil {
		s.buckets[r.Outcome] = make(map[string]bool)
	}
	s.buckets[r.Outcome][r.Hostname] = true
	s.hostSeen[r.Hostname] = r.Outcome
}

// Count returns the number of hosts currently classified under o.
func (s *RunState) Count(o outcome.Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[o])
}

// Hosts returns the sorted hostnames classified under o.
func (s *RunState) Hosts(o outcome.Outcome) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.buckets[o])
}

// Total returns the number of hosts recorded across all buckets.
func (s *RunState) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hostSeen)
}

// RunFailed reports whether any host landed in a failure outcome (spec.md
// §4.7 step 6: Error or Fail).
func (s *RunState) RunFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for o, hosts := range s.buckets {
		if o.IsFailure() && len(hosts) > 0 {
			return true
		}
	}
	return false
}

// orderedOutcomes fixes a stable rendering order for Summary, independent
// of map iteration order.
var orderedOutcomes = []outcome.Outcome{
	outcome.Noop, outcome.Diff, outcome.CoreDiff, outcome.Error, outcome.Fail, outcome.Cancelled,
}

// Summary renders "Nodes: <n1> <LABEL1> <n2> <LABEL2> ..." over every
// non-empty bucket in a stable order. When partial is true, the
// Cancelled bucket (hosts still in flight) renders as RUNNING.
func (s *RunState) Summary(partial bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []string
	for _, o := range orderedOutcomes {
		n := len(s.buckets[o])
		if n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, o.Label(partial)))
	}
	if len(parts) == 0 {
		return "Nodes: none"
	}
	return "Nodes: " + strings.Join(parts, " ")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
