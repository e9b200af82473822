// Package reporter defines the Reporter port (spec.md §6): one-way
// emissions of per-host and aggregate run state. The HTML/JSON rendering
// templates themselves are out of scope (spec.md §1); this package only
// defines the contract. Implementations live in githubreporter and, for
// local runs, in cmd/puppet-compiler's stdoutReporter.
package reporter

import (
	"github.com/wikimedia/puppet-compiler/pkg/differ"
	"github.com/wikimedia/puppet-compiler/pkg/outcome"
)

// HostReport is what renderHost receives for one finished host.
type HostReport struct {
	Hostname string
	Outcome  outcome.Outcome
	// Diff is the main (intersection) diff, FullDiff the union diff —
	// both always passed per SPEC_FULL.md §13.1's open-question decision.
	Diff     *differ.CatalogDiff
	FullDiff *differ.CatalogDiff
	CoreDiff *differ.CatalogDiff
}

// Reporter is the one-way port the worker and scheduler publish to.
type Reporter interface {
	// RenderHost publishes one host's terminal classification and diffs.
	RenderHost(report HostReport) error
	// RenderIndex publishes an aggregate summary. partial marks an
	// in-progress tick (scheduler) versus the final run summary
	// (controller).
	RenderIndex(summary string, partial bool) error
}
