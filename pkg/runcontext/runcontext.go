// Package runcontext carries the per-run values the Python original kept
// as module-level globals (spec.md §9's redesign note): change id, job
// id, and the probed compiler version, held as a value by the controller
// instead.
package runcontext

// RunContext is a plain value built by the controller at run start. The
// controller logs it, hands PuppetVersion to the scheduler's Config, and
// prefixes PuppetVersion onto the summaries it publishes; nothing in this
// package is mutable shared state.
type RunContext struct {
	// ChangeID identifies the source-control change under test (e.g. a
	// Gerrit/PR number).
	ChangeID string
	// JobID identifies this particular run.
	JobID string
	// PuppetVersion is probed once via Compiler.Version at run start and
	// is otherwise opaque to the core.
	PuppetVersion string
}

// New returns a RunContext with the given change and job identifiers;
// PuppetVersion is filled in later by the controller once the compiler
// has been probed.
func New(changeID, jobID string) RunContext {
	return RunContext{ChangeID: changeID, JobID: jobID}
}

// WithPuppetVersion returns a copy of rc with PuppetVersion set.
func (rc RunContext) WithPuppetVersion(version string) RunContext {
	rc.PuppetVersion = version
	return rc
}
