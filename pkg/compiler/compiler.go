// Package compiler defines the Compiler port (spec.md §6) the worker
// state machine invokes; an exec-based reference implementation that
// shells out to the external puppet-compiler binary lives in the
// execcompiler subpackage — the binary
// itself, its CLI surface, and version semantics are explicitly out of
// scope for the core (spec.md §1).
package compiler

import "context"

// Label distinguishes the two compiles a worker runs per host.
type Label string

const (
	Base   Label = "base"
	Change Label = "change"
)

// Result is the outcome of one compile invocation.
type Result struct {
	OK       bool
	ExitCode int
	Output   []string
}

// Compiler is the external collaborator the worker invokes; the core
// never parses or execs anything beyond this interface.
type Compiler interface {
	// Compile runs one compile for host/label against vardir, returning
	// the catalog artifact's outcome. extraFlags are passed through
	// opaquely (e.g. scopes filtering flags).
	Compile(ctx context.Context, host string, label Label, vardir string, extraFlags []string) (Result, error)
	// Version probes the compiler's version string once at run start
	// (SPEC_FULL.md §12.5), stored on RunContext rather than cached in
	// process environment as the Python original did.
	Version(ctx context.Context) (string, error)
}
