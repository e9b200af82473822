// Package workspace defines the Workspace port (C4, spec.md §4.3): two
// parallel source trees ("base" and "change") materialised on disk for
// one run; a git/exec-based reference implementation lives in the
// gitworkspace subpackage. The
// source-control fetch mechanics and on-disk layout beyond this
// contract are an external-collaborator concern (spec.md §1).
package workspace

import "context"

// Realm mirrors hostselector.Realm without importing that package,
// keeping Workspace a leaf port consumable independently.
type Realm string

const (
	Production Realm = "production"
	Cloud      Realm = "cloud"
)

// Workspace is the per-run port the controller drives between realm
// partitions; workers only read from the trees it exposes, never
// mutate them (spec.md §5's shared-resource rule).
type Workspace interface {
	// Prepare clones both the base and change trees, applies the change
	// under test to the change tree, and applies a separate private
	// overlay change to both trees if one was supplied.
	Prepare(ctx context.Context) error
	// Refresh fetches source into both trees of a long-lived developer
	// workspace (--force reuse, SPEC_FULL.md §12.4).
	Refresh(ctx context.Context, source string) error
	// UpdateConfig rewrites realm-specific data files in-place in both
	// trees; must be called before each realm's compilations.
	UpdateConfig(ctx context.Context, realm Realm) error
	// BaseTree and ChangeTree return the two trees' root paths, consumed
	// by the Compiler port.
	BaseTree() string
	ChangeTree() string
	// Cleanup removes the working tree but preserves the output tree.
	// force, when true, skips teardown entirely (SPEC_FULL.md §12.4).
	Cleanup(ctx context.Context, force bool) error
}
