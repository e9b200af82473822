// Package gitworkspace is a minimal reference implementation of the
// Workspace port backed by git and os/exec, grounded on the same
// subprocess-under-context pattern used by pkg/compiler/execcompiler.
package gitworkspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/workspace"
)

// Config points at the sources the controller clones per run.
type Config struct {
	// WorkRoot is the per-run directory both trees live under.
	WorkRoot string
	// PuppetSrc, PuppetPrivate, PuppetNetbox are the source repositories
	// to clone, per spec.md §6's configuration keys.
	PuppetSrc     string
	PuppetPrivate string
	PuppetNetbox  string
	// ChangeRef identifies the change under test (a branch/ref git can
	// resolve in PuppetSrc), applied only to the change tree.
	ChangeRef string
	// PrivateChangeRef, if non-empty, is applied to both trees' private
	// overlays (spec.md §4.3).
	PrivateChangeRef string
}

// Workspace is the git/exec-backed Workspace port implementation.
type Workspace struct {
	cfg    Config
	logger logr.Logger
}

// New returns a Workspace for cfg.
func New(cfg Config, logger logr.Logger) *Workspace {
	return &Workspace{cfg: cfg, logger: logger}
}

func (w *Workspace) BaseTree() string   { return filepath.Join(w.cfg.WorkRoot, "base") }
func (w *Workspace) ChangeTree() string { return filepath.Join(w.cfg.WorkRoot, "change") }

// Prepare clones both trees and applies the change ref to "change".
func (w *Workspace) Prepare(ctx context.Context) error {
	for _, tree := range []string{w.BaseTree(), w.ChangeTree()} {
		if err := w.cloneTree(ctx, tree); err != nil {
			return fmt.Errorf("prepare tree %s: %w", tree, err)
		}
	}

	if w.cfg.ChangeRef != "" {
		if err := w.checkout(ctx, w.ChangeTree(), w.cfg.ChangeRef); err != nil {
			return fmt.Errorf("apply change ref %s: %w", w.cfg.ChangeRef, err)
		}
	}

	if w.cfg.PrivateChangeRef != "" {
		for _, tree := range []string{w.BaseTree(), w.ChangeTree()} {
			privateDir := filepath.Join(tree, "private")
			if err := w.checkout(ctx, privateDir, w.cfg.PrivateChangeRef); err != nil {
				return fmt.Errorf("apply private change ref to %s: %w", privateDir, err)
			}
		}
	}

	w.logger.Info("workspace prepared", "workRoot", w.cfg.WorkRoot)
	return nil
}

func (w *Workspace) cloneTree(ctx context.Context, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if err := w.run(ctx, dest, "git", "clone", w.cfg.PuppetSrc, "."); err != nil {
		return err
	}
	if w.cfg.PuppetPrivate != "" {
		if err := w.run(ctx, dest, "git", "clone", w.cfg.PuppetPrivate, "private"); err != nil {
			return err
		}
	}
	if w.cfg.PuppetNetbox != "" {
		if err := w.run(ctx, dest, "git", "clone", w.cfg.PuppetNetbox, "netbox"); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) checkout(ctx context.Context, dir, ref string) error {
	return w.run(ctx, dir, "git", "checkout", ref)
}

// Refresh runs "git fetch source" in both trees of an existing
// workspace, used for --force-reused developer workspaces. It does not
// merge or fast-forward the checked-out branches.
func (w *Workspace) Refresh(ctx context.Context, source string) error {
	for _, tree := range []string{w.BaseTree(), w.ChangeTree()} {
		if err := w.run(ctx, tree, "git", "fetch", source); err != nil {
			return fmt.Errorf("refresh %s: %w", tree, err)
		}
	}
	return nil
}

// UpdateConfig rewrites realm-specific site data in both trees. The
// reference adapter swaps a symlinked site.pp fragment; real fleets use
// a templated hiera layer instead, which is an external-collaborator
// concern beyond this port's contract.
func (w *Workspace) UpdateConfig(ctx context.Context, realm workspace.Realm) error {
	for _, tree := range []string{w.BaseTree(), w.ChangeTree()} {
		link := filepath.Join(tree, "manifests", "realm.pp")
		target := fmt.Sprintf("realm.%s.pp", realm)
		_ = os.Remove(link)
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("update realm config for %s in %s: %w", realm, tree, err)
		}
	}
	return nil
}

// Cleanup removes the working tree, unless force is set (developer
// reuse, SPEC_FULL.md §12.4).
func (w *Workspace) Cleanup(ctx context.Context, force bool) error {
	if force {
		w.logger.Info("cleanup skipped (force)", "workRoot", w.cfg.WorkRoot)
		return nil
	}
	if err := os.RemoveAll(w.cfg.WorkRoot); err != nil {
		return fmt.Errorf("cleanup workspace %s: %w", w.cfg.WorkRoot, err)
	}
	return nil
}

// ChangedManifestPaths implements hostselector.ChangedManifests: the
// `auto` selector form inspects which manifest files the change touches
// to infer an affected host set, and the workspace is the natural place
// to answer that since it already holds both trees' git history.
func (w *Workspace) ChangedManifestPaths(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", "HEAD@{upstream}", "HEAD")
	cmd.Dir = w.ChangeTree()
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list changed manifests: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" && filepath.Ext(line) == ".pp" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (w *Workspace) run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
	}
	return nil
}
