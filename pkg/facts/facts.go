// Package facts defines the Facts port (spec.md §6): locating the facts
// artifact for a host under a vardir, plus a disk-based reference
// implementation doing a recursive, most-recently-modified-wins search.
package facts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Finder.FactsFile when no artifact exists
// for the host.
var ErrNotFound = errors.New("facts artifact not found")

// Finder is the Facts port the worker's READY transition consumes.
type Finder interface {
	FactsFile(ctx context.Context, vardir, host string) (string, error)
}

// DiskFinder searches vardir recursively for a file named "<host>.yaml"
// or "<host>.json", returning the most-recently-modified match when more
// than one exists (spec.md §6).
type DiskFinder struct{}

// New returns a DiskFinder.
func New() DiskFinder { return DiskFinder{} }

func (DiskFinder) FactsFile(ctx context.Context, vardir, host string) (string, error) {
	var best string
	var bestMod int64

	candidates := map[string]bool{host + ".yaml": true, host + ".json": true}

	err := filepath.WalkDir(vardir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate unreadable subtrees, keep searching
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !candidates[filepath.Base(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = path, mod
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", ErrNotFound
	}
	return best, nil
}

// IsNotFound reports whether err represents a missing facts artifact,
// whether it's the sentinel or an os.IsNotExist-shaped error from a
// caller-provided Finder.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || os.IsNotExist(err)
}
