// Package worker implements the per-host state machine (C5, spec.md
// §4.4): READY -> COMPILE_BASE -> COMPILE_CHANGE -> DIFF -> PUBLISH ->
// DONE, honouring cancellation at every suspension point and reusing
// on-disk compile artifacts for idempotence across reruns.
package worker

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/catalog"
	"github.com/wikimedia/puppet-compiler/pkg/compiler"
	"github.com/wikimedia/puppet-compiler/pkg/differ"
	"github.com/wikimedia/puppet-compiler/pkg/facts"
	"github.com/wikimedia/puppet-compiler/pkg/outcome"
	"github.com/wikimedia/puppet-compiler/pkg/perr"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
)

// HostResult is the worker's return value, consumed by the scheduler and
// folded into the state aggregator.
type HostResult struct {
	Hostname    string
	Outcome     outcome.Outcome
	BaseErr     error
	ChangeErr   error
	HasDiff     bool
	HasCoreDiff bool
	// Err is set when the worker itself raised an UnexpectedError
	// (spec.md §7); it does not replace Outcome, which is always
	// defined, but does mark the run failed.
	Err error
}

// Worker owns one host for one run.
type Worker struct {
	hostname string

	Compiler compiler.Compiler
	Facts    facts.Finder
	Reporter reporter.Reporter
	Differ   func(self, other *catalog.Catalog) *differ.Differ

	VarDir     string
	OutDir     string
	BaseTree   string
	ChangeTree string
	ExtraFlags []string
	Scopes     []string

	Logger logr.Logger

	// lastDiffFailed records whether diff() hit an exception on its last
	// call, so Run can apply §4.4's "any exception -> treat as fail"
	// rule without changing diff()'s return shape.
	lastDiffFailed bool
	// lastDiffCancelled records whether diff() observed ctx cancellation
	// on its last call, so Run can classify this host Cancelled without
	// re-checking ctx.Err() after a terminal Outcome has already been
	// derived (a sibling's fail-fast cancellation racing in after this
	// host's own work finished must not overwrite a terminal result).
	lastDiffCancelled bool
}

// New returns a Worker for hostname, wiring the ports it needs.
func New(hostname string, comp compiler.Compiler, finder facts.Finder, rep reporter.Reporter, varDir, outDir, baseTree, changeTree string, extraFlags, scopes []string, logger logr.Logger) *Worker {
	return &Worker{
		hostname:   hostname,
		Compiler:   comp,
		Facts:      finder,
		Reporter:   rep,
		Differ:     differ.New,
		VarDir:     varDir,
		OutDir:     outDir,
		BaseTree:   baseTree,
		ChangeTree: changeTree,
		ExtraFlags: extraFlags,
		Scopes:     scopes,
		Logger:     logger,
	}
}

// Hostname returns the host this worker owns, satisfying the
// scheduler's Task interface.
func (w *Worker) Hostname() string { return w.hostname }

// compileArtifact is the on-disk reuse state for one label's compile.
type compileArtifact struct {
	catalogPath string
	errPath     string
}

func (w *Worker) artifact(label compiler.Label) compileArtifact {
	prefix := "prod"
	if label == compiler.Change {
		prefix = "change"
	}
	return compileArtifact{
		catalogPath: filepath.Join(w.OutDir, fmt.Sprintf("%s.%s.catalog.gz", prefix, w.hostname)),
		errPath:     filepath.Join(w.OutDir, fmt.Sprintf("%s.%s.err", prefix, w.hostname)),
	}
}

// Run drives the full state machine for the host, honouring ctx
// cancellation at every suspension point.
func (w *Worker) Run(ctx context.Context) HostResult {
	result := HostResult{Hostname: w.hostname}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in worker for %s: %v", w.hostname, r)
			result.Err = &perr.UnexpectedError{Host: w.hostname, Err: err}
			result.Outcome = outcome.Fail
		}
	}()

	// READY: locate facts.
	if _, err := w.Facts.FactsFile(ctx, w.VarDir, w.hostname); err != nil {
		if facts.IsNotFound(err) {
			result.BaseErr = &perr.FactsMissingError{Host: w.hostname}
			result.ChangeErr = result.BaseErr
			result.Outcome = outcome.Fail
			return result
		}
		result.Err = &perr.UnexpectedError{Host: w.hostname, Err: err}
		result.Outcome = outcome.Fail
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Outcome = outcome.Cancelled
		return result
	}

	// COMPILE_BASE.
	baseCatalog, baseErr := w.compileOrReuse(ctx, compiler.Base)
	result.BaseErr = baseErr

	if err := ctx.Err(); err != nil {
		result.Outcome = outcome.Cancelled
		return result
	}

	// COMPILE_CHANGE — always attempted, even if base failed, per §4.4.
	changeCatalog, changeErr := w.compileOrReuse(ctx, compiler.Change)
	result.ChangeErr = changeErr

	if err := ctx.Err(); err != nil {
		result.Outcome = outcome.Cancelled
		return result
	}

	// A compile that could not be run or read back at all (as opposed to a
	// non-zero exit) is an UnexpectedError: classified fail and logged.
	for _, e := range []error{baseErr, changeErr} {
		var ue *perr.UnexpectedError
		if errors.As(e, &ue) {
			w.Logger.Error(ue, "unexpected worker error", "host", w.hostname)
			result.Err = ue
			result.Outcome = outcome.Fail
			return result
		}
	}

	baseOk, changeOk := baseErr == nil, changeErr == nil

	// DIFF — only if both compiles succeeded.
	var mainDiff, fullDiff, coreDiff *differ.CatalogDiff
	if baseOk && changeOk {
		mainDiff, fullDiff, coreDiff, result.HasDiff, result.HasCoreDiff = w.diff(ctx, baseCatalog, changeCatalog)
		if w.lastDiffCancelled {
			// Cancellation observed during this host's own diff step —
			// not a terminal classification racing against a sibling's
			// fail-fast, but this host's own work being cut short.
			result.Outcome = outcome.Cancelled
			return result
		}
		if w.lastDiffFailed {
			// Any exception inside the differ is reported as "diff
			// failed" for the host, classified fail (spec.md §4.4/§7).
			baseOk, changeOk = false, false
			result.Err = &perr.DiffError{Host: w.hostname, Err: fmt.Errorf("diff failed")}
		}
	}

	// Outcome is now terminal (spec.md §3: cancelled -> terminal only,
	// never the reverse) — no further ctx.Err() check here, so a
	// sibling's fail-fast cancellation arriving after this point can't
	// overwrite it.
	result.Outcome = outcome.Derive(false, baseOk, changeOk, result.HasDiff, result.HasCoreDiff)

	// PUBLISH — best-effort; failures are logged, outcome unchanged.
	w.publish(ctx, result, mainDiff, fullDiff, coreDiff)

	return result
}

func (w *Worker) diff(ctx context.Context, base, change *catalog.Catalog) (main, full, core *differ.CatalogDiff, hasDiff, hasCoreDiff bool) {
	w.lastDiffFailed = false
	w.lastDiffCancelled = false
	if err := ctx.Err(); err != nil {
		w.lastDiffCancelled = true
		return nil, nil, nil, false, false
	}

	d := w.Differ(base, change)

	var diffErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				diffErr = fmt.Errorf("panic: %v", r)
			}
		}()
		var err error
		main, err = d.DiffIntersection(false)
		if err != nil {
			diffErr = err
			return
		}
		full, err = d.DiffUnion(false)
		if err != nil {
			diffErr = err
			return
		}
		core, err = d.DiffUnion(true)
		if err != nil {
			diffErr = err
			return
		}
	}()

	if diffErr != nil {
		w.Logger.Error(diffErr, "diff failed", "host", w.hostname)
		w.lastDiffFailed = true
		return nil, nil, nil, false, false
	}

	hasDiff = main != nil || full != nil
	hasCoreDiff = core != nil
	return main, full, core, hasDiff, hasCoreDiff
}

func (w *Worker) publish(ctx context.Context, result HostResult, mainDiff, fullDiff, coreDiff *differ.CatalogDiff) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Error(fmt.Errorf("panic: %v", r), "publish panicked", "host", w.hostname)
		}
	}()

	report := reporter.HostReport{
		Hostname: w.hostname,
		Outcome:  result.Outcome,
		Diff:     mainDiff,
		FullDiff: fullDiff,
		CoreDiff: coreDiff,
	}
	if err := w.Reporter.RenderHost(report); err != nil {
		pubErr := &perr.PublishError{Host: w.hostname, Err: err}
		w.Logger.Error(pubErr, "publish failed", "host", w.hostname)
	}
}

// compileOrReuse implements the READY/COMPILE_* reuse logic from §4.4:
// an existing successful artifact (size>0) is reused, an existing error
// file's verdict is reused, otherwise the Compiler port is invoked.
func (w *Worker) compileOrReuse(ctx context.Context, label compiler.Label) (*catalog.Catalog, error) {
	art := w.artifact(label)

	if info, err := os.Stat(art.catalogPath); err == nil && info.Size() > 0 {
		cat, err := w.readCompressedCatalog(art.catalogPath)
		if err == nil {
			return cat, nil
		}
		// Fall through to a fresh compile if the cached artifact is
		// unreadable; it's not authoritative if it can't be parsed.
	} else if _, err := os.Stat(art.errPath); err == nil {
		return nil, &perr.CompileFailedError{Host: w.hostname, Label: string(label)}
	}

	res, err := w.Compiler.Compile(ctx, w.hostname, label, w.VarDir, w.compileFlags())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &perr.UnexpectedError{Host: w.hostname, Err: err}
	}

	if !res.OK {
		w.writeErrFile(art.errPath, res.Output)
		return nil, &perr.CompileFailedError{Host: w.hostname, Label: string(label), ExitCode: res.ExitCode, Output: res.Output}
	}

	cat, readErr := w.readCatalogFromCompiler(label, w.hostname)
	if readErr != nil {
		return nil, &perr.UnexpectedError{Host: w.hostname, Err: readErr}
	}
	w.writeCompressedCatalog(art.catalogPath, cat)
	return cat, nil
}

func (w *Worker) compileFlags() []string {
	if len(w.Scopes) == 0 {
		return w.ExtraFlags
	}
	flags := append([]string(nil), w.ExtraFlags...)
	for _, s := range w.Scopes {
		flags = append(flags, "--scope", s)
	}
	return flags
}

// readCatalogFromCompiler reads the raw catalog JSON the compiler wrote
// to the well-known per-host path in the base/change tree (spec.md §6).
func (w *Worker) readCatalogFromCompiler(label compiler.Label, host string) (*catalog.Catalog, error) {
	tree := w.BaseTree
	if label == compiler.Change {
		tree = w.ChangeTree
	}
	path := filepath.Join(tree, "catalogs", host+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog for %s: %w", host, err)
	}
	cat, err := catalog.Parse(host, data)
	if err != nil {
		return nil, err
	}
	if len(w.Scopes) > 0 {
		cat = cat.Filter(w.Scopes)
	}
	return cat, nil
}

func (w *Worker) readCompressedCatalog(path string) (*catalog.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	return catalog.Parse(w.hostname, data)
}

func (w *Worker) writeCompressedCatalog(path string, cat *catalog.Catalog) {
	data, err := cat.Marshal()
	if err != nil {
		w.Logger.Error(err, "marshal catalog failed", "path", path)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		w.Logger.Error(err, "write compressed catalog failed", "path", path)
		return
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	if _, err := gz.Write(data); err != nil {
		w.Logger.Error(err, "write compressed catalog failed", "path", path)
	}
}

func (w *Worker) writeErrFile(path string, output []string) {
	data := []byte(strings.Join(output, "\n"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.Logger.Error(err, "write err file failed", "path", path)
	}
}
