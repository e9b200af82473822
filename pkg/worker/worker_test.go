package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/wikimedia/puppet-compiler/pkg/catalog"
	"github.com/wikimedia/puppet-compiler/pkg/compiler"
	"github.com/wikimedia/puppet-compiler/pkg/differ"
	"github.com/wikimedia/puppet-compiler/pkg/facts"
	"github.com/wikimedia/puppet-compiler/pkg/outcome"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
)

const sampleCatalog = `{"resources":[
	{"type":"File","title":"/etc/motd","exported":false,"parameters":{"content":"hello"}}
]}`

const changedCatalog = `{"resources":[
	{"type":"File","title":"/etc/motd","exported":false,"parameters":{"content":"goodbye"}}
]}`

type fakeFacts struct {
	found bool
}

func (f fakeFacts) FactsFile(ctx context.Context, vardir, host string) (string, error) {
	if !f.found {
		return "", facts.ErrNotFound
	}
	return filepath.Join(vardir, host+".yaml"), nil
}

type fakeCompiler struct {
	baseOK, changeOK bool
	calls            int
}

func (f *fakeCompiler) Compile(ctx context.Context, host string, label compiler.Label, vardir string, extraFlags []string) (compiler.Result, error) {
	f.calls++
	ok := f.baseOK
	if label == compiler.Change {
		ok = f.changeOK
	}
	if !ok {
		return compiler.Result{OK: false, ExitCode: 1, Output: []string{"compile error"}}, nil
	}
	return compiler.Result{OK: true, ExitCode: 0}, nil
}

func (f *fakeCompiler) Version(ctx context.Context) (string, error) { return "7.0.0", nil }

type fakeReporter struct {
	reports []reporter.HostReport
}

func (f *fakeReporter) RenderHost(report reporter.HostReport) error {
	f.reports = append(f.reports, report)
	return nil
}
func (f *fakeReporter) RenderIndex(summary string, partial bool) error { return nil }

func writeCatalogFile(t *testing.T, tree, host, content string) {
	t.Helper()
	dir := filepath.Join(tree, "catalogs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, host+".json"), []byte(content), 0o644))
}

func newTestWorker(t *testing.T, host string, comp *fakeCompiler, facts fakeFacts, rep *fakeReporter) (*Worker, string, string, string) {
	t.Helper()
	varDir := t.TempDir()
	outDir := t.TempDir()
	baseTree := t.TempDir()
	changeTree := t.TempDir()
	w := New(host, comp, facts, rep, varDir, outDir, baseTree, changeTree, nil, nil, logr.Discard())
	return w, varDir, baseTree, changeTree
}

func TestRun_FactsMissingClassifiesFail(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, _, _ := newTestWorker(t, "host1", comp, fakeFacts{found: false}, rep)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Fail, result.Outcome)
	require.Equal(t, 0, comp.calls)
}

func TestRun_IdenticalCatalogsIsNoop(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, baseTree, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)

	writeCatalogFile(t, baseTree, "host1", sampleCatalog)
	writeCatalogFile(t, changeTree, "host1", sampleCatalog)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Noop, result.Outcome)
	require.False(t, result.HasDiff)
	require.Len(t, rep.reports, 1)
}

func TestRun_DifferentCatalogsIsDiff(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, baseTree, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)

	writeCatalogFile(t, baseTree, "host1", sampleCatalog)
	writeCatalogFile(t, changeTree, "host1", changedCatalog)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Diff, result.Outcome)
	require.True(t, result.HasDiff)
}

func TestRun_BaseFailsChangeOkIsNoop(t *testing.T) {
	comp := &fakeCompiler{baseOK: false, changeOK: true}
	rep := &fakeReporter{}
	w, _, _, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)
	writeCatalogFile(t, changeTree, "host1", sampleCatalog)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Noop, result.Outcome)
}

func TestRun_BaseOkChangeFailsIsError(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: false}
	rep := &fakeReporter{}
	w, _, baseTree, _ := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)
	writeCatalogFile(t, baseTree, "host1", sampleCatalog)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Error, result.Outcome)
}

func TestRun_BothFailIsFail(t *testing.T) {
	comp := &fakeCompiler{baseOK: false, changeOK: false}
	rep := &fakeReporter{}
	w, _, _, _ := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)

	result := w.Run(context.Background())
	require.Equal(t, outcome.Fail, result.Outcome)
}

func TestRun_ReusesExistingErrArtifactWithoutRecompiling(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, baseTree, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)
	writeCatalogFile(t, baseTree, "host1", sampleCatalog)
	writeCatalogFile(t, changeTree, "host1", sampleCatalog)

	art := w.artifact(compiler.Base)
	require.NoError(t, os.MkdirAll(filepath.Dir(art.errPath), 0o755))
	require.NoError(t, os.WriteFile(art.errPath, []byte("boom"), 0o644))

	result := w.Run(context.Background())
	require.Equal(t, 1, comp.calls, "only the change compile should have run")
	require.Equal(t, outcome.Noop, result.Outcome)
}

func TestRun_ReusesExistingCompressedCatalog(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, baseTree, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)
	writeCatalogFile(t, changeTree, "host1", sampleCatalog)

	baseArt := w.artifact(compiler.Base)
	require.NoError(t, os.MkdirAll(filepath.Dir(baseArt.catalogPath), 0o755))
	writeCatalogFile(t, baseTree, "host1", sampleCatalog)
	baseCat, err := w.readCatalogFromCompiler(compiler.Base, "host1")
	require.NoError(t, err)
	w.writeCompressedCatalog(baseArt.catalogPath, baseCat)

	// Remove the source catalog so a fresh compile would fail to read it,
	// proving the cached artifact was what got used.
	require.NoError(t, os.RemoveAll(filepath.Join(baseTree, "catalogs")))

	result := w.Run(context.Background())
	require.Equal(t, 1, comp.calls, "only the change compile should have run")
	require.Equal(t, outcome.Noop, result.Outcome)
}

func TestRun_CancelledBeforeCompileIsCancelled(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, _, _ := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := w.Run(ctx)
	require.Equal(t, outcome.Cancelled, result.Outcome)
}

// TestRun_CancelledAfterDiffDoesNotOverwriteTerminalOutcome exercises the
// race where a sibling host's fail-fast failure cancels the shared context
// after this host's own diff step has already produced a terminal
// classification. The cancellation must not be allowed to clobber it.
func TestRun_CancelledAfterDiffDoesNotOverwriteTerminalOutcome(t *testing.T) {
	comp := &fakeCompiler{baseOK: true, changeOK: true}
	rep := &fakeReporter{}
	w, _, baseTree, changeTree := newTestWorker(t, "host1", comp, fakeFacts{found: true}, rep)

	writeCatalogFile(t, baseTree, "host1", sampleCatalog)
	writeCatalogFile(t, changeTree, "host1", changedCatalog)

	ctx, cancel := context.WithCancel(context.Background())
	realDiffer := w.Differ
	w.Differ = func(self, other *catalog.Catalog) *differ.Differ {
		// Simulate a sibling's fail-fast cancellation landing exactly
		// once this host has started (but not finished) its own diff.
		cancel()
		return realDiffer(self, other)
	}

	result := w.Run(ctx)
	require.Equal(t, outcome.Diff, result.Outcome)
	require.True(t, result.HasDiff)
}
