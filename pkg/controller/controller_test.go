package controller

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/wikimedia/puppet-compiler/pkg/compiler"
	"github.com/wikimedia/puppet-compiler/pkg/config"
	"github.com/wikimedia/puppet-compiler/pkg/facts"
	"github.com/wikimedia/puppet-compiler/pkg/hostselector"
	"github.com/wikimedia/puppet-compiler/pkg/outcome"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
	"github.com/wikimedia/puppet-compiler/pkg/workspace"
)

type fakeDirectory struct {
	all []hostselector.HostEntry
}

func (f *fakeDirectory) Role(ctx context.Context, role string) ([]hostselector.HostEntry, error) { return nil, nil }
func (f *fakeDirectory) Profile(ctx context.Context, profile string) ([]hostselector.HostEntry, error) {
	return nil, nil
}
func (f *fakeDirectory) Class(ctx context.Context, class string) ([]hostselector.HostEntry, error) {
	return nil, nil
}
func (f *fakeDirectory) Resource(ctx context.Context, resourceType string) ([]hostselector.HostEntry, error) {
	return nil, nil
}
func (f *fakeDirectory) Cumin(ctx context.Context, query string) ([]hostselector.HostEntry, error) {
	return nil, nil
}
func (f *fakeDirectory) AllHosts(ctx context.Context) ([]hostselector.HostEntry, error) {
	return f.all, nil
}

type fakeWorkspace struct {
	prepareErr      error
	updateConfigErr error
	cleanupCalled   bool
}

func (f *fakeWorkspace) Prepare(ctx context.Context) error              { return f.prepareErr }
func (f *fakeWorkspace) Refresh(ctx context.Context, source string) error { return nil }
func (f *fakeWorkspace) UpdateConfig(ctx context.Context, realm workspace.Realm) error {
	return f.updateConfigErr
}
func (f *fakeWorkspace) BaseTree() string   { return "/tmp/base" }
func (f *fakeWorkspace) ChangeTree() string { return "/tmp/change" }
func (f *fakeWorkspace) Cleanup(ctx context.Context, force bool) error {
	f.cleanupCalled = true
	return nil
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(ctx context.Context, host string, label compiler.Label, vardir string, extraFlags []string) (compiler.Result, error) {
	return compiler.Result{OK: true}, nil
}
func (fakeCompiler) Version(ctx context.Context) (string, error) { return "7.0.0", nil }

type fakeFacts struct{}

func (fakeFacts) FactsFile(ctx context.Context, vardir, host string) (string, error) {
	return "", facts.ErrNotFound
}

type fakeReporter struct {
	indexCalls int
	summaries  []string
}

func (f *fakeReporter) RenderHost(report reporter.HostReport) error { return nil }
func (f *fakeReporter) RenderIndex(summary string, partial bool) error {
	f.indexCalls++
	f.summaries = append(f.summaries, summary)
	return nil
}

func newTestController(t *testing.T, dir *fakeDirectory, ws *fakeWorkspace, rep *fakeReporter) *Controller {
	resolver := hostselector.New(dir, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	cfg := config.DefaultConfig()
	cfg.Base = t.TempDir()
	cfg.PoolSize = 2
	return New(Deps{
		Config:    cfg,
		Resolver:  resolver,
		Workspace: ws,
		Compiler:  fakeCompiler{},
		Facts:     fakeFacts{},
		Reporter:  rep,
		Logger:    logr.Discard(),
	})
}

func TestRun_NoHostsIsFatal(t *testing.T) {
	dir := &fakeDirectory{}
	ws := &fakeWorkspace{}
	rep := &fakeReporter{}
	c := newTestController(t, dir, ws, rep)

	_, err := c.Run(context.Background(), "", "self.example.org", "123", "job-1")
	require.Error(t, err)
}

func TestRun_AllHostsFailWithoutFactsClassifyFail(t *testing.T) {
	dir := &fakeDirectory{all: []hostselector.HostEntry{{Certname: "a.example.org"}, {Certname: "b.example.org"}}}
	ws := &fakeWorkspace{}
	rep := &fakeReporter{}
	c := newTestController(t, dir, ws, rep)

	st, err := c.Run(context.Background(), "", "self.example.org", "123", "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, st.Total())
	require.Equal(t, 2, st.Count(outcome.Fail))
	require.True(t, st.RunFailed())
	require.True(t, ws.cleanupCalled)
	require.GreaterOrEqual(t, rep.indexCalls, 1)
	for _, s := range rep.summaries {
		require.Contains(t, s, "puppet 7.0.0", "probed compiler version should be surfaced in the published summary")
	}
}

func TestRun_WorkspacePrepareFailureIsFatal(t *testing.T) {
	dir := &fakeDirectory{all: []hostselector.HostEntry{{Certname: "a.example.org"}}}
	ws := &fakeWorkspace{prepareErr: context.DeadlineExceeded}
	rep := &fakeReporter{}
	c := newTestController(t, dir, ws, rep)

	_, err := c.Run(context.Background(), "", "self.example.org", "123", "job-1")
	require.Error(t, err)
}

func TestRunSingleHost_ReturnsHostResult(t *testing.T) {
	dir := &fakeDirectory{}
	ws := &fakeWorkspace{}
	rep := &fakeReporter{}
	c := newTestController(t, dir, ws, rep)

	result := c.RunSingleHost(context.Background(), "debug.example.org")
	require.Equal(t, "debug.example.org", result.Hostname)
	require.Equal(t, outcome.Fail, result.Outcome)
}
