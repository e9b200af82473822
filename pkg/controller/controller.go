// Package controller orchestrates one full puppet-compiler run (C8,
// spec.md §4.6): resolve the host selector, prepare the workspace, run
// each realm's hosts through the scheduler in turn, publish partial and
// final summaries, and tear the workspace down.
package controller

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/compiler"
	"github.com/wikimedia/puppet-compiler/pkg/config"
	"github.com/wikimedia/puppet-compiler/pkg/facts"
	"github.com/wikimedia/puppet-compiler/pkg/hostselector"
	"github.com/wikimedia/puppet-compiler/pkg/metrics"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
	"github.com/wikimedia/puppet-compiler/pkg/runcontext"
	"github.com/wikimedia/puppet-compiler/pkg/scheduler"
	"github.com/wikimedia/puppet-compiler/pkg/state"
	"github.com/wikimedia/puppet-compiler/pkg/worker"
	"github.com/wikimedia/puppet-compiler/pkg/workspace"
)

// realmHosts pairs a realm with the hostnames resolved into it.
type realmHosts struct {
	realm workspace.Realm
	hosts []string
}

// Deps wires the ports a Controller drives. All fields are required
// except Logger, which defaults to logr.Discard().
type Deps struct {
	Config    *config.Config
	Resolver  *hostselector.Resolver
	Workspace workspace.Workspace
	Compiler  compiler.Compiler
	Facts     facts.Finder
	Reporter  reporter.Reporter
	Logger    logr.Logger
}

// Controller drives one run end to end.
type Controller struct {
	deps Deps
}

// New returns a Controller for deps.
func New(deps Deps) *Controller {
	if deps.Logger.GetSink() == nil {
		deps.Logger = logr.Discard()
	}
	return &Controller{deps: deps}
}

// Run resolves selector against self (the host the run is launched
// from, used by the "basic" selector form), prepares the workspace,
// compiles every resolved host realm by realm, and returns the
// completed run's aggregator. A resolution or workspace-preparation
// failure is fatal and returned as err with a nil RunState; a failed
// realm UpdateConfig skips the remaining realms and is returned as err
// together with the RunState collected so far.
func (c *Controller) Run(ctx context.Context, selector, self, changeID, jobID string) (*state.RunState, error) {
	rc := runcontext.New(changeID, jobID)

	prodHosts, cloudHosts, err := c.deps.Resolver.Resolve(ctx, selector, self)
	if err != nil {
		return nil, fmt.Errorf("resolve selector %q: %w", selector, err)
	}

	if version, verr := c.deps.Compiler.Version(ctx); verr != nil {
		c.deps.Logger.Error(verr, "compiler version probe failed")
	} else {
		rc = rc.WithPuppetVersion(version)
	}
	c.deps.Logger.Info("run starting", "changeId", rc.ChangeID, "jobId", rc.JobID, "puppetVersion", rc.PuppetVersion)

	if err := c.deps.Workspace.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	st := state.New()
	realms := []realmHosts{
		{realm: workspace.Production, hosts: prodHosts},
		{realm: workspace.Cloud, hosts: cloudHosts},
	}

	var runErr error
	for _, rh := range realms {
		if len(rh.hosts) == 0 {
			continue
		}
		if err := c.runRealm(ctx, rc, rh, st); err != nil {
			runErr = err
			break
		}
		if err := c.deps.Reporter.RenderIndex(formatSummary(rc, st.Summary(true)), true); err != nil {
			c.deps.Logger.Error(err, "partial summary publish failed")
		}
	}

	if err := c.deps.Reporter.RenderIndex(formatSummary(rc, st.Summary(false)), false); err != nil {
		c.deps.Logger.Error(err, "final summary publish failed")
	}

	if err := c.deps.Workspace.Cleanup(ctx, c.deps.Config.ForceCleanupSkip); err != nil {
		c.deps.Logger.Error(err, "workspace cleanup failed")
	}

	metrics.ObserveRun(st.RunFailed())

	if runErr != nil {
		return st, runErr
	}
	return st, nil
}

func (c *Controller) runRealm(ctx context.Context, rc runcontext.RunContext, rh realmHosts, st *state.RunState) error {
	if err := c.deps.Workspace.UpdateConfig(ctx, rh.realm); err != nil {
		return fmt.Errorf("update config for realm %s: %w", rh.realm, err)
	}

	tasks := make([]scheduler.Task, 0, len(rh.hosts))
	for _, h := range rh.hosts {
		tasks = append(tasks, c.buildWorker(h))
	}

	sched := scheduler.New(scheduler.Config{
		PoolSize:      c.deps.Config.PoolSize,
		FailFast:      c.deps.Config.FailFast,
		PuppetVersion: rc.PuppetVersion,
	}, st, c.deps.Reporter, c.deps.Logger)
	results := sched.Run(ctx, tasks)
	for _, r := range results {
		metrics.ObserveHostOutcome(r.Outcome)
	}
	return nil
}

// formatSummary prefixes an aggregate summary with the probed puppet
// version, mirroring the original's presentation/json.py surfacing
// build["puppet_version"] alongside the per-run node breakdown.
func formatSummary(rc runcontext.RunContext, summary string) string {
	if rc.PuppetVersion == "" {
		return summary
	}
	return fmt.Sprintf("puppet %s | %s", rc.PuppetVersion, summary)
}

// RunSingleHost re-runs one host's worker pipeline directly, outside a
// scheduled batch, reusing any existing base/change artifacts on disk —
// the debug entry point named in SPEC_FULL.md §12.3.
func (c *Controller) RunSingleHost(ctx context.Context, hostname string) worker.HostResult {
	w := c.buildWorker(hostname)
	result := w.Run(ctx)
	metrics.ObserveHostOutcome(result.Outcome)
	return result
}

func (c *Controller) buildWorker(hostname string) *worker.Worker {
	outDir := filepath.Join(c.deps.Config.Base, "output")
	return worker.New(
		hostname,
		c.deps.Compiler,
		c.deps.Facts,
		c.deps.Reporter,
		c.deps.Config.PuppetVar,
		outDir,
		c.deps.Workspace.BaseTree(),
		c.deps.Workspace.ChangeTree(),
		nil,
		c.deps.Config.Scopes,
		c.deps.Logger,
	)
}
