// Package scheduler implements the bounded-concurrency runner (C6,
// spec.md §4.5): at most poolSize host workers in flight at once,
// fail-fast cancellation on the first failing result when configured,
// and coalesced progress ticks to the Reporter port. Grounded on the
// teacher's debounced-timer coalescing idiom
// (pkg/workqueue.PRWorkQueue), adapted here into a single-pending-tick
// scheme driven by task completion rather than a per-key timer.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/wikimedia/puppet-compiler/pkg/metrics"
	"github.com/wikimedia/puppet-compiler/pkg/outcome"
	"github.com/wikimedia/puppet-compiler/pkg/reporter"
	"github.com/wikimedia/puppet-compiler/pkg/state"
	"github.com/wikimedia/puppet-compiler/pkg/worker"
)

// Task is the minimal shape the scheduler needs from a host worker —
// satisfied by worker.Worker.
type Task interface {
	Hostname() string
	Run(ctx context.Context) worker.HostResult
}

// Config bounds scheduler behaviour (spec.md §4.5).
type Config struct {
	PoolSize int
	FailFast bool
	// PuppetVersion, when set, is surfaced on every published progress
	// tick (spec.md §9's RunContext.puppet_version, the original's
	// presentation/json.py build["puppet_version"]).
	PuppetVersion string
}

// Scheduler runs a set of Tasks with bounded concurrency.
type Scheduler struct {
	cfg      Config
	state    *state.RunState
	reporter reporter.Reporter
	logger   logr.Logger
}

// New returns a Scheduler publishing progress ticks to rep via the
// shared aggregator st.
func New(cfg Config, st *state.RunState, rep reporter.Reporter, logger logr.Logger) *Scheduler {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Scheduler{cfg: cfg, state: st, reporter: rep, logger: logger}
}

// Run executes tasks with at most cfg.PoolSize concurrently, returning
// results in input order once all tasks have completed or been
// cancelled. Ordering is guaranteed only for the returned slice; there is
// no ordering guarantee between tasks themselves (spec.md §4.5).
func (s *Scheduler) Run(ctx context.Context, tasks []Task) []worker.HostResult {
	results := make([]worker.HostResult, len(tasks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.cfg.PoolSize)

	var tick tickCoalescer
	tick.init(func() {
		partial := s.summary(true)
		if err := s.reporter.RenderIndex(partial, true); err != nil {
			s.logger.Error(err, "progress tick publish failed")
		}
	})

	var mu sync.Mutex
	var failed bool

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				alreadyFailed := failed
				mu.Unlock()
				if alreadyFailed {
					results[i] = worker.HostResult{Hostname: task.Hostname(), Outcome: outcome.Cancelled}
					s.state.Add(state.HostResult{Hostname: results[i].Hostname, Outcome: results[i].Outcome})
					tick.schedule()
					return nil
				}
			}

			metrics.ActiveWorkers.Inc()
			r := task.Run(gctx)
			metrics.ActiveWorkers.Dec()
			results[i] = r
			s.state.Add(state.HostResult{Hostname: r.Hostname, Outcome: r.Outcome})
			tick.schedule()

			if s.cfg.FailFast && r.Outcome.IsFailure() {
				mu.Lock()
				failed = true
				mu.Unlock()
				cancel()
			}
			return nil
		})
	}

	_ = g.Wait()

	// Any task that never got a chance to run (pool never freed a slot
	// before cancellation) still needs a terminal cancelled result.
	for i, task := range tasks {
		if results[i].Hostname == "" {
			results[i] = worker.HostResult{Hostname: task.Hostname(), Outcome: outcome.Cancelled}
			s.state.Add(state.HostResult{Hostname: results[i].Hostname, Outcome: results[i].Outcome})
		}
	}

	return results
}

// summary renders the aggregator's state, prefixed with the probed puppet
// version when known.
func (s *Scheduler) summary(partial bool) string {
	nodes := s.state.Summary(partial)
	if s.cfg.PuppetVersion == "" {
		return nodes
	}
	return fmt.Sprintf("puppet %s | %s", s.cfg.PuppetVersion, nodes)
}

// tickCoalescer publishes at most one pending tick: a call to schedule
// while a publish is already pending is a no-op, matching spec.md
// §4.5's "coalesced; at most one pending tick".
type tickCoalescer struct {
	mu      sync.Mutex
	pending bool
	publish func()
}

func (t *tickCoalescer) init(publish func()) { t.publish = publish }

func (t *tickCoalescer) schedule() {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = true
	t.mu.Unlock()

	go func() {
		t.publish()
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
	}()
}

func (t *tickCoalescer) stop() {}
