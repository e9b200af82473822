// Package githubreporter adapts pkg/vcs/github's PR-comment client to
// the Reporter port: it posts the aggregate "Nodes: ..." summary (and a
// one-line-per-host breakdown) as a single, updated-in-place PR comment.
package githubreporter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wikimedia/puppet-compiler/pkg/reporter"
	vcsgithub "github.com/wikimedia/puppet-compiler/pkg/vcs/github"
)

// Reporter posts run summaries to a single PR, coalescing per-host
// RenderHost calls into the next RenderIndex post rather than spamming
// one comment per host.
type Reporter struct {
	client   *vcsgithub.Client
	prNumber int
	httpURL  string
	jobID    string
	ctx      context.Context

	mu    sync.Mutex
	hosts []string
}

// New returns a githubreporter.Reporter posting to prNumber via client.
// httpURL/jobID are used to link back to the full HTML report, which
// this port does not itself render (spec.md §1). ctx bounds every
// PostComment call; the Reporter port itself is synchronous and
// context-free, so it is captured here rather than threaded per-call.
func New(ctx context.Context, client *vcsgithub.Client, prNumber int, httpURL, jobID string) *Reporter {
	return &Reporter{ctx: ctx, client: client, prNumber: prNumber, httpURL: httpURL, jobID: jobID}
}

var _ reporter.Reporter = (*Reporter)(nil)

// RenderHost records a one-line summary for the host; it is flushed to
// GitHub on the next RenderIndex call rather than posted immediately.
func (r *Reporter) RenderHost(report reporter.HostReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts = append(r.hosts, fmt.Sprintf("- `%s`: %s", report.Hostname, report.Outcome))
	return nil
}

// RenderIndex posts the aggregate summary (and the accumulated per-host
// lines) as the run's PR comment, updating any previous comment in
// place.
func (r *Reporter) RenderIndex(summary string, partial bool) error {
	r.mu.Lock()
	hosts := append([]string(nil), r.hosts...)
	r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", summary)
	if r.httpURL != "" && r.jobID != "" {
		fmt.Fprintf(&b, "[full report](%s/%s)\n\n", r.httpURL, r.jobID)
	}
	for _, h := range hosts {
		b.WriteString(h)
		b.WriteString("\n")
	}
	if partial {
		b.WriteString("\n_run in progress_\n")
	}

	return r.client.PostComment(r.ctx, r.prNumber, b.String())
}
