// Package hostselector expands a free-form HostSelector expression
// (spec.md §3/§4.2) into a de-duplicated, realm-partitioned set of
// hostnames, consuming a HostDirectory port for anything beyond a plain
// literal list.
package hostselector

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/perr"
)

// HostEntry is one directory lookup result: a certname plus its tag set,
// per spec.md §6's HostDirectory port contract.
type HostEntry struct {
	Certname string
	Tags     []string
}

// HostDirectory is the external port consumed for anything beyond a
// literal host list: tag-based lookups, a cumin-like free query, and the
// full known-hosts list used to resolve `re:`/empty selectors.
type HostDirectory interface {
	Role(ctx context.Context, role string) ([]HostEntry, error)
	Profile(ctx context.Context, profile string) ([]HostEntry, error)
	Class(ctx context.Context, class string) ([]HostEntry, error)
	Resource(ctx context.Context, resourceType string) ([]HostEntry, error)
	Cumin(ctx context.Context, query string) ([]HostEntry, error)
	AllHosts(ctx context.Context) ([]HostEntry, error)
}

// ChangedManifests returns the set of manifest file paths touched by the
// change under test, consumed by the `auto` selector form. Implemented
// by the Workspace adapter (it already has the change tree checked out).
type ChangedManifests interface {
	ChangedManifestPaths(ctx context.Context) ([]string, error)
}

// Realm is the closed deployment-domain tag from spec.md §3.
type Realm string

const (
	Production Realm = "production"
	Cloud      Realm = "cloud"
)

// Resolver resolves selector expressions against a HostDirectory.
type Resolver struct {
	Directory   HostDirectory
	Manifests   ChangedManifests
	CloudSuffix string
	SretestHost string
	Logger      logr.Logger
}

// New returns a Resolver. cloudSuffix and sretestHost come from Config.
func New(dir HostDirectory, manifests ChangedManifests, cloudSuffix, sretestHost string, logger logr.Logger) *Resolver {
	return &Resolver{
		Directory:   dir,
		Manifests:   manifests,
		CloudSuffix: cloudSuffix,
		SretestHost: sretestHost,
		Logger:      logger,
	}
}

var tokenSplit = regexp.MustCompile(`\s*,\s*`)

// Resolve expands expr into a de-duplicated hostname set, then splits it
// by realm. An empty result after resolution is a fatal NoHostsError.
func (r *Resolver) Resolve(ctx context.Context, expr, self string) (prod, cloud []string, err error) {
	hosts, err := r.resolveExpr(ctx, expr, self)
	if err != nil {
		return nil, nil, err
	}
	hosts = dedupLiteral(hosts)
	if len(hosts) == 0 {
		return nil, nil, &perr.NoHostsError{Selector: expr}
	}

	for _, h := range hosts {
		if strings.HasSuffix(h, r.CloudSuffix) {
			cloud = append(cloud, h)
		} else {
			prod = append(prod, h)
		}
	}
	sort.Strings(prod)
	sort.Strings(cloud)
	return prod, cloud, nil
}

func (r *Resolver) resolveExpr(ctx context.Context, expr, self string) ([]string, error) {
	switch {
	case expr == "":
		return r.allHostnames(ctx)
	case expr == "basic":
		return dedupLiteral([]string{self, r.SretestHost}), nil
	case expr == "auto":
		return r.autoFromManifests(ctx)
	case strings.HasPrefix(expr, "re:"):
		return r.byRegex(ctx, strings.TrimPrefix(expr, "re:"))
	case strings.HasPrefix(expr, "O:"):
		return r.byTagQuery(ctx, func() ([]HostEntry, error) { return r.Directory.Role(ctx, strings.TrimPrefix(expr, "O:")) })
	case strings.HasPrefix(expr, "P:"):
		return r.byTagQuery(ctx, func() ([]HostEntry, error) { return r.Directory.Profile(ctx, strings.TrimPrefix(expr, "P:")) })
	case strings.HasPrefix(expr, "C:"):
		return r.byTagQuery(ctx, func() ([]HostEntry, error) { return r.Directory.Class(ctx, strings.TrimPrefix(expr, "C:")) })
	case strings.HasPrefix(expr, "R:"):
		return r.byTagQuery(ctx, func() ([]HostEntry, error) { return r.Directory.Resource(ctx, strings.TrimPrefix(expr, "R:")) })
	case strings.HasPrefix(expr, "cumin:"):
		entries, err := r.Directory.Cumin(ctx, strings.TrimPrefix(expr, "cumin:"))
		if err != nil {
			return nil, fmt.Errorf("cumin query failed: %w", err)
		}
		return certnames(entries), nil
	default:
		return splitTokens(expr), nil
	}
}

func (r *Resolver) allHostnames(ctx context.Context) ([]string, error) {
	entries, err := r.Directory.AllHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all hosts: %w", err)
	}
	return certnames(entries), nil
}

func (r *Resolver) byRegex(ctx context.Context, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("malformed regex %q: %w", pattern, err)
	}
	all, err := r.allHostnames(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, h := range all {
		if re.MatchString(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *Resolver) byTagQuery(ctx context.Context, query func() ([]HostEntry, error)) ([]string, error) {
	entries, err := query()
	if err != nil {
		return nil, fmt.Errorf("directory query failed: %w", err)
	}
	return dedupByEquivalenceClass(entries), nil
}

func (r *Resolver) autoFromManifests(ctx context.Context) ([]string, error) {
	if r.Manifests == nil {
		return nil, fmt.Errorf("auto selector requires a manifest-change source")
	}
	paths, err := r.Manifests.ChangedManifestPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect changed manifests: %w", err)
	}
	// The mapping from a changed manifest path to affected hosts is a
	// directory lookup by declared class; reuse the C: query keyed on
	// each manifest's inferred class name.
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		class := classNameFromManifestPath(p)
		if class == "" {
			continue
		}
		entries, err := r.Directory.Class(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("resolve hosts for changed manifest %s: %w", p, err)
		}
		for _, h := range certnames(entries) {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out, nil
}

// classNameFromManifestPath derives a Puppet class name from a
// modules/<mod>/manifests/<path>.pp file path, e.g.
// "modules/nginx/manifests/site.pp" -> "nginx::site".
func classNameFromManifestPath(p string) string {
	p = strings.TrimSuffix(p, ".pp")
	const marker = "manifests/"
	idx := strings.Index(p, marker)
	if idx < 0 {
		return ""
	}
	modIdx := strings.LastIndex(p[:idx], "/")
	modStart := 0
	if modIdx >= 0 {
		modStart = modIdx + 1
	}
	mod := strings.TrimSuffix(p[modStart:idx], "/")
	rest := strings.ReplaceAll(p[idx+len(marker):], "/", "::")
	if rest == "" || rest == "init" {
		return mod
	}
	if strings.HasSuffix(rest, "::init") {
		rest = strings.TrimSuffix(rest, "::init")
	}
	return mod + "::" + rest
}

func certnames(entries []HostEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Certname)
	}
	return out
}

// splitTokens implements the comma-separated literal form: tokens
// separated by /\s*,\s*/, trailing/embedded empty tokens discarded.
func splitTokens(expr string) []string {
	var out []string
	for _, tok := range tokenSplit.Split(expr, -1) {
		if tok == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func dedupLiteral(hosts []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// equivalenceKey derives the (hostname_prefix_before_first_digit,
// sorted_tags_joined) class key from spec.md §4.2.
func equivalenceKey(hostname string, tags []string) string {
	prefix := hostname
	for i, r := range hostname {
		if r >= '0' && r <= '9' {
			prefix = hostname[:i]
			break
		}
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return prefix + "|" + strings.Join(sorted, ",")
}

// dedupByEquivalenceClass collapses many hosts sharing the same tag set
// into one representative per equivalence class (spec.md §4.2), capping
// redundant compile work for large tag-based fleets.
func dedupByEquivalenceClass(entries []HostEntry) []string {
	seenClass := map[string]bool{}
	var out []string
	// Stable order: sort entries by certname first so the representative
	// chosen per class is deterministic across runs.
	sorted := append([]HostEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Certname < sorted[j].Certname })
	for _, e := range sorted {
		key := equivalenceKey(e.Certname, e.Tags)
		if seenClass[key] {
			continue
		}
		seenClass[key] = true
		out = append(out, e.Certname)
	}
	return out
}
