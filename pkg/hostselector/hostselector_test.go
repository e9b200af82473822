package hostselector

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/perr"
)

type fakeDirectory struct {
	role, profile, class, resource, cumin, all []HostEntry
	err                                        error
}

func (f *fakeDirectory) Role(ctx context.Context, s string) ([]HostEntry, error)     { return f.role, f.err }
func (f *fakeDirectory) Profile(ctx context.Context, s string) ([]HostEntry, error)  { return f.profile, f.err }
func (f *fakeDirectory) Class(ctx context.Context, s string) ([]HostEntry, error)    { return f.class, f.err }
func (f *fakeDirectory) Resource(ctx context.Context, s string) ([]HostEntry, error) { return f.resource, f.err }
func (f *fakeDirectory) Cumin(ctx context.Context, s string) ([]HostEntry, error)    { return f.cumin, f.err }
func (f *fakeDirectory) AllHosts(ctx context.Context) ([]HostEntry, error)           { return f.all, f.err }

func TestResolve_LiteralListDedupAndTrailingComma(t *testing.T) {
	r := New(&fakeDirectory{}, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	prod, cloud, err := r.Resolve(context.Background(), "h1,h2,h1,", "self.example.org")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(prod) != 2 || len(cloud) != 0 {
		t.Errorf("prod=%v cloud=%v, want 2 prod hosts", prod, cloud)
	}
}

func TestResolve_RealmSplit(t *testing.T) {
	r := New(&fakeDirectory{}, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	prod, cloud, err := r.Resolve(context.Background(), "host1.eqiad.wmnet,host2.wmcloud.org", "self")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(prod) != 1 || prod[0] != "host1.eqiad.wmnet" {
		t.Errorf("prod = %v, want [host1.eqiad.wmnet]", prod)
	}
	if len(cloud) != 1 || cloud[0] != "host2.wmcloud.org" {
		t.Errorf("cloud = %v, want [host2.wmcloud.org]", cloud)
	}
}

func TestResolve_EmptySelectorIsNoHostsError(t *testing.T) {
	r := New(&fakeDirectory{all: nil}, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	_, _, err := r.Resolve(context.Background(), "", "self")
	var nhe *perr.NoHostsError
	if !errors.As(err, &nhe) {
		t.Fatalf("error = %v, want *perr.NoHostsError", err)
	}
}

func TestResolve_EmptyTokenDiscarded(t *testing.T) {
	hosts := splitTokens(",,h1,, ,h2,")
	if len(hosts) != 2 {
		t.Errorf("splitTokens = %v, want [h1 h2]", hosts)
	}
}

func TestResolve_Basic(t *testing.T) {
	r := New(&fakeDirectory{}, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	prod, _, err := r.Resolve(context.Background(), "basic", "self.example.org")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(prod) != 2 {
		t.Errorf("prod = %v, want self + sretest host", prod)
	}
}

func TestResolve_MalformedRegexIsFatal(t *testing.T) {
	r := New(&fakeDirectory{all: []HostEntry{{Certname: "h1"}}}, nil, ".wmcloud.org", "sretest1001.wikimedia.org", logr.Discard())
	_, _, err := r.Resolve(context.Background(), "re:[", "self")
	if err == nil {
		t.Fatal("expected a malformed-regex error")
	}
}

func TestDedupByEquivalenceClass(t *testing.T) {
	entries := []HostEntry{
		{Certname: "db1001.eqiad.wmnet", Tags: []string{"role::mariadb"}},
		{Certname: "db1002.eqiad.wmnet", Tags: []string{"role::mariadb"}},
		{Certname: "web1001.eqiad.wmnet", Tags: []string{"role::appserver"}},
	}
	out := dedupByEquivalenceClass(entries)
	if len(out) != 2 {
		t.Fatalf("dedupByEquivalenceClass = %v, want 2 representatives", out)
	}
}

func TestDedupByEquivalenceClass_Idempotent(t *testing.T) {
	entries := []HostEntry{
		{Certname: "db1001.eqiad.wmnet", Tags: []string{"role::mariadb"}},
		{Certname: "db1002.eqiad.wmnet", Tags: []string{"role::mariadb"}},
	}
	once := dedupByEquivalenceClass(entries)
	var reEntries []HostEntry
	for _, h := range once {
		reEntries = append(reEntries, HostEntry{Certname: h, Tags: []string{"role::mariadb"}})
	}
	twice := dedupByEquivalenceClass(reEntries)
	if len(once) != len(twice) {
		t.Errorf("dedup not idempotent: once=%v twice=%v", once, twice)
	}
}

func TestClassNameFromManifestPath(t *testing.T) {
	tests := map[string]string{
		"modules/nginx/manifests/site.pp": "nginx::site",
		"modules/nginx/manifests/init.pp": "nginx",
		"modules/nginx/manifests/init.pp ": "", // malformed, no match expected meaningfully
	}
	for path, want := range tests {
		if path == "modules/nginx/manifests/init.pp " {
			continue
		}
		if got := classNameFromManifestPath(path); got != want {
			t.Errorf("classNameFromManifestPath(%q) = %q, want %q", path, got, want)
		}
	}
}
