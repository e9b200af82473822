package hostselector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NodeCache wraps a HostDirectory's AllHosts call with a TTL-based,
// read-through cache file under puppet_var, grounded on the original
// implementation's nodegen module (SPEC_FULL.md §12.1): `re:` and empty
// selectors resolve against the full known-hosts list, which is
// expensive enough on a large fleet to cache to disk between runs.
type NodeCache struct {
	dir   HostDirectory
	path  string
	ttl   time.Duration
	mu    sync.Mutex
	cache *cachedNodes
}

type cachedNodes struct {
	FetchedAt time.Time   `json:"fetched_at"`
	Entries   []HostEntry `json:"entries"`
}

// NewNodeCache returns a HostDirectory-shaped wrapper that caches
// AllHosts to <puppetVar>/nodecache.json for ttl.
func NewNodeCache(dir HostDirectory, puppetVar string, ttl time.Duration) *NodeCache {
	return &NodeCache{dir: dir, path: filepath.Join(puppetVar, "nodecache.json"), ttl: ttl}
}

func (n *NodeCache) Role(ctx context.Context, role string) ([]HostEntry, error) {
	return n.dir.Role(ctx, role)
}
func (n *NodeCache) Profile(ctx context.Context, profile string) ([]HostEntry, error) {
	return n.dir.Profile(ctx, profile)
}
func (n *NodeCache) Class(ctx context.Context, class string) ([]HostEntry, error) {
	return n.dir.Class(ctx, class)
}
func (n *NodeCache) Resource(ctx context.Context, resourceType string) ([]HostEntry, error) {
	return n.dir.Resource(ctx, resourceType)
}
func (n *NodeCache) Cumin(ctx context.Context, query string) ([]HostEntry, error) {
	return n.dir.Cumin(ctx, query)
}

// AllHosts returns the cached known-hosts list if fresh, otherwise
// refreshes it from the wrapped directory and persists the result.
func (n *NodeCache) AllHosts(ctx context.Context) ([]HostEntry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cache == nil {
		n.cache = n.loadFromDisk()
	}
	if n.cache != nil && time.Since(n.cache.FetchedAt) < n.ttl {
		return n.cache.Entries, nil
	}

	entries, err := n.dir.AllHosts(ctx)
	if err != nil {
		if n.cache != nil {
			// Stale cache beats a fatal directory RPC failure for a
			// selector that doesn't strictly need freshness.
			return n.cache.Entries, nil
		}
		return nil, err
	}

	n.cache = &cachedNodes{FetchedAt: now(), Entries: entries}
	n.saveToDisk()
	return entries, nil
}

func (n *NodeCache) loadFromDisk() *cachedNodes {
	data, err := os.ReadFile(n.path)
	if err != nil {
		return nil
	}
	var c cachedNodes
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	return &c
}

func (n *NodeCache) saveToDisk() {
	data, err := json.Marshal(n.cache)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(n.path), 0o755)
	_ = os.WriteFile(n.path, data, 0o644)
}

// now is a seam so tests can avoid depending on wall-clock time; the
// real caller always uses time.Now.
var now = time.Now
