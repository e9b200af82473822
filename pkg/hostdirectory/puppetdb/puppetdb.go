// Package puppetdb is a minimal reference implementation of the
// HostDirectory port (spec.md §6) backed by a PuppetDB-style HTTP query
// API. AllHosts walks the on-disk per-host facts directory the same way
// the original nodegen module did (SPEC_FULL.md §12.1); the tag-query
// forms (O:/P:/C:/R:/cumin:) are proxied to PuppetDB's AST query
// endpoint over plain HTTP, since no PuppetDB or Cumin client library
// appears anywhere in the pack — justified as a stdlib net/http
// boundary in DESIGN.md rather than grounded on a third-party client.
package puppetdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wikimedia/puppet-compiler/pkg/hostselector"
)

// Directory queries a PuppetDB-compatible endpoint for tag-based
// lookups and walks FactsDir for the full known-hosts list.
type Directory struct {
	BaseURL    string
	FactsDir   string
	HTTPClient *http.Client
}

// New returns a Directory. If client is nil, http.DefaultClient is used.
func New(baseURL, factsDir string, client *http.Client) *Directory {
	if client == nil {
		client = http.DefaultClient
	}
	return &Directory{BaseURL: baseURL, FactsDir: factsDir, HTTPClient: client}
}

type pdbNode struct {
	Certname string            `json:"certname"`
	Tags     map[string]string `json:"parameters,omitempty"`
}

// Role resolves hosts whose "role" fact equals role.
func (d *Directory) Role(ctx context.Context, role string) ([]hostselector.HostEntry, error) {
	return d.queryByFact(ctx, "role", role)
}

// Profile resolves hosts whose "profile" fact equals profile.
func (d *Directory) Profile(ctx context.Context, profile string) ([]hostselector.HostEntry, error) {
	return d.queryByFact(ctx, "profile", profile)
}

// Class resolves a query for a declared Puppet class.
func (d *Directory) Class(ctx context.Context, class string) ([]hostselector.HostEntry, error) {
	return d.queryByResource(ctx, "Class", class)
}

// Resource resolves a query for hosts declaring a resource of the given type.
func (d *Directory) Resource(ctx context.Context, resourceType string) ([]hostselector.HostEntry, error) {
	return d.queryByResource(ctx, resourceType, "")
}

// Cumin forwards a free-form query string as-is to the endpoint's
// query parameter.
func (d *Directory) Cumin(ctx context.Context, query string) ([]hostselector.HostEntry, error) {
	return d.post(ctx, map[string]interface{}{"query": query})
}

func (d *Directory) queryByFact(ctx context.Context, fact, value string) ([]hostselector.HostEntry, error) {
	ast := fmt.Sprintf(`["=", ["fact", %q], %q]`, fact, value)
	return d.post(ctx, map[string]interface{}{"query": fmt.Sprintf("nodes { %s }", ast)})
}

func (d *Directory) queryByResource(ctx context.Context, resType, title string) ([]hostselector.HostEntry, error) {
	q := fmt.Sprintf(`resources { type = %q }`, resType)
	if title != "" {
		q = fmt.Sprintf(`resources { type = %q and title = %q }`, resType, title)
	}
	return d.post(ctx, map[string]interface{}{"query": q})
}

func (d *Directory) post(ctx context.Context, body map[string]interface{}) ([]hostselector.HostEntry, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode puppetdb query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/pdb/query/v4", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build puppetdb request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query puppetdb: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("puppetdb query failed: status %d", resp.StatusCode)
	}

	var nodes []pdbNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decode puppetdb response: %w", err)
	}

	out := make([]hostselector.HostEntry, 0, len(nodes))
	for _, n := range nodes {
		var tags []string
		for k := range n.Tags {
			tags = append(tags, k)
		}
		out = append(out, hostselector.HostEntry{Certname: n.Certname, Tags: tags})
	}
	return out, nil
}

// AllHosts lists every host with a facts artifact under FactsDir,
// mirroring the original nodegen module's directory walk rather than a
// PuppetDB query — the full fleet list is cheap to derive locally and
// doesn't need the network round trip (SPEC_FULL.md §12.1).
func (d *Directory) AllHosts(ctx context.Context) ([]hostselector.HostEntry, error) {
	entries, err := os.ReadDir(d.FactsDir)
	if err != nil {
		return nil, fmt.Errorf("list facts dir %s: %w", d.FactsDir, err)
	}

	var out []hostselector.HostEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".json" {
			continue
		}
		out = append(out, hostselector.HostEntry{Certname: strings.TrimSuffix(name, ext)})
	}
	return out, nil
}
