// Package catalog models one compiled Puppet catalog: a flat map of
// resources keyed by "Type[Title]", parsed from the compiler's serialised
// output. The catalog never references other resources by pointer —
// only by key string — so there is no graph/cycle handling here, just a
// map.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// coreWhitelist is the closed set of builtin, non-scoped types that are
// nonetheless not "core" for diff-classification purposes.
var coreWhitelist = map[string]bool{
	"Notify": true,
	"Class":  true,
	"Stage":  true,
}

// binaryPrefix tags a parameter or content value as Puppet's opaque binary
// type rather than plain text, so a text/binary flip between two
// compiles is visible as a content change.
const binaryPrefix = "Puppet::Pops::Types::PBinaryType::Binary"

// Resource is one entry of a compiled catalog.
type Resource struct {
	Type       string
	Title      string
	Exported   bool
	Parameters map[string]interface{}

	// Content is extracted from the "content" parameter, if present. It
	// holds either a plain string or a binaryPrefix-tagged blob.
	Content    string
	HasContent bool
}

// Key returns the resource's "Type[Title]" catalog key.
func (r Resource) Key() string {
	return fmt.Sprintf("%s[%s]", r.Type, r.Title)
}

// IsCore reports whether a resource counts as "core" for classification:
// its type has no scope separator ("::") and isn't in the trivial
// builtin whitelist.
func (r Resource) IsCore() bool {
	if strings.Contains(r.Type, "::") {
		return false
	}
	return !coreWhitelist[r.Type]
}

// IsBinary reports whether Content holds a tagged binary blob rather than
// plain text.
func (r Resource) IsBinary() bool {
	return strings.HasPrefix(r.Content, binaryPrefix)
}

// Equal reports whether two resources are equal for diffing purposes:
// content, the external "source" parameter, and all other parameters
// must match. Type and Title are assumed equal by construction (same
// catalog key).
func (r Resource) Equal(other Resource) bool {
	if r.HasContent != other.HasContent || r.Content != other.Content {
		return false
	}
	if fmt.Sprint(r.Parameters["source"]) != fmt.Sprint(other.Parameters["source"]) {
		return false
	}
	return parametersEqual(r.Parameters, other.Parameters)
}

func parametersEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return bytes.Equal(aj, bj)
}

// Catalog is one compiled host's resource graph: a flat map keyed by
// "Type[Title]".
type Catalog struct {
	Name      string
	Resources map[string]Resource

	// Warnings records non-fatal anomalies found while parsing, such as a
	// duplicate "Type[Title]" key (spec.md §9's first open question:
	// last-write-wins is preserved, but surfaced here rather than
	// silently swallowed).
	Warnings []string
}

// New returns an empty Catalog for the given host.
func New(name string) *Catalog {
	return &Catalog{Name: name, Resources: make(map[string]Resource)}
}

// wireResource is the on-wire shape of a single compiled resource, as
// emitted by the external Compiler in its JSON-ish, latin-1-tolerant
// catalog format.
type wireResource struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Exported   bool                   `json:"exported"`
	Parameters map[string]interface{} `json:"parameters"`
}

type wireCatalog struct {
	Resources []wireResource `json:"resources"`
}

// Parse decodes a compiler-emitted catalog document into a Catalog. The
// document is tolerated as latin-1 by round-tripping through a
// byte-preserving decode rather than rejecting invalid UTF-8; Puppet
// catalogs occasionally carry raw bytes in string parameters.
func Parse(name string, data []byte) (*Catalog, error) {
	data = toUTF8(data)

	var wire wireCatalog
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse catalog for %s: %w", name, err)
	}

	c := New(name)
	for _, wr := range wire.Resources {
		res := Resource{
			Type:       wr.Type,
			Title:      wr.Title,
			Exported:   wr.Exported,
			Parameters: wr.Parameters,
		}
		if content, ok := wr.Parameters["content"]; ok {
			res.HasContent = true
			res.Content = fmt.Sprint(content)
		}

		key := res.Key()
		if _, exists := c.Resources[key]; exists {
			// Last write wins, matching the source's behaviour; flagged
			// rather than silently accepted (SPEC_FULL.md §13.2).
			c.Warnings = append(c.Warnings, fmt.Sprintf("duplicate resource key %q, overwriting", key))
		}
		c.Resources[key] = res
	}

	return c, nil
}

// Marshal serialises the catalog back to the same wire JSON shape Parse
// consumes, used to persist a compile result to the compressed on-disk
// cache artifact for reuse across reruns (spec.md §4.4).
func (c *Catalog) Marshal() ([]byte, error) {
	wire := wireCatalog{Resources: make([]wireResource, 0, len(c.Resources))}
	for _, key := range c.SortedKeys() {
		r := c.Resources[key]
		wire.Resources = append(wire.Resources, wireResource{
			Type:       r.Type,
			Title:      r.Title,
			Exported:   r.Exported,
			Parameters: r.Parameters,
		})
	}
	return json.Marshal(wire)
}

// toUTF8 passes bytes through unchanged if already valid UTF-8, otherwise
// reinterprets each byte as a Latin-1 code point (Latin-1 maps 1:1 onto
// the first 256 Unicode code points, so this can never fail).
func toUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	for _, b := range data {
		buf.WriteRune(rune(b))
	}
	return buf.Bytes()
}

// Filter returns a copy of the catalog restricted to resources whose type
// is scoped under one of the given Puppet classes/scopes (supplemented
// feature, SPEC_FULL.md §12.6). An empty scopes list returns the catalog
// unchanged.
func (c *Catalog) Filter(scopes []string) *Catalog {
	if len(scopes) == 0 {
		return c
	}
	allowed := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		allowed[strings.ToLower(s)] = true
	}

	out := New(c.Name)
	out.Warnings = c.Warnings
	for key, res := range c.Resources {
		if inScope(res.Type, allowed) {
			out.Resources[key] = res
		}
	}
	return out
}

// FilterCore returns a copy of the catalog restricted to resources
// classified as "core" by IsCore, used by the differ package's coreOnly
// diff mode.
func (c *Catalog) FilterCore() *Catalog {
	out := New(c.Name)
	out.Warnings = c.Warnings
	for key, res := range c.Resources {
		if res.IsCore() {
			out.Resources[key] = res
		}
	}
	return out
}

func inScope(resourceType string, allowed map[string]bool) bool {
	t := strings.ToLower(resourceType)
	for scope := range allowed {
		if t == scope || strings.HasPrefix(t, scope+"::") {
			return true
		}
	}
	return false
}

// SortedKeys returns the catalog's resource keys in sorted order, useful
// for deterministic iteration when rendering a diff.
func (c *Catalog) SortedKeys() []string {
	keys := make([]string, 0, len(c.Resources))
	for k := range c.Resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
