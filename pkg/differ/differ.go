// Package differ computes a structural diff between two compiled
// catalogs: which resources were added, removed, or changed, with a
// content sub-diff for text/binary resources and a parameter sub-diff for
// everything else, plus a "core resources only" refinement.
package differ

import (
	"fmt"
	"sort"

	"github.com/wikimedia/puppet-compiler/pkg/catalog"
)

// contentDiffTypes is the closed set of resource types whose "content"
// parameter gets a unified text diff instead of a plain value diff.
var contentDiffTypes = map[string]bool{
	"File":            true,
	"Concat_fragment": true,
}

// ResourceDiff is one changed/added/removed resource within a CatalogDiff.
type ResourceDiff struct {
	Resource   string // "Type[Title]"
	Content    string // unified diff text, set only for contentDiffTypes
	Parameters *ParameterDiff
	// OnlyInSelf/OnlyInOther mark a shell resource present on only one
	// side (spec §4.1 union semantics): no content/parameter diff is
	// computed for these, they're just flagged.
	OnlyInSelf  bool
	OnlyInOther bool
}

// CatalogDiff is the result of diffing two catalogs.
type CatalogDiff struct {
	Total         int
	OnlyInSelf    []string
	OnlyInOther   []string
	ResourceDiffs []ResourceDiff
	// PercChanged is 100 * (changed + only_in_self + only_in_other) /
	// len(self.Resources), formatted to two decimals at render time. The
	// denominator is always self's resource count by convention (spec
	// §4.1 and §9: can exceed 100% when diffing against a much larger
	// catalog; preserved for compatibility with the original tool, not
	// "fixed").
	PercChanged float64
}

// IsEmpty reports whether the diff found no additions, removals, or
// changes at all.
func (d *CatalogDiff) IsEmpty() bool {
	return d == nil || (len(d.OnlyInSelf) == 0 && len(d.OnlyInOther) == 0 && len(d.ResourceDiffs) == 0)
}

// HasCoreDiff reports whether any of the diff's resource-level changes
// touch a core resource. Used by the worker to derive core_diff vs diff.
func (d *CatalogDiff) HasCoreDiff(self, other *catalog.Catalog) bool {
	if d == nil {
		return false
	}
	for _, key := range d.OnlyInSelf {
		if r, ok := self.Resources[key]; ok && r.IsCore() {
			return true
		}
	}
	for _, key := range d.OnlyInOther {
		if r, ok := other.Resources[key]; ok && r.IsCore() {
			return true
		}
	}
	for _, rd := range d.ResourceDiffs {
		if r, ok := self.Resources[rd.Resource]; ok && r.IsCore() {
			return true
		}
		if r, ok := other.Resources[rd.Resource]; ok && r.IsCore() {
			return true
		}
	}
	return false
}

// Differ computes diffs between two catalogs belonging to the same host:
// self is the base compile, other is the change compile.
type Differ struct {
	Self  *catalog.Catalog
	Other *catalog.Catalog
}

// New returns a Differ over the given base ("self") and change ("other")
// catalogs.
func New(self, other *catalog.Catalog) *Differ {
	return &Differ{Self: self, Other: other}
}

// DiffIntersection considers only keys present in both catalogs (spec
// §4.1's "main" diff). coreOnly restricts both sides to core resources
// first.
func (d *Differ) DiffIntersection(coreOnly bool) (*CatalogDiff, error) {
	self, other := d.sides(coreOnly)
	return diffKeys(self, other, intersectionKeys(self, other), false)
}

// DiffUnion considers the union of both catalogs' keys, with missing
// sides contributing a shell resource (spec §4.1's "full" diff).
func (d *Differ) DiffUnion(coreOnly bool) (*CatalogDiff, error) {
	self, other := d.sides(coreOnly)
	return diffKeys(self, other, unionKeys(self, other), true)
}

func (d *Differ) sides(coreOnly bool) (*catalog.Catalog, *catalog.Catalog) {
	if !coreOnly {
		return d.Self, d.Other
	}
	return coreOnlyView(d.Self), coreOnlyView(d.Other)
}

// coreOnlyView filters a catalog to core resources only, without
// mutating the original (spec §4.1: "a resource missing from one side but
// present as non-core on the other side is excluded" — filtering both
// sides before the set operation achieves exactly that).
func coreOnlyView(c *catalog.Catalog) *catalog.Catalog {
	return c.FilterCore()
}

func intersectionKeys(self, other *catalog.Catalog) []string {
	var keys []string
	for k := range self.Resources {
		if _, ok := other.Resources[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(self, other *catalog.Catalog) []string {
	seen := map[string]bool{}
	var keys []string
	for k := range self.Resources {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range other.Resources {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func diffKeys(self, other *catalog.Catalog, keys []string, union bool) (*CatalogDiff, error) {
	diff := &CatalogDiff{Total: len(keys)}

	for _, key := range keys {
		sRes, sOk := self.Resources[key]
		oRes, oOk := other.Resources[key]

		switch {
		case sOk && !oOk:
			if union {
				diff.OnlyInSelf = append(diff.OnlyInSelf, key)
				diff.ResourceDiffs = append(diff.ResourceDiffs, ResourceDiff{Resource: key, OnlyInSelf: true})
			}
		case !sOk && oOk:
			if union {
				diff.OnlyInOther = append(diff.OnlyInOther, key)
				diff.ResourceDiffs = append(diff.ResourceDiffs, ResourceDiff{Resource: key, OnlyInOther: true})
			}
		default:
			if sRes.Equal(oRes) {
				continue
			}
			rd, err := diffResource(key, sRes, oRes)
			if err != nil {
				return nil, fmt.Errorf("diff resource %s: %w", key, err)
			}
			if rd != nil {
				diff.ResourceDiffs = append(diff.ResourceDiffs, *rd)
			}
		}
	}

	selfCount := len(self.Resources)
	if selfCount > 0 {
		changed := len(diff.ResourceDiffs) - len(diff.OnlyInSelf) - len(diff.OnlyInOther)
		numerator := changed + len(diff.OnlyInSelf) + len(diff.OnlyInOther)
		diff.PercChanged = 100 * float64(numerator) / float64(selfCount)
	}

	if diff.IsEmpty() {
		return nil, nil
	}
	return diff, nil
}

func diffResource(key string, self, other catalog.Resource) (*ResourceDiff, error) {
	rd := &ResourceDiff{Resource: key}

	contentChanged := self.Content != other.Content || self.HasContent != other.HasContent
	if contentChanged && contentDiffTypes[self.Type] {
		fromLabel := fmt.Sprintf("%s.orig", self.Title)
		toLabel := self.Title
		rd.Content = unifiedTextDiff(fromLabel, toLabel, self.Content, other.Content)
	}

	if pd := diffParameters(self.Parameters, other.Parameters); pd != nil {
		rd.Parameters = pd
	}

	if rd.Content == "" && rd.Parameters == nil && !contentChanged {
		return nil, nil
	}
	// Content changed but the type isn't a content-diff type, or the
	// diff produced no visible hunks (e.g. binary<->binary with equal
	// tag): still record the resource as changed via its parameters, or
	// as a bare marker if parameters didn't differ either.
	if rd.Content == "" && rd.Parameters == nil && contentChanged {
		rd.Parameters = &ParameterDiff{
			Changed: map[string][2]interface{}{"content": {self.Content, other.Content}},
		}
	}
	return rd, nil
}
