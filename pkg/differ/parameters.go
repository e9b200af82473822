package differ

import (
	"fmt"
	"sort"
	"strings"
)

// ParameterDiff is a two-sided comparison of one resource's parameters:
// parameters only on the old side, only on the new side, and present on
// both sides with a different value.
type ParameterDiff struct {
	OnlyInOld map[string]interface{}
	OnlyInNew map[string]interface{}
	Changed   map[string][2]interface{} // [0]=old, [1]=new
}

// diffParameters compares two parameter maps, skipping "content" (handled
// separately as a unified text/binary diff). "source" has no special
// handling here: it participates in resource equality (catalog.Resource.Equal)
// the same as any other parameter, and a changed value is rendered like any
// other generic parameter change.
func diffParameters(old, new_ map[string]interface{}) *ParameterDiff {
	d := &ParameterDiff{
		OnlyInOld: map[string]interface{}{},
		OnlyInNew: map[string]interface{}{},
		Changed:   map[string][2]interface{}{},
	}

	for k, v := range old {
		if k == "content" {
			continue
		}
		if nv, ok := new_[k]; ok {
			if !deepEqual(v, nv) {
				d.Changed[k] = [2]interface{}{v, nv}
			}
		} else {
			d.OnlyInOld[k] = v
		}
	}
	for k, v := range new_ {
		if k == "content" {
			continue
		}
		if _, ok := old[k]; !ok {
			d.OnlyInNew[k] = v
		}
	}

	if len(d.OnlyInOld) == 0 && len(d.OnlyInNew) == 0 && len(d.Changed) == 0 {
		return nil
	}
	return d
}

func deepEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Render produces a column-aligned, two-sided text rendering of the
// parameter diff: removed parameters, added parameters, then changed
// parameters old->new, all columns aligned to the longest parameter name
// across all three categories.
func (d *ParameterDiff) Render() string {
	if d == nil {
		return ""
	}

	width := 0
	for name := range d.OnlyInOld {
		width = max(width, len(name))
	}
	for name := range d.OnlyInNew {
		width = max(width, len(name))
	}
	for name := range d.Changed {
		width = max(width, len(name))
	}

	var buf strings.Builder
	for _, name := range sortedKeys(d.OnlyInOld) {
		fmt.Fprintf(&buf, "-%-*s: %v\n", width, name, d.OnlyInOld[name])
	}
	for _, name := range sortedKeys(d.OnlyInNew) {
		fmt.Fprintf(&buf, "+%-*s: %v\n", width, name, d.OnlyInNew[name])
	}
	for _, name := range sortedChangedKeys(d.Changed) {
		pair := d.Changed[name]
		fmt.Fprintf(&buf, "~%-*s: %v -> %v\n", width, name, pair[0], pair[1])
	}
	return buf.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedChangedKeys(m map[string][2]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
