package differ

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// unifiedTextDiff renders a unified diff between a and b, one hunk per
// contiguous run of changed lines, three lines of context on each side —
// the same shape Python's difflib.unified_diff produces, which is what
// the reference implementation's report viewer expects.
//
// fromFile/toFile become the "--- "/"+++ " header labels; per spec §4.1,
// callers pass "<title>.orig" and "<title>" respectively.
func unifiedTextDiff(fromFile, toFile, a, b string) string {
	dmp := diffmatchpatch.New()
	aChars, bChars, lineArray := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	lines := expandLineDiffs(diffs)
	if !anyChanges(lines) {
		return ""
	}

	hunks := buildHunks(lines, 3)
	if len(hunks) == 0 {
		return ""
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "--- %s\n", fromFile)
	fmt.Fprintf(&buf, "+++ %s\n", toFile)
	for _, h := range hunks {
		writeHunk(&buf, h)
	}
	return buf.String()
}

type lineOp struct {
	kind diffmatchpatch.Operation // Equal, Delete, Insert
	text string
}

// expandLineDiffs splits each diff's (possibly multi-line) Text into one
// lineOp per line, dropping the final empty element produced by a
// trailing newline.
func expandLineDiffs(diffs []diffmatchpatch.Diff) []lineOp {
	var out []lineOp
	for _, d := range diffs {
		parts := strings.Split(d.Text, "\n")
		if len(parts) > 0 && parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		for _, p := range parts {
			out = append(out, lineOp{kind: d.Type, text: p})
		}
	}
	return out
}

func anyChanges(lines []lineOp) bool {
	for _, l := range lines {
		if l.kind != diffmatchpatch.DiffEqual {
			return true
		}
	}
	return false
}

type hunk struct {
	aStart, aCount int
	bStart, bCount int
	lines          []lineOp
}

// buildHunks groups lineOps into hunks of changes padded with up to
// `context` lines of surrounding equal lines, merging hunks whose
// context windows overlap.
func buildHunks(lines []lineOp, context int) []hunk {
	// First, find indices of changed lines.
	var changedIdx []int
	for i, l := range lines {
		if l.kind != diffmatchpatch.DiffEqual {
			changedIdx = append(changedIdx, i)
		}
	}
	if len(changedIdx) == 0 {
		return nil
	}

	type window struct{ lo, hi int }
	var windows []window
	for _, idx := range changedIdx {
		lo := idx - context
		if lo < 0 {
			lo = 0
		}
		hi := idx + context
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		if n := len(windows); n > 0 && lo <= windows[n-1].hi+1 {
			if hi > windows[n-1].hi {
				windows[n-1].hi = hi
			}
			continue
		}
		windows = append(windows, window{lo, hi})
	}

	var hunks []hunk
	for _, w := range windows {
		h := hunk{lines: lines[w.lo : w.hi+1]}
		aLine, bLine := 0, 0
		for i := 0; i < w.lo; i++ {
			switch lines[i].kind {
			case diffmatchpatch.DiffEqual:
				aLine++
				bLine++
			case diffmatchpatch.DiffDelete:
				aLine++
			case diffmatchpatch.DiffInsert:
				bLine++
			}
		}
		h.aStart, h.bStart = aLine+1, bLine+1
		for _, l := range h.lines {
			switch l.kind {
			case diffmatchpatch.DiffEqual:
				h.aCount++
				h.bCount++
			case diffmatchpatch.DiffDelete:
				h.aCount++
			case diffmatchpatch.DiffInsert:
				h.bCount++
			}
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func writeHunk(buf *strings.Builder, h hunk) {
	fmt.Fprintf(buf, "@@ -%d,%d +%d,%d @@\n", h.aStart, h.aCount, h.bStart, h.bCount)
	for _, l := range h.lines {
		switch l.kind {
		case diffmatchpatch.DiffEqual:
			fmt.Fprintf(buf, " %s\n", l.text)
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(buf, "-%s\n", l.text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(buf, "+%s\n", l.text)
		}
	}
}
