// Package opt implements the four HARD CORE peephole passes (§4): (A)
// copy-propagation, (B) stale-store elimination + intrinsic rewriting, (C)
// push/pop elimination, (D) store/load pair elimination.
package opt

import (
	"sort"

	"github.com/bytefold/bco/internal/analyzer"
	"github.com/bytefold/bco/internal/ir"
)

// RunCopyPropagation is pass (A) (§4.2). It rewrites every load of a
// non-parameter local slot to use the smallest-numbered non-parameter alias
// among its equivalence class, preferring an alias already observed used earlier in
// this same pass. Returns whether anything changed.
func RunCopyPropagation(m *ir.Method, limits analyzer.Limits) bool {
	a, ok := analyzer.NewAnalyzer(m, limits)
	if !ok {
		return false // analyzer unavailable: no change, not an error (§7).
	}
	a.Build()

	changed := false
	used := map[int]bool{}

	m.Each(func(i *ir.Insn) bool {
		if i.Kind != ir.KindVar || !ir.IsLoad(i.Op) {
			return true
		}
		slot := i.Slot
		if slot < m.ParametersSize {
			// Parameter slots are excluded: their initial value is always
			// live for debuggers, and there is no upstream store to
			// eliminate (§4.2 "Why").
			used[slot] = true
			return true
		}
		aliases := excludeParamSlots(a.AliasesOf(i, slot), m.ParametersSize)
		chosen := usedOrMinAlias(aliases, used)
		if chosen != slot {
			i.Slot = chosen
			changed = true
		}
		used[chosen] = true
		return true
	})
	return changed
}

// excludeParamSlots drops any parameter slot from a candidate alias set: a
// non-parameter load is never rewritten onto a parameter slot, only onto
// another non-parameter alias (§4.2 "Why": a parameter's initial value
// stays live for debuggers independent of what this pass does to other
// slots, so it is never itself a rewrite target, only ever a source).
// `slot` is always non-parameter by the time this is called, so the result
// is never empty.
func excludeParamSlots(aliases []int, paramSlots int) []int {
	out := aliases[:0:0]
	for _, s := range aliases {
		if s >= paramSlots {
			out = append(out, s)
		}
	}
	return out
}

// usedOrMinAlias implements §4.2's selection rule: prefer an alias already
// in `used`; otherwise the minimum alias index.
func usedOrMinAlias(aliases []int, used map[int]bool) int {
	sorted := append([]int(nil), aliases...)
	sort.Ints(sorted)
	for _, s := range sorted {
		if used[s] {
			return s
		}
	}
	return sorted[0]
}
