package opt

import "github.com/bytefold/bco/internal/ir"

// storeLoadPair is a candidate store-then-load (or aconst_null-then-astore)
// removal: both insns are deleted together in the commit phase unless the
// elision fixpoint disqualifies it (§4.5).
type storeLoadPair struct {
	store, closer *ir.Insn
	slot          int
	deps          []slPairDep
	elided        bool
}

// slPairDep is either a label the candidate's span crossed, or a nested
// candidate it was registered against while that candidate was still open.
type slPairDep struct {
	label *ir.Insn
	pair  *storeLoadPair
}

// slStackElem is an open, not-yet-closed candidate sitting on the pair
// stack: either a plain store awaiting its closing load, or an aconst_null
// push awaiting the astore that fuses with it into a null-store candidate.
type slStackElem struct {
	start      *ir.Insn
	slot       int
	isNullPush bool
	deps       []slPairDep
}

// RunStoreLoadPairElimination is pass (D) (§4.5): a single forward traversal
// with a small pair-start stack, recognizing adjacent `store s; load s` and
// `aconst_null; astore s` shapes without running a full dataflow analysis.
func RunStoreLoadPairElimination(m *ir.Method) bool {
	liveLabels := map[*ir.Insn]bool{}
	m.Each(func(i *ir.Insn) bool {
		switch i.Kind {
		case ir.KindJump:
			if i.Target != nil {
				liveLabels[i.Target] = true
			}
		case ir.KindTableSwitch, ir.KindLookupSwitch:
			if i.Default != nil {
				liveLabels[i.Default] = true
			}
			for _, l := range i.Labels {
				liveLabels[l] = true
			}
		}
		return true
	})

	liveVars := map[int]bool{}
	var allPairs []*storeLoadPair
	var stack []*slStackElem

	sweep := func() {
		for _, e := range stack {
			if !e.isNullPush {
				liveVars[e.slot] = true
			}
		}
		stack = stack[:0]
	}

	m.Each(func(i *ir.Insn) bool {
		switch {
		case i.Kind == ir.KindConst && i.ConstKind == ir.ConstNull:
			stack = append(stack, &slStackElem{start: i, isNullPush: true})
		case i.Kind == ir.KindVar && ir.IsStore(i.Op):
			stack = append(stack, &slStackElem{start: i, slot: i.Slot})
		case i.Kind == ir.KindLabel:
			if n := len(stack); n > 0 {
				stack[n-1].deps = append(stack[n-1].deps, slPairDep{label: i})
			}
		default:
			tryToPairInstruction(i, &stack, &allPairs, liveVars)
		}
		return true
	})
	sweep()

	for changed := true; changed; {
		changed = false
		for _, rp := range allPairs {
			if rp.elided {
				continue
			}
			if liveVars[rp.slot] {
				rp.elided = true
				changed = true
				continue
			}
			for _, d := range rp.deps {
				if (d.label != nil && liveLabels[d.label]) || (d.pair != nil && d.pair.elided) {
					rp.elided = true
					liveVars[rp.slot] = true
					changed = true
					break
				}
			}
		}
	}

	removed := false
	for _, rp := range allPairs {
		if rp.elided {
			continue
		}
		m.Remove(rp.store)
		m.Remove(rp.closer)
		removed = true
	}
	return removed
}

// tryToPairInstruction attempts to close the top of the pair stack against
// incoming, fusing any resolved aconst_null/astore candidate underneath it
// first and retrying against the newly exposed top (§4.5, "eliminated
// across the now-empty gap"). On failure to close at all, every remaining
// open element -- and incoming itself, if it is a genuine slot use -- is
// marked live and the stack is cleared.
func tryToPairInstruction(incoming *ir.Insn, stackp *[]*slStackElem, allPairs *[]*storeLoadPair, liveVars map[int]bool) {
	stack := *stackp
	for {
		n := len(stack)
		if n == 0 {
			break
		}
		top := stack[n-1]
		if !top.isNullPush && incoming.Kind == ir.KindVar && ir.IsLoad(incoming.Op) && incoming.Slot == top.slot {
			stack = stack[:n-1]
			rp := &storeLoadPair{store: top.start, closer: incoming, slot: top.slot, deps: top.deps}
			*allPairs = append(*allPairs, rp)
			attachToNewTop(stack, rp)
			*stackp = stack
			return
		}
		if n >= 2 {
			lower, upper := stack[n-2], stack[n-1]
			if lower.isNullPush && !upper.isNullPush && ir.IsReferenceStore(upper.start.Op) {
				stack = stack[:n-2]
				deps := append(append([]slPairDep(nil), lower.deps...), upper.deps...)
				rp := &storeLoadPair{store: lower.start, closer: upper.start, slot: upper.slot, deps: deps}
				*allPairs = append(*allPairs, rp)
				attachToNewTop(stack, rp)
				*stackp = stack
				continue
			}
		}
		break
	}

	for _, e := range stack {
		if !e.isNullPush {
			liveVars[e.slot] = true
		}
	}
	*stackp = stack[:0]

	if incoming.Kind == ir.KindVar || incoming.Kind == ir.KindIncrement {
		liveVars[incoming.Slot] = true
	}
}

func attachToNewTop(stack []*slStackElem, rp *storeLoadPair) {
	if n := len(stack); n > 0 {
		stack[n-1].deps = append(stack[n-1].deps, slPairDep{pair: rp})
	}
}
