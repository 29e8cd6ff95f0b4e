package opt

import (
	"github.com/bytefold/bco/internal/analyzer"
	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/inliner"
	"github.com/bytefold/bco/internal/ir"
)

// nullPoisonWork is a reference-store that cannot be eliminated outright
// (its value is provably leakable) and is a candidate for null-poisoning:
// leave the store in place but ensure it writes the null constant.
type nullPoisonWork struct {
	insn        *ir.Insn
	alreadyNull bool
}

// intrinsicMatch is a detected "ClassTag(classOf[X]).newArray(n)" call site,
// plus any downstream runtime array-apply/update calls it exposes for the
// inliner handoff (§4.3).
type intrinsicMatch struct {
	call      *ir.Insn // the newArray call, rewritten in place to ANEWARRAY
	ctApply   *ir.Insn // the ClassTag.apply call whose result becomes dead
	className string
	toInline  []*ir.Insn
}

// RunStaleStoreElimination is pass (B) (§4.3): stale-store elimination,
// increment elimination, class-tag-newArray intrinsic rewriting, and the
// inliner handoff those rewrites expose.
func RunStaleStoreElimination(m *ir.Method, cfg config.Config, reg *callgraph.Registry, inl *inliner.Inliner) (staleStoreRemoved, intrinsicRewritten, callInlined bool) {
	a, ok := analyzer.NewAnalyzer(m, cfg.Limits())
	if !ok {
		return false, false, false // analyzer unavailable: no change, not an error (§7).
	}
	a.Build()

	var staleNonRefPop []*ir.Insn
	var staleRefPop []*ir.Insn
	var staleIncrements []*ir.Insn
	var nullPoisonCandidates []*nullPoisonWork
	var intrinsics []*intrinsicMatch
	liveRefSlot := map[int]bool{}
	intrinsicClassName := map[*ir.Insn]string{}

	m.Each(func(i *ir.Insn) bool {
		switch {
		case i.Kind == ir.KindVar && ir.IsStore(i.Op):
			class, ok := a.ValueClassBeforeStore(i)
			if !ok {
				return true
			}
			if ir.IsReferenceStore(i.Op) {
				trackRefStoreLiveness(a, i, class, m, liveRefSlot)
			}
			if len(a.ConsumersOfClass(class)) > 1 {
				return true // a genuine consumer exists later: not stale.
			}
			if ir.IsReferenceStore(i.Op) {
				producers := a.ProducersOfClass(class)
				if isNonLeakableSingleProducer(producers, m.IsStatic) {
					staleRefPop = append(staleRefPop, i)
				} else {
					nullPoisonCandidates = append(nullPoisonCandidates, &nullPoisonWork{
						insn:        i,
						alreadyNull: allProducersNullConstant(producers),
					})
				}
			} else {
				staleNonRefPop = append(staleNonRefPop, i)
			}
		case i.Kind == ir.KindVar && ir.IsLoad(i.Op) && ir.IsReferenceLoad(i.Op):
			liveRefSlot[i.Slot] = true
		case i.Kind == ir.KindIncrement:
			if class, ok := a.ClassProducedBy(i); ok && len(a.ConsumersOfClass(class)) == 0 {
				staleIncrements = append(staleIncrements, i)
			}
		case i.Kind == ir.KindMethodCall:
			if match, ok := detectClassTagNewArray(a, i); ok {
				intrinsics = append(intrinsics, match)
				for _, c := range match.toInline {
					intrinsicClassName[c] = match.className
				}
			}
		}
		return true
	})

	trailing := trailingRuns(m)
	var finalNullPoison []*nullPoisonWork
	for _, w := range nullPoisonCandidates {
		if trailing[w.insn] || !liveRefSlot[w.insn.Slot] {
			// Trailing-store exemption, or the slot never needed to be
			// live at all: downgrade to a plain pop instead of poisoning.
			staleRefPop = append(staleRefPop, w.insn)
		} else {
			finalNullPoison = append(finalNullPoison, w)
		}
	}

	// --- Commit phase: all analysis is done; only now do we mutate (§5
	// ordering guarantee).

	for _, i := range staleNonRefPop {
		width := 1
		if ir.IsSize2LoadOrStore(i.Op) {
			width = 2
		}
		i.Kind = ir.KindPlain
		i.Op = ir.GetPop(width)
		staleStoreRemoved = true
	}
	for _, i := range staleRefPop {
		i.Kind = ir.KindPlain
		i.Op = ir.GetPop(1)
		staleStoreRemoved = true
	}
	for _, i := range staleIncrements {
		m.Remove(i)
		staleStoreRemoved = true
	}
	for _, w := range finalNullPoison {
		if w.alreadyNull {
			continue // already stores null: nothing to change.
		}
		m.InsertBefore(w.insn, ir.NewPlain(ir.OpPop))
		m.InsertBefore(w.insn, &ir.Insn{Kind: ir.KindConst, Op: ir.OpAConstNull, ConstKind: ir.ConstNull})
		staleStoreRemoved = true
	}

	var toInlineAll []*ir.Insn
	for _, im := range intrinsics {
		m.InsertAfter(im.ctApply, ir.NewPlain(ir.OpPop))
		im.call.Kind = ir.KindType
		im.call.Op = ir.OpANewArray
		im.call.TypeName = im.className
		im.call.Owner, im.call.Name, im.call.Desc = "", "", ""
		intrinsicRewritten = true
		toInlineAll = append(toInlineAll, im.toInline...)
	}

	if len(toInlineAll) > 0 && reg != nil && inl != nil {
		var sites []callgraph.Callsite
		for _, cs := range reg.Callsites(m) {
			for _, want := range toInlineAll {
				if cs.Insn == want {
					sites = append(sites, cs)
					break
				}
			}
		}
		ordered := reg.CallsiteOrdering(sites)
		for idx, cs := range ordered {
			updateCallGraph := idx == len(ordered)-1
			hint := inliner.Hint{StaticElementType: intrinsicClassName[cs.Insn]}
			if err := inl.InlineCallsite(cs, hint, reg, updateCallGraph); err == nil {
				callInlined = true
			}
		}
	}

	return staleStoreRemoved, intrinsicRewritten, callInlined
}

// trackRefStoreLiveness implements §4.3's live-ref-slot rule for a
// reference-store, independent of whether that store turns out to be
// stale: "a reference-store of s marks s live iff s is a parameter slot or
// at least one initial producer is not the null constant."
func trackRefStoreLiveness(a *analyzer.Analyzer, i *ir.Insn, class int, m *ir.Method, live map[int]bool) {
	if i.Slot < m.ParametersSize {
		live[i.Slot] = true
		return
	}
	if !allProducersNullConstant(a.ProducersOfClass(class)) {
		live[i.Slot] = true
	}
}

// isNonLeakableSingleProducer reports whether producers is the single
// initial producer shape §4.3 allows eliminating an ASTORE outright
// (converting to a pop): the receiver-parameter of a non-static method, or
// the uninitialized-local sentinel.
func isNonLeakableSingleProducer(producers []analyzer.Producer, isStatic bool) bool {
	if len(producers) != 1 {
		return false
	}
	p := producers[0]
	if p.Kind == analyzer.ProducerUninitializedLocal {
		return true
	}
	return !isStatic && p.Kind == analyzer.ProducerParameter && p.Index == 0
}

// allProducersNullConstant reports whether every producer of a value is the
// null-constant push, used both for the live-ref-slot rule and to decide
// whether a scheduled null-poison store already writes null.
func allProducersNullConstant(producers []analyzer.Producer) bool {
	if len(producers) == 0 {
		return false
	}
	for _, p := range producers {
		if p.Kind != analyzer.ProducerNormal || p.Insn.Kind != ir.KindConst || p.Insn.ConstKind != ir.ConstNull {
			return false
		}
	}
	return true
}

// trailingRuns walks backward from every return instruction through
// "trailing" instructions (§4.3), returning the set of instructions found
// in any such run.
func trailingRuns(m *ir.Method) map[*ir.Insn]bool {
	trailing := map[*ir.Insn]bool{}
	active := false
	for n := m.Last(); n != nil; n = n.Prev() {
		if ir.IsReturn(n.Op) && n.Kind == ir.KindPlain {
			active = true
			continue
		}
		if active && ir.IsTrailing(n) {
			trailing[n] = true
			continue
		}
		active = false
	}
	return trailing
}

// detectClassTagNewArray recognizes the intrinsic pattern at call: a
// newArray invocation on a ClassTag built from a literal class (§4.3,
// "ClassTag(classOf[X]).newArray(n)"), walking the producer chain by
// instruction identity rather than re-deriving frames.
func detectClassTagNewArray(a *analyzer.Analyzer, call *ir.Insn) (*intrinsicMatch, bool) {
	if call.Owner != "scala/reflect/ClassTag" || call.Name != "newArray" {
		return nil, false
	}
	frame, ok := a.FrameAt(call)
	if !ok || frame.StackDepth < 2 {
		return nil, false
	}
	receiverDepth := frame.StackDepth - 2 // one int argument plus the receiver.
	producers := a.ProducersForValueAt(call, receiverDepth)
	if len(producers) != 1 || producers[0].Kind != analyzer.ProducerNormal {
		return nil, false
	}
	ctApply := producers[0].Insn
	if ctApply.Kind != ir.KindMethodCall || ctApply.Owner != "scala/reflect/ClassTag" || ctApply.Name != "apply" {
		return nil, false
	}
	ctFrame, ok := a.FrameAt(ctApply)
	if !ok || ctFrame.StackDepth < 1 {
		return nil, false
	}
	argProducers := a.ProducersForValueAt(ctApply, ctFrame.StackDepth-1)
	if len(argProducers) != 1 || argProducers[0].Kind != analyzer.ProducerNormal {
		return nil, false
	}
	className, ok := ir.ClassTagNewArrayArg(call, argProducers[0].Insn)
	if !ok {
		return nil, false
	}
	match := &intrinsicMatch{call: call, ctApply: ctApply, className: className}
	if next := call.Next(); next != nil && next.Kind == ir.KindVar && ir.IsReferenceStore(next.Op) {
		if class, ok := a.ValueClassBeforeStore(next); ok {
			for _, c := range a.ConsumersOfClass(class) {
				if ir.IsRuntimeArrayLoadOrUpdate(c.Insn) {
					match.toInline = append(match.toInline, c.Insn)
				}
			}
		}
	}
	return match, true
}
