package opt

import (
	"fmt"

	"github.com/bytefold/bco/internal/analyzer"
	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/diag"
	"github.com/bytefold/bco/internal/ir"
)

// scalaUnboxBoxedType maps a scala.runtime.BoxesRunTime.unboxToXxx method
// name to the boxed type its receiver must be cast to before being
// discarded, preserving the ClassCastException a wrong-typed box would
// throw (§4.4 INVOKE* row, scala-unbox case).
var scalaUnboxBoxedType = map[string]string{
	"unboxToInt": "java/lang/Integer", "unboxToLong": "java/lang/Long",
	"unboxToFloat": "java/lang/Float", "unboxToDouble": "java/lang/Double",
	"unboxToBoolean": "java/lang/Boolean", "unboxToByte": "java/lang/Byte",
	"unboxToShort": "java/lang/Short", "unboxToChar": "java/lang/Character",
}

// ppState carries the work sets pass (C) accumulates during queue
// processing, applied only in the commit phase (§5 ordering guarantee).
type ppState struct {
	m      *ir.Method
	a      *analyzer.Analyzer
	cfg    config.Config
	oracle ir.SideEffectOracle
	reg    *callgraph.Registry

	toRemove       map[*ir.Insn]bool
	insertPopAfter map[*ir.Insn]int
	insertBefore   map[*ir.Insn][]*ir.Insn
	dupPending     map[*ir.Insn]bool
	queue          []ppWork

	castAdded      bool
	nullCheckAdded bool
	changed        bool
}

type ppWork struct {
	prod  *ir.Insn
	width int
}

// RunPushPopElimination is pass (C) (§4.4): backward reachability from
// explicit pops, cutting away pure producers and their inputs.
func RunPushPopElimination(m *ir.Method, cfg config.Config, reg *callgraph.Registry, oracle ir.SideEffectOracle) (pushPopChanged, castAdded, nullCheckAdded bool) {
	a, ok := analyzer.NewAnalyzer(m, cfg.Limits())
	if !ok {
		return false, false, false
	}
	a.Build()
	if oracle == nil {
		oracle = ir.DefaultOracle()
	}

	ps := &ppState{
		m:              m,
		a:              a,
		cfg:            cfg,
		oracle:         oracle,
		reg:            reg,
		toRemove:       map[*ir.Insn]bool{},
		insertPopAfter: map[*ir.Insn]int{},
		insertBefore:   map[*ir.Insn][]*ir.Insn{},
		dupPending:     map[*ir.Insn]bool{},
	}

	var constructorCandidates []*ir.Insn

	m.Each(func(i *ir.Insn) bool {
		if i.Kind == ir.KindPlain && (i.Op == ir.OpPop || i.Op == ir.OpPop2) {
			width := 1
			if i.Op == ir.OpPop2 {
				width = 2
			}
			producers := producersIfSingleConsumer(a, i, 0)
			if len(producers) > 0 {
				// Scheduled for removal, but not yet known to be a net change:
				// commit()'s cancellation rule may later re-insert an
				// equivalent pop right here, in which case nothing really
				// changed. `changed` is finalized in commit() instead of here
				// (§9 "Ordering of application": the cancellation exists
				// partly to keep `changed` accurate for driver fixpoint
				// termination).
				ps.toRemove[i] = true
				for _, p := range producers {
					if p.Kind == analyzer.ProducerNormal {
						ps.enqueue(p.Insn, width)
					}
				}
			}
		}
		if i.Kind == ir.KindMethodCall && i.Op == ir.OpInvokeSpecial && i.Name == "<init>" &&
			oracle.IsSideEffectFreeConstructor(i.Owner, i.Desc) {
			constructorCandidates = append(constructorCandidates, i)
		}
		return true
	})

	ps.drain()

	// Unused-pure-constructor elimination: iterate to fixpoint (§4.4).
	for {
		removedAny := false
		for _, call := range constructorCandidates {
			if ps.toRemove[call] {
				continue
			}
			if ps.tryEliminateConstructor(call) {
				removedAny = true
			}
		}
		ps.drain()
		if !removedAny {
			break
		}
	}

	ps.commit()

	if ps.nullCheckAdded {
		// Conservative bump: the null-check sequence needs one temporary
		// stack word beyond whatever the method already required.
		m.MaxStack++
	}

	return ps.changed, ps.castAdded, ps.nullCheckAdded
}

func (ps *ppState) enqueue(prod *ir.Insn, width int) {
	ps.queue = append(ps.queue, ppWork{prod: prod, width: width})
}

func (ps *ppState) drain() {
	for len(ps.queue) > 0 {
		w := ps.queue[0]
		ps.queue = ps.queue[1:]
		ps.process(w.prod, w.width)
	}
}

func (ps *ppState) process(prod *ir.Insn, width int) {
	switch {
	case prod.Kind == ir.KindConst && prod.Op == ir.OpLdc:
		ps.handleLdc(prod)
	case prod.Kind == ir.KindConst:
		ps.remove(prod)
	case prod.Kind == ir.KindVar && ir.IsLoad(prod.Op):
		ps.remove(prod)
	case prod.Op == ir.OpDup || prod.Op == ir.OpDup2:
		ps.handleDup(prod)
	case ir.IsExoticDuplicator(prod.Op):
		panic(fmt.Sprintf("BUG: exotic duplicating opcode reached the push/pop queue:\n%s", diag.Textify(ps.m)))
	case ir.IsDivOrRem(prod.Op):
		ps.insertPop(prod, width)
	case prod.Kind == ir.KindPlain && ir.IsPureArithmetic(prod.Op):
		ps.remove(prod)
		arity := ir.ArithmeticArity(prod.Op)
		ps.recurseInputs(prod, arity, 0, arity)
	case prod.Kind == ir.KindField:
		ps.handleField(prod, width)
	case prod.Kind == ir.KindMethodCall:
		ps.handleMethodCall(prod, width)
	case prod.Kind == ir.KindInvokeDynamic:
		ps.handleInvokeDynamic(prod, width)
	case prod.Kind == ir.KindType && prod.Op == ir.OpNew:
		ps.handleNew(prod, width)
	case prod.Kind == ir.KindMultiNewArray:
		ps.remove(prod)
		ps.recurseInputs(prod, prod.Dims, 0, prod.Dims)
	default:
		ps.insertPop(prod, width)
	}
}

func (ps *ppState) remove(i *ir.Insn) {
	ps.toRemove[i] = true
	ps.changed = true
}

// insertPop schedules a pop to be inserted after i; commit() resolves the
// cancellation rule and is the only place `changed` is actually set for
// this instruction, since the insertion may be cancelled.
func (ps *ppState) insertPop(i *ir.Insn, width int) {
	if existing, ok := ps.insertPopAfter[i]; !ok || width > existing {
		ps.insertPopAfter[i] = width
	}
}

func (ps *ppState) handleDup(prod *ir.Insn) {
	if ps.dupPending[prod] {
		delete(ps.dupPending, prod)
		ps.remove(prod)
		ps.recurseInputs(prod, 1, 0, 1)
		return
	}
	ps.dupPending[prod] = true
}

func (ps *ppState) handleField(prod *ir.Insn, width int) {
	if ir.IsBoxedUnit(prod) || (ir.IsModuleLoad(prod) && ps.cfg.AllowSkipModuleInitialization()) {
		ps.remove(prod)
		return
	}
	ps.insertPop(prod, width)
}

func (ps *ppState) handleMethodCall(prod *ir.Insn, width int) {
	argc := descriptorArgCount(prod.Desc)
	pops := argc
	if prod.Op != ir.OpInvokeStatic {
		pops++
	}
	switch {
	case ps.oracle.IsSideEffectFreeCall(prod.Owner, prod.Name, prod.Desc):
		ps.remove(prod)
		if ps.reg != nil {
			ps.reg.RemoveCallsite(prod, ps.m)
		}
		ps.recurseInputs(prod, pops, 0, pops)
	case ir.IsScalaUnbox(prod.Owner, prod.Name):
		boxed, ok := scalaUnboxBoxedType[prod.Name]
		if !ok {
			boxed = "java/lang/Object"
		}
		prod.Kind = ir.KindType
		prod.Op = ir.OpCheckCast
		prod.TypeName = boxed
		prod.Owner, prod.Name, prod.Desc = "", "", ""
		ps.insertPop(prod, width)
		ps.castAdded = true
		ps.changed = true
	case ir.IsJavaUnbox(prod.Owner, prod.Name, prod.Desc):
		ps.insertNullCheckSequence(prod)
	default:
		ps.insertPop(prod, width)
	}
}

func (ps *ppState) handleInvokeDynamic(prod *ir.Insn, width int) {
	if ir.LambdaMetaFactoryCall(prod) {
		ps.remove(prod)
		if ps.reg != nil {
			ps.reg.RemoveClosureInstantiation(prod, ps.m, nil)
		}
		argc := descriptorArgCount(prod.Desc)
		ps.recurseInputs(prod, argc, 0, argc)
		return
	}
	ps.insertPop(prod, width)
}

func (ps *ppState) handleNew(prod *ir.Insn, width int) {
	if ps.oracle.IsSideEffectFreeConstructorNew(prod.TypeName) {
		ps.remove(prod)
		return
	}
	ps.insertPop(prod, width)
}

func (ps *ppState) handleLdc(prod *ir.Insn) {
	if ir.IsNumericOrStringConstant(prod) {
		ps.remove(prod)
		return
	}
	if ps.cfg.AllowSkipClassLoading() {
		ps.remove(prod)
		return
	}
	ps.insertPop(prod, 1)
}

// insertNullCheckSequence implements the java-unbox row: replace the call
// with `IFNONNULL L; ACONST_NULL; ATHROW; L:`, preserving the
// NullPointerException a real unbox call would have thrown on a null
// receiver, and remove the call itself.
func (ps *ppState) insertNullCheckSequence(call *ir.Insn) {
	label := ir.NewLabel()
	seq := []*ir.Insn{
		{Kind: ir.KindJump, Op: ir.OpIfNonNull, Target: label},
		{Kind: ir.KindConst, Op: ir.OpAConstNull, ConstKind: ir.ConstNull},
		ir.NewPlain(ir.OpAThrow),
		label,
	}
	ps.insertBefore[call] = append(ps.insertBefore[call], seq...)
	ps.toRemove[call] = true
	ps.nullCheckAdded = true
	ps.changed = true
}

// recurseInputs walks `count` of prod's stack inputs starting at input
// offset `start` (0 = deepest; totalPops is the total number of values prod
// consumes, needed to locate each offset from the top of the frame),
// enqueuing each one that is safely removable, else scheduling a pop of the
// right width to be inserted before prod (§4.4 "Recursing on inputs").
func (ps *ppState) recurseInputs(prod *ir.Insn, totalPops, start, count int) {
	frame, frameOK := ps.a.FrameAt(prod)
	for k := 0; k < count; k++ {
		off := start + k
		producers := producersIfSingleConsumer(ps.a, prod, off)
		width := 1
		if frameOK {
			if w, ok := frame.PeekStack(totalPops - 1 - off); ok {
				width = w
			}
		}
		if len(producers) > 0 {
			for _, p := range producers {
				if p.Kind == analyzer.ProducerNormal {
					ps.enqueue(p.Insn, width)
				}
			}
			continue
		}
		ps.insertBefore[prod] = append(ps.insertBefore[prod], ir.NewPlain(ir.GetPop(width)))
		ps.changed = true
	}
}

// tryEliminateConstructor recognizes the two side-effect-free-constructor
// shapes §4.4 names and removes the call plus its NEW/argument producers
// when they qualify.
func (ps *ppState) tryEliminateConstructor(call *ir.Insn) bool {
	argc := descriptorArgCount(call.Desc)
	const receiverOffset = 0 // the receiver is the deepest input (§3 Consumer.InputOffset convention).
	producers := producersIfSingleConsumer(ps.a, call, receiverOffset)
	if len(producers) != 1 || producers[0].Kind != analyzer.ProducerNormal {
		return false
	}
	receiver := producers[0].Insn

	if receiver.Kind == ir.KindType && receiver.Op == ir.OpNew {
		// Shape 1: NEW T; ...args...; INVOKESPECIAL T.<init> (no DUP).
		ps.remove(call)
		ps.recurseInputs(call, argc+1, 0, argc+1)
		return true
	}
	if receiver.Op == ir.OpDup && ps.dupPending[receiver] {
		// Shape 2: NEW T; DUP; ...args...; INVOKESPECIAL T.<init>, where the
		// DUP is already scheduled for removal by its other consumer. The
		// receiver occupies offset 0 of call's argc+1 inputs and is handled
		// separately below, so only offsets 1..argc (the arguments) recurse
		// through call itself.
		ps.remove(call)
		ps.recurseInputs(call, argc+1, 1, argc)
		delete(ps.dupPending, receiver)
		ps.remove(receiver)
		ps.recurseInputs(receiver, 1, 0, 1)
		return true
	}
	return false
}

// descriptorArgCount counts the arguments in a JVM method descriptor.
func descriptorArgCount(desc string) int {
	if len(desc) == 0 || desc[0] != '(' {
		return 0
	}
	n := 0
	i := 1
	for i < len(desc) && desc[i] != ')' {
		for desc[i] == '[' {
			i++
		}
		if desc[i] == 'L' {
			for desc[i] != ';' {
				i++
			}
		}
		i++
		n++
	}
	return n
}

// producersIfSingleConsumer returns the producers of the value consumed by
// cons at the given input offset, or nil if any producer is unsafe to
// recurse into (§4.4): an exception or uninitialized-local sentinel, an
// exotic duplicator, or a multi-output producer. A parameter or
// uninitialized-local producer is resolved to the concrete load instruction
// that pushed this occurrence, since that load (not the abstract source) is
// what pass (C) needs to delete.
func producersIfSingleConsumer(a *analyzer.Analyzer, cons *ir.Insn, inputOffset int) []analyzer.Producer {
	class, ok := a.ClassConsumedAt(cons, inputOffset)
	if !ok {
		return nil
	}
	if len(a.ConsumersOfClass(class)) != 1 {
		return nil
	}
	producers := a.ProducersOfClass(class)
	if len(producers) == 0 {
		return nil
	}
	out := make([]analyzer.Producer, 0, len(producers))
	for _, p := range producers {
		switch p.Kind {
		case analyzer.ProducerException, analyzer.ProducerUninitializedLocal:
			// §4.4: both are treated as multi-consumer, conservatively.
			return nil
		case analyzer.ProducerParameter:
			if load, ok := resolvePushingLoad(a, class); ok {
				out = append(out, analyzer.Producer{Kind: analyzer.ProducerNormal, Insn: load})
				continue
			}
			out = append(out, p) // no concrete load found: nothing to recurse into, but safe to stop here.
		case analyzer.ProducerNormal:
			if ir.IsExoticDuplicator(p.Insn.Op) {
				return nil
			}
			if !hasSingleOutput(a, p.Insn) {
				return nil
			}
			out = append(out, p)
		}
	}
	return out
}

// resolvePushingLoad returns the load instruction that pushed this class's
// current occurrence, if any and if it really is a load (guards against
// pushInsn pointing at something else in edge cases).
func resolvePushingLoad(a *analyzer.Analyzer, class int) (*ir.Insn, bool) {
	i, ok := a.PushingInsn(class)
	if !ok || i.Kind != ir.KindVar || !ir.IsLoad(i.Op) {
		return nil, false
	}
	return i, true
}

// hasSingleOutput reports whether i's pushed value(s) can be treated as one
// producer for recursion purposes. OpDup always qualifies: both copies trace
// back to the same single input, and handleDup's dupPending bookkeeping
// collapses them once both are confirmed removable. OpDup2 only qualifies
// when it duplicates a single size-2 value (one logical output); over two
// size-1 values it produces two independent outputs from two independent
// inputs, which this pass does not attempt to recurse into separately (§4.4
// "DUP2 ... whose source slot is a size-2 value").
func hasSingleOutput(a *analyzer.Analyzer, i *ir.Insn) bool {
	if i.Op == ir.OpDup {
		return true
	}
	if i.Op == ir.OpDup2 {
		frame, ok := a.FrameAt(i)
		if !ok {
			return false
		}
		width, ok := frame.PeekStack(0)
		return ok && width == 2
	}
	n, ok := a.PushCount(i)
	return ok && n == 1
}

// commit applies every scheduled mutation, honoring the insert/remove
// cancellation rule (§4.4, §9 "Ordering of application") before touching
// the instruction list at all -- no analysis result is consulted past this
// point.
func (ps *ppState) commit() {
	for prod, width := range ps.insertPopAfter {
		next := prod.Next()
		wantOp := ir.GetPop(width)
		if next != nil && next.Kind == ir.KindPlain && next.Op == wantOp && ps.toRemove[next] {
			delete(ps.toRemove, next)
			continue
		}
		ps.m.InsertAfter(prod, ir.NewPlain(wantOp))
		ps.changed = true
	}
	for mark, seq := range ps.insertBefore {
		for _, n := range seq {
			ps.m.InsertBefore(mark, n)
		}
	}
	if len(ps.toRemove) > 0 {
		ps.changed = true
	}
	for i := range ps.toRemove {
		ps.m.Remove(i)
	}
}
