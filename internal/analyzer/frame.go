// Package analyzer implements the Frame/Alias Analyzer external collaborator
// surface §4.1/§6 describes: BasicAliasingAnalyzer and ProdConsAnalyzer. It
// computes, at each instruction, which local/stack slots are mutual aliases
// and which instructions produce/consume each value.
//
// This is deliberately scoped to what a single cooperating module needs: a
// single linear forward dataflow walk that does not merge values at
// control-flow joins, not a full points-to engine.
// spec.md places the analyzer itself out of scope for the HARD CORE passes;
// what is implemented here exists so the passes have something real to run
// against.
package analyzer

import (
	"github.com/bytefold/bco/internal/ir"
)

// Limits gates analyzer construction by method size, matching
// AsmAnalyzer.sizeOKForAliasing / sizeOKForSourceValue (§6). Passes must
// degrade to "no change" when these predicates decline.
type Limits struct {
	MaxInstructionsForAliasing int
	MaxInstructionsForProdCons int
}

// DefaultLimits mirrors the conservative, generous-enough-for-real-methods
// defaults a production analyzer would use.
var DefaultLimits = Limits{
	MaxInstructionsForAliasing: 8192,
	MaxInstructionsForProdCons: 8192,
}

// SizeOKForAliasing reports whether m is small enough to run the aliasing
// analyzer.
func SizeOKForAliasing(m *ir.Method, limits Limits) bool {
	return m.Size() <= limits.MaxInstructionsForAliasing
}

// SizeOKForSourceValue reports whether m is small enough to run the
// producer/consumer analyzer.
func SizeOKForSourceValue(m *ir.Method, limits Limits) bool {
	return m.Size() <= limits.MaxInstructionsForProdCons
}

// Producer is the tagged variant §3 defines: a normal producing
// instruction, or one of three synthetic sources that never appear as a
// real Insn in the method.
type Producer struct {
	Kind  ProducerKind
	Insn  *ir.Insn // valid when Kind == ProducerNormal
	Index int      // valid when Kind == ProducerParameter: the parameter's slot index
}

type ProducerKind int

const (
	ProducerNormal ProducerKind = iota
	ProducerParameter
	ProducerUninitializedLocal
	ProducerException
)

// Consumer identifies an instruction that pops a particular value, and
// which stack-offset input of that instruction the value fills (0 = the
// deepest input it consumes, matching the order producersIfSingleConsumer
// walks inputs in pass (C)).
type Consumer struct {
	Insn        *ir.Insn
	InputOffset int
}

// Frame is the abstract state just before a given instruction: the current
// stack depth and, for local/stack locations, the equivalence classes of
// §3. A Frame is only ever looked at before any structural edit in the
// owning pass (§5 ordering guarantee); passes must not consult a Frame
// after a mutation.
type Frame struct {
	StackDepth int

	// classOfStackSlot[d] is the class id of the stack value at depth d
	// (0 = deepest). classOfLocalSlot[s] is the class id of local slot s.
	classOfStackSlot []int
	classOfLocalSlot []int
	// widthOfStackSlot[d] is 1 or 2, the word-width of the stack value at
	// depth d, needed to pick POP vs POP2 / choose DUP vs DUP2.
	widthOfStackSlot []int
}

// StackTop returns the index (in classOfStackSlot) of the topmost stack
// value, or -1 if the stack is empty.
func (f *Frame) StackTop() int { return f.StackDepth - 1 }

// GetStackSize returns the current stack depth.
func (f *Frame) GetStackSize() int { return f.StackDepth }

// PeekStack returns the word-width (1 or 2) of the stack value `offset`
// words below the top (0 = the top itself).
func (f *Frame) PeekStack(offset int) (size int, ok bool) {
	idx := f.StackTop() - offset
	if idx < 0 || idx >= len(f.widthOfStackSlot) {
		return 0, false
	}
	return f.widthOfStackSlot[idx], true
}

// classAt returns the class id held by local slot `slot` in this frame.
func (f *Frame) classAt(slot int) (int, bool) {
	if slot < 0 || slot >= len(f.classOfLocalSlot) {
		return 0, false
	}
	c := f.classOfLocalSlot[slot]
	if c < 0 {
		return 0, false
	}
	return c, true
}

// Analyzer computes and caches Frame/BasicAliasing/ProdCons data for one
// method. It is constructed lazily: call Build once per pass invocation,
// after checking the size gates, and discard it when the pass completes
// (§3 "Lifecycles").
type Analyzer struct {
	method *ir.Method

	// frameBefore[i] is the Frame just before instruction i.
	frameBefore map[*ir.Insn]*Frame

	// slotCount is the number of local slots tracked. Aliases at an
	// instruction are resolved through frameBefore's classOfLocalSlot;
	// AliasesOf walks all slots sharing a class id.
	slotCount int

	// producers/consumers keyed by class id, the indirection Build assigns
	// to every distinct value.
	producers        map[int][]Producer
	consumersOfClass map[int][]Consumer
	classProducedBy  map[*ir.Insn]int

	// consumedClass[i][inputOffset] is the class id of the value consumed by
	// instruction i at the given input offset (0 = deepest input), the
	// inverse of Consumer.InputOffset -- pass (C)'s producersIfSingleConsumer
	// needs this to walk from a consumer back to its inputs' producers.
	consumedClass map[*ir.Insn]map[int]int

	// pushCount[i] is the number of values instruction i pushes, used by
	// pass (C) to decide whether a producer "has a single output" (§4.4).
	pushCount map[*ir.Insn]int

	// pushInsn[class] is the last load instruction (in method order) that
	// put a value of this class onto the stack; only loads are recorded
	// here. This is distinct from the class's Producer (which, for a parameter or
	// uninitialized-local class, names the synthetic source, not the load
	// that put this particular occurrence on the stack). Pass (C) needs
	// exactly this: the concrete instruction to delete.
	pushInsn map[int]*ir.Insn

	built bool
}

// NewAnalyzer constructs an Analyzer for m, or returns (nil, false) if m
// exceeds limits -- analysis is unavailable, which is not an error (§7).
func NewAnalyzer(m *ir.Method, limits Limits) (*Analyzer, bool) {
	if !SizeOKForAliasing(m, limits) || !SizeOKForSourceValue(m, limits) {
		return nil, false
	}
	return &Analyzer{method: m, slotCount: m.MaxLocals}, true
}

// Build runs the forward dataflow once. It is idempotent; calling it again
// after the first call returns immediately (lazy construction, §3).
func (a *Analyzer) Build() {
	if a.built {
		return
	}
	a.built = true
	a.frameBefore = make(map[*ir.Insn]*Frame)
	a.consumersOfClass = make(map[int][]Consumer)
	a.classProducedBy = make(map[*ir.Insn]int)
	a.consumedClass = make(map[*ir.Insn]map[int]int)
	a.pushCount = make(map[*ir.Insn]int)
	a.pushInsn = make(map[int]*ir.Insn)

	classOfLocal := make([]int, a.slotCount)
	nextClass := 0
	paramSlots := paramSlotCount(a.method)
	for s := range classOfLocal {
		if s < paramSlots {
			classOfLocal[s] = nextClass
			a.recordProducer(nextClass, Producer{Kind: ProducerParameter, Index: s})
			nextClass++
		} else {
			classOfLocal[s] = -1 // UninitializedLocalProducer: resolved on demand, not interned eagerly.
		}
	}

	var stackClasses []int
	var stackWidths []int

	newClass := func() int {
		c := nextClass
		nextClass++
		return c
	}
	push := func(class, width int) {
		stackClasses = append(stackClasses, class)
		stackWidths = append(stackWidths, width)
	}
	pop := func() int {
		c := stackClasses[len(stackClasses)-1]
		stackClasses = stackClasses[:len(stackClasses)-1]
		stackWidths = stackWidths[:len(stackWidths)-1]
		return c
	}

	handlerEntry := map[*ir.Insn]bool{}
	for _, tcb := range a.method.TryCatchBlocks {
		handlerEntry[tcb.Handler] = true
	}

	a.method.Each(func(i *ir.Insn) bool {
		// Snapshot the frame as it exists *before* this instruction.
		f := &Frame{
			StackDepth:       len(stackClasses),
			classOfStackSlot: append([]int(nil), stackClasses...),
			classOfLocalSlot: append([]int(nil), classOfLocal...),
			widthOfStackSlot: append([]int(nil), stackWidths...),
		}
		a.frameBefore[i] = f

		if handlerEntry[i] && i.Kind == ir.KindLabel {
			c := newClass()
			a.recordProducer(c, Producer{Kind: ProducerException})
			push(c, 1)
		}

		switch i.Kind {
		case ir.KindVar:
			if ir.IsLoad(i.Op) {
				c, ok := classAtSlice(classOfLocal, i.Slot)
				if !ok {
					c = newClass()
					a.recordProducer(c, Producer{Kind: ProducerUninitializedLocal})
					classOfLocal[i.Slot] = c
				}
				a.recordConsumer(c, Consumer{Insn: i, InputOffset: 0})
				a.recordConsumedClass(i, 0, c)
				a.pushInsn[c] = i
				width := 1
				if ir.IsSize2LoadOrStore(i.Op) {
					width = 2
				}
				push(c, width)
			} else if ir.IsStore(i.Op) {
				if len(stackClasses) > 0 {
					c := pop()
					a.recordConsumer(c, Consumer{Insn: i, InputOffset: 0})
					a.recordConsumedClass(i, 0, c)
					classOfLocal[i.Slot] = c
				}
			}
		case ir.KindIncrement:
			c, ok := classAtSlice(classOfLocal, i.Slot)
			if ok {
				a.recordConsumer(c, Consumer{Insn: i, InputOffset: 0})
				a.recordConsumedClass(i, 0, c)
			}
			nc := newClass()
			a.recordProducer(nc, Producer{Kind: ProducerNormal, Insn: i})
			a.classProducedBy[i] = nc
			a.pushCount[i] = 1
			classOfLocal[i.Slot] = nc
		case ir.KindPlain:
			if i.Op == ir.OpDup2 {
				a.buildDup2(i, stackClasses, stackWidths, push, newClass)
				break
			}
			fallthrough
		default:
			pops, pushes := a.effectOf(i)
			for p := 0; p < pops && len(stackClasses) > 0; p++ {
				c := pop()
				off := pops - 1 - p
				a.recordConsumer(c, Consumer{Insn: i, InputOffset: off})
				a.recordConsumedClass(i, off, c)
			}
			a.pushCount[i] = pushes
			for q := 0; q < pushes; q++ {
				nc := newClass()
				a.recordProducer(nc, Producer{Kind: ProducerNormal, Insn: i})
				if q == 0 {
					a.classProducedBy[i] = nc
				}
				push(nc, pushWidth(i))
			}
		}
		return true
	})
}

// pushWidth returns the word-width of the single value i pushes, when i
// pushes exactly one value (every opcode this analyzer classifies as
// pushing 1 in effectOf, plus KindConst).
func pushWidth(i *ir.Insn) int {
	switch i.Kind {
	case ir.KindConst:
		if i.ConstKind == ir.ConstLong || i.ConstKind == ir.ConstDouble {
			return 2
		}
	case ir.KindField:
		if i.FieldIsSize2 {
			return 2
		}
	case ir.KindPlain:
		switch i.Op {
		case ir.OpLAdd, ir.OpLSub, ir.OpLMul, ir.OpLDiv, ir.OpLRem, ir.OpLNeg,
			ir.OpDAdd, ir.OpDSub, ir.OpDMul, ir.OpDDiv, ir.OpDRem, ir.OpDNeg,
			ir.OpI2L, ir.OpI2D, ir.OpF2L, ir.OpF2D, ir.OpL2D, ir.OpD2L:
			return 2
		}
	}
	return 1
}

func classAtSlice(s []int, slot int) (int, bool) {
	if slot < 0 || slot >= len(s) || s[slot] < 0 {
		return 0, false
	}
	return s[slot], true
}

func (a *Analyzer) recordProducer(class int, p Producer) {
	// producersOf is per-Frame in the spec, but since this analyzer does
	// not merge classes across branches (a straight-line approximation
	// documented in DESIGN.md), one producer list per class id suffices.
	if a.producers == nil {
		a.producers = map[int][]Producer{}
	}
	a.producers[class] = append(a.producers[class], p)
}

func (a *Analyzer) recordConsumer(class int, c Consumer) {
	a.consumersOfClass[class] = append(a.consumersOfClass[class], c)
}

func (a *Analyzer) recordConsumedClass(i *ir.Insn, offset, class int) {
	m := a.consumedClass[i]
	if m == nil {
		m = map[int]int{}
		a.consumedClass[i] = m
	}
	m[offset] = class
}

// buildDup2 models DUP2's real stack effect (§4.1 footnote: DUP2 over a
// size-2 value duplicates that one value; over two size-1 values it
// duplicates both independently), branching on the width of the current
// stack top instead of routing through effectOf's generic pops/pushes
// protocol. DUP2 never pops: the original operand(s) stay on the stack
// beneath the fresh copy/copies pushed on top. It still reads whatever it
// duplicates, so that read is recorded as an extra consumer of the
// original value(s) -- without this, a later instruction that happens to
// be the only *other* consumer of an operand would look single-consumer
// and make its producer (wrongly) eligible for pass (C) to delete out from
// under the still-live DUP2.
func (a *Analyzer) buildDup2(i *ir.Insn, stackClasses, stackWidths []int, push func(int, int), newClass func() int) {
	n := len(stackClasses)
	if n > 0 && stackWidths[n-1] == 2 {
		top := stackClasses[n-1]
		a.recordConsumer(top, Consumer{Insn: i, InputOffset: 0})
		a.recordConsumedClass(i, 0, top)

		nc := newClass()
		a.recordProducer(nc, Producer{Kind: ProducerNormal, Insn: i})
		a.classProducedBy[i] = nc
		a.pushCount[i] = 1
		push(nc, 2)
		return
	}
	if n >= 2 {
		deep, shallow := stackClasses[n-2], stackClasses[n-1]
		a.recordConsumer(deep, Consumer{Insn: i, InputOffset: 0})
		a.recordConsumedClass(i, 0, deep)
		a.recordConsumer(shallow, Consumer{Insn: i, InputOffset: 1})
		a.recordConsumedClass(i, 1, shallow)
	}

	nc1 := newClass()
	a.recordProducer(nc1, Producer{Kind: ProducerNormal, Insn: i})
	a.classProducedBy[i] = nc1
	push(nc1, 1)
	nc2 := newClass()
	a.recordProducer(nc2, Producer{Kind: ProducerNormal, Insn: i})
	a.pushCount[i] = 2
	push(nc2, 1)
}

func paramSlotCount(m *ir.Method) int {
	// The descriptor isn't parsed here (out of scope); callers that build
	// methods programmatically set ParametersSize directly, reserving the
	// parameter slots (including `this`) at the bottom of local-slot space,
	// which is how every real class-file encoding lays them out.
	return m.ParametersSize
}

func (a *Analyzer) effectOf(i *ir.Insn) (pops, pushes int) {
	switch i.Kind {
	case ir.KindMethodCall:
		return methodCallEffect(i)
	case ir.KindInvokeDynamic:
		return len(descriptorArgs(i.Desc)), 1
	case ir.KindField:
		return fieldEffect(i)
	case ir.KindType:
		switch i.Op {
		case ir.OpNew:
			return 0, 1
		case ir.OpANewArray:
			return 1, 1
		case ir.OpCheckCast, ir.OpInstanceOf:
			return 1, 1
		}
	case ir.KindMultiNewArray:
		return i.Dims, 1
	case ir.KindConst:
		return 0, 1
	case ir.KindJump:
		switch i.Op {
		case ir.OpGoto:
			return 0, 0
		default:
			return 1, 0
		}
	case ir.KindTableSwitch, ir.KindLookupSwitch:
		return 1, 0
	case ir.KindLabel:
		return 0, 0
	case ir.KindPlain:
		if e, ok := ir.PlainStackEffect(i.Op); ok {
			return e.Pops, e.Pushes
		}
		if ir.IsExoticDuplicator(i.Op) {
			return 2, 3 // never actually reached by the gated passes; kept only so Build doesn't panic on test fixtures.
		}
	}
	return 0, 0
}

func methodCallEffect(i *ir.Insn) (pops, pushes int) {
	argc := len(descriptorArgs(i.Desc))
	if i.Op != ir.OpInvokeStatic {
		argc++ // receiver
	}
	if descriptorReturnsVoid(i.Desc) {
		return argc, 0
	}
	return argc, 1
}

func fieldEffect(i *ir.Insn) (pops, pushes int) {
	switch i.Op {
	case ir.OpGetStatic:
		return 0, 1
	case ir.OpGetField:
		return 1, 1
	case ir.OpPutStatic:
		return 1, 0
	case ir.OpPutField:
		return 2, 0
	}
	return 0, 0
}

// descriptorArgs and descriptorReturnsVoid parse just enough of a JVM
// method descriptor to count arguments; full descriptor parsing is out of
// scope (the "parser that materializes the method" collaborator), but the
// analyzer needs argument counts to track stack effects, so this minimal
// slice lives here rather than duplicated in every pass.
func descriptorArgs(desc string) []byte {
	if len(desc) == 0 || desc[0] != '(' {
		return nil
	}
	var args []byte
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for desc[i] == '[' {
			i++
		}
		switch desc[i] {
		case 'L':
			for desc[i] != ';' {
				i++
			}
			i++
		default:
			i++
		}
		args = append(args, desc[start])
	}
	return args
}

func descriptorReturnsVoid(desc string) bool {
	idx := -1
	for k := 0; k < len(desc); k++ {
		if desc[k] == ')' {
			idx = k + 1
			break
		}
	}
	return idx >= 0 && idx < len(desc) && desc[idx] == 'V'
}

// FrameAt returns the frame just before i, and whether one was recorded
// (false if Build has not been called, or i is not part of the analyzed
// method).
func (a *Analyzer) FrameAt(i *ir.Insn) (*Frame, bool) {
	f, ok := a.frameBefore[i]
	return f, ok
}

// AliasesOf returns every local/stack index that holds an equal value to
// `slot` in the frame just before `at`, including slot itself. Negative
// indices are not used; local slots and stack positions share one
// namespace only within this return value, mirroring §4.1's contract loosely:
// callers that need local-slot aliases pass a local slot id and read back
// local slot ids only, since this analyzer keys aliasing by local slot
// (the analysis consumers, pass (A), only ever query local-slot aliases).
func (a *Analyzer) AliasesOf(at *ir.Insn, slot int) []int {
	f, ok := a.FrameAt(at)
	if !ok {
		return []int{slot}
	}
	class, ok := f.classAt(slot)
	if !ok {
		return []int{slot}
	}
	var result []int
	for s, c := range f.classOfLocalSlot {
		if c == class {
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		result = []int{slot}
	}
	return result
}

// ProducersForValueAt returns the producers of the value at the given
// stack depth (0 = deepest) in the frame just before `at`.
func (a *Analyzer) ProducersForValueAt(at *ir.Insn, stackDepth int) []Producer {
	f, ok := a.FrameAt(at)
	if !ok || stackDepth < 0 || stackDepth >= len(f.classOfStackSlot) {
		return nil
	}
	return a.producers[f.classOfStackSlot[stackDepth]]
}

// ProducersForLocalAt returns the producers of the value currently held by
// a local slot in the frame just before `at`.
func (a *Analyzer) ProducersForLocalAt(at *ir.Insn, slot int) []Producer {
	f, ok := a.FrameAt(at)
	if !ok {
		return nil
	}
	class, ok := f.classAt(slot)
	if !ok {
		return nil
	}
	return a.producers[class]
}

// ConsumersOfValueAt returns every recorded consumer of the value at the
// given stack depth in the frame just before `at`.
func (a *Analyzer) ConsumersOfValueAt(at *ir.Insn, stackDepth int) []Consumer {
	f, ok := a.FrameAt(at)
	if !ok || stackDepth < 0 || stackDepth >= len(f.classOfStackSlot) {
		return nil
	}
	return a.consumersOfClass[f.classOfStackSlot[stackDepth]]
}

// ConsumersOfLocalAt returns every recorded consumer of the value a local
// slot holds in the frame just before `at`.
func (a *Analyzer) ConsumersOfLocalAt(at *ir.Insn, slot int) []Consumer {
	f, ok := a.FrameAt(at)
	if !ok {
		return nil
	}
	class, ok := f.classAt(slot)
	if !ok {
		return nil
	}
	return a.consumersOfClass[class]
}

// ValueClassBeforeStore returns the class id of the value a store or
// increment instruction consumes/rewrites, i.e. the value "written". Loads
// of the slot after the store (and any further consumption of what those
// loads push, since a load does not mint a new class) share this same
// class id, which is what makes ConsumersOfClass a complete answer to "does
// the value this store writes have any consumer at all" (§4.3).
func (a *Analyzer) ValueClassBeforeStore(i *ir.Insn) (class int, ok bool) {
	f, ok := a.FrameAt(i)
	if !ok || f.StackDepth == 0 {
		return 0, false
	}
	return f.classOfStackSlot[f.StackDepth-1], true
}

// ConsumersOfClass returns every recorded consumer of a class id, as
// returned by ValueClassBeforeStore or a Producer's class.
func (a *Analyzer) ConsumersOfClass(class int) []Consumer { return a.consumersOfClass[class] }

// ProducersOfClass returns the producer set for a class id.
func (a *Analyzer) ProducersOfClass(class int) []Producer { return a.producers[class] }

// ClassProducedBy returns the class id produced by a specific normal
// producer instruction (a call, constant push, etc.), used by pass (B) to
// walk the ClassTag.apply -> newArray producer chain by instruction
// identity rather than by re-deriving frames.
func (a *Analyzer) ClassProducedBy(i *ir.Insn) (class int, ok bool) {
	class, ok = a.classProducedBy[i]
	return
}

// ClassConsumedAt returns the class id of the value instruction cons
// consumes at the given input offset (0 = deepest input), the inverse of
// Consumer.InputOffset. Used by pass (C)'s producersIfSingleConsumer to
// walk from a consumer back to one of its inputs.
func (a *Analyzer) ClassConsumedAt(cons *ir.Insn, inputOffset int) (class int, ok bool) {
	m, okm := a.consumedClass[cons]
	if !okm {
		return 0, false
	}
	class, ok = m[inputOffset]
	return
}

// PushCount returns how many values instruction i pushes, used to decide
// whether a producer "has a single output" (§4.4).
func (a *Analyzer) PushCount(i *ir.Insn) (int, bool) {
	n, ok := a.pushCount[i]
	return n, ok
}

// PushingInsn returns the last load instruction (in method order) that
// pushed a value of the given class onto the stack; classes never pushed by
// a load report false. For a parameter or uninitialized-local class this is
// the load that read it, distinct from the class's synthetic Producer. Pass (C) uses this to find
// the concrete load instruction to delete when such a value is unused.
func (a *Analyzer) PushingInsn(class int) (*ir.Insn, bool) {
	i, ok := a.pushInsn[class]
	return i, ok
}
