package ir

// This file is the "Instruction Utilities" component (§4.1 item 2): opcode
// classification, stack-effect tables, the pop generator, the side-effect
// oracles, and the intrinsic recognizers that passes (B) and (C) consult.

// IsLoad reports whether op reads a local slot onto the stack.
func IsLoad(op Opcode) bool {
	switch op {
	case OpILoad, OpLLoad, OpFLoad, OpDLoad, OpALoad:
		return true
	}
	return false
}

// IsStore reports whether op writes the stack top into a local slot.
func IsStore(op Opcode) bool {
	switch op {
	case OpIStore, OpLStore, OpFStore, OpDStore, OpAStore:
		return true
	}
	return false
}

// IsReferenceStore reports whether op is the reference-store opcode family
// (ASTORE), the one store kind §4.3 requires GC-liveness care for.
func IsReferenceStore(op Opcode) bool { return op == OpAStore }

// IsReferenceLoad reports whether op is the reference-load opcode family.
func IsReferenceLoad(op Opcode) bool { return op == OpALoad }

// IsReturn reports whether op transfers control back to the caller.
func IsReturn(op Opcode) bool {
	switch op {
	case OpReturn, OpIReturn, OpLReturn, OpFReturn, OpDReturn, OpAReturn:
		return true
	}
	return false
}

// IsExecutable reports whether i performs an operation, as opposed to being
// a label pseudo-instruction.
func IsExecutable(i *Insn) bool { return i.Kind != KindLabel }

// IsSize2LoadOrStore reports whether op operates on a long/double value.
func IsSize2LoadOrStore(op Opcode) bool {
	switch op {
	case OpLLoad, OpDLoad, OpLStore, OpDStore:
		return true
	}
	return false
}

// isTrailing reports whether i can appear in the trailing run §4.3 walks
// backward from a return through: anything that cannot branch, call, or
// switch.
func isTrailing(i *Insn) bool {
	switch i.Kind {
	case KindMethodCall, KindInvokeDynamic, KindJump, KindTableSwitch, KindLookupSwitch:
		return false
	}
	return true
}

// IsTrailing is the exported form of isTrailing, used by pass (B).
func IsTrailing(i *Insn) bool { return isTrailing(i) }

// GetPop returns the opcode of the pop instruction matching a value of the
// given width (1 or 2 stack words).
func GetPop(size int) Opcode {
	if size == 2 {
		return OpPop2
	}
	return OpPop
}

// NewPlain constructs a detached, argument-less plain instruction for the
// given opcode (POP, POP2, DUP, arithmetic, returns, ...).
func NewPlain(op Opcode) *Insn { return &Insn{Kind: KindPlain, Op: op} }

// StackEffect describes how many stack values an instruction consumes and
// produces (a long or double counts as one value; POP2 is listed in its
// two-size-1-value form). Passes only need this for instructions that aren't already
// broken out by Kind (constants, var-instructions, method calls have
// signature-derived effects computed by the caller who knows the
// descriptor); this table covers the argument-less plain opcodes.
type StackEffect struct {
	Pops, Pushes int
}

var plainStackEffects = map[Opcode]StackEffect{
	OpPop:  {1, 0},
	OpPop2: {2, 0},
	OpDup:  {1, 2},
	OpSwap: {2, 2},

	OpIAdd: {2, 1}, OpLAdd: {2, 1}, OpFAdd: {2, 1}, OpDAdd: {2, 1},
	OpISub: {2, 1}, OpLSub: {2, 1}, OpFSub: {2, 1}, OpDSub: {2, 1},
	OpIMul: {2, 1}, OpLMul: {2, 1}, OpFMul: {2, 1}, OpDMul: {2, 1},
	OpIDiv: {2, 1}, OpLDiv: {2, 1}, OpFDiv: {2, 1}, OpDDiv: {2, 1},
	OpIRem: {2, 1}, OpLRem: {2, 1}, OpFRem: {2, 1}, OpDRem: {2, 1},
	OpINeg: {1, 1}, OpLNeg: {1, 1}, OpFNeg: {1, 1}, OpDNeg: {1, 1},

	OpI2L: {1, 1}, OpI2F: {1, 1}, OpI2D: {1, 1},
	OpL2I: {1, 1}, OpL2F: {1, 1}, OpL2D: {1, 1},
	OpF2I: {1, 1}, OpF2L: {1, 1}, OpF2D: {1, 1},
	OpD2I: {1, 1}, OpD2L: {1, 1}, OpD2F: {1, 1},
	OpI2B: {1, 1}, OpI2C: {1, 1}, OpI2S: {1, 1},

	OpLCmp: {2, 1}, OpFCmpL: {2, 1}, OpFCmpG: {2, 1}, OpDCmpL: {2, 1}, OpDCmpG: {2, 1},

	OpReturn: {0, 0}, OpIReturn: {1, 0}, OpLReturn: {1, 0}, OpFReturn: {1, 0}, OpDReturn: {1, 0}, OpAReturn: {1, 0},
	OpAThrow: {1, 0},
}

// PlainStackEffect returns the stack effect of a plain (no-immediate)
// opcode and whether it is known.
func PlainStackEffect(op Opcode) (StackEffect, bool) {
	e, ok := plainStackEffects[op]
	return e, ok
}

// isDivOrRem identifies the one class of "pure" arithmetic that still must
// not be removed: it can throw ArithmeticException/ZeroDivisionError on a
// zero divisor, which is observable (§4.4 table, IDIV/LDIV/IREM/LREM row).
func isDivOrRem(op Opcode) bool {
	switch op {
	case OpIDiv, OpLDiv, OpIRem, OpLRem:
		return true
	}
	return false
}

// IsDivOrRem is the exported form of isDivOrRem.
func IsDivOrRem(op Opcode) bool { return isDivOrRem(op) }

// IsPureArithmetic reports whether op is an arithmetic, comparison,
// conversion, or negation opcode with no observable side effect other than
// its result (and, for div/rem, the exception on a zero divisor -- callers
// must check IsDivOrRem separately, per §4.4).
func IsPureArithmetic(op Opcode) bool {
	_, known := plainStackEffects[op]
	if !known {
		return false
	}
	switch op {
	case OpPop, OpPop2, OpDup, OpSwap, OpReturn, OpIReturn, OpLReturn, OpFReturn, OpDReturn, OpAReturn, OpAThrow:
		return false
	}
	return true
}

// ArithmeticArity returns how many stack inputs a pure arithmetic opcode
// consumes: 2 for binary operators, 1 for unary (negation, conversion,
// comparisons are binary and already covered by the 2 case).
func ArithmeticArity(op Opcode) int {
	switch op {
	case OpINeg, OpLNeg, OpFNeg, OpDNeg,
		OpI2L, OpI2F, OpI2D, OpL2I, OpL2F, OpL2D, OpF2I, OpF2L, OpF2D, OpD2I, OpD2L, OpD2F,
		OpI2B, OpI2C, OpI2S:
		return 1
	default:
		return 2
	}
}

// IsExoticDuplicator reports whether op is one of the "exotic" stack
// duplication opcodes spec.md excludes from this optimizer (DUP_X1, DUP_X2,
// DUP2_X1, DUP2_X2, SWAP produce non-equal aliasing relationships this
// optimizer does not model). Note DUP/DUP2 are NOT exotic.
func IsExoticDuplicator(op Opcode) bool {
	switch op {
	case OpDupX1, OpDupX2, OpDup2X1, OpDup2X2, OpSwap:
		return true
	}
	return false
}

// IsConstantPush reports whether i is a constant-push instruction.
func IsConstantPush(i *Insn) bool { return i.Kind == KindConst }

// IsNumericOrStringConstant reports whether i pushes a numeric or string
// constant, as opposed to a class/MethodType/MethodHandle constant whose
// removal may skip class loading / resolution (§4.4 LDC row, §9 Open
// Question).
func IsNumericOrStringConstant(i *Insn) bool {
	if i.Kind != KindConst {
		return false
	}
	switch i.ConstKind {
	case ConstInt, ConstLong, ConstFloat, ConstDouble, ConstString, ConstNull:
		return true
	default:
		return false
	}
}

// SideEffectOracle answers the "does this call/constructor have a visible
// side effect" questions §6 attributes to an external oracle. The core
// never hard-codes this; it consults whatever oracle the driver supplies.
// DefaultOracle below is a small, explicit seed list -- real deployments
// would plug in a whole-program-informed oracle instead.
type SideEffectOracle interface {
	IsSideEffectFreeCall(owner, name, desc string) bool
	IsSideEffectFreeConstructor(owner, desc string) bool
	IsSideEffectFreeConstructorNew(owner string) bool
}

// staticOracle is a seed SideEffectOracle covering the handful of
// well-known pure calls/constructors used in the test scenarios and in any
// small demonstration program; it is intentionally not exhaustive.
type staticOracle struct {
	calls        map[callKey]bool
	constructors map[string]bool
}

type callKey struct{ owner, name, desc string }

// DefaultOracle returns a small built-in SideEffectOracle.
func DefaultOracle() SideEffectOracle {
	return &staticOracle{
		calls: map[callKey]bool{
			{"java/lang/Integer", "valueOf", "(I)Ljava/lang/Integer;"}:   true,
			{"java/lang/Long", "valueOf", "(J)Ljava/lang/Long;"}:         true,
			{"java/lang/String", "length", "()I"}:                       true,
			{"scala/runtime/BoxesRunTime", "boxToInteger", "(I)Ljava/lang/Integer;"}: true,
		},
		constructors: map[string]bool{
			"java/lang/Object":      true,
			"java/lang/StringBuilder": true,
			"scala/Tuple2":          true,
		},
	}
}

func (o *staticOracle) IsSideEffectFreeCall(owner, name, desc string) bool {
	return o.calls[callKey{owner, name, desc}]
}

func (o *staticOracle) IsSideEffectFreeConstructor(owner, desc string) bool {
	return o.constructors[owner]
}

func (o *staticOracle) IsSideEffectFreeConstructorNew(owner string) bool {
	return o.constructors[owner]
}

// IsScalaUnbox reports whether a call matches the scala-style unboxing
// pattern: a call that, when its result is unused, still must preserve a
// ClassCastException for the wrong boxed type. Recognized by name against
// the scala.runtime.BoxesRunTime unboxToXxx family.
func IsScalaUnbox(owner, name string) bool {
	return owner == "scala/runtime/BoxesRunTime" && len(name) > 7 && name[:7] == "unboxTo"
}

// IsJavaUnbox reports whether a call matches the Java-style unboxing
// pattern (e.g. java.lang.Integer.intValue()), which when discarded must
// preserve the NullPointerException the unbox would have thrown.
func IsJavaUnbox(owner, name, desc string) bool {
	switch owner {
	case "java/lang/Integer", "java/lang/Long", "java/lang/Float", "java/lang/Double",
		"java/lang/Boolean", "java/lang/Byte", "java/lang/Short", "java/lang/Character":
		switch name {
		case "intValue", "longValue", "floatValue", "doubleValue", "booleanValue",
			"byteValue", "shortValue", "charValue":
			return true
		}
	}
	return false
}

// IsBoxedUnit reports whether i is a field access to the boxed-unit
// singleton (scala.runtime.BoxedUnit.UNIT), which pass (C) may remove
// outright because reading it is side-effect-free even for a GETSTATIC.
func IsBoxedUnit(i *Insn) bool {
	return i.Kind == KindField && i.Op == OpGetStatic && i.Owner == "scala/runtime/BoxedUnit" && i.Name == "UNIT"
}

// IsModuleLoad reports whether i is a GETSTATIC reading a module/singleton
// holder's MODULE$ field, eligible for removal only per the
// modulesAllowSkipInitialization configuration flag (since it may trigger
// class/module initialization, an observable side effect).
func IsModuleLoad(i *Insn) bool {
	return i.Kind == KindField && i.Op == OpGetStatic && i.Name == "MODULE$"
}

// ClassTagNewArrayArg, if i is a call matching "invoke newArray on a
// class-tag wrapping a literal class", returns the literal class name and
// true. This is the intrinsic pattern §4.3 rewrites to a direct ANEWARRAY.
func ClassTagNewArrayArg(i *Insn, receiverLdc *Insn) (className string, ok bool) {
	if i.Kind != KindMethodCall || i.Name != "newArray" || i.Owner != "scala/reflect/ClassTag" {
		return "", false
	}
	if receiverLdc == nil || receiverLdc.Kind != KindConst || receiverLdc.ConstKind != ConstClass {
		return "", false
	}
	return receiverLdc.StrValue, true
}

// IsRuntimeArrayLoadOrUpdate reports whether i is a call into the
// generic runtime array-apply/update helpers whose large type dispatch
// collapses once ClassTagNewArrayArg has made the element type static
// (§4.3 "Inliner handoff").
func IsRuntimeArrayLoadOrUpdate(i *Insn) bool {
	if i.Kind != KindMethodCall || i.Owner != "scala/runtime/ScalaRunTime$" {
		return false
	}
	return i.Name == "array_apply" || i.Name == "array_update" || i.Name == "array_length"
}

// LambdaMetaFactoryCall reports whether i is an invokedynamic call site
// bootstrapped through java.lang.invoke.LambdaMetafactory, i.e. a closure
// instantiation (§4.3 glossary; §4.4 INVOKEDYNAMIC row).
func LambdaMetaFactoryCall(i *Insn) bool {
	return i.Kind == KindInvokeDynamic && i.Owner == "java/lang/invoke/LambdaMetafactory"
}
