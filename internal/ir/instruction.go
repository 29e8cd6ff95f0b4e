// Package ir defines the instruction list, local-slot/stack data model, and
// opcode classification tables the optimizer passes operate over. It has no
// knowledge of any concrete bytecode encoding; it models the family of
// stack-based VMs spec.md describes: typed local slots, a value stack, and
// wide-vs-narrow opcodes for 32-bit vs 64-bit values.
package ir

// Opcode identifies the operation an Insn performs. The constants below
// mirror JVM mnemonics because that is the bytecode family this optimizer
// targets, but nothing here depends on an actual class file reader.
type Opcode int

const (
	OpNop Opcode = iota

	// var-instructions (load/store of a local slot).
	OpILoad
	OpLLoad
	OpFLoad
	OpDLoad
	OpALoad
	OpIStore
	OpLStore
	OpFStore
	OpDStore
	OpAStore

	// increment-instruction.
	OpIInc

	// stack shuffles.
	OpPop
	OpPop2
	OpDup
	OpDupX1
	OpDupX2
	OpDup2
	OpDup2X1
	OpDup2X2
	OpSwap

	// constant-push.
	OpAConstNull
	OpIConst
	OpLConst
	OpFConst
	OpDConst
	OpBIPush
	OpSIPush
	OpLdc // numeric, string, class, MethodType, or MethodHandle constant

	// type-instructions.
	OpNew
	OpANewArray
	OpCheckCast
	OpInstanceOf

	// multi-new-array.
	OpMultiANewArray

	// method-call / invokedynamic.
	OpInvokeStatic
	OpInvokeVirtual
	OpInvokeSpecial
	OpInvokeInterface
	OpInvokeDynamic

	// field access.
	OpGetField
	OpGetStatic
	OpPutField
	OpPutStatic

	// arithmetic / comparison / conversion (plain insns, no immediates).
	OpIAdd
	OpLAdd
	OpFAdd
	OpDAdd
	OpISub
	OpLSub
	OpFSub
	OpDSub
	OpIMul
	OpLMul
	OpFMul
	OpDMul
	OpIDiv
	OpLDiv
	OpFDiv
	OpDDiv
	OpIRem
	OpLRem
	OpFRem
	OpDRem
	OpINeg
	OpLNeg
	OpFNeg
	OpDNeg
	OpI2L
	OpI2F
	OpI2D
	OpL2I
	OpL2F
	OpL2D
	OpF2I
	OpF2L
	OpF2D
	OpD2I
	OpD2L
	OpD2F
	OpI2B
	OpI2C
	OpI2S
	OpLCmp
	OpFCmpL
	OpFCmpG
	OpDCmpL
	OpDCmpG

	// jump / switch.
	OpGoto
	OpIfEq
	OpIfNe
	OpIfNull
	OpIfNonNull
	OpTableSwitch
	OpLookupSwitch

	// returns.
	OpReturn
	OpIReturn
	OpLReturn
	OpFReturn
	OpDReturn
	OpAReturn

	OpAThrow

	// pseudo-instruction: a jump target. Carries no opcode semantics.
	OpLabel
)

// Kind groups opcodes by the shape of their operands, matching the tagged
// variant the data model requires (§3). No subtype dispatch: callers switch
// on Kind and read the fields that kind defines.
type Kind int

const (
	KindVar Kind = iota
	KindIncrement
	KindMethodCall
	KindInvokeDynamic
	KindField
	KindType
	KindJump
	KindTableSwitch
	KindLookupSwitch
	KindLabel
	KindConst
	KindMultiNewArray
	KindPlain
)

// Insn is one instruction in a Method's doubly-linked list. Instructions are
// identified by pointer identity, never by position: passes key their
// work-sets on *Insn, and positions drift under edits (§9 "Instruction
// identity").
type Insn struct {
	Kind Kind
	Op   Opcode

	prev, next *Insn
	owner      *Method

	// KindVar / KindIncrement
	Slot  int
	Delta int // KindIncrement only

	// KindMethodCall / KindInvokeDynamic / KindField
	Owner        string
	Name         string
	Desc         string
	InterfaceCall bool // true for an interface method call

	// KindType / KindMultiNewArray
	TypeName string
	Dims     int // KindMultiNewArray

	// KindField: true when the field's type is long/double (a size-2 value).
	FieldIsSize2 bool

	// KindJump
	Target *Insn // must be a KindLabel Insn

	// KindTableSwitch / KindLookupSwitch
	Default *Insn
	Labels  []*Insn
	Keys    []int32 // KindLookupSwitch only; parallel to Labels
	Low     int32   // KindTableSwitch only
	High    int32   // KindTableSwitch only

	// KindConst
	ConstKind ConstKind
	IntValue  int32
	LongValue int64
	F32Value  float32
	F64Value  float64
	StrValue  string
}

// ConstKind discriminates the payload of a KindConst instruction.
type ConstKind int

const (
	ConstNull ConstKind = iota
	ConstInt
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass       // a class literal, e.g. classOf[X]
	ConstMethodType
	ConstMethodHandle
)

// Next returns the next instruction in the method, or nil at the end.
func (i *Insn) Next() *Insn { return i.next }

// Prev returns the previous instruction in the method, or nil at the start.
func (i *Insn) Prev() *Insn { return i.prev }

// Size2 reports whether this var-instruction or constant-push produces or
// consumes a size-2 (long/double) value.
func (i *Insn) Size2() bool {
	switch i.Op {
	case OpLLoad, OpDLoad, OpLStore, OpDStore, OpLConst, OpDConst:
		return true
	case OpLdc:
		return i.ConstKind == ConstLong || i.ConstKind == ConstDouble
	default:
		return false
	}
}

// TryCatchBlock is an exception-handler region, needed only by the
// analyzer (§3): the optimizer passes themselves never inspect it directly,
// but handler entries seed ExceptionProducer values the analyzer must
// account for.
type TryCatchBlock struct {
	Start, End, Handler *Insn
	CatchType           string // empty for a catch-all
}

// Method is an ordered, doubly-linked sequence of instructions with stable
// identity, plus the metadata the analyzer and passes need (§3).
type Method struct {
	OwnerInternalName string
	Name              string
	Desc              string
	IsStatic          bool

	MaxLocals int
	MaxStack  int
	// ParametersSize is the number of local slots occupied by the
	// parameters (including the implicit `this` for a non-static method),
	// matching the parametersSize(method) collaborator of §6.
	ParametersSize int

	TryCatchBlocks []TryCatchBlock

	head, tail *Insn
	size       int
}

// NewMethod creates an empty method owned by ownerInternalName.
func NewMethod(ownerInternalName, name, desc string, isStatic bool, maxLocals, maxStack, parametersSize int) *Method {
	return &Method{
		OwnerInternalName: ownerInternalName,
		Name:              name,
		Desc:              desc,
		IsStatic:          isStatic,
		MaxLocals:         maxLocals,
		MaxStack:          maxStack,
		ParametersSize:    parametersSize,
	}
}

// First returns the first instruction, or nil if the method is empty.
func (m *Method) First() *Insn { return m.head }

// Last returns the last instruction, or nil if the method is empty.
func (m *Method) Last() *Insn { return m.tail }

// Size returns the number of instructions currently in the method.
func (m *Method) Size() int { return m.size }

// Append adds n to the end of the instruction list.
func (m *Method) Append(n *Insn) {
	n.owner = m
	n.prev = m.tail
	n.next = nil
	if m.tail != nil {
		m.tail.next = n
	} else {
		m.head = n
	}
	m.tail = n
	m.size++
}

// InsertBefore splices n immediately before mark. mark must belong to m.
func (m *Method) InsertBefore(mark, n *Insn) {
	n.owner = m
	n.next = mark
	n.prev = mark.prev
	if mark.prev != nil {
		mark.prev.next = n
	} else {
		m.head = n
	}
	mark.prev = n
	m.size++
}

// InsertAfter splices n immediately after mark. mark must belong to m.
func (m *Method) InsertAfter(mark, n *Insn) {
	n.owner = m
	n.prev = mark
	n.next = mark.next
	if mark.next != nil {
		mark.next.prev = n
	} else {
		m.tail = n
	}
	mark.next = n
	m.size++
}

// Remove unlinks n from the method. n must belong to m.
func (m *Method) Remove(n *Insn) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
	n.prev, n.next, n.owner = nil, nil, nil
	m.size--
}

// Each calls fn for every instruction in order, stopping early if fn
// returns false. Edits must not be made during iteration (§9 "Iterator
// invalidation") -- gather work in a map/set keyed by *Insn and apply it
// after Each returns.
func (m *Method) Each(fn func(*Insn) bool) {
	for n := m.head; n != nil; {
		next := n.next // n may be removed by a caller that defers work; still safe to read.
		if !fn(n) {
			return
		}
		n = next
	}
}

// NewLabel creates a detached label pseudo-instruction, matching the
// nextExecutableInstructionOrLabel/newLabelNode collaborator of §6.
func NewLabel() *Insn { return &Insn{Kind: KindLabel, Op: OpLabel} }

// NextExecutableOrLabel returns the next instruction after i that is
// either executable or a label, skipping nothing else (there is nothing
// else to skip in this model -- every Insn is either executable or a
// label), so this is just Next. Kept as a named helper mirroring the
// collaborator named in §6.
func NextExecutableOrLabel(i *Insn) *Insn { return i.Next() }
