// Package textfmt is the minimal textual assembly format this module uses
// to materialize and print Method objects: the "parser that materializes
// the method" spec.md §1 names as an external collaborator, out of scope
// for the HARD CORE but needed for `cmd/bco` and the test suite to have any
// way to get instructions into and out of the in-memory IR. Grounded on
// wazero's own text tooling (internal/wasm/text, internal/watzero), which
// exists for exactly the same reason: a human-writable surface over a
// binary-shaped IR, nothing more.
package textfmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/ir"
)

// Format renders m using the same one-mnemonic-per-line shape Parse reads
// back, so Format/Parse round-trip. TABLESWITCH and LOOKUPSWITCH have no
// textual form in this format and do not round-trip. It resembles
// internal/diag.Textify's rendering; the two packages are kept separate
// because diag's job is "before/after diagnostic text" while this one's is
// "the canonical, re-parseable surface a fixture file is written in" -- they
// already differ (the header line, INVOKEDYNAMIC, MULTIANEWARRAY and some
// constant literals), and diag can change further without breaking fixtures.
func Format(m *ir.Method) string {
	var b strings.Builder
	static := "virtual"
	if m.IsStatic {
		static = "static"
	}
	fmt.Fprintf(&b, ".method %s %s %s %s %d %d %d\n",
		m.OwnerInternalName, m.Name, m.Desc, static, m.ParametersSize, m.MaxLocals, m.MaxStack)

	labelNum := map[*ir.Insn]int{}
	n := 0
	m.Each(func(i *ir.Insn) bool {
		if i.Kind == ir.KindLabel {
			labelNum[i] = n
			n++
		}
		return true
	})

	m.Each(func(i *ir.Insn) bool {
		b.WriteString(formatInsn(i, labelNum))
		b.WriteByte('\n')
		return true
	})
	b.WriteString(".end\n")
	return b.String()
}

func formatInsn(i *ir.Insn, labelNum map[*ir.Insn]int) string {
	name := mnemonics[i.Op]
	switch i.Kind {
	case ir.KindLabel:
		return fmt.Sprintf("L%d:", labelNum[i])
	case ir.KindVar:
		return fmt.Sprintf("  %s %d", name, i.Slot)
	case ir.KindIncrement:
		return fmt.Sprintf("  IINC %d %d", i.Slot, i.Delta)
	case ir.KindMethodCall:
		return fmt.Sprintf("  %s %s.%s%s", name, i.Owner, i.Name, i.Desc)
	case ir.KindInvokeDynamic:
		return fmt.Sprintf("  INVOKEDYNAMIC %s %s %s", i.Name, i.Desc, i.Owner)
	case ir.KindField:
		return fmt.Sprintf("  %s %s.%s:%s", name, i.Owner, i.Name, i.Desc)
	case ir.KindType:
		return fmt.Sprintf("  %s %s", name, i.TypeName)
	case ir.KindMultiNewArray:
		return fmt.Sprintf("  MULTIANEWARRAY %s %d", i.TypeName, i.Dims)
	case ir.KindJump:
		return fmt.Sprintf("  %s L%d", name, labelNum[i.Target])
	case ir.KindConst:
		return fmt.Sprintf("  %s %s", name, formatConst(i))
	default:
		return fmt.Sprintf("  %s", name)
	}
}

func formatConst(i *ir.Insn) string {
	switch i.ConstKind {
	case ir.ConstNull:
		return ""
	case ir.ConstInt:
		return strconv.FormatInt(int64(i.IntValue), 10)
	case ir.ConstLong:
		return strconv.FormatInt(i.LongValue, 10)
	case ir.ConstFloat:
		return strconv.FormatFloat(float64(i.F32Value), 'g', -1, 32)
	case ir.ConstDouble:
		return strconv.FormatFloat(i.F64Value, 'g', -1, 64)
	case ir.ConstString:
		return strconv.Quote(i.StrValue)
	case ir.ConstClass, ir.ConstMethodType, ir.ConstMethodHandle:
		return i.StrValue
	}
	return ""
}

// Parse reads the format Format produces, registering any INVOKE*/
// INVOKEDYNAMIC instruction it encounters as a callsite of the returned
// method against reg (reg may be nil, in which case call sites simply go
// unregistered -- the caller loses pass (B)'s inliner handoff, nothing
// more).
func Parse(src string, reg *callgraph.Registry) (*ir.Method, error) {
	lines := strings.Split(src, "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("textfmt: empty input")
	}
	header := strings.Fields(lines[0])
	if len(header) != 8 || header[0] != ".method" {
		return nil, fmt.Errorf("textfmt: malformed header %q", lines[0])
	}
	owner, name, desc, staticTok := header[1], header[2], header[3], header[4]
	paramsSize, err := strconv.Atoi(header[5])
	if err != nil {
		return nil, fmt.Errorf("textfmt: bad paramsSize: %w", err)
	}
	maxLocals, err := strconv.Atoi(header[6])
	if err != nil {
		return nil, fmt.Errorf("textfmt: bad maxLocals: %w", err)
	}
	isStatic := staticTok == "static"

	m := ir.NewMethod(owner, name, desc, isStatic, maxLocals, 0, paramsSize)

	labels := map[int]*ir.Insn{}
	labelOf := func(n int) *ir.Insn {
		if l, ok := labels[n]; ok {
			return l
		}
		l := ir.NewLabel()
		labels[n] = l
		return l
	}

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if line == "" || line == ".end" {
			continue
		}
		if strings.HasSuffix(line, ":") && strings.HasPrefix(line, "L") {
			n, err := strconv.Atoi(line[1 : len(line)-1])
			if err != nil {
				return nil, fmt.Errorf("textfmt: bad label %q: %w", line, err)
			}
			l := labelOf(n)
			m.Append(l)
			continue
		}
		insn, err := parseInsn(line, labelOf)
		if err != nil {
			return nil, err
		}
		m.Append(insn)
		if reg != nil && (insn.Kind == ir.KindMethodCall || insn.Kind == ir.KindInvokeDynamic) {
			reg.AddCallsite(m, insn)
		}
	}

	m.MaxStack = computeMaxStack(m)
	return m, nil
}

func parseInsn(line string, labelOf func(int) *ir.Insn) (*ir.Insn, error) {
	fields := strings.Fields(line)
	mnemonic := fields[0]
	args := fields[1:]
	op, ok := opcodeByName[mnemonic]
	if !ok {
		return nil, fmt.Errorf("textfmt: unknown mnemonic %q", mnemonic)
	}

	switch {
	case ir.IsLoad(op) || ir.IsStore(op):
		slot, err := atoiArg(mnemonic, args, 0)
		if err != nil {
			return nil, err
		}
		return &ir.Insn{Kind: ir.KindVar, Op: op, Slot: slot}, nil
	case op == ir.OpIInc:
		slot, err := atoiArg(mnemonic, args, 0)
		if err != nil {
			return nil, err
		}
		delta, err := atoiArg(mnemonic, args, 1)
		if err != nil {
			return nil, err
		}
		return &ir.Insn{Kind: ir.KindIncrement, Op: op, Slot: slot, Delta: delta}, nil
	case isInvokeOp(op):
		owner, name, desc, err := splitMember(mnemonic, args)
		if err != nil {
			return nil, err
		}
		return &ir.Insn{Kind: ir.KindMethodCall, Op: op, Owner: owner, Name: name, Desc: desc,
			InterfaceCall: op == ir.OpInvokeInterface}, nil
	case op == ir.OpInvokeDynamic:
		if len(args) != 3 {
			return nil, fmt.Errorf("textfmt: %s wants 3 args", mnemonic)
		}
		return &ir.Insn{Kind: ir.KindInvokeDynamic, Op: op, Name: args[0], Desc: args[1], Owner: args[2]}, nil
	case isFieldOp(op):
		owner, name, desc, err := splitFieldMember(mnemonic, args)
		if err != nil {
			return nil, err
		}
		return &ir.Insn{Kind: ir.KindField, Op: op, Owner: owner, Name: name, Desc: desc}, nil
	case op == ir.OpNew || op == ir.OpANewArray || op == ir.OpCheckCast || op == ir.OpInstanceOf:
		if len(args) != 1 {
			return nil, fmt.Errorf("textfmt: %s wants a type name", mnemonic)
		}
		return &ir.Insn{Kind: ir.KindType, Op: op, TypeName: args[0]}, nil
	case op == ir.OpMultiANewArray:
		if len(args) != 2 {
			return nil, fmt.Errorf("textfmt: MULTIANEWARRAY wants type and dims")
		}
		dims, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad MULTIANEWARRAY dims: %w", err)
		}
		return &ir.Insn{Kind: ir.KindMultiNewArray, Op: op, TypeName: args[0], Dims: dims}, nil
	case isJumpOp(op):
		if len(args) != 1 {
			return nil, fmt.Errorf("textfmt: %s wants a label", mnemonic)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(args[0], "L"))
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad jump target %q: %w", args[0], err)
		}
		return &ir.Insn{Kind: ir.KindJump, Op: op, Target: labelOf(n)}, nil
	case op == ir.OpLdc || op == ir.OpAConstNull || op == ir.OpIConst || op == ir.OpLConst ||
		op == ir.OpFConst || op == ir.OpDConst || op == ir.OpBIPush || op == ir.OpSIPush:
		return parseConst(op, args)
	default:
		return ir.NewPlain(op), nil
	}
}

func atoiArg(mnemonic string, args []string, idx int) (int, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("textfmt: %s missing argument %d", mnemonic, idx)
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil {
		return 0, fmt.Errorf("textfmt: %s bad argument %q: %w", mnemonic, args[idx], err)
	}
	return n, nil
}

func splitMember(mnemonic string, args []string) (owner, name, desc string, err error) {
	if len(args) != 1 {
		return "", "", "", fmt.Errorf("textfmt: %s wants owner.name(desc)", mnemonic)
	}
	dot := strings.LastIndex(args[0], ".")
	paren := strings.Index(args[0], "(")
	if dot < 0 || paren < dot {
		return "", "", "", fmt.Errorf("textfmt: malformed member %q", args[0])
	}
	return args[0][:dot], args[0][dot+1 : paren], args[0][paren:], nil
}

func splitFieldMember(mnemonic string, args []string) (owner, name, desc string, err error) {
	if len(args) != 1 {
		return "", "", "", fmt.Errorf("textfmt: %s wants owner.name:desc", mnemonic)
	}
	dot := strings.LastIndex(args[0], ".")
	colon := strings.Index(args[0], ":")
	if dot < 0 || colon < dot {
		return "", "", "", fmt.Errorf("textfmt: malformed field %q", args[0])
	}
	return args[0][:dot], args[0][dot+1 : colon], args[0][colon+1:], nil
}

func parseConst(op ir.Opcode, args []string) (*ir.Insn, error) {
	i := &ir.Insn{Kind: ir.KindConst, Op: op}
	if op == ir.OpAConstNull {
		i.ConstKind = ir.ConstNull
		return i, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("textfmt: constant push missing value")
	}
	text := strings.Join(args, " ")
	switch op {
	case ir.OpIConst, ir.OpBIPush, ir.OpSIPush:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad int constant %q: %w", text, err)
		}
		i.ConstKind, i.IntValue = ir.ConstInt, int32(n)
	case ir.OpLConst:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad long constant %q: %w", text, err)
		}
		i.ConstKind, i.LongValue = ir.ConstLong, n
	case ir.OpFConst:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad float constant %q: %w", text, err)
		}
		i.ConstKind, i.F32Value = ir.ConstFloat, float32(f)
	case ir.OpDConst:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("textfmt: bad double constant %q: %w", text, err)
		}
		i.ConstKind, i.F64Value = ir.ConstDouble, f
	case ir.OpLdc:
		if unq, err := strconv.Unquote(text); err == nil {
			i.ConstKind, i.StrValue = ir.ConstString, unq
			return i, nil
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			i.ConstKind, i.LongValue, i.IntValue = ir.ConstLong, n, int32(n)
			return i, nil
		}
		// Anything else is a class/MethodType/MethodHandle literal: kept as
		// an opaque name, which is all ClassTagNewArrayArg needs (§4.3).
		i.ConstKind, i.StrValue = ir.ConstClass, text
	}
	return i, nil
}

func isInvokeOp(op ir.Opcode) bool {
	switch op {
	case ir.OpInvokeStatic, ir.OpInvokeVirtual, ir.OpInvokeSpecial, ir.OpInvokeInterface:
		return true
	}
	return false
}

func isFieldOp(op ir.Opcode) bool {
	switch op {
	case ir.OpGetField, ir.OpGetStatic, ir.OpPutField, ir.OpPutStatic:
		return true
	}
	return false
}

func isJumpOp(op ir.Opcode) bool {
	switch op {
	case ir.OpGoto, ir.OpIfEq, ir.OpIfNe, ir.OpIfNull, ir.OpIfNonNull:
		return true
	}
	return false
}

// computeMaxStack derives a safe (if not always tight) MaxStack for a
// parsed method by a linear straight-line walk mirroring the analyzer's own
// push/pop accounting; branches are not merged, so this over-approximates
// by taking the running high-water mark along the single textual order,
// which is exact for the straight-line fixtures this format is meant to
// carry and conservative otherwise.
func computeMaxStack(m *ir.Method) int {
	depth, max := 0, 0
	m.Each(func(i *ir.Insn) bool {
		pops, pushes := stackDelta(i)
		depth -= pops
		if depth < 0 {
			depth = 0
		}
		depth += pushes
		if depth > max {
			max = depth
		}
		return true
	})
	if max == 0 {
		max = 1
	}
	return max
}

func stackDelta(i *ir.Insn) (pops, pushes int) {
	switch i.Kind {
	case ir.KindVar:
		if ir.IsLoad(i.Op) {
			return 0, 1
		}
		return 1, 0
	case ir.KindIncrement, ir.KindLabel:
		return 0, 0
	case ir.KindConst:
		return 0, 1
	case ir.KindType:
		if i.Op == ir.OpNew {
			return 0, 1
		}
		return 1, 1
	case ir.KindMultiNewArray:
		return i.Dims, 1
	case ir.KindField:
		switch i.Op {
		case ir.OpGetStatic:
			return 0, 1
		case ir.OpGetField:
			return 1, 1
		case ir.OpPutStatic:
			return 1, 0
		default:
			return 2, 0
		}
	case ir.KindMethodCall:
		return methodCallDelta(i)
	case ir.KindInvokeDynamic:
		return 0, 1
	case ir.KindJump:
		if i.Op == ir.OpGoto {
			return 0, 0
		}
		return 1, 0
	default:
		if e, ok := ir.PlainStackEffect(i.Op); ok {
			return e.Pops, e.Pushes
		}
		return 0, 0
	}
}

func methodCallDelta(i *ir.Insn) (pops, pushes int) {
	argc := 0
	desc := i.Desc
	k := 1
	for k < len(desc) && desc[k] != ')' {
		for desc[k] == '[' {
			k++
		}
		if desc[k] == 'L' {
			for desc[k] != ';' {
				k++
			}
		}
		k++
		argc++
	}
	if i.Op != ir.OpInvokeStatic {
		argc++
	}
	push := 0
	if k+1 < len(desc) && desc[k+1] != 'V' {
		push = 1
	}
	return argc, push
}

var mnemonics = map[ir.Opcode]string{
	ir.OpILoad: "ILOAD", ir.OpLLoad: "LLOAD", ir.OpFLoad: "FLOAD", ir.OpDLoad: "DLOAD", ir.OpALoad: "ALOAD",
	ir.OpIStore: "ISTORE", ir.OpLStore: "LSTORE", ir.OpFStore: "FSTORE", ir.OpDStore: "DSTORE", ir.OpAStore: "ASTORE",
	ir.OpIInc: "IINC",
	ir.OpPop: "POP", ir.OpPop2: "POP2", ir.OpDup: "DUP", ir.OpDup2: "DUP2",
	ir.OpDupX1: "DUP_X1", ir.OpDupX2: "DUP_X2", ir.OpDup2X1: "DUP2_X1", ir.OpDup2X2: "DUP2_X2", ir.OpSwap: "SWAP",
	ir.OpAConstNull: "ACONST_NULL", ir.OpIConst: "ICONST", ir.OpLConst: "LCONST",
	ir.OpFConst: "FCONST", ir.OpDConst: "DCONST", ir.OpBIPush: "BIPUSH", ir.OpSIPush: "SIPUSH", ir.OpLdc: "LDC",
	ir.OpNew: "NEW", ir.OpANewArray: "ANEWARRAY", ir.OpCheckCast: "CHECKCAST", ir.OpInstanceOf: "INSTANCEOF",
	ir.OpMultiANewArray: "MULTIANEWARRAY",
	ir.OpInvokeStatic: "INVOKESTATIC", ir.OpInvokeVirtual: "INVOKEVIRTUAL", ir.OpInvokeSpecial: "INVOKESPECIAL",
	ir.OpInvokeInterface: "INVOKEINTERFACE", ir.OpInvokeDynamic: "INVOKEDYNAMIC",
	ir.OpGetField: "GETFIELD", ir.OpGetStatic: "GETSTATIC", ir.OpPutField: "PUTFIELD", ir.OpPutStatic: "PUTSTATIC",
	ir.OpIAdd: "IADD", ir.OpLAdd: "LADD", ir.OpFAdd: "FADD", ir.OpDAdd: "DADD",
	ir.OpISub: "ISUB", ir.OpLSub: "LSUB", ir.OpFSub: "FSUB", ir.OpDSub: "DSUB",
	ir.OpIMul: "IMUL", ir.OpLMul: "LMUL", ir.OpFMul: "FMUL", ir.OpDMul: "DMUL",
	ir.OpIDiv: "IDIV", ir.OpLDiv: "LDIV", ir.OpFDiv: "FDIV", ir.OpDDiv: "DDIV",
	ir.OpIRem: "IREM", ir.OpLRem: "LREM", ir.OpFRem: "FREM", ir.OpDRem: "DREM",
	ir.OpINeg: "INEG", ir.OpLNeg: "LNEG", ir.OpFNeg: "FNEG", ir.OpDNeg: "DNEG",
	ir.OpI2L: "I2L", ir.OpI2F: "I2F", ir.OpI2D: "I2D", ir.OpL2I: "L2I", ir.OpL2F: "L2F", ir.OpL2D: "L2D",
	ir.OpF2I: "F2I", ir.OpF2L: "F2L", ir.OpF2D: "F2D", ir.OpD2I: "D2I", ir.OpD2L: "D2L", ir.OpD2F: "D2F",
	ir.OpI2B: "I2B", ir.OpI2C: "I2C", ir.OpI2S: "I2S",
	ir.OpLCmp: "LCMP", ir.OpFCmpL: "FCMPL", ir.OpFCmpG: "FCMPG", ir.OpDCmpL: "DCMPL", ir.OpDCmpG: "DCMPG",
	ir.OpGoto: "GOTO", ir.OpIfEq: "IFEQ", ir.OpIfNe: "IFNE", ir.OpIfNull: "IFNULL", ir.OpIfNonNull: "IFNONNULL",
	ir.OpReturn: "RETURN", ir.OpIReturn: "IRETURN", ir.OpLReturn: "LRETURN", ir.OpFReturn: "FRETURN",
	ir.OpDReturn: "DRETURN", ir.OpAReturn: "ARETURN", ir.OpAThrow: "ATHROW", ir.OpNop: "NOP",
}

var opcodeByName = func() map[string]ir.Opcode {
	m := make(map[string]ir.Opcode, len(mnemonics))
	for op, name := range mnemonics {
		m[name] = op
	}
	return m
}()
