// Package diag renders a Method as a textual instruction listing for
// before/after diagnostics, the way wazero's cmd/wazero wires -h/-v output
// straight to an io.Writer rather than pulling in a logging library (§7:
// "the driver may log textified before/after if diagnostics are enabled,
// but the core emits no I/O").
package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytefold/bco/internal/ir"
)

// Logger writes before/after diagnostics when Enabled is true. The zero
// value discards all output.
type Logger struct {
	Out     io.Writer
	Enabled bool
}

// Logf writes a formatted diagnostic line if the logger is enabled.
func (l *Logger) Logf(format string, args ...interface{}) {
	if l == nil || !l.Enabled || l.Out == nil {
		return
	}
	fmt.Fprintf(l.Out, format+"\n", args...)
}

// Textify renders m as a plain-text instruction listing: one mnemonic per
// line, labels as "Ln:" markers, jump targets and switch default targets
// rendered by label number. Switch case targets are not listed (a
// TABLESWITCH shows its key range, a LOOKUPSWITCH its key count).
func Textify(m *ir.Method) string {
	var b strings.Builder
	labelNum := map[*ir.Insn]int{}
	n := 0
	m.Each(func(i *ir.Insn) bool {
		if i.Kind == ir.KindLabel {
			labelNum[i] = n
			n++
		}
		return true
	})

	fmt.Fprintf(&b, "%s.%s%s:\n", m.OwnerInternalName, m.Name, m.Desc)
	m.Each(func(i *ir.Insn) bool {
		b.WriteString(line(i, labelNum))
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

func line(i *ir.Insn, labelNum map[*ir.Insn]int) string {
	switch i.Kind {
	case ir.KindLabel:
		return fmt.Sprintf("L%d:", labelNum[i])
	case ir.KindVar:
		return fmt.Sprintf("  %s %d", opName(i.Op), i.Slot)
	case ir.KindIncrement:
		return fmt.Sprintf("  IINC %d %d", i.Slot, i.Delta)
	case ir.KindMethodCall:
		return fmt.Sprintf("  %s %s.%s%s", opName(i.Op), i.Owner, i.Name, i.Desc)
	case ir.KindInvokeDynamic:
		return fmt.Sprintf("  INVOKEDYNAMIC %s%s [%s]", i.Name, i.Desc, i.Owner)
	case ir.KindField:
		return fmt.Sprintf("  %s %s.%s:%s", opName(i.Op), i.Owner, i.Name, i.Desc)
	case ir.KindType:
		return fmt.Sprintf("  %s %s", opName(i.Op), i.TypeName)
	case ir.KindJump:
		return fmt.Sprintf("  %s L%d", opName(i.Op), labelNum[i.Target])
	case ir.KindTableSwitch:
		return fmt.Sprintf("  TABLESWITCH [%d..%d] default=L%d", i.Low, i.High, labelNum[i.Default])
	case ir.KindLookupSwitch:
		return fmt.Sprintf("  LOOKUPSWITCH default=L%d (%d keys)", labelNum[i.Default], len(i.Keys))
	case ir.KindConst:
		return fmt.Sprintf("  %s %s", opName(i.Op), constLiteral(i))
	case ir.KindMultiNewArray:
		return fmt.Sprintf("  MULTIANEWARRAY %s dims=%d", i.TypeName, i.Dims)
	default:
		return fmt.Sprintf("  %s", opName(i.Op))
	}
}

func constLiteral(i *ir.Insn) string {
	switch i.ConstKind {
	case ir.ConstNull:
		return "null"
	case ir.ConstInt:
		return fmt.Sprintf("%d", i.IntValue)
	case ir.ConstLong:
		return fmt.Sprintf("%dL", i.LongValue)
	case ir.ConstFloat:
		return fmt.Sprintf("%gf", i.F32Value)
	case ir.ConstDouble:
		return fmt.Sprintf("%g", i.F64Value)
	case ir.ConstString:
		return fmt.Sprintf("%q", i.StrValue)
	case ir.ConstClass:
		return fmt.Sprintf("class(%s)", i.StrValue)
	default:
		return i.StrValue
	}
}

// opName renders an Opcode as its mnemonic through a map lookup; kept as
// one literal table because new opcodes are added rarely and this reads
// better in a diff.
func opName(op ir.Opcode) string {
	names := map[ir.Opcode]string{
		ir.OpILoad: "ILOAD", ir.OpLLoad: "LLOAD", ir.OpFLoad: "FLOAD", ir.OpDLoad: "DLOAD", ir.OpALoad: "ALOAD",
		ir.OpIStore: "ISTORE", ir.OpLStore: "LSTORE", ir.OpFStore: "FSTORE", ir.OpDStore: "DSTORE", ir.OpAStore: "ASTORE",
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
		ir.OpDReturn: "DRETURN", ir.OpAReturn: "ARETURN", ir.OpAThrow: "ATHROW", ir.OpIInc: "IINC", ir.OpNop: "NOP",
	}
	if n, ok := names[op]; ok {
		return n
	}
	return fmt.Sprintf("OP(%d)", op)
}
