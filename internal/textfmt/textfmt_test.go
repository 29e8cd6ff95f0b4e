package textfmt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/ir"
)

func TestParse_BasicMethodShape(t *testing.T) {
	src := `.method pkg/Foo bar (I)I static 1 3 3
ILOAD 0
ICONST 2
IMUL
ISTORE 1
ILOAD 1
IRETURN
.end
`
	m, err := Parse(src, nil)
	require.NoError(t, err)
	require.Equal(t, "pkg/Foo", m.OwnerInternalName)
	require.Equal(t, "bar", m.Name)
	require.Equal(t, "(I)I", m.Desc)
	require.True(t, m.IsStatic)
	require.Equal(t, 1, m.ParametersSize)
	require.Equal(t, 3, m.MaxLocals)
	require.Equal(t, 2, m.MaxStack, "Parse recomputes MaxStack from the body rather than trusting the header")
	require.Equal(t, 6, m.Size())
}

func TestFormat_RoundTripsBackThroughParse(t *testing.T) {
	src := `.method pkg/Foo bar (I)I static 1 3 3
ILOAD 0
ICONST 2
IMUL
ISTORE 1
ILOAD 1
IRETURN
.end
`
	m, err := Parse(src, nil)
	require.NoError(t, err)

	out := Format(m)
	reparsed, err := Parse(out, nil)
	require.NoError(t, err)

	require.Equal(t, Format(reparsed), out, "Format output must be stable under a second Parse/Format cycle")
	require.Equal(t, m.Size(), reparsed.Size())
}

// Labels and jumps round-trip even when the jump target is defined before
// the jump that references it (backward branch, e.g. a loop).
func TestParse_BackwardJumpResolvesToSameLabel(t *testing.T) {
	src := `.method pkg/Foo loop ()V static 0 1 1
L0:
ILOAD 0
IFEQ L1
GOTO L0
L1:
RETURN
.end
`
	m, err := Parse(src, nil)
	require.NoError(t, err)

	var gotoInsn, l0 *ir.Insn
	m.Each(func(i *ir.Insn) bool {
		if i.Kind == ir.KindLabel && l0 == nil {
			l0 = i
		}
		if i.Kind == ir.KindJump && i.Op == ir.OpGoto {
			gotoInsn = i
		}
		return true
	})
	require.NotNil(t, gotoInsn)
	require.Same(t, l0, gotoInsn.Target, "GOTO L0 must resolve to the same label instruction as the L0: definition")
}

// A method call line registers a callsite against the supplied registry.
func TestParse_RegistersCallsites(t *testing.T) {
	src := `.method pkg/Foo bar ()V static 0 1 1
INVOKESTATIC java/lang/System.gc()V
RETURN
.end
`
	reg := callgraph.NewRegistry()
	m, err := Parse(src, reg)
	require.NoError(t, err)

	var call *ir.Insn
	m.Each(func(i *ir.Insn) bool {
		if i.Kind == ir.KindMethodCall {
			call = i
		}
		return true
	})
	require.NotNil(t, call)
	require.Len(t, reg.Callsites(m), 1)
	require.Same(t, call, reg.Callsites(m)[0].Insn)
}

func TestFormat_ConstantsRoundTrip(t *testing.T) {
	src := `.method pkg/Foo bar ()V static 0 1 1
LDC "hello"
POP
ACONST_NULL
POP
RETURN
.end
`
	m, err := Parse(src, nil)
	require.NoError(t, err)

	var str, null *ir.Insn
	m.Each(func(i *ir.Insn) bool {
		if i.Kind != ir.KindConst {
			return true
		}
		switch i.ConstKind {
		case ir.ConstString:
			str = i
		case ir.ConstNull:
			null = i
		}
		return true
	})
	require.NotNil(t, str)
	require.Equal(t, "hello", str.StrValue)
	require.NotNil(t, null)

	out := Format(m)
	reparsed, err := Parse(out, nil)
	require.NoError(t, err)
	require.Equal(t, Format(reparsed), out)
}
