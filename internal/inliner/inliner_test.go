package inliner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/ir"
)

func newCallMethod() (*ir.Method, *ir.Insn) {
	m := ir.NewMethod("Test", "foo", "()I", true, 1, 1, 0)
	call := &ir.Insn{Kind: ir.KindMethodCall, Op: ir.OpInvokeStatic, Owner: "Helper", Name: "one", Desc: "()I"}
	ret := ir.NewPlain(ir.OpIReturn)
	m.Append(call)
	m.Append(ret)
	return m, call
}

func TestInlineCallsite_SplicesRegisteredBody(t *testing.T) {
	m, call := newCallMethod()
	reg := callgraph.NewRegistry()
	reg.AddCallsite(m, call)

	in := New()
	in.Register("Helper", "one", "()I", []*ir.Insn{
		{Kind: ir.KindConst, Op: ir.OpLdc, ConstKind: ir.ConstInt, IntValue: 1},
	})

	err := in.InlineCallsite(callgraph.Callsite{Method: m, Insn: call}, Hint{}, reg, true)
	require.NoError(t, err)

	require.Equal(t, 2, m.Size())
	first := m.First()
	require.Equal(t, ir.KindConst, first.Kind)
	require.Equal(t, int32(1), first.IntValue)
	require.Equal(t, ir.OpIReturn, first.Next().Op)
	require.Empty(t, reg.Callsites(m), "updateCallGraph=true must deregister the inlined call")
}

func TestInlineCallsite_LeavesCallGraphWhenNotUpdating(t *testing.T) {
	m, call := newCallMethod()
	reg := callgraph.NewRegistry()
	reg.AddCallsite(m, call)

	in := New()
	in.Register("Helper", "one", "()I", []*ir.Insn{
		{Kind: ir.KindConst, Op: ir.OpLdc, ConstKind: ir.ConstInt, IntValue: 1},
	})

	err := in.InlineCallsite(callgraph.Callsite{Method: m, Insn: call}, Hint{}, reg, false)
	require.NoError(t, err)
	require.Len(t, reg.Callsites(m), 1, "a stale registry entry is expected until the batch's final updateCallGraph=true call")
}

func TestInlineCallsite_ErrorsWithoutRegisteredBody(t *testing.T) {
	m, call := newCallMethod()
	reg := callgraph.NewRegistry()

	in := New()
	err := in.InlineCallsite(callgraph.Callsite{Method: m, Insn: call}, Hint{}, reg, false)
	require.Error(t, err)
}

func TestInlineCallsite_ErrorsOnNonCallInstruction(t *testing.T) {
	m := ir.NewMethod("Test", "foo", "()V", true, 0, 0, 0)
	ret := ir.NewPlain(ir.OpReturn)
	m.Append(ret)

	in := New()
	err := in.InlineCallsite(callgraph.Callsite{Method: m, Insn: ret}, Hint{}, callgraph.NewRegistry(), false)
	require.Error(t, err)
}

func TestClonedInstructionsAreIndependentOfTemplate(t *testing.T) {
	m, call := newCallMethod()
	reg := callgraph.NewRegistry()

	in := New()
	template := []*ir.Insn{{Kind: ir.KindConst, Op: ir.OpLdc, ConstKind: ir.ConstInt, IntValue: 7}}
	in.Register("Helper", "one", "()I", template)

	require.NoError(t, in.InlineCallsite(callgraph.Callsite{Method: m, Insn: call}, Hint{}, reg, false))
	m.First().IntValue = 99
	require.Equal(t, int32(7), template[0].IntValue, "InlineCallsite must clone, not splice in the template instruction itself")
}
