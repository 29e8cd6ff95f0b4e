package opt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/ir"
)

func insnAt(m *ir.Method, n int) *ir.Insn {
	count := 0
	var found *ir.Insn
	m.Each(func(i *ir.Insn) bool {
		if count == n {
			found = i
			return false
		}
		count++
		return true
	})
	return found
}

// Non-reference stale store: a plain int store with no consumer becomes a
// POP (§4.3, "If the opcode is non-reference: replace with a pop").
func TestStaleStoreElimination_NonReferenceBecomesPop(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 2 1
ICONST 5
ISTORE 1
RETURN
.end
`)
	staleStoreRemoved, intrinsicRewritten, callInlined := RunStaleStoreElimination(m, config.New(), callgraph.NewRegistry(), nil)
	require.True(t, staleStoreRemoved)
	require.False(t, intrinsicRewritten)
	require.False(t, callInlined)

	store := insnAt(m, 1)
	require.Equal(t, ir.KindPlain, store.Kind)
	require.Equal(t, ir.OpPop, store.Op)
}

// Scenario 2 (§8): ALOAD 0; ASTORE 3; RETURN in a non-static method. The
// store's only producer is the receiver parameter (already reachable via
// `this`), so it is eliminable outright -- converted to a POP rather than
// null-poisoned.
func TestStaleStoreElimination_ReceiverStoreIsNonLeakable(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V virtual 1 4 1
ALOAD 0
ASTORE 3
RETURN
.end
`)
	staleStoreRemoved, _, _ := RunStaleStoreElimination(m, config.New(), callgraph.NewRegistry(), nil)
	require.True(t, staleStoreRemoved)

	store := insnAt(m, 1)
	require.Equal(t, ir.KindPlain, store.Kind)
	require.Equal(t, ir.OpPop, store.Op, "receiver-only store must not be null-poisoned")
}

// A reference store whose value is leakable (here the second parameter,
// standing in for "any non-null, non-receiver reference") must be
// null-poisoned rather than
// removed: the store stays, but is preceded by a pop+push-null so the old
// referent can still be collected while the slot remains defined.
func TestStaleStoreElimination_LeakableStoreIsNullPoisoned(t *testing.T) {
	// The gc() call after the store keeps it out of the trailing run (§4.3
	// "Trailing-store exemption"), so it must be null-poisoned rather than
	// downgraded to a pop.
	m := mustParse(t, `.method Test foo (Ljava/lang/Object;)V virtual 2 4 1
ALOAD 1
ASTORE 3
INVOKESTATIC java/lang/System.gc()V
RETURN
.end
`)
	staleStoreRemoved, _, _ := RunStaleStoreElimination(m, config.New(), callgraph.NewRegistry(), nil)
	require.True(t, staleStoreRemoved)

	store := insnAt(m, 3) // ALOAD 1; POP; ACONST_NULL; ASTORE 3 after poisoning
	require.Equal(t, ir.KindVar, store.Kind)
	require.Equal(t, ir.OpAStore, store.Op)
	require.Equal(t, 3, store.Slot)

	pushedNull := insnAt(m, 2)
	require.Equal(t, ir.KindConst, pushedNull.Kind)
	require.Equal(t, ir.ConstNull, pushedNull.ConstKind)
}

// Scenario 5 (§8): ClassTag(classOf[String]).newArray(n) is rewritten to a
// direct ANEWARRAY, with the class-tag receiver producer kept (its value
// popped) rather than removed outright.
func TestStaleStoreElimination_ClassTagNewArrayIntrinsic(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 8 3
LDC java/lang/String
INVOKESTATIC scala/reflect/ClassTag.apply(Ljava/lang/Class;)Lscala/reflect/ClassTag;
ICONST 5
INVOKEVIRTUAL scala/reflect/ClassTag.newArray(I)Ljava/lang/Object;
ASTORE 4
RETURN
.end
`)
	_, intrinsicRewritten, _ := RunStaleStoreElimination(m, config.New(), callgraph.NewRegistry(), nil)
	require.True(t, intrinsicRewritten)

	// LDC; INVOKESTATIC (ClassTag.apply); POP (inserted); ICONST 5; ANEWARRAY; POP; RETURN
	// (the stale ASTORE 4 sits in the trailing run before RETURN, so it is
	// downgraded to a POP in the same pass)
	ctApply := insnAt(m, 1)
	require.Equal(t, ir.KindMethodCall, ctApply.Kind)

	pop := insnAt(m, 2)
	require.Equal(t, ir.KindPlain, pop.Kind)
	require.Equal(t, ir.OpPop, pop.Op)

	newArray := insnAt(m, 4)
	require.Equal(t, ir.KindType, newArray.Kind)
	require.Equal(t, ir.OpANewArray, newArray.Op)
	require.Equal(t, "java/lang/String", newArray.TypeName)
}

// A store with a genuine downstream consumer is left untouched.
func TestStaleStoreElimination_LiveStoreUnchanged(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 2 2
ICONST 5
ISTORE 1
ILOAD 1
IRETURN
.end
`)
	staleStoreRemoved, _, _ := RunStaleStoreElimination(m, config.New(), callgraph.NewRegistry(), nil)
	require.False(t, staleStoreRemoved)

	store := insnAt(m, 1)
	require.Equal(t, ir.KindVar, store.Kind)
	require.Equal(t, ir.OpIStore, store.Op)
}
