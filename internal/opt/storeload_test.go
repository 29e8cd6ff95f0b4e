package opt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytefold/bco/internal/ir"
)

// Scenario 6 (§8): ICONST_0; ISTORE 1; ACONST_NULL; ASTORE 2; ILOAD 1;
// IRETURN. The null-store pair (ACONST_NULL/ASTORE 2) closes first, then the
// outer ISTORE 1/ILOAD 1 pair closes across the now-empty gap, leaving just
// the constant flowing straight into the return.
func TestStoreLoadPairElimination_NestedNullStoreThenOuterPair(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 3 2
ICONST 0
ISTORE 1
ACONST_NULL
ASTORE 2
ILOAD 1
IRETURN
.end
`)
	changed := RunStoreLoadPairElimination(m)
	require.True(t, changed)
	require.Equal(t, 2, countInsns(m))

	first := insnAt(m, 0)
	require.Equal(t, ir.KindConst, first.Kind)
	second := insnAt(m, 1)
	require.Equal(t, ir.OpIReturn, second.Op)
}

// A store whose slot is read again later must stay: the first ILOAD 1 closes
// a candidate pair with the store, but the second ILOAD 1 marks slot 1 live,
// which disqualifies that candidate.
func TestStoreLoadPairElimination_InterveningReadKeepsStore(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 2 2
ICONST 0
ISTORE 1
ILOAD 1
POP
ILOAD 1
IRETURN
.end
`)
	before := countInsns(m)
	changed := RunStoreLoadPairElimination(m)
	require.False(t, changed)
	require.Equal(t, before, countInsns(m))
}

// A store/load pair whose span crosses a label that is itself a live branch
// target cannot be elided, since some other edge could jump into the span
// and observe the slot.
func TestStoreLoadPairElimination_LiveLabelDisqualifies(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 2 2
ICONST 0
ISTORE 1
L0:
ILOAD 1
IRETURN
GOTO L0
.end
`)
	before := countInsns(m)
	changed := RunStoreLoadPairElimination(m)
	require.False(t, changed)
	require.Equal(t, before, countInsns(m))
}
