package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/inliner"
	"github.com/bytefold/bco/internal/ir"
	"github.com/bytefold/bco/internal/textfmt"
)

func mustParse(t *testing.T, src string) *ir.Method {
	t.Helper()
	m, err := textfmt.Parse(src, callgraph.NewRegistry())
	require.NoError(t, err)
	return m
}

func countInsns(m *ir.Method) int {
	n := 0
	m.Each(func(*ir.Insn) bool { n++; return true })
	return n
}

// Copy propagation's rewrite exposes a stale store that (B) alone could not
// see, which in turn exposes a pop-eliminable producer for (C): the driver's
// fixpoint must keep iterating until none of the four passes has anything
// left to do.
func TestRun_FixpointChainsAcrossPasses(t *testing.T) {
	m := mustParse(t, `.method Test foo ()V static 0 8 2
ILOAD 0
ISTORE 5
ILOAD 5
ISTORE 6
ILOAD 6
POP
RETURN
.end
`)
	result := Run(m, config.New(), callgraph.NewRegistry(), inliner.New(), ir.DefaultOracle(), nil)
	require.True(t, result.Changed())
	require.Greater(t, result.Iterations, 1, "one extra round is needed to confirm the fixpoint once nothing is left to do")

	require.Equal(t, 1, countInsns(m), "only RETURN should remain once the alias chain collapses")
	require.Equal(t, ir.OpReturn, insnAt(m, 0).Op)
}

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

// A method already at a fixpoint converges in a single iteration with
// nothing reported changed.
func TestRun_AlreadyStableConvergesImmediately(t *testing.T) {
	m := mustParse(t, `.method Test foo (I)I static 1 1 1
ILOAD 0
IRETURN
.end
`)
	result := Run(m, config.New(), callgraph.NewRegistry(), inliner.New(), ir.DefaultOracle(), nil)
	require.False(t, result.Changed())
	require.Equal(t, 1, result.Iterations)
}

// RunClass brings every method in the slice to a fixpoint and reports one
// Result per method, independent of processing order.
func TestRunClass_ProcessesEveryMethodIndependently(t *testing.T) {
	stale := mustParse(t, `.method Test a ()V static 0 2 1
ICONST 5
ISTORE 1
RETURN
.end
`)
	stable := mustParse(t, `.method Test b (I)I static 1 1 1
ILOAD 0
IRETURN
.end
`)
	reg := callgraph.NewRegistry()
	results := RunClass([]*ir.Method{stale, stable}, config.New(), reg, inliner.New(), ir.DefaultOracle(), nil)
	require.Len(t, results, 2)
	require.True(t, results[0].Changed())
	require.False(t, results[1].Changed())
}
