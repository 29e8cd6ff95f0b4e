// Package driver sequences the four core passes to a fixpoint over one
// method, and over a class's methods in parallel, the way wazero's engine
// compiles every function of a module independently (compilationcache.go,
// engine.go use a sync.WaitGroup per module; this package does the same per
// class). The driver itself is out of scope for the core (§1); this is
// the "driver that sequences the passes" it names as an external
// collaborator.
package driver

import (
	"sync"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/config"
	"github.com/bytefold/bco/internal/diag"
	"github.com/bytefold/bco/internal/inliner"
	"github.com/bytefold/bco/internal/ir"
	"github.com/bytefold/bco/internal/opt"
)

// Result records what changed while bringing one method to a fixpoint,
// letting a caller decide whether the work was worth logging or whether any
// pass actually fired at all.
type Result struct {
	CopyPropChanged    bool
	StaleStoreRemoved  bool
	IntrinsicRewritten bool
	CallInlined        bool
	PushPopChanged     bool
	CastAdded          bool
	NullCheckAdded     bool
	StoreLoadChanged   bool
	Iterations         int
}

// Changed reports whether any pass made any change across every iteration.
func (r Result) Changed() bool {
	return r.CopyPropChanged || r.StaleStoreRemoved || r.IntrinsicRewritten || r.CallInlined ||
		r.PushPopChanged || r.CastAdded || r.NullCheckAdded || r.StoreLoadChanged
}

// MaxIterations bounds the fixpoint loop. Each of the four passes is
// independently monotone-decreasing or neutral on instruction count (§8
// "Monotone instruction count"), so in practice a handful of iterations
// converges; this is a backstop against a cooperative-termination bug
// turning into an infinite loop.
const MaxIterations = 32

// Run brings one method to a fixpoint of passes (A)-(D), logging a
// before/after textification through log if it is enabled (§7: "the driver
// may log textified before/after if diagnostics are enabled, but the core
// emits no I/O").
func Run(m *ir.Method, cfg config.Config, reg *callgraph.Registry, inl *inliner.Inliner, oracle ir.SideEffectOracle, log *diag.Logger) Result {
	log.Logf("before %s.%s%s:\n%s", m.OwnerInternalName, m.Name, m.Desc, diag.Textify(m))

	var total Result
	for iter := 0; iter < MaxIterations; iter++ {
		total.Iterations++
		changedThisRound := false

		if opt.RunCopyPropagation(m, cfg.Limits()) {
			total.CopyPropChanged = true
			changedThisRound = true
		}
		if staleStore, intrinsic, inlined := opt.RunStaleStoreElimination(m, cfg, reg, inl); staleStore || intrinsic || inlined {
			total.StaleStoreRemoved = total.StaleStoreRemoved || staleStore
			total.IntrinsicRewritten = total.IntrinsicRewritten || intrinsic
			total.CallInlined = total.CallInlined || inlined
			changedThisRound = true
		}
		if pushPop, castAdded, nullCheck := opt.RunPushPopElimination(m, cfg, reg, oracle); pushPop || castAdded || nullCheck {
			total.PushPopChanged = total.PushPopChanged || pushPop
			total.CastAdded = total.CastAdded || castAdded
			total.NullCheckAdded = total.NullCheckAdded || nullCheck
			changedThisRound = true
		}
		if opt.RunStoreLoadPairElimination(m) {
			total.StoreLoadChanged = true
			changedThisRound = true
		}

		if !changedThisRound {
			break
		}
	}

	log.Logf("after %s.%s%s:\n%s", m.OwnerInternalName, m.Name, m.Desc, diag.Textify(m))
	return total
}

// RunClass brings every method in methods to a fixpoint in parallel,
// sharing one call-graph registry and inliner across the whole class, the
// shape §5 describes ("parallelism... is per-method: each method is a
// self-contained unit with no cross-method ordering requirements within a
// pass... the call-graph and inliner must be thread-safe").
func RunClass(methods []*ir.Method, cfg config.Config, reg *callgraph.Registry, inl *inliner.Inliner, oracle ir.SideEffectOracle, log *diag.Logger) []Result {
	results := make([]Result, len(methods))
	var wg sync.WaitGroup
	wg.Add(len(methods))
	for i, m := range methods {
		i, m := i, m
		go func() {
			defer wg.Done()
			results[i] = Run(m, cfg, reg, inl, oracle, log)
		}()
	}
	wg.Wait()
	return results
}
