// Package callgraph models the external call-graph registry §6 and §9
// ("Cyclic references") describe: addressed by instruction identity, never
// by a graph the optimizer core owns itself. A removed call MUST also be
// removed from this registry (§3 invariants), and pass (B)'s inliner
// handoff consults it for the current method's call sites.
//
// Safe for concurrent use, matching the "call-graph and inliner must be
// thread-safe OR the driver must serialize calls into them" requirement of
// §5 -- this module picks the former, guarding state with a mutex the way
// a production call-graph shared across parallel per-method passes would
// need to.
package callgraph

import (
	"sync"

	"github.com/bytefold/bco/internal/ir"
)

// Callsite identifies one call or invokedynamic instruction within a
// specific method.
type Callsite struct {
	Method *ir.Method
	Insn   *ir.Insn
}

// Registry is the call-graph the core consults and mutates. The zero value
// is ready to use.
type Registry struct {
	mu    sync.Mutex
	sites map[*ir.Method][]Callsite
	order map[*ir.Insn]int // insertion order, used for CallsiteOrdering.
	next  int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sites: map[*ir.Method][]Callsite{}, order: map[*ir.Insn]int{}}
}

// AddCallsite registers a call or invokedynamic instruction as a callsite
// of method m. Driver/parser code calls this while materializing a method;
// the core itself never adds callsites, only removes them.
func (r *Registry) AddCallsite(m *ir.Method, i *ir.Insn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[m] = append(r.sites[m], Callsite{Method: m, Insn: i})
	r.order[i] = r.next
	r.next++
}

// Callsites returns every registered callsite belonging to m.
func (r *Registry) Callsites(m *ir.Method) []Callsite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Callsite, len(r.sites[m]))
	copy(out, r.sites[m])
	return out
}

// RemoveCallsite deregisters call (an INVOKE* instruction) from m's call
// sites. Safe to call even if call was never registered (a no-op).
func (r *Registry) RemoveCallsite(call *ir.Insn, m *ir.Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sites := r.sites[m]
	for idx, cs := range sites {
		if cs.Insn == call {
			r.sites[m] = append(sites[:idx], sites[idx+1:]...)
			delete(r.order, call)
			return
		}
	}
}

// RemoveClosureInstantiation deregisters an invokedynamic lambda-metafactory
// call site and its associated synthetic bridge method (§4.4 INVOKEDYNAMIC
// row). The bridge-method removal itself is delegated to an external
// helper the driver supplies, since this registry only tracks call sites
// within the method being optimized, not whole-class method tables.
func (r *Registry) RemoveClosureInstantiation(indy *ir.Insn, m *ir.Method, removeBridgeMethod func(owner, bridgeMethodRef string)) {
	r.RemoveCallsite(indy, m)
	if removeBridgeMethod != nil {
		removeBridgeMethod(m.OwnerInternalName, indy.Name)
	}
}

// CallsiteOrdering returns sites sorted into the registry's canonical
// insertion order, the order §4.3's "Inliner handoff" requires before
// inlining sequentially.
func (r *Registry) CallsiteOrdering(sites []Callsite) []Callsite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Callsite, len(sites))
	copy(out, sites)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && r.order[out[j-1].Insn] > r.order[out[j].Insn]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
