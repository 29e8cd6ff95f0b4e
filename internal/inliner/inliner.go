// Package inliner is the external inliner collaborator §6 names:
// InlineCallsite(callsite, hint, updateCallGraph). Pass (B) hands it the
// call sites exposed once a class-tag-newArray intrinsic rewrite makes an
// array-apply/update call's element type statically known (§4.3 "Inliner
// handoff"); this package does not itself implement a general-purpose
// inliner, only the narrow shape this module's HARD CORE depends on.
package inliner

import (
	"fmt"

	"github.com/bytefold/bco/internal/callgraph"
	"github.com/bytefold/bco/internal/ir"
)

// Hint carries the extra context pass (B) has at the moment it decides a
// call site should be inlined: the element type the intrinsic rewrite
// proved statically, which lets the runtime array-apply/update body drop
// its type dispatch once substituted in.
type Hint struct {
	StaticElementType string
}

// Inliner performs a best-effort textual substitution of a target method's
// body at a call site. Real inlining (type-checking the substitution,
// renumbering locals, splicing try/catch regions) belongs to the
// surrounding optimizer this module's spec places out of scope (§1); what
// is implemented here is the minimal shape needed so pass (B) has a real
// collaborator to call and this module is buildable end to end.
type Inliner struct {
	// Bodies holds a template instruction sequence per "owner.name.desc"
	// key; InlineCallsite clones it in place of the call.
	Bodies map[string][]*ir.Insn
}

// New returns an Inliner with no registered bodies; driver code populates
// Bodies for whatever runtime helpers it wants pass (B) able to inline.
func New() *Inliner { return &Inliner{Bodies: map[string][]*ir.Insn{}} }

func key(owner, name, desc string) string { return owner + "." + name + desc }

// Register associates a callable's body template with its owner/name/desc.
func (in *Inliner) Register(owner, name, desc string, body []*ir.Insn) {
	in.Bodies[key(owner, name, desc)] = body
}

// InlineCallsite replaces the call instruction at cs with a clone of its
// registered body. The call-graph registry is only touched when
// updateCallGraph is true -- §4.3's "Inliner handoff" inlines a batch of
// call sites sequentially but updates the call-graph only on the final one
// of the batch, matching the inlineCallsite(callsite, hint,
// updateCallGraph) collaborator signature named in §6.
func (in *Inliner) InlineCallsite(cs callgraph.Callsite, hint Hint, reg *callgraph.Registry, updateCallGraph bool) error {
	call := cs.Insn
	if call.Kind != ir.KindMethodCall {
		return fmt.Errorf("inliner: callsite is not a method call: %v", call.Op)
	}
	body, ok := in.Bodies[key(call.Owner, call.Name, call.Desc)]
	if !ok {
		return fmt.Errorf("inliner: no registered body for %s.%s%s", call.Owner, call.Name, call.Desc)
	}
	m := cs.Method
	insertAt := call
	for _, tmpl := range body {
		clone := cloneInsn(tmpl)
		m.InsertBefore(insertAt, clone)
	}
	m.Remove(call)
	if updateCallGraph {
		reg.RemoveCallsite(call, m)
	}
	return nil
}

func cloneInsn(src *ir.Insn) *ir.Insn {
	c := *src
	return &c
}
