// Package monitor defines the algebraic representation of a property
// under evaluation: a tagged recursive term in one of seven shapes,
// carrying an environment with a binding context. Terms are consumed by
// the analyzer, which rewrites them one small step at a time.
package monitor

import (
	"fmt"

	"github.com/sltsclo/detecter/internal/event"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env is the environment every term node carries. Str and Pat are
// display-only; Var names the binder an Act or Rec introduces; NS is
// the namespace bindings fall under (empty means GlobalNS); Ctx holds
// the captured bindings.
type Env struct {
	Str string
	Var string
	Pat string
	NS  string
	Ctx *Ctx
}

// Namespace returns the effective namespace, defaulting to GlobalNS.
func (e Env) Namespace() string {
	if e.NS == "" {
		return GlobalNS
	}
	return e.NS
}

// Context returns the binding context, never nil.
func (e Env) Context() *Ctx {
	if e.Ctx == nil {
		return NewCtx()
	}
	return e.Ctx
}

// =============================================================================
// TERM ALGEBRA
// =============================================================================

// Op tags the shape of a term node.
type Op string

const (
	OpYes Op = "yes" // satisfied verdict
	OpNo  Op = "no"  // violated verdict
	OpAct Op = "act" // awaits one event matching Guard
	OpChs Op = "chs" // external choice over two Act nodes
	OpAnd Op = "and" // parallel conjunction
	OpOr  Op = "or"  // parallel disjunction
	OpRec Op = "rec" // recursion binder
	OpVar Op = "var" // bound recursion variable
)

// Guard is the predicate an Act node applies to the next event.
type Guard func(event.Event) bool

// ActCont is the suspended continuation of an Act node: invoked with
// the consumed event, it produces the residual term.
type ActCont func(event.Event) *Term

// RecCont is the suspended body of a Rec or Var node: invoking it
// unfolds the recursion one level.
type RecCont func() *Term

// Term is one node of a monitor. Which fields are populated depends on
// Op: Guard and Cont for Act; Body for Rec and Var; L and R for Chs,
// And and Or. Terms are replaced, never mutated, by reduction; the only
// state that flows between steps is the environment's binding context.
type Term struct {
	Op    Op
	Env   Env
	Guard Guard
	Cont  ActCont
	Body  RecCont
	L     *Term
	R     *Term
}

// Yes builds the satisfied verdict.
func Yes(env Env) *Term {
	return &Term{Op: OpYes, Env: env}
}

// No builds the violated verdict.
func No(env Env) *Term {
	return &Term{Op: OpNo, Env: env}
}

// Act builds a term that waits for one event satisfying guard and then
// continues as cont(event), with the event bound under env.Var.
func Act(env Env, guard Guard, cont ActCont) *Term {
	return &Term{Op: OpAct, Env: env, Guard: guard, Cont: cont}
}

// Chs builds an external choice. Both l and r must be Act nodes with
// mutually exclusive guards for any event actually delivered; the
// analyzer treats anything else as a malformed term.
func Chs(env Env, l, r *Term) *Term {
	return &Term{Op: OpChs, Env: env, L: l, R: r}
}

// And builds a parallel conjunction.
func And(env Env, l, r *Term) *Term {
	return &Term{Op: OpAnd, Env: env, L: l, R: r}
}

// Or builds a parallel disjunction.
func Or(env Env, l, r *Term) *Term {
	return &Term{Op: OpOr, Env: env, L: l, R: r}
}

// Rec builds a recursion binder named env.Var whose body is produced by
// unfolding body.
func Rec(env Env, body RecCont) *Term {
	return &Term{Op: OpRec, Env: env, Body: body}
}

// Var builds a bound recursion variable. Unfolding it purges the
// current namespace from the context before re-entering the body.
func Var(env Env, body RecCont) *Term {
	return &Term{Op: OpVar, Env: env, Body: body}
}

// IsVerdict reports whether t is a terminal yes or no.
func (t *Term) IsVerdict() bool {
	return t != nil && (t.Op == OpYes || t.Op == OpNo)
}

// WithEnv returns a shallow copy of t whose environment is env. Used by
// the analyzer to propagate a parent's namespace and context into a
// child before reducing it.
func (t *Term) WithEnv(env Env) *Term {
	cp := *t
	cp.Env = env
	return &cp
}

// String renders the term's top-level structure. Continuations are
// opaque, so nested suspended bodies print as their display string when
// one was provided.
func (t *Term) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Env.Str != "" {
		return t.Env.Str
	}
	switch t.Op {
	case OpYes, OpNo:
		return string(t.Op)
	case OpAct:
		if t.Env.Pat != "" {
			return fmt.Sprintf("act(%s)", t.Env.Pat)
		}
		return "act(_)"
	case OpChs:
		return fmt.Sprintf("(%s + %s)", t.L, t.R)
	case OpAnd:
		return fmt.Sprintf("(%s and %s)", t.L, t.R)
	case OpOr:
		return fmt.Sprintf("(%s or %s)", t.L, t.R)
	case OpRec:
		return fmt.Sprintf("rec %s.(...)", t.Env.Var)
	case OpVar:
		return t.Env.Var
	default:
		return string(t.Op)
	}
}
