// Package analyzer implements the small-step reduction engine that
// executes monitor terms over observed events. Reduction rules split
// into silent τ-rules, applied greedily to a fixed point after every
// event, and event rules, driven by one external event at a time. Every
// rule application is recorded in a proof derivation log; reaching a
// verdict invokes a callback exactly once.
package analyzer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/logging"
	"github.com/sltsclo/detecter/internal/monitor"
)

var (
	// ErrNotReady is returned when an event is delivered to a term
	// that is not τ-saturated. Callers must saturate first.
	ErrNotReady = errors.New("monitor term is not in ready form")

	// ErrMalformed is returned for structurally invalid terms, such as
	// a Chs child that is not an Act or a missing continuation.
	ErrMalformed = errors.New("malformed monitor term")

	// ErrChoiceGuards is returned when both or neither guard of an
	// external choice holds for the delivered event.
	ErrChoiceGuards = errors.New("external choice guards are not mutually exclusive")

	// ErrNotEnabled is returned when an Act guard rejects the
	// delivered event, leaving the term with no applicable rule.
	ErrNotEnabled = errors.New("event not enabled by act guard")
)

// VerdictFunc is invoked exactly once when a monitor first reaches an
// irrevocable verdict, with the verdict term and the proof log in
// reverse chronological order.
type VerdictFunc func(verdict *monitor.Term, proof []*Entry)

// =============================================================================
// PURE REDUCTION
// =============================================================================

// inherit copies the parent environment's namespace and binding context
// into child before it is reduced, so bindings made higher in the term
// stay visible to the child's continuations.
func inherit(parent monitor.Env, child *monitor.Term) *monitor.Term {
	env := child.Env
	env.NS = parent.Namespace()
	env.Ctx = parent.Context().Clone()
	return child.WithEnv(env)
}

// rebuild reconstructs a parallel node around reduced children. The
// children's contexts are merged back into the parent, left wins.
func rebuild(parent *monitor.Term, l, r *monitor.Term) *monitor.Term {
	env := parent.Env
	env.Ctx = l.Env.Context().Merge(r.Env.Context())
	if parent.Op == monitor.OpAnd {
		return monitor.And(env, l, r)
	}
	return monitor.Or(env, l, r)
}

// tauEnabled reports whether any τ-rule applies somewhere in m. It
// inspects structure only and never invokes suspended continuations.
func tauEnabled(m *monitor.Term) bool {
	if m == nil {
		return false
	}
	switch m.Op {
	case monitor.OpRec, monitor.OpVar:
		return true
	case monitor.OpAnd, monitor.OpOr:
		if m.L == nil || m.R == nil {
			return false
		}
		if m.L.IsVerdict() || m.R.IsVerdict() {
			return true
		}
		return tauEnabled(m.L) || tauEnabled(m.R)
	}
	return false
}

// reduceTau applies the highest-priority τ-rule matching m, if any.
// Continuations are invoked only on the path actually reduced.
func reduceTau(id DerivID, m *monitor.Term) (*Entry, *monitor.Term, bool, error) {
	switch m.Op {
	case monitor.OpOr:
		if m.L == nil || m.R == nil {
			return nil, nil, false, fmt.Errorf("%w: or node missing a child", ErrMalformed)
		}
		switch {
		case m.L.Op == monitor.OpYes:
			return &Entry{ID: id, Rule: RuleDisYL, From: m, To: m.L}, m.L, true, nil
		case m.R.Op == monitor.OpYes:
			return &Entry{ID: id, Rule: RuleDisYR, From: m, To: m.R}, m.R, true, nil
		case m.L.Op == monitor.OpNo:
			to := inherit(m.Env, m.R)
			return &Entry{ID: id, Rule: RuleDisNL, From: m, To: to}, to, true, nil
		case m.R.Op == monitor.OpNo:
			to := inherit(m.Env, m.L)
			return &Entry{ID: id, Rule: RuleDisNR, From: m, To: to}, to, true, nil
		}
		return reduceTauPar(id, m, RuleTauL, RuleTauR)

	case monitor.OpAnd:
		if m.L == nil || m.R == nil {
			return nil, nil, false, fmt.Errorf("%w: and node missing a child", ErrMalformed)
		}
		switch {
		case m.L.Op == monitor.OpNo:
			return &Entry{ID: id, Rule: RuleConNL, From: m, To: m.L}, m.L, true, nil
		case m.R.Op == monitor.OpNo:
			return &Entry{ID: id, Rule: RuleConNR, From: m, To: m.R}, m.R, true, nil
		case m.L.Op == monitor.OpYes:
			to := inherit(m.Env, m.R)
			return &Entry{ID: id, Rule: RuleConYL, From: m, To: to}, to, true, nil
		case m.R.Op == monitor.OpYes:
			to := inherit(m.Env, m.L)
			return &Entry{ID: id, Rule: RuleConYR, From: m, To: to}, to, true, nil
		}
		return reduceTauPar(id, m, RuleTauL, RuleTauR)

	case monitor.OpRec:
		if m.Body == nil {
			return nil, nil, false, fmt.Errorf("%w: rec node missing body", ErrMalformed)
		}
		body := m.Body()
		if body == nil {
			return nil, nil, false, fmt.Errorf("%w: rec body produced nil term", ErrMalformed)
		}
		env := body.Env
		env.NS = m.Env.Var
		env.Ctx = m.Env.Context().Clone()
		to := body.WithEnv(env)
		return &Entry{ID: id, Rule: RuleRec, From: m, To: to}, to, true, nil

	case monitor.OpVar:
		if m.Body == nil {
			return nil, nil, false, fmt.Errorf("%w: var node missing body", ErrMalformed)
		}
		body := m.Body()
		if body == nil {
			return nil, nil, false, fmt.Errorf("%w: var body produced nil term", ErrMalformed)
		}
		env := body.Env
		env.NS = m.Env.Var
		env.Ctx = m.Env.Context().PurgeNS(m.Env.Namespace())
		to := body.WithEnv(env)
		return &Entry{ID: id, Rule: RuleRecV, From: m, To: to}, to, true, nil
	}

	return nil, nil, false, nil
}

// reduceTauPar applies τ congruence through a parallel node: left child
// first, else right, rebuilding the parent around the reduced child.
func reduceTauPar(id DerivID, m *monitor.Term, left, right Rule) (*Entry, *monitor.Term, bool, error) {
	lc := inherit(m.Env, m.L)
	pe, l2, ok, err := reduceTau(id.Premise(), lc)
	if err != nil {
		return nil, nil, false, err
	}
	if ok {
		to := rebuild(m, l2, m.R)
		return &Entry{ID: id, Rule: left, From: m, To: to, Premises: []*Entry{pe}}, to, true, nil
	}

	rc := inherit(m.Env, m.R)
	pe, r2, ok, err := reduceTau(id.Premise(), rc)
	if err != nil {
		return nil, nil, false, err
	}
	if ok {
		to := rebuild(m, m.L, r2)
		return &Entry{ID: id, Rule: right, From: m, To: to, Premises: []*Entry{pe}}, to, true, nil
	}
	return nil, nil, false, nil
}

// reduceEvent advances m by one external event.
func reduceEvent(id DerivID, ev event.Event, m *monitor.Term) (*Entry, *monitor.Term, error) {
	switch m.Op {
	case monitor.OpYes, monitor.OpNo:
		// Verdicts are absorbent.
		return &Entry{ID: id, Rule: RuleVrd, Event: &ev, From: m, To: m}, m, nil

	case monitor.OpAct:
		if m.Guard == nil || m.Cont == nil {
			return nil, nil, fmt.Errorf("%w: act node missing guard or continuation", ErrMalformed)
		}
		if !m.Guard(ev) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotEnabled, ev)
		}
		ctx := m.Env.Context().Clone()
		if m.Env.Var != "" {
			ctx.Bind(m.Env.Namespace(), m.Env.Var, ev)
		}
		next := m.Cont(ev)
		if next == nil {
			return nil, nil, fmt.Errorf("%w: act continuation produced nil term", ErrMalformed)
		}
		env := next.Env
		env.NS = m.Env.Namespace()
		env.Ctx = ctx
		to := next.WithEnv(env)
		return &Entry{ID: id, Rule: RuleAct, Event: &ev, From: m, To: to}, to, nil

	case monitor.OpChs:
		if m.L == nil || m.L.Op != monitor.OpAct || m.R == nil || m.R.Op != monitor.OpAct {
			return nil, nil, fmt.Errorf("%w: chs children must be act nodes", ErrMalformed)
		}
		lok := m.L.Guard != nil && m.L.Guard(ev)
		rok := m.R.Guard != nil && m.R.Guard(ev)
		if lok == rok {
			return nil, nil, fmt.Errorf("%w: %s", ErrChoiceGuards, ev)
		}
		if lok {
			pe, to, err := reduceEvent(id.Premise(), ev, inherit(m.Env, m.L))
			if err != nil {
				return nil, nil, err
			}
			return &Entry{ID: id, Rule: RuleChsL, Event: &ev, From: m, To: to, Premises: []*Entry{pe}}, to, nil
		}
		pe, to, err := reduceEvent(id.Premise(), ev, inherit(m.Env, m.R))
		if err != nil {
			return nil, nil, err
		}
		return &Entry{ID: id, Rule: RuleChsR, Event: &ev, From: m, To: to, Premises: []*Entry{pe}}, to, nil

	case monitor.OpAnd, monitor.OpOr:
		if m.L == nil || m.R == nil {
			return nil, nil, fmt.Errorf("%w: %s node missing a child", ErrMalformed, m.Op)
		}
		le, l2, err := reduceEvent(id.Premise(), ev, inherit(m.Env, m.L))
		if err != nil {
			return nil, nil, err
		}
		re, r2, err := reduceEvent(id.Premise().Next(), ev, inherit(m.Env, m.R))
		if err != nil {
			return nil, nil, err
		}
		to := rebuild(m, l2, r2)
		return &Entry{ID: id, Rule: RulePar, Event: &ev, From: m, To: to, Premises: []*Entry{le, re}}, to, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s term cannot consume an event", ErrNotReady, m.Op)
	}
}

// Saturate applies τ-rules greedily until none matches, returning the
// records of every step taken and the resulting ready-form term.
func Saturate(m *monitor.Term) ([]*Entry, *monitor.Term, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("%w: nil term", ErrMalformed)
	}
	var out []*Entry
	for {
		e, m2, ok, err := reduceTau(RootID(), m)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return out, m, nil
		}
		out = append(out, e)
		m = m2
	}
}

// Analyze advances m by one external event. m must be in ready form;
// the returned term is τ-saturated again, and the returned records
// cover the event step followed by every τ step taken after it.
func Analyze(ev event.Event, m *monitor.Term) ([]*Entry, *monitor.Term, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("%w: nil term", ErrMalformed)
	}
	if tauEnabled(m) {
		return nil, nil, ErrNotReady
	}
	e, m2, err := reduceEvent(RootID(), ev, m)
	if err != nil {
		return nil, nil, err
	}
	taus, m3, err := Saturate(m2)
	if err != nil {
		return nil, nil, err
	}
	return append([]*Entry{e}, taus...), m3, nil
}

// =============================================================================
// STATEFUL ANALYZER
// =============================================================================

// Analyzer owns one monitor term and advances it event by event,
// accumulating the proof log and reporting the first verdict through
// its callback. It is safe for concurrent use, though in practice a
// single tracer or agent drives it.
type Analyzer struct {
	mu        sync.Mutex
	m         *monitor.Term
	log       ProofLog
	onVerdict VerdictFunc
	fired     bool
}

// New returns an analyzer with no ambient monitor; call Embed before
// Analyze. onVerdict may be nil.
func New(onVerdict VerdictFunc) *Analyzer {
	return &Analyzer{onVerdict: onVerdict}
}

// Embed attaches m as the ambient monitor, τ-saturating it first. The
// saturation steps are recorded; a monitor that collapses to a verdict
// without consuming any event fires the callback immediately.
func (a *Analyzer) Embed(m *monitor.Term) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, m2, err := Saturate(m)
	if err != nil {
		return err
	}
	a.m = m2
	a.log.Append(entries...)
	a.fireLocked()
	return nil
}

// Analyze advances the ambient monitor by one event, returning the
// records for this step. The full log remains available via Log.
func (a *Analyzer) Analyze(ev event.Event) ([]*Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.m == nil {
		return nil, fmt.Errorf("%w: no ambient monitor embedded", ErrMalformed)
	}
	entries, m2, err := Analyze(ev, a.m)
	if err != nil {
		return nil, err
	}
	a.m = m2
	a.log.Append(entries...)
	logging.Get(logging.CategoryAnalyzer).Debugw("analyzed event",
		"event", ev.String(), "monitor", m2.String(), "steps", len(entries))
	a.fireLocked()
	return entries, nil
}

// Term returns the current ambient monitor term.
func (a *Analyzer) Term() *monitor.Term {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m
}

// Log returns the accumulated proof records in reverse chronological
// order.
func (a *Analyzer) Log() []*Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.Entries()
}

// Verdict returns the verdict term once one has been reached.
func (a *Analyzer) Verdict() (*monitor.Term, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m != nil && a.m.IsVerdict() {
		return a.m, true
	}
	return nil, false
}

func (a *Analyzer) fireLocked() {
	if a.fired || a.m == nil || !a.m.IsVerdict() {
		return
	}
	a.fired = true
	logging.Get(logging.CategoryAnalyzer).Infow("verdict reached", "verdict", string(a.m.Op))
	if a.onVerdict != nil {
		a.onVerdict(a.m, a.log.Entries())
	}
}
