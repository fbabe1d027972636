package analyzer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/monitor"
)

func anyEvent(event.Event) bool { return true }

func toYes(event.Event) *monitor.Term { return monitor.Yes(monitor.Env{}) }

func isSend(ev event.Event) bool { return ev.Kind == event.KindSend }
func isRecv(ev event.Event) bool { return ev.Kind == event.KindRecv }

// Disjunction short-circuit: the yes branch wins before any event is
// consumed, and subsequent events are absorbed by the verdict.
func TestDisjunctionShortCircuit(t *testing.T) {
	m := monitor.Or(monitor.Env{},
		monitor.Yes(monitor.Env{}),
		monitor.Act(monitor.Env{}, anyEvent, toYes))

	anl := New(nil)
	require.NoError(t, anl.Embed(m))

	got, ok := anl.Verdict()
	require.True(t, ok)
	assert.Equal(t, monitor.OpYes, got.Op)

	_, err := anl.Analyze(event.Send("p", "q", 1))
	require.NoError(t, err)

	rules := make([]Rule, 0, 2)
	for _, e := range chronological(anl.Log()) {
		rules = append(rules, e.Rule)
	}
	assert.Equal(t, []Rule{RuleDisYL, RuleVrd}, rules)
}

// Single-Act bind: consuming a matching event binds it in the context
// under the act's namespace.
func TestActBindsEvent(t *testing.T) {
	m := monitor.Act(monitor.Env{Var: "x", NS: "ns1"},
		func(ev event.Event) bool { n, ok := ev.Msg.(int); return ok && n == 42 },
		toYes)

	ev := event.Send("p", "q", 42)
	entries, m2, err := Analyze(ev, m)
	require.NoError(t, err)
	require.Equal(t, monitor.OpYes, m2.Op)

	require.Len(t, entries, 1)
	assert.Equal(t, RuleAct, entries[0].Rule)
	assert.Equal(t, DerivID{1}, entries[0].ID)

	bound, ok := m2.Env.Context().Lookup("ns1", "x")
	require.True(t, ok)
	assert.Equal(t, ev, bound)
}

// External choice: exactly one branch reduces, by rule mChsL or mChsR,
// with the act reduction as its premise.
func TestExternalChoice(t *testing.T) {
	mk := func() *monitor.Term {
		return monitor.Chs(monitor.Env{},
			monitor.Act(monitor.Env{Var: "s"}, isSend, toYes),
			monitor.Act(monitor.Env{Var: "r"}, isRecv, func(event.Event) *monitor.Term {
				return monitor.No(monitor.Env{})
			}))
	}

	entries, m2, err := Analyze(event.Send("p", "q", 1), mk())
	require.NoError(t, err)
	assert.Equal(t, monitor.OpYes, m2.Op)
	require.Len(t, entries, 1)
	assert.Equal(t, RuleChsL, entries[0].Rule)
	require.Len(t, entries[0].Premises, 1)
	assert.Equal(t, RuleAct, entries[0].Premises[0].Rule)
	assert.Equal(t, DerivID{1, 1}, entries[0].Premises[0].ID)

	entries, m2, err = Analyze(event.Recv("p", "q", 1), mk())
	require.NoError(t, err)
	assert.Equal(t, monitor.OpNo, m2.Op)
	assert.Equal(t, RuleChsR, entries[0].Rule)
}

func TestExternalChoiceGuardViolations(t *testing.T) {
	both := monitor.Chs(monitor.Env{},
		monitor.Act(monitor.Env{}, anyEvent, toYes),
		monitor.Act(monitor.Env{}, anyEvent, toYes))
	_, _, err := Analyze(event.Send("p", "q", 1), both)
	assert.ErrorIs(t, err, ErrChoiceGuards)

	neither := monitor.Chs(monitor.Env{},
		monitor.Act(monitor.Env{}, isSend, toYes),
		monitor.Act(monitor.Env{}, isRecv, toYes))
	_, _, err = Analyze(event.Exit("p", "normal"), neither)
	assert.ErrorIs(t, err, ErrChoiceGuards)

	malformed := monitor.Chs(monitor.Env{},
		monitor.Yes(monitor.Env{}),
		monitor.Act(monitor.Env{}, isRecv, toYes))
	_, _, err = Analyze(event.Send("p", "q", 1), malformed)
	assert.ErrorIs(t, err, ErrMalformed)
}

// Recursion unfolding: one τ step produces the unfolded body with the
// namespace set to the binder's name.
func TestRecUnfolding(t *testing.T) {
	var loop func() *monitor.Term
	loop = func() *monitor.Term {
		return monitor.And(monitor.Env{},
			monitor.Act(monitor.Env{Var: "a"}, anyEvent, toYes),
			monitor.Act(monitor.Env{Var: "b"}, anyEvent, func(event.Event) *monitor.Term {
				return monitor.Var(monitor.Env{Var: "X"}, loop)
			}))
	}
	m := monitor.Rec(monitor.Env{Var: "X"}, loop)

	entries, m2, err := Saturate(m)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RuleRec, entries[0].Rule)
	assert.Equal(t, monitor.OpAnd, m2.Op)
	assert.Equal(t, "X", m2.Env.Namespace())
}

// Ready-form precondition: delivering an event to a τ-reducible term
// is a programmer error.
func TestAnalyzeRequiresReadyForm(t *testing.T) {
	m := monitor.Rec(monitor.Env{Var: "X"}, func() *monitor.Term { return monitor.Yes(monitor.Env{}) })
	_, _, err := Analyze(event.Send("p", "q", 1), m)
	assert.ErrorIs(t, err, ErrNotReady)
}

// P1: the term returned by Analyze is τ-saturated.
func TestAnalyzeSaturates(t *testing.T) {
	// Consuming the event leaves Or(yes, act): one more τ must fire.
	m := monitor.Act(monitor.Env{}, anyEvent, func(event.Event) *monitor.Term {
		return monitor.Or(monitor.Env{},
			monitor.Yes(monitor.Env{}),
			monitor.Act(monitor.Env{}, anyEvent, toYes))
	})

	entries, m2, err := Analyze(event.Send("p", "q", 1), m)
	require.NoError(t, err)
	assert.False(t, tauEnabled(m2))
	assert.Equal(t, monitor.OpYes, m2.Op)

	rules := rulesOf(entries)
	assert.Equal(t, []Rule{RuleAct, RuleDisYL}, rules)
}

// P2: verdicts are absorbent, each further event appending exactly one
// mVrd record.
func TestVerdictAbsorbs(t *testing.T) {
	m := monitor.No(monitor.Env{})
	for i := 0; i < 3; i++ {
		entries, m2, err := Analyze(event.Send("p", "q", i), m)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, RuleVrd, entries[0].Rule)
		assert.Same(t, m, m2)
		m = m2
	}
}

// P3: identical inputs produce identical reductions and logs.
func TestDeterminism(t *testing.T) {
	mk := func() *monitor.Term {
		var loop func() *monitor.Term
		loop = func() *monitor.Term {
			return monitor.Chs(monitor.Env{},
				monitor.Act(monitor.Env{Var: "bad"}, isSend, func(event.Event) *monitor.Term {
					return monitor.No(monitor.Env{})
				}),
				monitor.Act(monitor.Env{Var: "ok"}, func(ev event.Event) bool { return !isSend(ev) },
					func(event.Event) *monitor.Term {
						return monitor.Var(monitor.Env{Var: "X"}, loop)
					}))
		}
		return monitor.Rec(monitor.Env{Var: "X"}, loop)
	}

	events := []event.Event{
		event.Recv("p", "q", "a"),
		event.Recv("p", "q", "b"),
		event.Send("p", "q", 1),
		event.Exit("p", "normal"),
	}

	run := func() ([]Rule, monitor.Op) {
		anl := New(nil)
		require.NoError(t, anl.Embed(mk()))
		for _, ev := range events {
			_, err := anl.Analyze(ev)
			require.NoError(t, err)
		}
		var rules []Rule
		for _, e := range chronological(anl.Log()) {
			rules = append(rules, e.Rule)
		}
		return rules, anl.Term().Op
	}

	r1, op1 := run()
	r2, op2 := run()
	assert.Equal(t, op1, op2)
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Fatalf("rule sequences differ (-first +second):\n%s", diff)
	}
}

// P4: a variable bound in the left branch survives the parallel merge.
// Both branches bind x to the same event here, so the left-wins rule on
// conflicting values is checked by TestCtxMergeLeftWins in package
// monitor.
func TestParallelMergeLeftWins(t *testing.T) {
	m := monitor.And(monitor.Env{},
		monitor.Act(monitor.Env{Var: "x"}, anyEvent, toYes),
		monitor.Act(monitor.Env{Var: "x"}, anyEvent, func(event.Event) *monitor.Term {
			return monitor.Act(monitor.Env{Var: "y"}, anyEvent, toYes)
		}))

	ev := event.Send("p", "q", 1)
	entries, m2, err := Analyze(ev, m)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(entries), 1)
	assert.Equal(t, RulePar, entries[0].Rule)
	require.Len(t, entries[0].Premises, 2)
	assert.Equal(t, DerivID{1, 1}, entries[0].Premises[0].ID)
	assert.Equal(t, DerivID{2, 1}, entries[0].Premises[1].ID)

	// left yes collapses the conjunction; the binding made on the left
	// is the one visible afterwards
	bound, ok := m2.Env.Context().Lookup(monitor.GlobalNS, "x")
	require.True(t, ok)
	assert.Equal(t, ev, bound)
}

// P5: unfolding a recursion variable purges the bindings made under
// the recursion namespace.
func TestRecVarPurgesNamespace(t *testing.T) {
	var loop func() *monitor.Term
	loop = func() *monitor.Term {
		return monitor.Act(monitor.Env{Var: "a"}, anyEvent, func(event.Event) *monitor.Term {
			return monitor.Var(monitor.Env{Var: "X"}, loop)
		})
	}
	m := monitor.Rec(monitor.Env{Var: "X"}, loop)

	anl := New(nil)
	require.NoError(t, anl.Embed(m))

	// the act runs under namespace X after unfolding
	cur := anl.Term()
	require.Equal(t, monitor.OpAct, cur.Op)
	require.Equal(t, "X", cur.Env.Namespace())

	_, err := anl.Analyze(event.Recv("p", "q", "m1"))
	require.NoError(t, err)

	// mAct bound (X, a), then mRecVar purged namespace X on unfold
	cur = anl.Term()
	require.Equal(t, monitor.OpAct, cur.Op)
	_, ok := cur.Env.Context().Lookup("X", "a")
	assert.False(t, ok, "recursion-body bindings must not survive re-unfolding")
}

// Congruence through parallel nodes: the left child reduces first and
// the premise carries the nested derivation identifier.
func TestTauCongruence(t *testing.T) {
	m := monitor.Or(monitor.Env{},
		monitor.Rec(monitor.Env{Var: "X"}, func() *monitor.Term {
			return monitor.Act(monitor.Env{}, anyEvent, toYes)
		}),
		monitor.Act(monitor.Env{}, anyEvent, toYes))

	entries, m2, err := Saturate(m)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RuleTauL, entries[0].Rule)
	require.Len(t, entries[0].Premises, 1)
	assert.Equal(t, RuleRec, entries[0].Premises[0].Rule)
	assert.Equal(t, DerivID{1, 1}, entries[0].Premises[0].ID)
	assert.Equal(t, monitor.OpOr, m2.Op)
	assert.False(t, tauEnabled(m2))
}

// Context propagation: a binding made before a recursion unfolds stays
// visible inside the unfolded body.
func TestContextFlowsIntoUnfolding(t *testing.T) {
	m := monitor.Act(monitor.Env{Var: "first"}, anyEvent, func(event.Event) *monitor.Term {
		return monitor.Rec(monitor.Env{Var: "X"}, func() *monitor.Term {
			return monitor.Act(monitor.Env{Var: "second"}, anyEvent, toYes)
		})
	})

	e1 := event.Recv("p", "q", "m1")
	_, m2, err := Analyze(e1, m)
	require.NoError(t, err)

	require.Equal(t, monitor.OpAct, m2.Op)
	bound, ok := m2.Env.Context().Lookup(monitor.GlobalNS, "first")
	require.True(t, ok, "outer binding visible inside the recursion body")
	assert.Equal(t, e1, bound)
}

func TestVerdictCallbackFiresOnce(t *testing.T) {
	fired := 0
	var gotProof int
	anl := New(func(v *monitor.Term, proof []*Entry) {
		fired++
		gotProof = len(proof)
		assert.Equal(t, monitor.OpNo, v.Op)
	})

	m := monitor.Act(monitor.Env{}, anyEvent, func(event.Event) *monitor.Term {
		return monitor.No(monitor.Env{})
	})
	require.NoError(t, anl.Embed(m))
	require.Equal(t, 0, fired)

	_, err := anl.Analyze(event.Send("p", "q", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, gotProof)

	// further events keep absorbing without re-firing
	_, err = anl.Analyze(event.Send("p", "q", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestAnalyzeWithoutEmbed(t *testing.T) {
	anl := New(nil)
	_, err := anl.Analyze(event.Send("p", "q", 1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestActGuardRejection(t *testing.T) {
	m := monitor.Act(monitor.Env{}, isSend, toYes)
	_, _, err := Analyze(event.Recv("p", "q", 1), m)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func rulesOf(entries []*Entry) []Rule {
	out := make([]Rule, len(entries))
	for i, e := range entries {
		out[i] = e.Rule
	}
	return out
}

// chronological reverses the reverse-chronological log back into
// emission order.
func chronological(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func TestLogIsReverseChronological(t *testing.T) {
	anl := New(nil)
	require.NoError(t, anl.Embed(monitor.Or(monitor.Env{},
		monitor.Yes(monitor.Env{}),
		monitor.Act(monitor.Env{}, anyEvent, toYes))))
	_, err := anl.Analyze(event.Send("p", "q", 1))
	require.NoError(t, err)

	log := anl.Log()
	require.Len(t, log, 2)
	assert.Equal(t, RuleVrd, log[0].Rule, "newest first")
	assert.Equal(t, RuleDisYL, log[1].Rule)
}
