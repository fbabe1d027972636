package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/monitor"
)

func TestDerivID(t *testing.T) {
	root := RootID()
	assert.Equal(t, "1", root.String())

	p := root.Premise()
	assert.Equal(t, "1.1", p.String())

	sib := p.Next()
	assert.Equal(t, "2.1", sib.String())

	// Premise and Next leave the receiver untouched.
	assert.Equal(t, "1.1", p.String())
	assert.Equal(t, "1.1.1", p.Premise().String())
}

func TestProofLogOrdering(t *testing.T) {
	var l ProofLog
	a := &Entry{ID: RootID(), Rule: RuleRec}
	b := &Entry{ID: RootID(), Rule: RuleAct}
	l.Append(a, b)

	require.Equal(t, 2, l.Len())
	assert.Equal(t, []Rule{RuleRec, RuleAct}, l.Rules())

	rev := l.Entries()
	assert.Same(t, b, rev[0])
	assert.Same(t, a, rev[1])

	chron := l.Chronological()
	assert.Same(t, a, chron[0])
}

func TestEntryString(t *testing.T) {
	ev := event.Send("p", "q", 42)
	e := &Entry{
		ID:    DerivID{1},
		Rule:  RuleAct,
		Event: &ev,
		From:  monitor.Act(monitor.Env{Pat: "send(_, 42)"}, nil, nil),
		To:    monitor.Yes(monitor.Env{}),
	}
	assert.Equal(t, "[1] mAct: act(send(_, 42)) -send(p, q, 42)-> yes", e.String())

	tau := &Entry{ID: DerivID{1}, Rule: RuleRec, From: monitor.Rec(monitor.Env{Var: "X"}, nil), To: monitor.Yes(monitor.Env{})}
	assert.True(t, tau.Tau())
	assert.Equal(t, "[1] mRec: rec X.(...) -tau-> yes", tau.String())
}
