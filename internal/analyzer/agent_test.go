package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/monitor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAgentReachesVerdict(t *testing.T) {
	verdicts := make(chan monitor.Op, 1)
	anl := New(func(v *monitor.Term, _ []*Entry) {
		verdicts <- v.Op
	})
	require.NoError(t, anl.Embed(monitor.Act(monitor.Env{},
		func(ev event.Event) bool { return ev.Kind == event.KindSend },
		func(event.Event) *monitor.Term { return monitor.No(monitor.Env{}) })))

	g := NewAgent(anl, 8)
	defer g.Stop()

	require.NoError(t, g.Post(event.Send("p", "q", 1)))

	select {
	case op := <-verdicts:
		assert.Equal(t, monitor.OpNo, op)
	case <-time.After(5 * time.Second):
		t.Fatal("no verdict")
	}
}

func TestAgentPostAfterStop(t *testing.T) {
	g := NewAgent(New(nil), 1)
	g.Stop()
	assert.ErrorIs(t, g.Post(event.Send("p", "q", 1)), ErrAgentStopped)
	g.Stop() // idempotent
}

func TestAgentStopsOnAnalysisError(t *testing.T) {
	anl := New(nil)
	// No ambient monitor embedded: the first post fails and the agent
	// shuts itself down.
	g := NewAgent(anl, 1)
	require.NoError(t, g.Post(event.Send("p", "q", 1)))

	assert.Eventually(t, func() bool {
		return g.Post(event.Send("p", "q", 2)) != nil
	}, 5*time.Second, 10*time.Millisecond)
	g.Stop()
}
