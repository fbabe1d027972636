package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sltsclo/detecter/internal/event"
)

func TestCtxBindAndLookup(t *testing.T) {
	c := NewCtx()
	e1 := event.Send("p", "q", 1)
	c.Bind("ns1", "x", e1)

	got, ok := c.Lookup("ns1", "x")
	require.True(t, ok)
	assert.Equal(t, e1, got)

	_, ok = c.Lookup("ns2", "x")
	assert.False(t, ok, "bindings are namespaced")
}

func TestCtxRebindKeepsInsertionOrder(t *testing.T) {
	c := NewCtx()
	c.Bind("g", "a", event.Send("p", "q", 1))
	c.Bind("g", "b", event.Send("p", "q", 2))
	c.Bind("g", "a", event.Send("p", "q", 3))

	require.Equal(t, 2, c.Len())
	keys := c.Keys()
	assert.Equal(t, Key{NS: "g", Name: "a"}, keys[0])
	assert.Equal(t, Key{NS: "g", Name: "b"}, keys[1])

	got, _ := c.Lookup("g", "a")
	assert.Equal(t, 3, got.Msg)
}

func TestCtxMergeLeftWins(t *testing.T) {
	left := NewCtx()
	left.Bind("g", "x", event.Send("p", "q", 1))

	right := NewCtx()
	right.Bind("g", "x", event.Send("p", "q", 2))
	right.Bind("g", "y", event.Send("p", "q", 3))

	merged := left.Merge(right)
	require.Equal(t, 2, merged.Len())

	x, _ := merged.Lookup("g", "x")
	assert.Equal(t, 1, x.Msg, "left operand wins on duplicate keys")
	y, _ := merged.Lookup("g", "y")
	assert.Equal(t, 3, y.Msg)

	// operands are untouched
	assert.Equal(t, 1, left.Len())
	assert.Equal(t, 2, right.Len())
}

func TestCtxPurgeNS(t *testing.T) {
	c := NewCtx()
	c.Bind("X", "a", event.Send("p", "q", 1))
	c.Bind(GlobalNS, "b", event.Send("p", "q", 2))
	c.Bind("X", "c", event.Send("p", "q", 3))

	purged := c.PurgeNS("X")
	require.Equal(t, 1, purged.Len())
	_, ok := purged.Lookup(GlobalNS, "b")
	assert.True(t, ok)

	// original keeps all bindings
	assert.Equal(t, 3, c.Len())
}

func TestCtxCloneIsIndependent(t *testing.T) {
	c := NewCtx()
	c.Bind("g", "x", event.Send("p", "q", 1))

	cp := c.Clone()
	cp.Bind("g", "y", event.Send("p", "q", 2))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, cp.Len())
}

func TestEnvDefaults(t *testing.T) {
	var env Env
	assert.Equal(t, GlobalNS, env.Namespace())
	assert.NotNil(t, env.Context())
	assert.Equal(t, 0, env.Context().Len())
}
