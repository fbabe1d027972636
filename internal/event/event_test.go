package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRecognized(t *testing.T) {
	for _, k := range []Kind{KindSpawn, KindExit, KindSend, KindRecv, KindSpawned} {
		assert.True(t, k.Recognized(), "kind %s", k)
	}
	assert.False(t, Kind("link").Recognized())
}

func TestConstructors(t *testing.T) {
	entry := MFA{Mod: "demo", Fun: "worker", Arity: 1}

	sp := Spawn("p", "q", entry)
	assert.Equal(t, KindSpawn, sp.Kind)
	assert.Equal(t, PID("p"), sp.Src)
	assert.Equal(t, PID("q"), sp.Child)
	assert.Equal(t, entry, sp.Entry)

	ex := Exit("p", "normal")
	assert.Equal(t, KindExit, ex.Kind)
	assert.Equal(t, "normal", ex.Reason)

	sd := Spawned("q", "p", entry)
	assert.Equal(t, KindSpawned, sd.Kind)
	assert.Equal(t, PID("p"), sd.Peer)
}

func TestString(t *testing.T) {
	assert.Equal(t, "demo:worker/1", MFA{Mod: "demo", Fun: "worker", Arity: 1}.String())
	assert.Equal(t, "send(p, q, 42)", Send("p", "q", 42).String())
	assert.Equal(t, "spawn(p, q, demo:worker/1)", Spawn("p", "q", MFA{Mod: "demo", Fun: "worker", Arity: 1}).String())
	assert.Equal(t, "exit(p, normal)", Exit("p", "normal").String())
}
