// Package event defines the canonical representation of a single
// observation of the target program: who did what, plus the
// kind-specific payload. Events are immutable values; everything
// downstream (analyzers, tracers, monitors) consumes them by value.
package event

import "fmt"

// PID identifies a target-program process. It is an opaque comparable
// token; the tracer network never inspects its structure.
type PID string

// NilPID is the zero process identity.
const NilPID PID = ""

// MFA describes a process entry point: the callable the new process
// starts executing. Spawn events carry it so the instrumentation
// predicate can decide whether the child warrants a monitor.
type MFA struct {
	Mod   string
	Fun   string
	Arity int
}

// String returns the usual mod:fun/arity rendering.
func (m MFA) String() string {
	return fmt.Sprintf("%s:%s/%d", m.Mod, m.Fun, m.Arity)
}

// Kind tags an event with the lifecycle or communication step it
// records.
type Kind string

const (
	KindSpawn   Kind = "spawn"   // Src created Child with entry point Entry
	KindExit    Kind = "exit"    // Src terminated with Reason
	KindSend    Kind = "send"    // Src sent Msg to Peer
	KindRecv    Kind = "recv"    // Src received Msg from Peer
	KindSpawned Kind = "spawned" // Src was created by Peer with entry point Entry
)

// Recognized reports whether k is one of the five recognized kinds.
// Anything else lands in the stats "other" bucket.
func (k Kind) Recognized() bool {
	switch k {
	case KindSpawn, KindExit, KindSend, KindRecv, KindSpawned:
		return true
	}
	return false
}

// Event is one observation of the target program. The first two fields
// are common to all kinds; the rest are payload and only meaningful for
// the kinds noted on each field.
type Event struct {
	Kind Kind
	Src  PID // the process the observation is about

	Child  PID   // spawn: the created process
	Entry  MFA   // spawn, spawned: entry point of the created process
	Peer   PID   // send, recv: the other endpoint; spawned: the parent
	Msg    any   // send, recv: the message payload
	Reason any   // exit: termination reason
}

// Spawn builds a spawn observation: src created child, which begins
// executing entry.
func Spawn(src, child PID, entry MFA) Event {
	return Event{Kind: KindSpawn, Src: src, Child: child, Entry: entry}
}

// Exit builds an exit observation.
func Exit(src PID, reason any) Event {
	return Event{Kind: KindExit, Src: src, Reason: reason}
}

// Send builds a send observation: src sent msg to peer.
func Send(src, peer PID, msg any) Event {
	return Event{Kind: KindSend, Src: src, Peer: peer, Msg: msg}
}

// Recv builds a receive observation: src received msg from peer.
func Recv(src, peer PID, msg any) Event {
	return Event{Kind: KindRecv, Src: src, Peer: peer, Msg: msg}
}

// Spawned builds the child-side counterpart of a spawn: src was created
// by parent and begins executing entry.
func Spawned(src, parent PID, entry MFA) Event {
	return Event{Kind: KindSpawned, Src: src, Peer: parent, Entry: entry}
}

// String renders the event for logs and proof entries.
func (e Event) String() string {
	switch e.Kind {
	case KindSpawn:
		return fmt.Sprintf("spawn(%s, %s, %s)", e.Src, e.Child, e.Entry)
	case KindExit:
		return fmt.Sprintf("exit(%s, %v)", e.Src, e.Reason)
	case KindSend:
		return fmt.Sprintf("send(%s, %s, %v)", e.Src, e.Peer, e.Msg)
	case KindRecv:
		return fmt.Sprintf("recv(%s, %s, %v)", e.Src, e.Peer, e.Msg)
	case KindSpawned:
		return fmt.Sprintf("spawned(%s, %s, %s)", e.Src, e.Peer, e.Entry)
	default:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Src)
	}
}
