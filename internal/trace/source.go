// Package trace defines the primitive that delivers raw trace events
// from the observed program, and an in-memory emulation of it used by
// tests and the demo driver. The real primitive lives in the host
// runtime; the tracer network only depends on the Source interface.
package trace

import (
	"sync"

	"github.com/sltsclo/detecter/internal/event"
)

// Sink receives the events of the processes its holder observes.
// Delivery order per process follows emission order.
type Sink interface {
	Deliver(ev event.Event)
}

// Source is the trace primitive. Both operations must be safe for
// concurrent callers from multiple tracers.
type Source interface {
	// Trace begins delivering lifecycle and message events of p, and
	// transitively of processes p spawns, to sink until superseded.
	Trace(p event.PID, sink Sink) bool

	// Preempt transfers delivery of p's events to sink. Returns false
	// if p has already exited; that case is normal and non-fatal.
	Preempt(p event.PID, sink Sink) bool
}

// =============================================================================
// IN-MEMORY EMULATION
// =============================================================================

// Emulator is an in-memory Source. A driver feeds it the target
// program's event stream through Emit; the emulator keeps the
// per-process observer map that the real runtime primitive would, and
// applies the transitive-inheritance rule on spawn.
type Emulator struct {
	mu        sync.Mutex
	observers map[event.PID]Sink
	exited    map[event.PID]bool
}

// NewEmulator returns an empty emulator.
func NewEmulator() *Emulator {
	return &Emulator{
		observers: make(map[event.PID]Sink),
		exited:    make(map[event.PID]bool),
	}
}

// Trace implements Source.
func (s *Emulator) Trace(p event.PID, sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[p] = sink
	return true
}

// Preempt implements Source.
func (s *Emulator) Preempt(p event.PID, sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited[p] {
		return false
	}
	s.observers[p] = sink
	return true
}

// Emit injects one target-program event. The event is delivered to the
// current observer of its source process, if any; spawn events make the
// child inherit the parent's observer before delivery, and exit events
// retire the process; the exit itself still reaches the observer the
// process had.
func (s *Emulator) Emit(ev event.Event) {
	s.mu.Lock()
	sink := s.observers[ev.Src]
	if ev.Kind == event.KindSpawn && sink != nil {
		if _, taken := s.observers[ev.Child]; !taken {
			s.observers[ev.Child] = sink
		}
	}
	if ev.Kind == event.KindExit {
		s.exited[ev.Src] = true
		delete(s.observers, ev.Src)
	}
	s.mu.Unlock()

	if sink != nil {
		sink.Deliver(ev)
	}
}

// EmitAll injects a sequence of events in order.
func (s *Emulator) EmitAll(evs ...event.Event) {
	for _, ev := range evs {
		s.Emit(ev)
	}
}

// Observer reports the current observer of p, for tests.
func (s *Emulator) Observer(p event.PID) (Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.observers[p]
	return sink, ok
}
