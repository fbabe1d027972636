package tracer

import "github.com/sltsclo/detecter/internal/event"

// Tracer mailboxes carry four message kinds: direct trace events,
// routed trace events, and the non-routed and routed forms of the
// detach command. Routed messages carry the identity of the tracer
// that first converted the direct message into a routed one; forwarding
// hops preserve it.
type message interface {
	isMessage()
}

// eventMsg is a trace event delivered directly by the trace primitive.
type eventMsg struct {
	ev event.Event
}

// routedEventMsg is a trace event forwarded between tracers. router is
// the tracer that originally routed it.
type routedEventMsg struct {
	router ID
	ev     event.Event
}

// detachMsg is the non-routed end-of-partition command: sender has
// assumed direct observation of target.
type detachMsg struct {
	sender ID
	target event.PID
}

// routedDetachMsg is a detach travelling hop-by-hop along routing
// tables back to its issuer.
type routedDetachMsg struct {
	router ID
	sender ID
	target event.PID
}

func (eventMsg) isMessage()        {}
func (routedEventMsg) isMessage()  {}
func (detachMsg) isMessage()       {}
func (routedDetachMsg) isMessage() {}
