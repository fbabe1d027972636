// Package tracer implements the hierarchical tracer choreography: a
// tree of agents that partition the set of traced processes, route
// out-of-order events to the tracer owning each partition, and migrate
// trace ownership across tracers with a two-phase detach protocol.
//
// Each tracer is a single-threaded message-processing loop over a
// private FIFO mailbox. Tracers communicate exclusively by message
// passing; a tracer in priority mode defers all non-routed messages to
// a private queue and re-injects them, order preserved, once it
// transitions to direct mode.
package tracer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sltsclo/detecter/internal/analyzer"
	"github.com/sltsclo/detecter/internal/config"
	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/logging"
	"github.com/sltsclo/detecter/internal/monitor"
	"github.com/sltsclo/detecter/internal/trace"
)

var (
	// ErrNoRoute reports a routed trace event reaching a direct-mode
	// tracer with no routing entry for its source. This violates the
	// partition invariant and aborts the tracer.
	ErrNoRoute = errors.New("no route for routed event")

	// ErrUnknownMessage reports an inbound message no handler claims.
	ErrUnknownMessage = errors.New("unknown inbound message")
)

// ID identifies a tracer agent.
type ID string

func newID() ID {
	return ID("trc-" + uuid.NewString()[:8])
}

// Mode is the overall state of a tracer. A tracer is direct iff every
// process in its traced set is direct.
type Mode string

const (
	ModePriority Mode = "priority"
	ModeDirect   Mode = "direct"
)

// ProcMode is the per-process observation state within a traced set.
type ProcMode string

const (
	ProcPriority ProcMode = "priority"
	ProcDirect   ProcMode = "direct"
)

// Predicate maps a spawned process's entry point to an optional fresh
// monitor term. It is consulted only for spawn events whose source is
// traced directly, and must be pure with respect to the tracer.
type Predicate func(event.MFA) (*monitor.Term, bool)

// Options configures a verification session.
type Options struct {
	// Analysis selects inline or external monitor reduction for
	// instrumented tracers. Defaults to inline.
	Analysis config.AnalysisMode

	// MailboxSize is the buffered capacity of each mailbox.
	MailboxSize int

	// OnVerdict is invoked once per monitor when it first reaches a
	// verdict.
	OnVerdict analyzer.VerdictFunc
}

func (o Options) withDefaults() Options {
	if o.Analysis == "" {
		o.Analysis = config.AnalysisInline
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
	return o
}

// Tracer owns one trace partition: the processes in its traced set. It
// routes events for processes owned by descendant tracers, analyzes
// events for its own, and instruments new descendants in reaction to
// spawn events.
type Tracer struct {
	id     ID
	parent ID
	mode   Mode

	traced    map[event.PID]ProcMode
	routes    map[event.PID]ID
	detachVia map[event.PID]ID
	pending   []message

	mb     chan message
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once

	// stateMu guards mode and the tables against concurrent readers;
	// only the agent goroutine writes.
	stateMu sync.RWMutex

	anl   *analyzer.Analyzer
	agent *analyzer.Agent

	// initTarget and initMonitor are set on instrumented tracers: the
	// process this tracer was created to own, and its fresh monitor.
	initTarget  event.PID
	initMonitor *monitor.Term

	pred  Predicate
	src   trace.Source
	reg   *registry
	opts  Options
	stats Stats

	lg  *zap.SugaredLogger
	dlg *zap.SugaredLogger
}

func newTracer(parent ID, src trace.Source, pred Predicate, reg *registry, opts Options) *Tracer {
	id := newID()
	return &Tracer{
		id:        id,
		parent:    parent,
		traced:    make(map[event.PID]ProcMode),
		routes:    make(map[event.PID]ID),
		detachVia: make(map[event.PID]ID),
		mb:        make(chan message, opts.MailboxSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		pred:      pred,
		src:       src,
		reg:       reg,
		opts:      opts,
		lg:        logging.Get(logging.CategoryTracer).With("tracer", string(id)),
		dlg:       logging.Get(logging.CategoryDetach).With("tracer", string(id)),
	}
}

// ID returns the tracer's identity.
func (t *Tracer) ID() ID {
	return t.id
}

// Deliver implements trace.Sink: the trace primitive posts direct
// events here.
func (t *Tracer) Deliver(ev event.Event) {
	t.post(eventMsg{ev: ev})
}

func (t *Tracer) post(m message) {
	select {
	case t.mb <- m:
	case <-t.done:
	}
}

// sendTo posts m to the mailbox of peer. The send gives up if the peer
// terminates or this tracer is stopped, so shutdown never wedges on a
// full mailbox.
func (t *Tracer) sendTo(to ID, m message) {
	peer, ok := t.reg.lookup(to)
	if !ok {
		t.lg.Debugw("peer gone, message dropped", "to", string(to))
		return
	}
	select {
	case peer.mb <- m:
	case <-peer.done:
	case <-t.stopCh:
	}
}

func (t *Tracer) stop() {
	t.once.Do(func() { close(t.stopCh) })
}

// =============================================================================
// AGENT LOOP
// =============================================================================

func (t *Tracer) run() {
	if t.initMonitor != nil {
		if err := t.attachAnalyzer(); err != nil {
			t.terminate(err)
			return
		}
	}
	if t.initTarget != "" {
		// Assume direct observation of the target, then mark the end
		// of the routed partition. Preempt reports false when the
		// target already exited; the detach below is then dropped
		// harmlessly along the way.
		if !t.src.Preempt(t.initTarget, t) {
			t.dlg.Debugw("preempt on exited target", "target", string(t.initTarget))
		}
		t.sendTo(t.parent, detachMsg{sender: t.id, target: t.initTarget})
	}

	for {
		var m message
		if t.mode == ModeDirect && len(t.pending) > 0 {
			m = t.pending[0]
			t.pending = t.pending[1:]
		} else {
			select {
			case m = <-t.mb:
			case <-t.stopCh:
				t.terminate(nil)
				return
			}
		}

		t.stateMu.Lock()
		err := t.dispatch(m)
		gc := len(t.traced) == 0 && len(t.routes) == 0
		t.stateMu.Unlock()

		if err != nil {
			t.lg.Errorw("tracer aborted", "err", err)
			t.terminate(err)
			return
		}
		if gc {
			t.terminate(nil)
			return
		}
	}
}

func (t *Tracer) attachAnalyzer() error {
	anl := analyzer.New(t.opts.OnVerdict)
	if err := anl.Embed(t.initMonitor); err != nil {
		return fmt.Errorf("embed monitor: %w", err)
	}
	if t.opts.Analysis == config.AnalysisExternal {
		t.agent = analyzer.NewAgent(anl, t.opts.MailboxSize)
	} else {
		t.anl = anl
	}
	return nil
}

func (t *Tracer) dispatch(m message) error {
	switch t.mode {
	case ModeDirect:
		switch msg := m.(type) {
		case eventMsg:
			t.stats.bump(msg.ev.Kind)
			return t.handleEvent(msg.ev, "")
		case detachMsg:
			t.routeDetach(msg)
			return nil
		case routedEventMsg:
			t.stats.bump(msg.ev.Kind)
			return t.forwardEvent(msg)
		case routedDetachMsg:
			t.forwardDetach(msg)
			return nil
		}

	case ModePriority:
		switch msg := m.(type) {
		case routedDetachMsg:
			if msg.sender == t.id {
				t.handleDetach(msg)
			} else {
				t.forwardDetach(msg)
			}
			return nil
		case routedEventMsg:
			t.stats.bump(msg.ev.Kind)
			return t.handleEvent(msg.ev, msg.router)
		default:
			// Selective receive: only routed messages are consumed in
			// priority mode; the rest wait for the direct transition.
			t.pending = append(t.pending, m)
			return nil
		}
	}
	return fmt.Errorf("%w: %T in mode %q", ErrUnknownMessage, m, t.mode)
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// handleEvent processes an event this tracer observes, directly or via
// routing. router is the tracer that originally routed it, empty for
// direct events.
func (t *Tracer) handleEvent(ev event.Event, router ID) error {
	switch ev.Kind {
	case event.KindSpawn:
		if next, ok := t.routes[ev.Src]; ok {
			t.forward(next, ev, router)
			// Events of the child flow to the same subtree as its
			// parent's.
			t.routes[ev.Child] = next
			return nil
		}
		if err := t.analyze(ev); err != nil {
			return err
		}
		if m, ok := t.pred(ev.Entry); ok {
			return t.instrument(ev.Child, m, router)
		}
		if t.mode == ModePriority {
			t.traced[ev.Child] = ProcPriority
			if router != "" {
				// The child's events enter the network at the router;
				// the detach must drain from there.
				t.dlg.Debugw("issuing detach", "target", string(ev.Child), "to", string(router))
				t.sendTo(router, detachMsg{sender: t.id, target: ev.Child})
			}
		} else {
			t.traced[ev.Child] = ProcDirect
		}
		return nil

	case event.KindExit:
		if next, ok := t.routes[ev.Src]; ok {
			t.forward(next, ev, router)
			delete(t.routes, ev.Src)
			delete(t.detachVia, ev.Src)
			return nil
		}
		if err := t.analyze(ev); err != nil {
			return err
		}
		delete(t.traced, ev.Src)
		if t.mode == ModePriority && t.allDirect() {
			// The exiting process was the last one still in priority;
			// its detach, if still in flight, is dropped on arrival.
			t.mode = ModeDirect
			t.dlg.Infow("tracer direct", "traced", len(t.traced))
		}
		return nil

	default:
		if next, ok := t.routes[ev.Src]; ok {
			t.forward(next, ev, router)
			return nil
		}
		return t.analyze(ev)
	}
}

// forward routes ev to the next hop. The router identity is stamped by
// the tracer that converts a direct event into a routed one and
// preserved on every later hop.
func (t *Tracer) forward(next ID, ev event.Event, router ID) {
	if router == "" {
		router = t.id
	}
	t.sendTo(next, routedEventMsg{router: router, ev: ev})
}

// forwardEvent relays an already-routed event in direct mode. A
// missing route here violates the partition invariant.
func (t *Tracer) forwardEvent(m routedEventMsg) error {
	next, ok := t.routes[m.ev.Src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, m.ev)
	}
	t.sendTo(next, m)
	switch m.ev.Kind {
	case event.KindSpawn:
		t.routes[m.ev.Child] = next
	case event.KindExit:
		delete(t.routes, m.ev.Src)
		delete(t.detachVia, m.ev.Src)
	}
	return nil
}

// instrument spawns a fresh tracer owning p, parameterized by monitor
// m. The child is routed to from here on; its first action is to issue
// the detach that ends the routed partition.
func (t *Tracer) instrument(p event.PID, m *monitor.Term, router ID) error {
	child := newTracer(t.id, t.src, t.pred, t.reg, t.opts)
	child.mode = ModePriority
	child.traced[p] = ProcPriority
	child.initTarget = p
	child.initMonitor = m

	t.routes[p] = child.id
	if router == "" {
		router = t.id
	}
	t.detachVia[p] = router

	t.reg.add(child)
	go child.run()

	t.lg.Infow("instrumented tracer", "target", string(p), "child", string(child.id))
	return nil
}

func (t *Tracer) analyze(ev event.Event) error {
	switch {
	case t.agent != nil:
		if err := t.agent.Post(ev); err != nil {
			t.lg.Debugw("analyzer agent stopped, event dropped", "event", ev.String())
		}
		return nil
	case t.anl != nil:
		if _, err := t.anl.Analyze(ev); err != nil {
			return fmt.Errorf("analyze %s: %w", ev, err)
		}
		return nil
	default:
		// The root tracer carries no analyzer.
		return nil
	}
}

// =============================================================================
// DETACH PROTOCOL
// =============================================================================

// routeDetach handles a non-routed detach from an instrumented child.
// If the target's event stream enters the network upstream, the detach
// is injected there so it drains behind every in-flight event;
// otherwise the routed descent starts here.
func (t *Tracer) routeDetach(m detachMsg) {
	via, relay := t.detachVia[m.target]
	delete(t.detachVia, m.target)

	if relay && via != t.id {
		t.dlg.Debugw("relaying detach upstream",
			"target", string(m.target), "via", string(via), "sender", string(m.sender))
		t.sendTo(via, routedDetachMsg{router: t.id, sender: m.sender, target: m.target})
		return
	}

	next, ok := t.routes[m.target]
	if !ok {
		// The target's exit was processed first; nothing left to
		// drain.
		t.dlg.Debugw("detach for unrouted target dropped", "target", string(m.target))
		return
	}
	t.sendTo(next, routedDetachMsg{router: t.id, sender: m.sender, target: m.target})
	delete(t.routes, m.target)
}

// forwardDetach relays a routed detach one hop down the routing chain,
// clearing the entry for the target. A missing route means the
// target's exit raced ahead; the detach is dropped.
func (t *Tracer) forwardDetach(m routedDetachMsg) {
	next, ok := t.routes[m.target]
	if !ok {
		t.dlg.Debugw("routed detach dropped", "target", string(m.target))
		return
	}
	t.sendTo(next, m)
	delete(t.routes, m.target)
	delete(t.detachVia, m.target)
}

// handleDetach completes the round trip at the issuing tracer: the
// target flips from priority to direct, and with it possibly the whole
// tracer.
func (t *Tracer) handleDetach(m routedDetachMsg) {
	if _, ok := t.traced[m.target]; !ok {
		// The target exited while the detach was in flight.
		t.dlg.Debugw("detach for untraced target dropped", "target", string(m.target))
		return
	}
	t.traced[m.target] = ProcDirect
	if t.allDirect() {
		t.mode = ModeDirect
		t.dlg.Infow("tracer direct", "traced", len(t.traced))
	}
}

func (t *Tracer) allDirect() bool {
	for _, pm := range t.traced {
		if pm != ProcDirect {
			return false
		}
	}
	return true
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// Mode returns the tracer's overall mode.
func (t *Tracer) Mode() Mode {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.mode
}

// Traced returns a copy of the traced set.
func (t *Tracer) Traced() map[event.PID]ProcMode {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	out := make(map[event.PID]ProcMode, len(t.traced))
	for p, pm := range t.traced {
		out[p] = pm
	}
	return out
}

// RouteTable returns a copy of the routing table.
func (t *Tracer) RouteTable() map[event.PID]ID {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	out := make(map[event.PID]ID, len(t.routes))
	for p, id := range t.routes {
		out[p] = id
	}
	return out
}

// =============================================================================
// TERMINATION
// =============================================================================

func (t *Tracer) terminate(err error) {
	if t.agent != nil {
		t.agent.Stop()
	}
	close(t.done)
	t.reg.retire(ExitSignal{ID: t.id, Parent: t.parent, Stats: t.stats, Err: err})
	t.lg.Debugw("tracer terminated", "events", t.stats.Total(), "err", err)
}
