package tracer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/logging"
	"github.com/sltsclo/detecter/internal/trace"
)

// Handle is the bootstrapper's view of a running verification session:
// the root tracer plus the registry of every tracer spawned under it.
type Handle struct {
	root *Tracer
	reg  *registry
}

// Start bootstraps the tracer network: it creates the root tracer,
// begins tracing root (and transitively its descendants) through src,
// and returns the session handle. The root tracer carries no analyzer;
// descendants are instrumented as pred dictates.
func Start(src trace.Source, root event.PID, pred Predicate, opts Options) (*Handle, error) {
	if src == nil {
		return nil, errors.New("nil trace source")
	}
	if root == event.NilPID {
		return nil, errors.New("empty root process identity")
	}
	if pred == nil {
		return nil, errors.New("nil instrumentation predicate")
	}
	opts = opts.withDefaults()
	if !opts.Analysis.Valid() {
		return nil, fmt.Errorf("unknown analysis mode %q", opts.Analysis)
	}

	reg := newRegistry()
	rt := newTracer("", src, pred, reg, opts)
	rt.mode = ModeDirect
	rt.traced[root] = ProcDirect
	reg.add(rt)

	src.Trace(root, rt)
	go rt.run()

	logging.Get(logging.CategoryBoot).Infow("tracing started",
		"root", string(root), "tracer", string(rt.id), "analysis", string(opts.Analysis))
	return &Handle{root: rt, reg: reg}, nil
}

// Root returns the root tracer's identity.
func (h *Handle) Root() ID {
	return h.root.id
}

// Wait blocks until every tracer has garbage-collected itself, then
// returns their exit signals. The context bounds the wait.
func (h *Handle) Wait(ctx context.Context) ([]ExitSignal, error) {
	done := make(chan struct{})
	go func() {
		h.reg.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return h.reg.exitSignals(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop force-terminates any live tracers and releases the auxiliary
// lookup tables. Sessions that ran to completion only release tables.
func (h *Handle) Stop() {
	for _, t := range h.reg.snapshot() {
		t.stop()
	}
	h.reg.wg.Wait()
	h.reg.clear()
}

// Stats folds the exit-signal statistics of all terminated tracers.
func (h *Handle) Stats() Stats {
	var out Stats
	for _, sig := range h.reg.exitSignals() {
		out = out.Add(sig.Stats)
	}
	return out
}

// ExitSignals returns the exit signals recorded so far.
func (h *Handle) ExitSignals() []ExitSignal {
	return h.reg.exitSignals()
}
