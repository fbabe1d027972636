package analyzer

import (
	"errors"
	"sync"

	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/logging"
)

// ErrAgentStopped is returned when posting to a stopped agent.
var ErrAgentStopped = errors.New("analyzer agent is stopped")

// Agent runs an Analyzer as its own single-threaded message-processing
// loop over a private FIFO mailbox. Tracers configured for external
// analysis post events here instead of reducing inline.
type Agent struct {
	anl    *Analyzer
	mb     chan event.Event
	stopCh chan struct{}
	done   chan struct{}
	stop   sync.Once
}

// NewAgent wraps anl in an agent with the given mailbox capacity and
// starts its loop.
func NewAgent(anl *Analyzer, mailbox int) *Agent {
	if mailbox <= 0 {
		mailbox = 256
	}
	g := &Agent{
		anl:    anl,
		mb:     make(chan event.Event, mailbox),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go g.run()
	return g
}

// Post enqueues an event for analysis. Events posted after Stop are
// dropped with ErrAgentStopped.
func (g *Agent) Post(ev event.Event) error {
	select {
	case <-g.stopCh:
		return ErrAgentStopped
	default:
	}
	select {
	case g.mb <- ev:
		return nil
	case <-g.stopCh:
		return ErrAgentStopped
	}
}

// Stop closes the agent to new posts, lets the loop analyze the events
// already in its mailbox, and waits for it to exit. Safe to call more
// than once.
func (g *Agent) Stop() {
	g.stop.Do(func() {
		close(g.stopCh)
	})
	<-g.done
}

// Analyzer returns the underlying analyzer, e.g. to read the verdict
// after the agent has stopped.
func (g *Agent) Analyzer() *Analyzer {
	return g.anl
}

func (g *Agent) run() {
	defer close(g.done)
	lg := logging.Get(logging.CategoryAnalyzer)
	for {
		select {
		case <-g.stopCh:
			// Drain events already enqueued so a verdict arriving just
			// before shutdown is not lost.
			for {
				select {
				case ev := <-g.mb:
					if _, err := g.anl.Analyze(ev); err != nil {
						lg.Errorw("analysis failed during drain", "event", ev.String(), "err", err)
						return
					}
				default:
					return
				}
			}
		case ev := <-g.mb:
			if _, err := g.anl.Analyze(ev); err != nil {
				// Malformed terms and guard violations are programmer
				// errors; the agent stops rather than limp on.
				lg.Errorw("analysis failed", "event", ev.String(), "err", err)
				g.stop.Do(func() { close(g.stopCh) })
				return
			}
		}
	}
}
