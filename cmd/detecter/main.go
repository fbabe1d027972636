// Command detecter runs a demonstration verification session: an
// emulated target program is traced by the tracer network while a
// synthesized monitor checks a safety property over its events.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sltsclo/detecter/internal/analyzer"
	"github.com/sltsclo/detecter/internal/config"
	"github.com/sltsclo/detecter/internal/event"
	"github.com/sltsclo/detecter/internal/logging"
	"github.com/sltsclo/detecter/internal/monitor"
	"github.com/sltsclo/detecter/internal/trace"
	"github.com/sltsclo/detecter/internal/tracer"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "detecter",
		Short: "Runtime verification of concurrent message-passing programs",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "detecter.yaml", "path to the runtime configuration")
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trace the demo target program and report the verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.Development); err != nil {
				return err
			}
			defer logging.Sync()
			return runDemo(cmd.Context(), cfg)
		},
	}
}

func runDemo(ctx context.Context, cfg *config.Config) error {
	src := trace.NewEmulator()

	verdicts := make(chan string, 4)
	opts := tracer.Options{
		Analysis:    cfg.Tracer.Analysis,
		MailboxSize: cfg.Tracer.MailboxSize,
		OnVerdict: func(v *monitor.Term, proof []*analyzer.Entry) {
			verdicts <- fmt.Sprintf("verdict: %s (%d proof steps)", v.Op, len(proof))
		},
	}

	pred := func(mfa event.MFA) (*monitor.Term, bool) {
		if mfa.Fun == "worker" {
			return noSendOf42(), true
		}
		return nil, false
	}

	h, err := tracer.Start(src, "main_0", pred, opts)
	if err != nil {
		return err
	}

	main0, worker1 := event.PID("main_0"), event.PID("worker_1")
	entry := event.MFA{Mod: "demo", Fun: "worker", Arity: 1}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		src.EmitAll(
			event.Spawn(main0, worker1, entry),
			event.Spawned(worker1, main0, entry),
			event.Recv(worker1, main0, "ping"),
			event.Send(worker1, main0, 42),
			event.Exit(worker1, "normal"),
			event.Exit(main0, "normal"),
		)
		return nil
	})
	g.Go(func() error {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		sigs, err := h.Wait(waitCtx)
		if err != nil {
			h.Stop()
			return err
		}
		for _, sig := range sigs {
			if sig.Err != nil {
				return fmt.Errorf("tracer %s aborted: %w", sig.ID, sig.Err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	close(verdicts)
	for v := range verdicts {
		fmt.Println(v)
	}
	stats := h.Stats()
	fmt.Printf("events traced: %d (spawn=%d exit=%d send=%d recv=%d spawned=%d other=%d)\n",
		stats.Total(), stats.Spawn, stats.Exit, stats.Send, stats.Recv, stats.Spawned, stats.Other)
	return nil
}

// noSendOf42 builds the demo property: the monitored process never
// sends the value 42.
func noSendOf42() *monitor.Term {
	bad := func(ev event.Event) bool {
		n, ok := ev.Msg.(int)
		return ev.Kind == event.KindSend && ok && n == 42
	}

	var loop func() *monitor.Term
	loop = func() *monitor.Term {
		return monitor.Chs(monitor.Env{},
			monitor.Act(monitor.Env{Pat: "send(_, 42)"}, bad,
				func(event.Event) *monitor.Term { return monitor.No(monitor.Env{}) }),
			monitor.Act(monitor.Env{Var: "e", Pat: "_"},
				func(ev event.Event) bool { return !bad(ev) },
				func(event.Event) *monitor.Term {
					return monitor.Var(monitor.Env{Var: "X", NS: "X"}, loop)
				}),
		)
	}
	return monitor.Rec(monitor.Env{Var: "X", Str: "rec X. send(_, 42).no + _.X"}, loop)
}
