package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mix-go/xcli/flag"
	"golang.org/x/sync/errgroup"

	"taskkernel/scheduler"
	"taskkernel/web"
)

type RunCommand struct{}

func (t *RunCommand) Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := boot(ctx)
	opts := a.schedulerOptions()
	if v := flag.Match("grace").String(""); v != "" {
		grace, err := time.ParseDuration(v)
		if err != nil {
			a.logger.Fatalf("invalid --grace %q: %v", v, err)
		}
		opts = append(opts, scheduler.WithGracePeriod(grace))
	}
	sched := scheduler.NewScheduler(a.kernel.Rules, a.kernel.Invoker, a.logger, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if addr := flag.Match("addr").String(""); addr != "" {
		var runs web.RunLister
		if a.history != nil {
			runs = a.history
		}
		server := web.NewStatusServer(sched.Rules(), runs, a.logger)
		g.Go(func() error {
			return server.Serve(gctx, addr)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, scheduler.ErrShutdownInterrupted) {
			a.logger.Warnf("%v", err)
			return
		}
		a.logger.Fatalf("scheduler exited: %v", err)
	}
}
