// Package primary runs the primary script on the runtime's main interpreter.
// The primary is the only part of a run that receives process signals.
package primary

import (
	"context"
	"os"
	"sync"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/tracing"
)

// Controller drives the primary script. It is used from the coordinator's
// goroutine and is not safe for concurrent Run calls.
type Controller struct {
	rt       *interp.Runtime
	script   string
	signals  <-chan os.Signal
	reporter progress.Reporter

	stop     chan struct{}
	stopOnce sync.Once
	watching sync.WaitGroup
}

// New returns a controller for script. signals may be nil when the caller
// does not forward process signals.
func New(rt *interp.Runtime, script string, signals <-chan os.Signal, reporter progress.Reporter) *Controller {
	if reporter == nil {
		reporter = progress.Discard
	}
	return &Controller{
		rt:       rt,
		script:   script,
		signals:  signals,
		reporter: reporter,
		stop:     make(chan struct{}),
	}
}

// Run executes the primary script on the main instance and returns its
// result. A signal received while the script runs interrupts it; signals
// received afterwards are only logged until Close.
func (c *Controller) Run(ctx context.Context) interp.Result {
	logger := ctxlog.FromContext(ctx)
	ev := progress.Event{Worker: progress.PrimaryID, Name: "main", Script: c.script}

	ctx, span := tracing.StartSpan(ctx, "primary.run", map[string]string{"script": c.script})

	main, err := c.rt.Main()
	if err != nil {
		res := interp.Result{Outcome: interp.CreationFailure, Script: c.script, Err: err}
		logger.Error("Main interpreter is not available.", "error", err)
		tracing.EndSpan(span, err)
		return res
	}

	logger.Info("Primary script started.", "script", c.script)
	ev.Stage = progress.StagePrimaryStarted
	progress.Emit(ctx, c.reporter, ev)

	finished := make(chan struct{})
	c.watching.Add(1)
	go c.watch(ctx, main, finished)

	res := main.RunScript(ctx, c.script)
	close(finished)
	tracing.EndSpan(span, res.Err)

	switch res.Outcome {
	case interp.OpenFailure:
		logger.Error("Failed to open primary script.", "script", c.script, "error", res.Err)
	case interp.RuntimeFailure:
		logger.Error("Primary script failed.", "script", c.script, "error", res.Err, "duration", res.Duration)
	default:
		logger.Info("Primary script finished.", "script", c.script, "duration", res.Duration)
	}
	ev.Stage = progress.StagePrimaryFinished
	ev.Result = &res
	progress.Emit(ctx, c.reporter, ev)
	return res
}

// Close stops signal handling.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.watching.Wait()
}

func (c *Controller) watch(ctx context.Context, main *interp.Instance, finished <-chan struct{}) {
	defer c.watching.Done()
	logger := ctxlog.FromContext(ctx)

	for {
		select {
		case <-c.stop:
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			select {
			case <-finished:
				logger.Info("Signal received after the primary script finished.", "signal", sig.String())
				continue
			default:
			}
			logger.Warn("Signal received, interrupting primary script.", "signal", sig.String())
			main.Interrupt("interrupted by signal " + sig.String())
			progress.Emit(ctx, c.reporter, progress.Event{
				Stage:  progress.StagePrimarySignalled,
				Worker: progress.PrimaryID,
				Name:   "main",
				Script: c.script,
			})
		}
	}
}
