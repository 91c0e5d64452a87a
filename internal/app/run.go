package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/specialistvlad/actortheater/internal/coordinator"
	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/statusfeed"
	"github.com/specialistvlad/actortheater/internal/tracing"
	"github.com/specialistvlad/actortheater/internal/worker"
)

// Run loads the theater and executes it once. Script failures are logged and
// do not produce an error; runtime initialization and worker spawn failures
// do.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	a.ctx = ctx
	logger.Debug("App.Run method started.")

	model, err := a.loadModel(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	plan, err := buildPlan(model)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if a.config.TraceFile != "" {
		shutdown, err := a.startTracing(ctx)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	reporters := []progress.Reporter{a.reporter}
	if a.config.StatusURL != "" {
		feed, err := statusfeed.Dial(ctx, statusfeed.Config{
			URL:                a.config.StatusURL,
			Namespace:          a.config.StatusNamespace,
			Event:              a.config.StatusEvent,
			RunID:              runID,
			InsecureSkipVerify: a.config.StatusInsecure,
		})
		if err != nil {
			logger.Warn("Status feed unavailable, continuing without it.", "error", err)
		} else {
			defer feed.Close()
			reporters = append(reporters, feed)
		}
	}

	signals := a.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	rtOpts := []interp.Option{
		interp.WithSource(a.source),
		interp.WithOutput(a.outW),
		interp.WithExtensions(moduleExtensions(coreModules)...),
		interp.WithExtensions(a.extensions...),
	}
	if model.Runtime.SwitchInterval > 0 {
		rtOpts = append(rtOpts, interp.WithSwitchInterval(model.Runtime.SwitchInterval))
	}
	maxThreads := model.Runtime.MaxThreads
	if a.config.MaxThreads > 0 {
		maxThreads = a.config.MaxThreads
	}

	coord := coordinator.New(interp.NewRuntime(rtOpts...), plan,
		coordinator.WithLauncher(&worker.ThreadLauncher{MaxThreads: maxThreads}),
		coordinator.WithReporter(progress.Multi(reporters...)),
		coordinator.WithSignals(signals),
	)
	a.coord.Store(coord)

	if err := a.startHealthcheckServer(); err != nil {
		return err
	}
	defer a.closeHealthcheckServer()

	logger.Info("🚀 Starting theater.", "workers", len(plan.Workers), "primary", plan.Primary, "max_threads", maxThreads)
	if err := coord.Run(ctx); err != nil {
		return fmt.Errorf("theater run failed: %w", err)
	}
	logger.Info("🏁 Theater finished.")
	return nil
}

func (a *App) startTracing(ctx context.Context) (func(), error) {
	f, err := os.Create(a.config.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	shutdown, err := tracing.Init("actortheater", Version, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Tracing enabled.", "file", a.config.TraceFile)
	return func() {
		if err := shutdown(context.Background()); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to flush traces.", "error", err)
		}
		f.Close()
	}, nil
}
