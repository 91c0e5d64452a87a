// Package coordinator sequences a theater run: runtime setup, worker spawn
// in declaration order, the primary script on the calling goroutine, joins
// in declaration order and runtime teardown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/primary"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/tracing"
	"github.com/specialistvlad/actortheater/internal/worker"
)

var (
	// ErrGlobalInit marks a failure to initialize the runtime. Nothing was
	// created and nothing needs to be torn down.
	ErrGlobalInit = errors.New("global runtime initialization failed")
	// ErrWorkerSpawn marks a failure to start a worker unit. Units already
	// started were cancelled and the runtime was finalized.
	ErrWorkerSpawn = errors.New("worker spawn failed")
)

// Plan is what a coordinator runs.
type Plan struct {
	Workers []worker.Task
	// Primary is the primary script path. Empty skips the primary stage.
	Primary string
}

// Coordinator owns one run of a Plan against one runtime.
type Coordinator struct {
	rt       *interp.Runtime
	plan     Plan
	launcher worker.Launcher
	reporter progress.Reporter
	signals  <-chan os.Signal

	state atomic.Int32
	ran   atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLauncher sets how worker threads are started.
func WithLauncher(l worker.Launcher) Option {
	return func(c *Coordinator) { c.launcher = l }
}

// WithReporter sets the progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// WithSignals sets the channel the primary controller listens on.
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Coordinator) { c.signals = ch }
}

// New returns a coordinator in StateInit.
func New(rt *interp.Runtime, plan Plan, opts ...Option) *Coordinator {
	c := &Coordinator{
		rt:       rt,
		plan:     plan,
		launcher: &worker.ThreadLauncher{},
		reporter: progress.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current phase. It is safe to call from any goroutine.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Run executes the plan. It returns nil when every stage completed, whatever
// the scripts' outcomes; script failures are only logged and reported.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	if !c.ran.CompareAndSwap(false, true) {
		return errors.New("coordinator already ran")
	}
	logger := ctxlog.FromContext(ctx)

	ctx, span := tracing.StartSpan(ctx, "coordinator.run", map[string]string{
		"workers": strconv.Itoa(len(c.plan.Workers)),
		"primary": c.plan.Primary,
	})
	defer func() { tracing.EndSpan(span, err) }()

	c.setState(ctx, StateInit)
	if err := c.rt.Init(ctx); err != nil {
		logger.Error("Failed to initialize the interpreter runtime.", "error", err)
		return fmt.Errorf("%w: %w", ErrGlobalInit, err)
	}

	c.setState(ctx, StateWorkersLaunching)
	handles := make([]*worker.Handle, 0, len(c.plan.Workers))
	for _, task := range c.plan.Workers {
		h, spawnErr := worker.Spawn(ctx, c.rt, c.launcher, task, c.reporter)
		if spawnErr != nil {
			logger.Error("Failed to spawn worker, cancelling the run.",
				"worker", task.ID, "name", task.Name, "spawned", len(handles), "error", spawnErr)
			for _, h := range handles {
				h.Cancel()
			}
			if err := c.finalize(ctx); err != nil {
				return errors.Join(fmt.Errorf("%w: %w", ErrWorkerSpawn, spawnErr), err)
			}
			return fmt.Errorf("%w: %w", ErrWorkerSpawn, spawnErr)
		}
		handles = append(handles, h)
		logger.Debug("Worker spawned.", "worker", task.ID, "name", task.Name)
	}
	logger.Info("All workers spawned.", "count", len(handles))

	c.setState(ctx, StatePrimaryRunning)
	if c.plan.Primary == "" {
		logger.Info("No primary script configured, skipping.")
	} else {
		ctrl := primary.New(c.rt, c.plan.Primary, c.signals, c.reporter)
		ctrl.Run(ctx)
		defer ctrl.Close()
	}

	c.setState(ctx, StateJoining)
	for _, h := range handles {
		h.Wait()
		task := h.Task()
		logger.Info("Worker joined.", "worker", task.ID, "name", task.Name)
		progress.Emit(ctx, c.reporter, progress.Event{
			Stage:  progress.StageWorkerJoined,
			Worker: task.ID,
			Name:   task.Name,
			Script: task.Script,
		})
	}

	return c.finalize(ctx)
}

// finalize tears the runtime down. It blocks until every live instance,
// including those of cancelled workers that were still running, has been
// destroyed.
func (c *Coordinator) finalize(ctx context.Context) error {
	if err := c.rt.Finalize(ctx); err != nil {
		return fmt.Errorf("failed to finalize the interpreter runtime: %w", err)
	}
	c.setState(ctx, StateFinalized)
	ctxlog.FromContext(ctx).Info("Interpreter runtime finalized.")
	return nil
}

func (c *Coordinator) setState(ctx context.Context, s State) {
	c.state.Store(int32(s))
	ctxlog.FromContext(ctx).Debug("Coordinator state changed.", "state", s.String())
	progress.Emit(ctx, c.reporter, progress.Event{Stage: progress.StageState, State: s.String()})
}
