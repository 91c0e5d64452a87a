package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/osthread"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/tracing"
)

// Task is the immutable description of one unit of work. It is copied into
// the unit when it is spawned.
type Task struct {
	ID     int
	Name   string
	Script string
	Config interp.Config
}

// Handle is the spawner's view of a running unit.
type Handle struct {
	task Task

	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
}

// Spawn starts a unit for task through launcher. The unit creates its own
// instance from rt. A launcher failure is returned and no unit runs.
func Spawn(ctx context.Context, rt *interp.Runtime, launcher Launcher, task Task, reporter progress.Reporter) (*Handle, error) {
	if task.Config.Globals != nil {
		globals := make(map[string]any, len(task.Config.Globals))
		for k, v := range task.Config.Globals {
			globals[k] = v
		}
		task.Config.Globals = globals
	}
	task.Config.Extensions = append([]string(nil), task.Config.Extensions...)

	h := &Handle{
		task:   task,
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
	// The script must run to completion even if the spawner's context is
	// cancelled; Handle.Cancel is the only stop signal.
	runCtx := ctxlog.With(context.WithoutCancel(ctx), "worker", task.ID, "name", task.Name)

	err := launcher.Launch(func() {
		defer close(h.done)
		h.run(runCtx, rt, reporter)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %d (%s): %w", task.ID, task.Name, err)
	}
	return h, nil
}

// Task returns the task the unit was spawned with.
func (h *Handle) Task() Task { return h.task }

// Cancel asks the unit to stop at its next safe point. A script that is
// already executing runs to completion.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

// Done is closed when the unit has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the unit has exited.
func (h *Handle) Wait() { <-h.done }

func (h *Handle) cancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

func (h *Handle) run(ctx context.Context, rt *interp.Runtime, reporter progress.Reporter) {
	logger := ctxlog.FromContext(ctx)
	task := h.task

	ctx, span := tracing.StartSpan(ctx, "worker.run", map[string]string{
		"worker": strconv.Itoa(task.ID),
		"name":   task.Name,
		"script": task.Script,
	})
	var res *interp.Result
	defer func() {
		var err error
		if res != nil {
			err = res.Err
		}
		tracing.EndSpan(span, err)
	}()

	ev := progress.Event{Worker: task.ID, Name: task.Name, Script: task.Script}
	logger.Info("Worker started.", "script", task.Script, "os_thread", osthread.ID())
	progress.Emit(ctx, reporter, withStage(ev, progress.StageWorkerStarted))

	if h.cancelled() {
		logger.Info("Worker cancelled before creating an interpreter.")
		progress.Emit(ctx, reporter, withStage(ev, progress.StageWorkerCancelled))
		return
	}

	inst, err := rt.NewInstance(ctx, task.Name, task.Config)
	if err != nil {
		logger.Error("Failed to create interpreter instance.", "error", err)
		res = &interp.Result{Outcome: interp.CreationFailure, Script: task.Script, Err: err}
		ev.Result = res
		progress.Emit(ctx, reporter, withStage(ev, progress.StageWorkerFinished))
		return
	}
	logger = logger.With("interp_id", inst.ID())
	defer func() {
		if err := inst.Destroy(); err != nil {
			logger.Warn("Failed to destroy interpreter instance.", "error", err)
		}
	}()

	if h.cancelled() {
		logger.Info("Worker cancelled before running its script.")
		progress.Emit(ctx, reporter, withStage(ev, progress.StageWorkerCancelled))
		return
	}

	r := inst.RunScript(ctx, task.Script)
	res = &r
	switch r.Outcome {
	case interp.OpenFailure:
		logger.Error("Failed to open script.", "script", task.Script, "error", r.Err)
	case interp.RuntimeFailure:
		logger.Error("Script failed.", "script", task.Script, "error", r.Err, "duration", r.Duration)
	default:
		logger.Info("Script finished.", "script", task.Script, "duration", r.Duration)
	}
	ev.Result = res
	progress.Emit(ctx, reporter, withStage(ev, progress.StageWorkerFinished))
}

func withStage(ev progress.Event, stage progress.Stage) progress.Event {
	ev.Stage = stage
	return ev
}
