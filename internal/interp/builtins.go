package interp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/osthread"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Builtins that act on an instance resolve it from the calling thread, not
// from the instance that bound them. A function defined in a module shared
// between instances must honor the caller's capabilities and lifetime.
var instanceBuiltins = starlark.StringDict{
	"sleep":         starlark.NewBuiltin("sleep", sleep),
	"thread_id":     starlark.NewBuiltin("thread_id", threadID),
	"start_thread":  starlark.NewBuiltin("start_thread", startThread),
	"run_command":   starlark.NewBuiltin("run_command", runCommand),
	"start_process": starlark.NewBuiltin("start_process", startProcess),
}

// builtins returns the predeclared names every script of this instance sees.
func (i *Instance) builtins() starlark.StringDict {
	d := make(starlark.StringDict, len(instanceBuiltins)+1)
	for k, v := range instanceBuiltins {
		d[k] = v
	}
	d["interp"] = starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":        starlark.MakeInt64(i.id),
		"name":      starlark.String(i.name),
		"lock":      starlark.String(i.cfg.Lock.String()),
		"allocator": starlark.String(i.cfg.Allocator.String()),
		"main":      starlark.Bool(i.main),
	})
	return d
}

// caller returns the instance th belongs to.
func caller(th *starlark.Thread, b *starlark.Builtin) (*Instance, error) {
	i, ok := th.Local(localInstance).(*Instance)
	if !ok {
		return nil, fmt.Errorf("%s: not called from an interpreter instance", b.Name())
	}
	return i, nil
}

// maxSleepSeconds keeps the duration representable as a time.Duration.
const maxSleepSeconds = float64(math.MaxInt64 / int64(time.Second))

// sleep(seconds) blocks without holding the instance lock.
func sleep(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	i, err := caller(th, b)
	if err != nil {
		return nil, err
	}
	var secs starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &secs); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(secs)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), secs.Type())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%s: duration must be finite", b.Name())
	}
	if f < 0 {
		return nil, fmt.Errorf("%s: negative duration", b.Name())
	}
	if f > maxSleepSeconds {
		return nil, fmt.Errorf("%s: duration %g exceeds %g seconds", b.Name(), f, maxSleepSeconds)
	}

	timer := time.NewTimer(time.Duration(f * float64(time.Second)))
	defer timer.Stop()

	i.unlocked(func() {
		select {
		case <-timer.C:
		case <-i.interrupted:
			err = errors.New("interrupted")
		case <-i.closing:
			err = errors.New("interpreter destroyed")
		case <-threadContext(th).Done():
			err = threadContext(th).Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func threadID(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(osthread.ID()), nil
}

// start_thread(fn, *args, daemon=False) runs fn on a new goroutine that
// competes for the instance lock. Non-daemon threads are joined before
// RunScript returns; daemon threads are stopped by Destroy.
func startThread(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	i, err := caller(th, b)
	if err != nil {
		return nil, err
	}
	if !i.cfg.AllowThreads {
		return nil, fmt.Errorf("%s: %w: threads are disabled", b.Name(), ErrCapability)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing function argument", b.Name())
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want callable", b.Name(), args[0].Type())
	}
	var daemon bool
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "daemon?", &daemon); err != nil {
		return nil, err
	}
	if daemon && !i.cfg.AllowDaemonThreads {
		return nil, fmt.Errorf("%s: %w: daemon threads are disabled", b.Name(), ErrCapability)
	}

	ctx := threadContext(th)
	name := i.nextThreadName()
	child := i.newThread(ctx, name, threadScript(th))
	child.SetLocal(localChain, loadChain(th))
	callArgs := append(starlark.Tuple(nil), args[1:]...)

	done := i.threads.Done
	if daemon {
		i.mu.Lock()
		select {
		case <-i.closing:
			i.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", b.Name(), ErrInstanceDestroyed)
		default:
		}
		i.daemons = append(i.daemons, child)
		i.daemonWG.Add(1)
		i.mu.Unlock()
		done = i.daemonWG.Done
	} else {
		i.threads.Add(1)
	}

	go func() {
		defer done()
		i.lock.Lock()
		_, err := starlark.Call(child, fn, callArgs, nil)
		i.lock.Unlock()
		if err != nil {
			ctxlog.FromContext(ctx).Error("Script thread failed.",
				"interp", i.name, "thread", name, "daemon", daemon, "error", err)
		}
	}()
	return starlark.String(name), nil
}

// run_command(*argv) runs a program to completion and returns its stdout.
func runCommand(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	i, err := caller(th, b)
	if err != nil {
		return nil, err
	}
	if !i.cfg.AllowExec {
		return nil, fmt.Errorf("%s: %w: exec is disabled", b.Name(), ErrCapability)
	}
	argv, err := argvOf(b, args, kwargs)
	if err != nil {
		return nil, err
	}

	var out []byte
	var stderr bytes.Buffer
	i.unlocked(func() {
		cmd := exec.CommandContext(threadContext(th), argv[0], argv[1:]...)
		cmd.Stderr = &stderr
		out, err = cmd.Output()
	})
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", b.Name(), err, msg)
		}
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(out), nil
}

// start_process(*argv) starts a child process and returns its pid. The
// process is killed when the instance is destroyed if it is still running.
func startProcess(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	i, err := caller(th, b)
	if err != nil {
		return nil, err
	}
	if !i.cfg.AllowFork {
		return nil, fmt.Errorf("%s: %w: process creation is disabled", b.Name(), ErrCapability)
	}
	argv, err := argvOf(b, args, kwargs)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	i.mu.Lock()
	i.procs = append(i.procs, cmd)
	i.mu.Unlock()
	return starlark.MakeInt(cmd.Process.Pid), nil
}

func argvOf(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) ([]string, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing program name", b.Name())
	}
	argv := make([]string, 0, len(args))
	for n, a := range args {
		s, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d: got %s, want string", b.Name(), n+1, a.Type())
		}
		argv = append(argv, s)
	}
	return argv, nil
}
