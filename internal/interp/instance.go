package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/tracing"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Thread-local keys set on every Starlark thread an instance creates.
const (
	localContext  = "actortheater.context"
	localScript   = "actortheater.script"
	localChain    = "actortheater.loadchain"
	localInstance = "actortheater.instance"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Instance is one isolated Starlark execution environment. It runs at most
// one script and is destroyed by its creator.
type Instance struct {
	id   int64
	name string
	rt   *Runtime
	cfg  Config
	main bool

	lock        sync.Locker
	modules     *moduleCache
	extensions  map[string]starlark.StringDict
	predeclared starlark.StringDict

	used      atomic.Bool
	destroyed atomic.Bool

	mu          sync.Mutex // guards current, daemons, procs
	current     *starlark.Thread
	daemons     []*starlark.Thread
	procs       []*exec.Cmd
	threads     sync.WaitGroup
	daemonWG    sync.WaitGroup
	threadSeq   atomic.Int64
	interrupted chan struct{}
	interruptMu sync.Once
	closing     chan struct{}
}

func (r *Runtime) newInstance(ctx context.Context, name string, cfg Config, main bool) (*Instance, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exts := make(map[string]starlark.StringDict, len(cfg.Extensions))
	for _, extName := range cfg.Extensions {
		ext, ok := r.extensions[extName]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownExtension, extName)
		}
		if !ext.MultiInterpreter {
			if cfg.CheckExtensions {
				return nil, fmt.Errorf("%w: %q", ErrIncompatibleExtension, extName)
			}
			exts[extName] = r.shared[extName]
			continue
		}
		members, err := ext.Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize extension %q: %w", extName, err)
		}
		exts[extName] = members
	}

	globals, err := globalsDict(cfg.Globals)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		id:          r.nextID.Add(1),
		name:        name,
		rt:          r,
		cfg:         cfg,
		main:        main,
		extensions:  exts,
		interrupted: make(chan struct{}),
		closing:     make(chan struct{}),
	}
	if cfg.Lock == SharedLock {
		inst.lock = &r.sharedLock
	} else {
		inst.lock = new(sync.Mutex)
	}
	// Loaded modules are only shared on the explicitly unchecked path;
	// a checked shared-allocator instance keeps its own registry.
	if cfg.Allocator == SharedAllocator && !cfg.CheckExtensions {
		inst.modules = r.sharedModules
	} else {
		inst.modules = newModuleCache()
	}

	inst.predeclared = inst.builtins()
	for k, v := range globals {
		if _, clash := inst.predeclared[k]; clash {
			return nil, fmt.Errorf("global %q shadows a builtin", k)
		}
		inst.predeclared[k] = v
	}

	ctxlog.FromContext(ctx).Debug("Interpreter instance created.",
		"interp", name, "id", inst.id, "lock", cfg.Lock, "allocator", cfg.Allocator)
	return inst, nil
}

// ID returns the runtime-unique instance id.
func (i *Instance) ID() int64 { return i.id }

// RunScript executes the script at path to completion. If the script
// defines a callable named main it is called after the top-level code.
// Threads started by the script are waited for before RunScript returns.
func (i *Instance) RunScript(ctx context.Context, path string) (res Result) {
	start := time.Now()
	res.Script = path
	defer func() { res.Duration = time.Since(start) }()

	if i.destroyed.Load() {
		res.Outcome, res.Err = RuntimeFailure, ErrInstanceDestroyed
		return res
	}
	if !i.used.CompareAndSwap(false, true) {
		res.Outcome, res.Err = RuntimeFailure, ErrInstanceUsed
		return res
	}

	ctx, span := tracing.StartSpan(ctx, "interp.run_script", map[string]string{
		"interp": i.name,
		"script": path,
	})
	defer func() { tracing.EndSpan(span, res.Err) }()

	src, err := i.readScript(ctx, path)
	if err != nil {
		res.Outcome, res.Err = OpenFailure, err
		return res
	}

	th := i.newThread(ctx, i.name, path)
	i.mu.Lock()
	i.current = th
	i.mu.Unlock()
	select {
	case <-i.interrupted:
		th.Cancel("interrupted")
	default:
	}

	i.lock.Lock()
	globals, err := starlark.ExecFileOptions(fileOptions, th, path, src, i.predeclared)
	if err == nil {
		if fn, ok := globals["main"].(starlark.Callable); ok {
			_, err = starlark.Call(th, fn, nil, nil)
		}
	}
	i.lock.Unlock()

	i.mu.Lock()
	i.current = nil
	i.mu.Unlock()

	i.threads.Wait()

	if err != nil {
		res.Outcome, res.Err = RuntimeFailure, err
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			ctxlog.FromContext(ctx).Debug("Script backtrace.", "interp", i.name, "backtrace", evalErr.Backtrace())
		}
		return res
	}
	res.Outcome = Success
	return res
}

// Interrupt cancels the running script and wakes any sleeping builtin. It is
// used for signal delivery to the main instance.
func (i *Instance) Interrupt(reason string) {
	i.interruptMu.Do(func() { close(i.interrupted) })
	i.mu.Lock()
	th := i.current
	i.mu.Unlock()
	if th != nil {
		th.Cancel(reason)
	}
}

// Destroy waits for script threads, stops daemon threads and started
// processes, and releases all instance-local state. A second call returns
// ErrInstanceDestroyed.
func (i *Instance) Destroy() error {
	if !i.destroyed.CompareAndSwap(false, true) {
		return ErrInstanceDestroyed
	}

	i.threads.Wait()
	close(i.closing)

	i.mu.Lock()
	daemons, procs := i.daemons, i.procs
	i.daemons, i.procs = nil, nil
	i.mu.Unlock()

	for _, th := range daemons {
		th.Cancel("interpreter destroyed")
	}
	i.daemonWG.Wait()

	for _, cmd := range procs {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}

	i.predeclared = nil
	i.extensions = nil
	i.modules = nil

	if !i.main {
		i.rt.release()
	}
	return nil
}

func (i *Instance) readScript(ctx context.Context, path string) ([]byte, error) {
	rc, err := i.rt.source.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// newThread returns a Starlark thread bound to this instance. The thread
// must hold i.lock while executing; every switchInterval steps it releases
// the lock so that other threads waiting on it can run.
func (i *Instance) newThread(ctx context.Context, name, script string) *starlark.Thread {
	interval := i.rt.switchInterval
	th := &starlark.Thread{
		Name:  name,
		Print: i.print,
		Load:  i.load,
	}
	th.SetLocal(localContext, ctx)
	th.SetLocal(localScript, script)
	th.SetLocal(localInstance, i)
	th.SetMaxExecutionSteps(interval)
	th.OnMaxSteps = func(th *starlark.Thread) {
		i.lock.Unlock()
		runtime.Gosched()
		i.lock.Lock()
		th.SetMaxExecutionSteps(th.ExecutionSteps() + interval)
	}
	return th
}

func (i *Instance) print(_ *starlark.Thread, msg string) {
	i.rt.writeLine("[" + i.name + "] " + msg + "\n")
}

// unlocked runs fn with the instance lock released. Blocking builtins use it
// so that other threads sharing the lock can make progress.
func (i *Instance) unlocked(fn func()) {
	i.lock.Unlock()
	defer i.lock.Lock()
	fn()
}

func (i *Instance) nextThreadName() string {
	return i.name + "/thread-" + strconv.FormatInt(i.threadSeq.Add(1), 10)
}

// Blocking runs fn with the lock of the instance owning th released. Extension
// builtins wrap network and disk I/O in it. On a thread that does not belong
// to an instance fn simply runs.
func Blocking(th *starlark.Thread, fn func()) {
	if i, ok := th.Local(localInstance).(*Instance); ok {
		i.unlocked(fn)
		return
	}
	fn()
}

// Context returns the context the script running on th was started with.
func Context(th *starlark.Thread) context.Context {
	return threadContext(th)
}

func threadContext(th *starlark.Thread) context.Context {
	if ctx, ok := th.Local(localContext).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func threadScript(th *starlark.Thread) string {
	s, _ := th.Local(localScript).(string)
	return s
}
