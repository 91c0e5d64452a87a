package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/scriptsrc"
	"go.starlark.net/starlark"
)

// DefaultSwitchInterval is the number of Starlark execution steps a thread
// runs before offering its lock to other threads.
const DefaultSwitchInterval = 1000

type runtimeState int

const (
	stateNew runtimeState = iota
	stateReady
	stateFinalizing
	stateFinalized
)

// Runtime is the process-wide interpreter state. It is created once, set up
// by Init before any instance exists, and torn down by Finalize after every
// instance has been destroyed.
type Runtime struct {
	mu    sync.Mutex
	state runtimeState

	extensions map[string]*Extension
	// single-phase extension modules, initialized once in Init
	shared map[string]starlark.StringDict

	sharedLock    sync.Mutex
	sharedModules *moduleCache

	source         scriptsrc.Source
	out            io.Writer
	outMu          sync.Mutex
	switchInterval uint64

	mainCfg Config
	main    *Instance

	live      sync.WaitGroup
	liveCount atomic.Int64
	nextID    atomic.Int64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithExtensions registers additional extension modules.
func WithExtensions(exts ...*Extension) Option {
	return func(r *Runtime) {
		for _, ext := range exts {
			r.extensions[ext.Name] = ext
		}
	}
}

// WithSource sets where scripts are read from.
func WithSource(src scriptsrc.Source) Option {
	return func(r *Runtime) { r.source = src }
}

// WithOutput sets the writer that receives script print output.
func WithOutput(w io.Writer) Option {
	return func(r *Runtime) { r.out = w }
}

// WithSwitchInterval sets how many execution steps a thread runs before it
// yields its lock.
func WithSwitchInterval(steps uint64) Option {
	return func(r *Runtime) { r.switchInterval = steps }
}

// WithMainConfig overrides the configuration of the main instance.
func WithMainConfig(cfg Config) Option {
	return func(r *Runtime) { r.mainCfg = cfg }
}

// NewRuntime returns an uninitialized runtime with the standard library
// extensions registered.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		extensions:     make(map[string]*Extension),
		shared:         make(map[string]starlark.StringDict),
		sharedModules:  newModuleCache(),
		source:         scriptsrc.New(),
		out:            os.Stdout,
		switchInterval: DefaultSwitchInterval,
		mainCfg:        MainConfig(),
	}
	WithExtensions(StdlibExtensions()...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init initializes single-phase extensions and creates the main instance.
// It may succeed at most once.
func (r *Runtime) Init(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateNew {
		return ErrAlreadyInitialized
	}
	if r.switchInterval == 0 {
		return fmt.Errorf("%w: switch interval must be positive", ErrUnsupportedIsolation)
	}

	shared := make(map[string]starlark.StringDict)
	for name, ext := range r.extensions {
		if ext.MultiInterpreter {
			continue
		}
		members, err := ext.Init()
		if err != nil {
			return fmt.Errorf("failed to initialize extension %q: %w", name, err)
		}
		for _, v := range members {
			v.Freeze()
		}
		shared[name] = members
		logger.Debug("Single-phase extension initialized.", "extension", name)
	}

	r.shared = shared
	main, err := r.newInstance(ctx, "main", r.mainCfg, true)
	if err != nil {
		r.shared = make(map[string]starlark.StringDict)
		return fmt.Errorf("failed to create main interpreter: %w", err)
	}

	r.main = main
	r.state = stateReady
	logger.Debug("Interpreter runtime initialized.", "extensions", len(r.extensions))
	return nil
}

// Main returns the main instance. It is owned by the runtime and must not be
// destroyed by callers.
func (r *Runtime) Main() (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateNew:
		return nil, ErrNotInitialized
	case stateReady:
		return r.main, nil
	default:
		return nil, ErrFinalizing
	}
}

// NewInstance creates an isolated instance. The caller owns it and must
// Destroy it before Finalize can complete.
func (r *Runtime) NewInstance(ctx context.Context, name string, cfg Config) (*Instance, error) {
	r.mu.Lock()
	switch r.state {
	case stateNew:
		r.mu.Unlock()
		return nil, ErrNotInitialized
	case stateFinalizing, stateFinalized:
		r.mu.Unlock()
		return nil, ErrFinalizing
	}
	r.live.Add(1)
	r.liveCount.Add(1)
	r.mu.Unlock()

	inst, err := r.newInstance(ctx, name, cfg, false)
	if err != nil {
		r.release()
		return nil, err
	}
	return inst, nil
}

// Live reports how many worker instances exist right now.
func (r *Runtime) Live() int {
	return int(r.liveCount.Load())
}

// Finalize waits for every instance to be destroyed, destroys the main
// instance and tears the runtime down. It may succeed at most once.
func (r *Runtime) Finalize(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	r.mu.Lock()
	switch r.state {
	case stateNew:
		r.mu.Unlock()
		return ErrNotInitialized
	case stateFinalizing, stateFinalized:
		r.mu.Unlock()
		return ErrFinalizing
	}
	r.state = stateFinalizing
	r.mu.Unlock()

	if n := r.Live(); n > 0 {
		logger.Info("Waiting for live interpreters before finalizing.", "live", n)
	}
	r.live.Wait()

	if err := r.main.Destroy(); err != nil {
		logger.Warn("Main interpreter was already destroyed.", "error", err)
	}

	r.mu.Lock()
	r.shared = nil
	r.sharedModules = newModuleCache()
	r.main = nil
	r.state = stateFinalized
	r.mu.Unlock()

	logger.Debug("Interpreter runtime finalized.")
	return nil
}

func (r *Runtime) release() {
	r.liveCount.Add(-1)
	r.live.Done()
}

func (r *Runtime) writeLine(line string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = io.WriteString(r.out, line)
}
