package interp

import (
	"fmt"
	"sync"

	"github.com/specialistvlad/actortheater/internal/scriptsrc"
	"go.starlark.net/starlark"
)

// localEntry marks a thread executing a module body with that module's
// cache entry.
const localEntry = "actortheater.module"

// moduleCache holds the globals of Starlark files loaded with load(). An
// instance owns its cache unless it is on the unchecked shared-allocator
// path, where the runtime's cache is used.
type moduleCache struct {
	mu      sync.Mutex
	entries map[string]*moduleEntry
	// waits maps a module being executed to the pending module it is
	// blocked on, directly or through nested execution.
	waits map[*moduleEntry]*moduleEntry
}

type moduleEntry struct {
	path    string
	done    chan struct{}
	globals starlark.StringDict
	err     error
}

func newModuleCache() *moduleCache {
	return &moduleCache{
		entries: make(map[string]*moduleEntry),
		waits:   make(map[*moduleEntry]*moduleEntry),
	}
}

// load implements starlark.Thread.Load. Enabled extensions take precedence
// over files; files resolve relative to the script that loads them.
func (i *Instance) load(th *starlark.Thread, module string) (starlark.StringDict, error) {
	if members, ok := i.extensions[module]; ok {
		return members, nil
	}
	if _, ok := i.rt.extensions[module]; ok {
		return nil, fmt.Errorf("extension %q is not enabled for this interpreter", module)
	}

	path := scriptsrc.Resolve(scriptsrc.Dir(threadScript(th)), module)
	return i.modules.get(i, th, path)
}

func (c *moduleCache) get(i *Instance, th *starlark.Thread, path string) (starlark.StringDict, error) {
	for _, p := range loadChain(th) {
		if p == path {
			return nil, fmt.Errorf("cycle in load graph at %s", path)
		}
	}
	self, _ := th.Local(localEntry).(*moduleEntry)

	c.mu.Lock()
	e, ok := c.entries[path]
	if !ok {
		e = &moduleEntry{path: path, done: make(chan struct{})}
		c.entries[path] = e
		c.blockOn(self, e)
		c.mu.Unlock()

		e.globals, e.err = i.execModule(th, e)
		close(e.done)
		c.release(self)
		return e.globals, e.err
	}

	select {
	case <-e.done:
		c.mu.Unlock()
		return e.globals, e.err
	default:
	}
	// e is executing on another thread, possibly of another instance. If
	// that execution is itself blocked, directly or transitively, on the
	// module this thread is executing, waiting would never end.
	for d := e; d != nil; d = c.waits[d] {
		if d == self {
			c.mu.Unlock()
			return nil, fmt.Errorf("cycle in load graph at %s", path)
		}
	}
	c.blockOn(self, e)
	c.mu.Unlock()

	// The other thread may be parked in its step yield on our lock.
	i.unlocked(func() { <-e.done })
	c.release(self)
	return e.globals, e.err
}

// blockOn records that self waits for e. c.mu must be held.
func (c *moduleCache) blockOn(self, e *moduleEntry) {
	if self != nil {
		c.waits[self] = e
	}
}

func (c *moduleCache) release(self *moduleEntry) {
	if self == nil {
		return
	}
	c.mu.Lock()
	delete(c.waits, self)
	c.mu.Unlock()
}

func (i *Instance) execModule(parent *starlark.Thread, e *moduleEntry) (starlark.StringDict, error) {
	ctx := threadContext(parent)
	src, err := i.readScript(ctx, e.path)
	if err != nil {
		return nil, err
	}
	th := i.newThread(ctx, parent.Name+":"+e.path, e.path)
	th.SetLocal(localChain, loadChain(parent))
	th.SetLocal(localEntry, e)
	globals, err := starlark.ExecFileOptions(fileOptions, th, e.path, src, i.predeclared)
	if err != nil {
		return nil, err
	}
	globals.Freeze()
	return globals, nil
}

func loadChain(th *starlark.Thread) []string {
	chain, _ := th.Local(localChain).([]string)
	out := make([]string, 0, len(chain)+1)
	return append(append(out, chain...), threadScript(th))
}
