package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrThreadLimit is returned by ThreadLauncher when no more threads may be
// started.
var ErrThreadLimit = errors.New("thread limit reached")

// Launcher starts fn on a new thread of execution.
type Launcher interface {
	Launch(fn func()) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(fn func()) error

// Launch implements Launcher.
func (f LauncherFunc) Launch(fn func()) error { return f(fn) }

// ThreadLauncher runs every unit on a goroutine wired to its own OS thread.
// The goroutine never unlocks the thread, so the thread is discarded when
// the unit returns instead of being reused by the Go scheduler.
type ThreadLauncher struct {
	// MaxThreads caps the number of units alive at once. Zero means no cap.
	MaxThreads int

	mu      sync.Mutex
	running int
}

// Launch implements Launcher.
func (l *ThreadLauncher) Launch(fn func()) error {
	l.mu.Lock()
	if l.MaxThreads > 0 && l.running >= l.MaxThreads {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d threads running", ErrThreadLimit, l.MaxThreads)
	}
	l.running++
	l.mu.Unlock()

	go func() {
		runtime.LockOSThread()
		defer l.release()
		fn()
	}()
	return nil
}

// Running reports how many units are alive.
func (l *ThreadLauncher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *ThreadLauncher) release() {
	l.mu.Lock()
	l.running--
	l.mu.Unlock()
}
