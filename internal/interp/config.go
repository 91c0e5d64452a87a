package interp

import (
	"fmt"
	"strings"
)

// LockMode selects whether an instance owns its execution lock.
type LockMode int

const (
	// OwnLock gives the instance a private lock; instances run in parallel.
	OwnLock LockMode = iota
	// SharedLock makes the instance serialize on the runtime's lock.
	SharedLock
)

func (m LockMode) String() string {
	if m == SharedLock {
		return "shared"
	}
	return "own"
}

// ParseLockMode converts "own" or "shared" into a LockMode.
func ParseLockMode(s string) (LockMode, error) {
	switch strings.ToLower(s) {
	case "", "own":
		return OwnLock, nil
	case "shared":
		return SharedLock, nil
	}
	return OwnLock, fmt.Errorf("%w: lock mode %q (want 'own' or 'shared')", ErrUnsupportedIsolation, s)
}

// AllocatorPolicy selects whether module state lives in the instance or in
// the runtime. The runtime's module cache is only used by SharedAllocator
// instances that also disable CheckExtensions; with the check enabled a
// shared-allocator instance keeps its own loaded modules.
type AllocatorPolicy int

const (
	SeparateAllocator AllocatorPolicy = iota
	SharedAllocator
)

func (p AllocatorPolicy) String() string {
	if p == SharedAllocator {
		return "shared"
	}
	return "separate"
}

// ParseAllocatorPolicy converts "separate" or "shared" into an AllocatorPolicy.
func ParseAllocatorPolicy(s string) (AllocatorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "separate":
		return SeparateAllocator, nil
	case "shared":
		return SharedAllocator, nil
	}
	return SeparateAllocator, fmt.Errorf("%w: allocator %q (want 'separate' or 'shared')", ErrUnsupportedIsolation, s)
}

// Config describes the isolation and capabilities of a single instance.
type Config struct {
	Lock      LockMode
	Allocator AllocatorPolicy

	AllowThreads       bool
	AllowDaemonThreads bool
	AllowFork          bool
	AllowExec          bool

	// CheckExtensions rejects, at creation time, any requested extension
	// that is not safe to initialize once per interpreter.
	CheckExtensions bool
	Extensions      []string

	// Globals are predeclared into the script's environment.
	Globals map[string]any
}

// IsolatedConfig is the profile used for worker instances: own lock,
// separate allocator, threads allowed, no daemon threads, no fork or exec,
// extension compatibility checked.
func IsolatedConfig() Config {
	return Config{
		Lock:            OwnLock,
		Allocator:       SeparateAllocator,
		AllowThreads:    true,
		CheckExtensions: true,
	}
}

// MainConfig is the profile of the runtime's main instance: everything is
// allowed and the standard library extensions are enabled.
func MainConfig() Config {
	return Config{
		Lock:               SharedLock,
		Allocator:          SharedAllocator,
		AllowThreads:       true,
		AllowDaemonThreads: true,
		AllowFork:          true,
		AllowExec:          true,
		Extensions:         []string{"time", "math", "json"},
	}
}

func (c Config) validate() error {
	if c.Lock == OwnLock && c.Allocator == SharedAllocator {
		return fmt.Errorf("%w: an own lock requires a separate allocator", ErrUnsupportedIsolation)
	}
	if c.AllowDaemonThreads && !c.AllowThreads {
		return fmt.Errorf("%w: daemon threads require allow_threads", ErrUnsupportedIsolation)
	}
	return nil
}
