// Package interp hosts isolated Starlark interpreter instances on top of an
// explicit, process-wide Runtime.
//
// A Runtime must be initialized before any Instance is created and finalized
// only after every Instance has been destroyed. Each Instance runs exactly one
// script. Instances configured with OwnLock never contend with each other;
// SharedLock instances serialize on the runtime's lock and yield it every
// SwitchInterval execution steps.
//
// The runtime also owns the main instance, which is never handed to a worker
// and lives exactly as long as the runtime itself.
package interp
