// Package osthread reports the identifier of the OS thread the calling
// goroutine is running on. It is only meaningful for goroutines locked with
// runtime.LockOSThread.
package osthread
