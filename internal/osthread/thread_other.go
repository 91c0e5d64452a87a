//go:build !linux

package osthread

// ID returns -1 on platforms without a cheap thread id.
func ID() int {
	return -1
}
