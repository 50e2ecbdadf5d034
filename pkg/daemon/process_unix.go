//go:build !windows

package daemon

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsProcessRunning reports whether a process with the given PID exists.
// EPERM means it exists but belongs to another user.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
