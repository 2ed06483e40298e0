//go:build unix

package state

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid names a live process. EPERM means the
// process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
