//go:build unix

package daemon

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// getSysProcAttr detaches the worker from the caller's process group so
// terminal signals aimed at the CLI do not reach it.
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminate asks pid to shut down cleanly.
func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// kill stops pid without giving it a chance to clean up.
func kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
