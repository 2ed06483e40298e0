//go:build windows

package daemon

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// getSysProcAttr starts the worker in its own process group without a
// console window of its own.
func getSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminate has no graceful variant on Windows.
func terminate(pid int) error {
	return kill(pid)
}

func kill(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
