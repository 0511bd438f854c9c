//go:build !windows

package service

import (
	"errors"
	"syscall"
)

const (
	sigTerminate = syscall.SIGTERM
	sigKill      = syscall.SIGKILL
)

// signalGroup sends sig to the whole process group of pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// processExists reports whether a process with the given pid exists. EPERM
// still means the process is there.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
