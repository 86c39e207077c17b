//go:build !windows

package process

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var terminateSignal os.Signal = unix.SIGTERM

// TerminatePID asks pid to exit with SIGTERM and falls back to SIGKILL when
// the signal cannot be delivered. A vanished process is not an error.
func TerminatePID(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return KillPID(pid)
}

// KillPID sends SIGKILL to pid, ignoring ESRCH.
func KillPID(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// Alive reports whether pid still exists (zombies included).
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
