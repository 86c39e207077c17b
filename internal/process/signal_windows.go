//go:build windows

package process

import (
	"errors"
	"os"
)

var terminateSignal = os.Kill

// TerminatePID has no graceful signal on Windows; it kills the process.
func TerminatePID(pid int) error { return KillPID(pid) }

// KillPID terminates pid, ignoring processes that are already gone.
func KillPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Alive reports whether pid can still be opened.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
