//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// KillAttributable reports whether this platform exposes the signal that
// terminated a child, which makes OOM kills distinguishable from crashes.
const KillAttributable = true

// OOMKilled reports a SIGKILL termination, which is how the kernel OOM
// killer ends a process.
func (e ExitStatus) OOMKilled() bool {
	return e.Signaled && e.Signal == syscall.SIGKILL
}

func exitStatusOf(ps *os.ProcessState, waitErr error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	st := ExitStatus{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signaled = true
		st.Signal = ws.Signal()
	}
	var ee *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &ee) {
		st.Err = waitErr
	}
	return st
}
