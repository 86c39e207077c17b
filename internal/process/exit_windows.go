//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// KillAttributable is false: Windows exit codes do not carry the signal.
const KillAttributable = false

func (e ExitStatus) OOMKilled() bool { return false }

func exitStatusOf(ps *os.ProcessState, waitErr error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	st := ExitStatus{Code: ps.ExitCode()}
	var ee *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &ee) {
		st.Err = waitErr
	}
	return st
}
