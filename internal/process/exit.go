package process

import (
	"fmt"
	"syscall"
)

// ExitStatus describes how a service process ended.
type ExitStatus struct {
	Code     int            // -1 when terminated by a signal
	Signaled bool
	Signal   syscall.Signal
	Err      error // wait failure unrelated to the exit code
}

// Success reports a clean zero exit.
func (e ExitStatus) Success() bool {
	return e.Err == nil && !e.Signaled && e.Code == 0
}

// Crashed reports any exit that is not a clean zero exit.
func (e ExitStatus) Crashed() bool { return !e.Success() }

func (e ExitStatus) String() string {
	switch {
	case e.Err != nil:
		return "wait error: " + e.Err.Error()
	case e.Signaled:
		return fmt.Sprintf("signal: %v", e.Signal)
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}
