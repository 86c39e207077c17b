package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle owns one running service process. A single goroutine waits on the
// child; Done is closed once the exit status is known.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	pidFile   string

	done    chan struct{}
	exit    ExitStatus
	closers []io.Closer
	once    sync.Once
}

func newHandle(name string, cmd *exec.Cmd, pidFile string, closers []io.Closer) *Handle {
	h := &Handle{
		name:      name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		pidFile:   pidFile,
		done:      make(chan struct{}),
		closers:   closers,
	}
	go h.wait()
	return h
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.exit = exitStatusOf(h.cmd.ProcessState, err)
	for _, c := range h.closers {
		_ = c.Close()
	}
	if h.pidFile != "" {
		_ = os.Remove(h.pidFile)
	}
	close(h.done)
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed after the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitStatus is only meaningful after Done is closed.
func (h *Handle) ExitStatus() ExitStatus {
	<-h.done
	return h.exit
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
		return h.exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Terminate asks the process to exit. Already exited processes are ignored.
func (h *Handle) Terminate() error {
	if h.Exited() {
		return nil
	}
	return ignoreDone(h.cmd.Process.Signal(terminateSignal))
}

// Kill forcefully ends the process. Already exited processes are ignored.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	return ignoreDone(h.cmd.Process.Kill())
}

// Stop terminates the process and waits up to grace before killing it.
// It always returns after the process has been reaped or ctx ends.
func (h *Handle) Stop(ctx context.Context, grace time.Duration) error {
	var err error
	h.once.Do(func() {
		if e := h.Terminate(); e != nil {
			err = e
		}
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.done:
			return
		case <-t.C:
		case <-ctx.Done():
		}
		if e := h.Kill(); e != nil && err == nil {
			err = e
		}
	})
	select {
	case <-h.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func ignoreDone(err error) error {
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
