package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LaunchError reports that a service process could not be started.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher spawns service processes.
type Launcher struct {
	log *slog.Logger
}

func NewLauncher(log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{log: log}
}

// Launch starts spec as a separate OS process. Output goes to the rotating
// log files of spec.Log when configured, otherwise to the supervisor's own
// stdout and stderr.
func (l *Launcher) Launch(spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, &LaunchError{Name: spec.Name, Err: fmt.Errorf("empty command")}
	}
	cmd := spec.command()

	var closers []io.Closer
	if spec.Log.Enabled() {
		if spec.Log.Dir != "" {
			if err := os.MkdirAll(spec.Log.Dir, 0o750); err != nil {
				return nil, &LaunchError{Name: spec.Name, Err: err}
			}
		}
		outW, errW, err := spec.Log.Writers(spec.Name)
		if err != nil {
			return nil, &LaunchError{Name: spec.Name, Err: err}
		}
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		}
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, &LaunchError{Name: spec.Name, Err: err}
	}
	if spec.PIDFile != "" {
		if err := WritePIDFile(spec.PIDFile, cmd.Process.Pid, spec.Name); err != nil {
			l.log.Warn("write pid file", "service", spec.Name, "path", spec.PIDFile, "error", err)
		}
	}
	h := newHandle(spec.Name, cmd, spec.PIDFile, closers)
	l.log.Info("service started", "service", spec.Name, "pid", h.PID())
	return h, nil
}
