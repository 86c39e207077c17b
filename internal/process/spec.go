package process

import (
	"os/exec"

	"github.com/loykin/fleetd/internal/logger"
)

// Spec describes how to start one service process.
// Args is the fixed argument tuple handed to the entrypoint.
type Spec struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Args    []string      `json:"args"`
	WorkDir string        `json:"work_dir"`
	Env     []string      `json:"env"`      // full environment; nil inherits the supervisor's
	PIDFile string        `json:"pid_file"` // optional
	Log     logger.Config `json:"log"`
}

// Clone returns a copy whose slices can be modified independently.
func (s Spec) Clone() Spec {
	c := s
	c.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		c.Env = append([]string(nil), s.Env...)
	}
	return c
}

// HasArg reports whether a literal argument is already present.
func (s Spec) HasArg(arg string) bool {
	for _, a := range s.Args {
		if a == arg {
			return true
		}
	}
	return false
}

func (s Spec) command() *exec.Cmd {
	// #nosec G204 -- command comes from the supervisor's own configuration
	cmd := exec.Command(s.Command, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}
