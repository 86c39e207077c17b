package service

import (
	"log/slog"

	"github.com/loykin/fleetd/internal/process"
)

// ShouldRestart decides whether an exited process is eligible for a restart
// attempt. Rate limiting is applied separately through RestartPolicy.Admit.
//
// In a managed deployment nothing is restarted. Where the terminating signal
// is visible only OOM kills are restarted. Elsewhere any crash is restarted,
// but only under a bounded MaxCount.
func ShouldRestart(d *Descriptor, exit process.ExitStatus, managed bool, log *slog.Logger) bool {
	return shouldRestart(d, exit, managed, process.KillAttributable, log)
}

func shouldRestart(d *Descriptor, exit process.ExitStatus, managed, attributable bool, log *slog.Logger) bool {
	if managed {
		return false
	}
	if attributable {
		return d.Policy.Enabled && exit.OOMKilled()
	}
	if d.Policy.MaxCount == 0 {
		if log != nil && d.Policy.Enabled {
			log.Warn("unlimited restarts are not supported on this platform; set max_restart_count", "service", d.Name)
		}
		return false
	}
	return d.Policy.Enabled && exit.Crashed()
}
