package service

// State is the lifecycle position of one descriptor.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateHealthChecking
	StateRunning
	StateExited
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateHealthChecking:
		return "health_checking"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// States lists every state, used to reset per-state gauges.
var States = []State{StateIdle, StateLaunching, StateHealthChecking, StateRunning, StateExited, StateRestarting, StateStopped}
