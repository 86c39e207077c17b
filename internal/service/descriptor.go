package service

import (
	"sync"
	"time"

	"github.com/loykin/fleetd/internal/process"
)

// Descriptor is the supervisor's record of one managed service.
//
// Runtime fields are written only by the watch goroutine that owns the
// descriptor; the mutex lets status readers and the shutdown path observe
// them safely.
type Descriptor struct {
	Name       Name
	Entrypoint process.Spec
	Port       int // 0 for background workers
	Needed     bool
	Policy     RestartPolicy

	// OnRestart may rewrite the launch spec before a relaunch.
	OnRestart func(spec *process.Spec)

	mu       sync.RWMutex
	handle   *process.Handle
	started  bool
	state    State
	restarts int
	lastExit *process.ExitStatus
}

// Handle returns the current process handle, or nil.
func (d *Descriptor) Handle() *process.Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// SetHandle stores the handle of a freshly launched process.
func (d *Descriptor) SetHandle(h *process.Handle) {
	d.mu.Lock()
	d.handle = h
	d.started = h != nil
	d.mu.Unlock()
}

// ClearHandle drops the handle of an exited process.
func (d *Descriptor) ClearHandle() {
	d.mu.Lock()
	d.handle = nil
	d.started = false
	d.mu.Unlock()
}

func (d *Descriptor) Started() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

func (d *Descriptor) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetState records a transition and returns the previous state.
func (d *Descriptor) SetState(s State) State {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	return prev
}

// RecordExit stores how the last process ended.
func (d *Descriptor) RecordExit(e process.ExitStatus) {
	d.mu.Lock()
	d.lastExit = &e
	d.mu.Unlock()
}

// PrepareRestart clears the handle, counts the restart and applies OnRestart.
func (d *Descriptor) PrepareRestart() {
	d.mu.Lock()
	d.handle = nil
	d.started = false
	d.restarts++
	d.mu.Unlock()
	if d.OnRestart != nil {
		d.OnRestart(&d.Entrypoint)
	}
}

func (d *Descriptor) Restarts() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.restarts
}

// Status is a point-in-time view of a descriptor.
type Status struct {
	Name      Name       `json:"name"`
	Needed    bool       `json:"needed"`
	State     string     `json:"state"`
	Port      int        `json:"port,omitempty"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Restarts  int        `json:"restarts"`
	LastExit  string     `json:"last_exit,omitempty"`
}

// Snapshot returns the current status.
func (d *Descriptor) Snapshot() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Status{
		Name:     d.Name,
		Needed:   d.Needed,
		State:    d.state.String(),
		Port:     d.Port,
		Restarts: d.restarts,
	}
	if d.handle != nil {
		st.PID = d.handle.PID()
		t := d.handle.StartedAt()
		st.StartedAt = &t
	}
	if d.lastExit != nil {
		st.LastExit = d.lastExit.String()
	}
	return st
}
