package client

import "time"

// ServiceStatus is one entry of GET /status.
type ServiceStatus struct {
	Name      string     `json:"name"`
	Needed    bool       `json:"needed"`
	State     string     `json:"state"`
	Port      int        `json:"port,omitempty"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Restarts  int        `json:"restarts"`
	LastExit  string     `json:"last_exit,omitempty"`
}

// ReconcileResult is the body of POST /reconcile.
type ReconcileResult struct {
	Repaired int `json:"repaired"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
