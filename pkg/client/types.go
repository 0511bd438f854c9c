package client

import "time"

// ServiceStatus is the daemon's point-in-time snapshot of one service.
type ServiceStatus struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Port       int       `json:"port,omitempty"`
	Optional   bool      `json:"optional,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ExitError  string    `json:"exit_error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
}

// ServiceResult is the daemon's per-service outcome of a start operation.
type ServiceResult struct {
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Optional bool          `json:"optional,omitempty"`
	PID      int           `json:"pid,omitempty"`
	Attempts int           `json:"health_attempts,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Cause    string        `json:"cause,omitempty"`
}

// StartupReport aggregates one startup sequence in declared order.
type StartupReport struct {
	Services      []ServiceResult `json:"services"`
	Skipped       []string        `json:"skipped,omitempty"`
	Success       bool            `json:"success"`
	Aborted       bool            `json:"aborted,omitempty"`
	FailedService string          `json:"failed_service,omitempty"`
	Policy        string          `json:"policy,omitempty"`
	Teardown      *ShutdownReport `json:"teardown,omitempty"`
	Elapsed       time.Duration   `json:"elapsed"`
}

// ShutdownReport aggregates one full-stack shutdown.
type ShutdownReport struct {
	Stopped []string          `json:"stopped,omitempty"`
	Forced  []string          `json:"forced,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Elapsed time.Duration     `json:"elapsed"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
