package service

import "time"

// Status is a point-in-time snapshot of one managed service, shaped for API
// and report output.
type Status struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Port       int       `json:"port,omitempty"`
	Optional   bool      `json:"optional,omitempty"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ExitError  string    `json:"exit_error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
}
