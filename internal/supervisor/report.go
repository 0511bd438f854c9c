package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/omnix-ai/omnixd/internal/service"
)

// ServiceResult is the per-service outcome of a start operation.
type ServiceResult struct {
	Name     string        `json:"name"`
	State    service.State `json:"state"`
	Optional bool          `json:"optional,omitempty"`
	PID      int           `json:"pid,omitempty"`
	Attempts int           `json:"health_attempts,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Cause    string        `json:"cause,omitempty"`
	Err      error         `json:"-"`
}

// StartupReport aggregates one startup sequence in declared order.
type StartupReport struct {
	Services      []ServiceResult `json:"services"`
	Skipped       []string        `json:"skipped,omitempty"`
	Success       bool            `json:"success"`
	Aborted       bool            `json:"aborted,omitempty"`
	FailedService string          `json:"failed_service,omitempty"`
	Policy        FailurePolicy   `json:"policy,omitempty"`
	Teardown      *ShutdownReport `json:"teardown,omitempty"`
	Elapsed       time.Duration   `json:"elapsed"`
}

// Result returns the entry for one service, if the sequence reached it.
func (r *StartupReport) Result(name string) (ServiceResult, bool) {
	for _, sr := range r.Services {
		if sr.Name == name {
			return sr, true
		}
	}
	return ServiceResult{}, false
}

// Summary renders a one-line operator view.
func (r *StartupReport) Summary() string {
	if r == nil {
		return "no startup has run"
	}
	healthy := 0
	for _, sr := range r.Services {
		if sr.State == service.StateHealthy {
			healthy++
		}
	}
	if r.Aborted {
		return fmt.Sprintf("startup aborted at %s (%s policy): %d healthy, %d skipped",
			r.FailedService, r.Policy, healthy, len(r.Skipped))
	}
	if r.Success {
		return fmt.Sprintf("stack up: %d/%d services healthy in %s",
			healthy, len(r.Services), r.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("stack degraded: %d/%d services healthy in %s",
		healthy, len(r.Services), r.Elapsed.Round(time.Millisecond))
}

// ShutdownReport aggregates one full-stack shutdown.
type ShutdownReport struct {
	Stopped []string          `json:"stopped,omitempty"`
	Forced  []string          `json:"forced,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Elapsed time.Duration     `json:"elapsed"`
}

// Summary renders a one-line operator view.
func (r *ShutdownReport) Summary() string {
	if r == nil {
		return "no shutdown has run"
	}
	parts := []string{fmt.Sprintf("%d stopped", len(r.Stopped))}
	if len(r.Forced) > 0 {
		parts = append(parts, fmt.Sprintf("%d forced", len(r.Forced)))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", len(r.Errors)))
	}
	return fmt.Sprintf("stack down: %s in %s", strings.Join(parts, ", "), r.Elapsed.Round(time.Millisecond))
}
