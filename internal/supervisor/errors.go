package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/omnix-ai/omnixd/internal/health"
	"github.com/omnix-ai/omnixd/internal/service"
)

// ErrUnknownService reports a name that is not in the registry.
var ErrUnknownService = errors.New("unknown service")

// FailurePolicy selects what happens to services that are already up when a
// required service fails to start.
type FailurePolicy string

const (
	// FailureTeardown stops everything already started and aborts.
	FailureTeardown FailurePolicy = "teardown"
	// FailureDegraded leaves already-started services running and aborts the
	// remainder of the sequence.
	FailureDegraded FailurePolicy = "degraded"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	return p == FailureTeardown || p == FailureDegraded
}

// LaunchFailure reports that a service process could not be spawned, or that
// its pre-start hook refused the launch.
type LaunchFailure struct {
	Service string
	Err     error
}

func (e *LaunchFailure) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Service, e.Err)
}

func (e *LaunchFailure) Unwrap() error { return e.Err }

// HealthCheckTimeout reports that a service process is up but never passed its
// health gate within the budget. The embedded result distinguishes "nothing
// ever listened" from "answered but never 2xx".
type HealthCheckTimeout struct {
	Service string
	Budget  time.Duration
	Result  health.Result
}

func (e *HealthCheckTimeout) Error() string {
	return fmt.Sprintf("health gate %s: %s (budget %s)", e.Service, e.Result.Cause(), e.Budget)
}

// UnexpectedExit reports that a launched service died without a stop having
// been requested.
type UnexpectedExit struct {
	Service string
	ExitErr error
}

func (e *UnexpectedExit) Error() string {
	if e.ExitErr == nil {
		return fmt.Sprintf("service %s exited unexpectedly", e.Service)
	}
	return fmt.Sprintf("service %s exited unexpectedly: %v", e.Service, e.ExitErr)
}

func (e *UnexpectedExit) Unwrap() error { return e.ExitErr }

// ShutdownTimeout reports a stop that escalated to a kill, either because the
// service outlived its grace period or because the stack-wide shutdown budget
// ran dry before its turn.
type ShutdownTimeout struct {
	Service string
	Grace   time.Duration
}

func (e *ShutdownTimeout) Error() string {
	if e.Grace <= 0 {
		return fmt.Sprintf("shutdown budget exhausted, %s killed", e.Service)
	}
	return fmt.Sprintf("%s did not exit within %s, killed", e.Service, e.Grace)
}

// HookFailure reports a blocking lifecycle hook with failure mode "fail" that
// returned an error.
type HookFailure struct {
	Service string
	Phase   service.Phase
	Hook    string
	Err     error
}

func (e *HookFailure) Error() string {
	return fmt.Sprintf("%s hook %q for %s: %v", e.Phase, e.Hook, e.Service, e.Err)
}

func (e *HookFailure) Unwrap() error { return e.Err }
