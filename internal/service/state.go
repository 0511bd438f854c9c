package service

// State is the lifecycle state of a launched service.
// Starting -> {Healthy, Unhealthy} during startup, then {Stopped, Failed}
// at teardown or crash.
type State string

const (
	StateStarting  State = "starting"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

func (s State) String() string { return string(s) }

// Decided reports whether startup reached a decision for this service, i.e.
// the state left Starting. The sequential start loop must not move to the
// next service before this holds.
func (s State) Decided() bool {
	return s != "" && s != StateStarting
}

// Live reports whether the state describes a process expected to be running.
func (s State) Live() bool {
	return s == StateStarting || s == StateHealthy || s == StateUnhealthy
}
