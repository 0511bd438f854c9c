package service

import (
	"fmt"
	"strings"
	"time"
)

// Hooks defines commands that run around a service's lifecycle transitions.
type Hooks struct {
	PreStart  []Hook `json:"pre_start,omitempty" mapstructure:"pre_start"`
	PostStart []Hook `json:"post_start,omitempty" mapstructure:"post_start"`
	PreStop   []Hook `json:"pre_stop,omitempty" mapstructure:"pre_stop"`
	PostStop  []Hook `json:"post_stop,omitempty" mapstructure:"post_stop"`
}

// Hook is a single lifecycle hook command. Like service commands, hooks are
// argv vectors, never shell strings.
type Hook struct {
	Name        string        `json:"name" mapstructure:"name"`
	Command     []string      `json:"command" mapstructure:"command"`
	WorkDir     string        `json:"work_dir,omitempty" mapstructure:"work_dir"`
	Env         []string      `json:"env,omitempty" mapstructure:"env"`
	Timeout     time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	FailureMode FailureMode   `json:"failure_mode,omitempty" mapstructure:"failure_mode"`
	RunMode     RunMode       `json:"run_mode,omitempty" mapstructure:"run_mode"`
}

// FailureMode defines how a failing hook affects the surrounding operation.
type FailureMode string

const (
	FailureModeIgnore FailureMode = "ignore" // log and continue
	FailureModeFail   FailureMode = "fail"   // abort the surrounding operation
)

// RunMode defines whether the caller waits for the hook.
type RunMode string

const (
	RunModeBlocking RunMode = "blocking"
	RunModeAsync    RunMode = "async"
)

// Phase names the lifecycle point a hook set belongs to.
type Phase string

const (
	PhasePreStart  Phase = "pre_start"
	PhasePostStart Phase = "post_start"
	PhasePreStop   Phase = "pre_stop"
	PhasePostStop  Phase = "post_stop"
)

func (p Phase) String() string { return string(p) }

// ForPhase returns the hook list for the given phase.
func (h *Hooks) ForPhase(p Phase) []Hook {
	switch p {
	case PhasePreStart:
		return h.PreStart
	case PhasePostStart:
		return h.PostStart
	case PhasePreStop:
		return h.PreStop
	case PhasePostStop:
		return h.PostStop
	default:
		return nil
	}
}

// Empty reports whether no hooks are configured.
func (h *Hooks) Empty() bool {
	return len(h.PreStart) == 0 && len(h.PostStart) == 0 && len(h.PreStop) == 0 && len(h.PostStop) == 0
}

// Validate checks all hooks and rejects duplicate hook names across phases.
func (h *Hooks) Validate() error {
	seen := make(map[string]Phase)
	for _, phase := range []Phase{PhasePreStart, PhasePostStart, PhasePreStop, PhasePostStop} {
		for i, hk := range h.ForPhase(phase) {
			if err := hk.Validate(); err != nil {
				return fmt.Errorf("%s hook %d: %w", phase, i, err)
			}
			if prev, ok := seen[hk.Name]; ok {
				return fmt.Errorf("duplicate hook name %q in %s and %s", hk.Name, prev, phase)
			}
			seen[hk.Name] = phase
		}
	}
	return nil
}

// Validate checks a single hook.
func (h *Hook) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		return fmt.Errorf("hook name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("hook %q: name contains invalid characters", name)
	}
	if len(h.Command) == 0 || strings.TrimSpace(h.Command[0]) == "" {
		return fmt.Errorf("hook %q requires a command", name)
	}
	switch h.FailureMode {
	case "", FailureModeIgnore, FailureModeFail:
	default:
		return fmt.Errorf("hook %q: invalid failure_mode %q, must be one of: ignore, fail", name, h.FailureMode)
	}
	switch h.RunMode {
	case "", RunModeBlocking, RunModeAsync:
	default:
		return fmt.Errorf("hook %q: invalid run_mode %q, must be one of: blocking, async", name, h.RunMode)
	}
	if h.Timeout < 0 {
		return fmt.Errorf("hook %q: timeout cannot be negative", name)
	}
	for i, env := range h.Env {
		if !strings.Contains(env, "=") {
			return fmt.Errorf("hook %q: env[%d] %q must be KEY=VALUE", name, i, env)
		}
	}
	return nil
}

// ApplyDefaults fills unset hook fields: blocking run mode, fail-fast failure
// mode, 30s timeout.
func (h *Hook) ApplyDefaults() {
	if h.FailureMode == "" {
		h.FailureMode = FailureModeFail
	}
	if h.RunMode == "" {
		h.RunMode = RunModeBlocking
	}
	if h.Timeout == 0 {
		h.Timeout = 30 * time.Second
	}
}

// DeepCopy clones the hook lists.
func (h Hooks) DeepCopy() Hooks {
	return Hooks{
		PreStart:  copyHooks(h.PreStart),
		PostStart: copyHooks(h.PostStart),
		PreStop:   copyHooks(h.PreStop),
		PostStop:  copyHooks(h.PostStop),
	}
}

func copyHooks(hooks []Hook) []Hook {
	if hooks == nil {
		return nil
	}
	out := make([]Hook, len(hooks))
	for i, hk := range hooks {
		out[i] = hk.DeepCopy()
	}
	return out
}

// DeepCopy clones one hook.
func (h *Hook) DeepCopy() Hook {
	out := *h
	if h.Command != nil {
		out.Command = append([]string(nil), h.Command...)
	}
	if h.Env != nil {
		out.Env = append([]string(nil), h.Env...)
	}
	return out
}
