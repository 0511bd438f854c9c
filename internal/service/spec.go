package service

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/omnix-ai/omnixd/internal/detector"
	"github.com/omnix-ai/omnixd/internal/logger"
)

// Default budgets applied when a spec leaves them unset.
const (
	DefaultHealthTimeout = 60 * time.Second
)

// Spec describes one managed service of the stack. Specs are immutable once
// the registry is loaded; the supervisor only ever reads them.
type Spec struct {
	Name          string        `json:"name"`
	Command       []string      `json:"command"`           // argv vector; never passed through a shell
	WorkDir       string        `json:"work_dir,omitempty"` // services with relative model paths need this
	Port          int           `json:"port"`
	HealthURL     string        `json:"health_url,omitempty"` // absent: fixed-delay readiness
	StartupDelay  time.Duration `json:"startup_delay"`        // minimum gap before the next service starts
	HealthTimeout time.Duration `json:"health_timeout"`       // overall health budget per launch
	Optional      bool          `json:"optional"`             // failure does not abort the sequence
	Env           []string      `json:"env,omitempty"`
	PIDFile       string        `json:"pid_file,omitempty"`
	Hooks         Hooks         `json:"hooks,omitempty"`

	Detectors []detector.Detector `json:"-" mapstructure:"-"` // extra liveness detectors (programmatic)
	Log       logger.Config       `json:"-" mapstructure:"-"` // output capture configuration
}

// Validate checks the spec in isolation. Cross-spec invariants (unique names,
// unique ports) are enforced by the registry.
func (s *Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("service %q: name contains invalid characters", name)
	}
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("service %q requires a command", name)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("service %q: port %d out of range", name, s.Port)
	}
	if s.StartupDelay < 0 {
		return fmt.Errorf("service %q: startup_delay cannot be negative", name)
	}
	if s.HealthTimeout < 0 {
		return fmt.Errorf("service %q: health_timeout cannot be negative", name)
	}
	if s.HealthURL != "" && !strings.HasPrefix(s.HealthURL, "http://") && !strings.HasPrefix(s.HealthURL, "https://") {
		return fmt.Errorf("service %q: health_url must be an http(s) URL", name)
	}
	if err := s.Hooks.Validate(); err != nil {
		return fmt.Errorf("service %q: %w", name, err)
	}
	return nil
}

// WithDefaults returns a copy with unset budgets filled in: a service with a
// health URL but no explicit budget gets DefaultHealthTimeout.
func (s Spec) WithDefaults() Spec {
	if s.HealthURL != "" && s.HealthTimeout == 0 {
		s.HealthTimeout = DefaultHealthTimeout
	}
	return s
}

// BuildCommand constructs the *exec.Cmd for this spec. The command is an
// explicit argv vector, so no shell is ever involved and no quoting ambiguity
// exists.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	if len(s.Command) == 0 || s.Command[0] == "" {
		return nil, fmt.Errorf("service %q has no command", s.Name)
	}
	// #nosec G204 argv comes from validated configuration
	return exec.Command(s.Command[0], s.Command[1:]...), nil
}

// DeepCopy returns a copy with cloned slices so callers cannot alias the
// registry's backing arrays.
func (s Spec) DeepCopy() Spec {
	out := s
	if s.Command != nil {
		out.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		out.Env = append([]string(nil), s.Env...)
	}
	out.Hooks = s.Hooks.DeepCopy()
	return out
}
