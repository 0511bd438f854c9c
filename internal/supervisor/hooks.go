package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/omnix-ai/omnixd/internal/service"
)

// runHooks executes the hooks of one phase. Blocking hooks run in declared
// order and a failure aborts the remainder when the hook's failure mode says
// so. Async hooks are fired and not waited for.
func (s *Supervisor) runHooks(ctx context.Context, spec service.Spec, phase service.Phase) error {
	for _, h := range spec.Hooks.ForPhase(phase) {
		h.ApplyDefaults()
		if h.RunMode == service.RunModeAsync {
			hc := h.DeepCopy()
			go func() {
				if err := s.execHook(context.Background(), spec, phase, hc); err != nil {
					s.log.Warn("async hook failed", "service", spec.Name, "phase", phase.String(), "hook", hc.Name, "error", err)
				}
			}()
			continue
		}
		if err := s.execHook(ctx, spec, phase, h); err != nil {
			if h.FailureMode == service.FailureModeFail {
				return &HookFailure{Service: spec.Name, Phase: phase, Hook: h.Name, Err: err}
			}
			s.log.Warn("hook failed", "service", spec.Name, "phase", phase.String(), "hook", h.Name, "error", err)
		}
	}
	return nil
}

// runStopHooks is runHooks for the stop phases, where a failing hook must
// never prevent the stop itself.
func (s *Supervisor) runStopHooks(ctx context.Context, spec service.Spec, phase service.Phase) {
	if err := s.runHooks(ctx, spec, phase); err != nil {
		s.log.Warn("stop hook failed", "service", spec.Name, "phase", phase.String(), "error", err)
	}
}

func (s *Supervisor) execHook(ctx context.Context, spec service.Spec, phase service.Phase, h service.Hook) error {
	hctx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	// #nosec G204 argv comes from validated configuration
	cmd := exec.CommandContext(hctx, h.Command[0], h.Command[1:]...)
	switch {
	case h.WorkDir != "":
		cmd.Dir = h.WorkDir
	case spec.WorkDir != "":
		cmd.Dir = spec.WorkDir
	}
	envv := s.mergedEnv(spec)
	envv = append(envv, h.Env...)
	envv = append(envv,
		"OMNIX_SERVICE="+spec.Name,
		"OMNIX_PHASE="+phase.String(),
	)
	cmd.Env = envv
	out, err := cmd.CombinedOutput()
	if err != nil {
		if line := firstLine(out); line != "" {
			return fmt.Errorf("hook %q: %w: %s", h.Name, err, line)
		}
		return fmt.Errorf("hook %q: %w", h.Name, err)
	}
	s.log.Debug("hook finished", "service", spec.Name, "phase", phase.String(), "hook", h.Name)
	return nil
}

// firstLine trims hook output down to something that fits in an error message.
func firstLine(b []byte) string {
	out := strings.TrimSpace(string(b))
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
