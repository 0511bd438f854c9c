package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/omnix-ai/omnixd/internal/history"
	"github.com/omnix-ai/omnixd/internal/metrics"
	"github.com/omnix-ai/omnixd/internal/service"
)

// ShutdownCoordinator serializes full-stack shutdown. The first ShutdownAll
// does the work; concurrent and later calls block until it finishes and return
// the same recorded report. Signal handlers can therefore fire it as often as
// they like, the stack is torn down once.
type ShutdownCoordinator struct {
	sup    *Supervisor
	once   sync.Once
	report *ShutdownReport
}

func NewShutdownCoordinator(sup *Supervisor) *ShutdownCoordinator {
	return &ShutdownCoordinator{sup: sup}
}

// ShutdownAll stops every running service in reverse launch order. A grace of
// zero selects the supervisor's configured per-service grace period.
func (c *ShutdownCoordinator) ShutdownAll(ctx context.Context, grace time.Duration) *ShutdownReport {
	c.once.Do(func() {
		c.report = c.sup.shutdownAll(ctx, grace)
	})
	return c.report
}

// shutdownAll tears the stack down newest-first, bounded overall by the
// configured shutdown timeout. Services whose turn comes after the budget is
// spent are killed outright.
func (s *Supervisor) shutdownAll(ctx context.Context, grace time.Duration) *ShutdownReport {
	begin := time.Now()
	if grace <= 0 {
		grace = s.opts.GracePeriod
	}
	s.setPhase(PhaseShuttingDown)
	s.StopLiveness()

	octx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	deadline, _ := octx.Deadline()

	rep := &ShutdownReport{Errors: make(map[string]string)}
	s.mu.RLock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		s.mu.RLock()
		r := s.services[name]
		s.mu.RUnlock()
		if r == nil || !r.State().Live() {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.forceKill(r, rep)
			continue
		}
		g := grace
		if g > remaining {
			g = remaining
		}
		forced, err := s.stopOne(octx, r, g)
		if forced {
			rep.Forced = append(rep.Forced, name)
		} else {
			rep.Stopped = append(rep.Stopped, name)
		}
		if err != nil {
			rep.Errors[name] = err.Error()
		}
	}

	if len(rep.Errors) == 0 {
		rep.Errors = nil
	}
	rep.Elapsed = time.Since(begin)
	s.setPhase(PhaseTerminated)
	s.log.Info("stack shutdown complete",
		"stopped", len(rep.Stopped), "forced", len(rep.Forced), "elapsed", rep.Elapsed)
	return rep
}

// stopOne performs the full stop protocol on one running service: pre-stop
// hooks, group terminate with grace, kill escalation, bookkeeping, post-stop
// hooks. The returned error is a *ShutdownTimeout when the kill was needed.
func (s *Supervisor) stopOne(ctx context.Context, r *service.Running, grace time.Duration) (forced bool, err error) {
	spec := r.Spec()
	s.mu.RLock()
	from := r.State()
	s.mu.RUnlock()
	if !from.Live() {
		return false, nil
	}

	s.runStopHooks(ctx, spec, service.PhasePreStop)

	forced, exitErr := r.GracefulStop(grace)

	final := service.StateStopped
	if forced {
		final = service.StateFailed
		metrics.IncForcedKill(spec.Name)
		err = &ShutdownTimeout{Service: spec.Name, Grace: grace}
	}
	s.mu.Lock()
	if cur := r.State(); cur.Live() {
		r.SetState(final)
	} else {
		final = cur
	}
	s.mu.Unlock()
	s.transition(spec.Name, from, final)
	metrics.IncStop(spec.Name)

	// "signal: terminated" and friends are the expected outcome of our own
	// signals; only surprising exit errors are worth recording.
	recErr := exitErr
	if isExpectedTermination(exitErr) {
		recErr = nil
	}
	s.recordExit(r, final, recErr, history.EventStop)
	s.log.Info("service stopped", "service", spec.Name, "forced", forced)

	s.runStopHooks(ctx, spec, service.PhasePostStop)
	return forced, err
}

// forceKill is the no-budget-left path: kill immediately, no hooks, no grace.
func (s *Supervisor) forceKill(r *service.Running, rep *ShutdownReport) {
	spec := r.Spec()
	s.mu.RLock()
	from := r.State()
	s.mu.RUnlock()

	_ = r.Kill()

	s.mu.Lock()
	if cur := r.State(); cur.Live() {
		r.SetState(service.StateFailed)
	}
	s.mu.Unlock()
	s.transition(spec.Name, from, service.StateFailed)
	metrics.IncStop(spec.Name)
	metrics.IncForcedKill(spec.Name)
	s.recordExit(r, service.StateFailed, nil, history.EventStop)

	rep.Forced = append(rep.Forced, spec.Name)
	rep.Errors[spec.Name] = (&ShutdownTimeout{Service: spec.Name}).Error()
	s.log.Warn("shutdown budget exhausted, killed", "service", spec.Name)
}

// isExpectedTermination reports whether an exit error is the normal outcome of
// a terminate or kill we sent ourselves.
func isExpectedTermination(err error) bool {
	if err == nil {
		return true
	}
	switch err.Error() {
	case "signal: terminated", "signal: killed", "signal: interrupt",
		"exit status 130", "exit status 143":
		return true
	}
	return false
}
