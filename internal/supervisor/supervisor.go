// Package supervisor launches a declared stack of services in order, gates
// each launch on the health of the previous one, watches the processes for
// crashes, and tears the stack down in reverse. It never restarts anything on
// its own: a crash is recorded and reported, and bringing the service back is
// an operator action.
package supervisor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/omnix-ai/omnixd/internal/env"
	"github.com/omnix-ai/omnixd/internal/health"
	"github.com/omnix-ai/omnixd/internal/history"
	"github.com/omnix-ai/omnixd/internal/metrics"
	"github.com/omnix-ai/omnixd/internal/registry"
	"github.com/omnix-ai/omnixd/internal/service"
	"github.com/omnix-ai/omnixd/internal/store"
)

// Defaults applied when Options leave fields unset.
const (
	DefaultGracePeriod      = 10 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultLivenessInterval = 2 * time.Second
)

// Options tune a Supervisor. Zero values select the documented defaults.
type Options struct {
	OnFailure        FailurePolicy // applied when a required service fails during startup
	GracePeriod      time.Duration // per-service terminate grace before kill
	ShutdownTimeout  time.Duration // overall bound for a full-stack shutdown
	LivenessInterval time.Duration // crash-detection poll interval
	Health           *health.Checker
	Logger           *slog.Logger
}

// Phase is the coarse lifecycle of the supervisor itself.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseShuttingDown Phase = "shutting_down"
	PhaseTerminated   Phase = "terminated"
)

// Supervisor owns the table of running services. All state transitions are
// serialized under its lock; the lock is never held across process waits or
// sink I/O.
type Supervisor struct {
	reg   *registry.Registry
	opts  Options
	log   *slog.Logger
	check *health.Checker

	mu       sync.RWMutex
	envM     *env.Env
	st       store.Store
	sinks    []history.Sink
	services map[string]*service.Running
	order    []string // actual launch order, oldest first
	phase    Phase
	report   *StartupReport

	subMu sync.Mutex
	subs  map[chan history.Event]struct{}

	livenessStop chan struct{}
	livenessDone chan struct{}
}

// New builds a Supervisor over a validated registry.
func New(reg *registry.Registry, opts Options) *Supervisor {
	if opts.OnFailure == "" {
		opts.OnFailure = FailureTeardown
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	check := opts.Health
	if check == nil {
		check = health.New()
	}
	if check.Logger == nil {
		check.Logger = log
	}
	return &Supervisor{
		reg:      reg,
		opts:     opts,
		log:      log,
		check:    check,
		envM:     env.New(),
		services: make(map[string]*service.Running),
		subs:     make(map[chan history.Event]struct{}),
		phase:    PhaseInitializing,
	}
}

// SetStore wires a persistence store and ensures its schema.
func (s *Supervisor) SetStore(st store.Store) error {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.EnsureSchema(context.Background())
}

// SetHistorySinks replaces the set of history sinks. Sends are best-effort; a
// failing sink never blocks supervision.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// SetGlobalEnv replaces the supervisor-level environment ("K=V" pairs) merged
// under every service's own env.
func (s *Supervisor) SetGlobalEnv(kvs []string) {
	s.mu.Lock()
	s.envM.SetAll(kvs)
	s.mu.Unlock()
}

// SetUseOSEnv controls whether launched services inherit the supervisor's own
// process environment as the base. Enabled by default.
func (s *Supervisor) SetUseOSEnv(use bool) {
	s.mu.Lock()
	s.envM.SetUseOS(use)
	s.mu.Unlock()
}

// Phase returns the supervisor's coarse lifecycle phase.
func (s *Supervisor) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// StartAll launches every registered service in declared order. A service must
// leave Starting before the next one is considered, and at least StartupDelay
// elapses between one launch and the next. Optional services that fail are
// logged and skipped over; a required failure aborts the sequence and applies
// the failure policy. The report is retained for LastReport.
func (s *Supervisor) StartAll(ctx context.Context) *StartupReport {
	begin := time.Now()
	rep := &StartupReport{Policy: s.opts.OnFailure}
	specs := s.reg.List()

	for i, spec := range specs {
		if ctx.Err() != nil {
			rep.Aborted = true
			for _, rest := range specs[i:] {
				rep.Skipped = append(rep.Skipped, rest.Name)
			}
			break
		}

		res := s.startOne(ctx, spec)
		rep.Services = append(rep.Services, res)

		if res.Err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Canceled mid-launch: abort without teardown, the canceler owns
			// cleanup.
			rep.Aborted = true
			for _, rest := range specs[i+1:] {
				rep.Skipped = append(rep.Skipped, rest.Name)
			}
			s.log.Warn("startup canceled", "service", spec.Name)
			break
		}
		if spec.Optional {
			s.log.Warn("optional service failed, continuing", "service", spec.Name, "error", res.Err)
			continue
		}

		rep.Aborted = true
		rep.FailedService = spec.Name
		for _, rest := range specs[i+1:] {
			rep.Skipped = append(rep.Skipped, rest.Name)
		}
		s.log.Error("required service failed, aborting startup",
			"service", spec.Name, "policy", string(s.opts.OnFailure), "error", res.Err)
		if s.opts.OnFailure == FailureTeardown {
			rep.Teardown = s.shutdownAll(context.Background(), s.opts.GracePeriod)
		}
		break
	}

	rep.Elapsed = time.Since(begin)
	rep.Success = !rep.Aborted
	for _, sr := range rep.Services {
		if !sr.Optional && sr.State != service.StateHealthy {
			rep.Success = false
		}
	}
	metrics.ObserveStackStartup(rep.Elapsed.Seconds())

	s.mu.Lock()
	s.report = rep
	if rep.Aborted && s.opts.OnFailure == FailureTeardown {
		s.phase = PhaseTerminated
	} else {
		s.phase = PhaseRunning
	}
	s.mu.Unlock()

	s.log.Info("startup sequence finished",
		"success", rep.Success, "services", len(rep.Services), "skipped", len(rep.Skipped), "elapsed", rep.Elapsed)
	return rep
}

// startOne runs the full launch protocol for one service: pre-start hooks,
// spawn, health gate, post-start hooks, minimum startup gap.
func (s *Supervisor) startOne(ctx context.Context, spec service.Spec) ServiceResult {
	begin := time.Now()
	res := ServiceResult{Name: spec.Name, Optional: spec.Optional}

	s.mu.RLock()
	existing := s.services[spec.Name]
	s.mu.RUnlock()
	if existing != nil {
		if st := existing.State(); st.Live() {
			res.State = st
			res.PID = existing.PID()
			res.Elapsed = time.Since(begin)
			if st != service.StateHealthy {
				res.Err = &LaunchFailure{Service: spec.Name, Err: fmt.Errorf("already running in state %s", st)}
				res.Cause = res.Err.Error()
			}
			return res
		}
	}

	if err := s.runHooks(ctx, spec, service.PhasePreStart); err != nil {
		res.State = service.StateFailed
		res.Err = &LaunchFailure{Service: spec.Name, Err: err}
		res.Cause = res.Err.Error()
		res.Elapsed = time.Since(begin)
		return res
	}

	r, err := s.launch(spec)
	if err != nil {
		res.State = service.StateFailed
		res.Err = err
		res.Cause = err.Error()
		res.Elapsed = time.Since(begin)
		return res
	}
	res.PID = r.PID()

	hres := s.check.WaitUntilHealthy(ctx, spec, spec.HealthTimeout)
	res.Attempts = hres.Attempts
	switch {
	case hres.Healthy():
		if s.transitionIf(r, service.StateStarting, service.StateHealthy) {
			res.State = service.StateHealthy
			metrics.ObserveHealthWait(spec.Name, hres.Elapsed.Seconds())
			s.recordStatus(r, history.EventHealthy)
			s.log.Info("service healthy", "service", spec.Name, "pid", res.PID, "attempts", hres.Attempts, "elapsed", hres.Elapsed)
			if herr := s.runHooks(ctx, spec, service.PhasePostStart); herr != nil {
				s.log.Warn("post-start hook failed", "service", spec.Name, "error", herr)
			}
		} else {
			// The exit monitor won the race: the process died as the health
			// gate opened.
			res.State = r.State()
			res.Err = &UnexpectedExit{Service: spec.Name, ExitErr: r.ExitError()}
			res.Cause = res.Err.Error()
		}
	case hres.Outcome == health.OutcomeCanceled:
		res.State = r.State()
		res.Err = fmt.Errorf("startup of %s canceled: %w", spec.Name, hres.LastErr)
		res.Cause = res.Err.Error()
	default:
		if spec.Optional && s.transitionIf(r, service.StateStarting, service.StateUnhealthy) {
			res.State = service.StateUnhealthy
			res.Err = &HealthCheckTimeout{Service: spec.Name, Budget: spec.HealthTimeout, Result: hres}
			res.Cause = res.Err.Error()
			s.recordStatus(r, history.EventUnhealthy)
			s.log.Warn("optional service failed health gate, left running", "service", spec.Name, "pid", res.PID, "cause", hres.Cause())
		} else if !spec.Optional && s.transitionIf(r, service.StateStarting, service.StateFailed) {
			// A required service that never passed its gate is stopped, not
			// left running.
			res.State = service.StateFailed
			res.Err = &HealthCheckTimeout{Service: spec.Name, Budget: spec.HealthTimeout, Result: hres}
			res.Cause = res.Err.Error()
			s.log.Warn("service failed health gate, stopping", "service", spec.Name, "pid", res.PID, "cause", hres.Cause())
			if forced, serr := r.GracefulStop(s.opts.GracePeriod); serr != nil && !isExpectedTermination(serr) {
				s.log.Warn("stop after failed health gate", "service", spec.Name, "error", serr)
			} else if forced {
				metrics.IncForcedKill(spec.Name)
			}
			s.recordExit(r, service.StateFailed, res.Err, history.EventUnhealthy)
		} else {
			res.State = r.State()
			res.Err = &UnexpectedExit{Service: spec.Name, ExitErr: r.ExitError()}
			res.Cause = res.Err.Error()
		}
	}

	// Keep the declared minimum gap between this launch and the next one. The
	// fixed-delay readiness path has already slept it inside the health wait.
	if res.Err == nil || spec.Optional {
		if remaining := spec.StartupDelay - time.Since(r.StartedAt()); remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
			}
		}
	}

	res.Elapsed = time.Since(begin)
	return res
}

// launch spawns the process for spec and attaches the single exit reaper.
func (s *Supervisor) launch(spec service.Spec) (*service.Running, error) {
	s.mu.Lock()
	r, ok := s.services[spec.Name]
	if ok && r.State().Live() {
		st := r.State()
		s.mu.Unlock()
		return nil, &LaunchFailure{Service: spec.Name, Err: fmt.Errorf("already running in state %s", st)}
	}
	if !ok {
		r = service.NewRunning(spec)
		s.services[spec.Name] = r
	}
	prev := r.State()
	s.mu.Unlock()

	cmd, err := r.ConfigureCmd(s.mergedEnv(spec))
	if err != nil {
		return nil, &LaunchFailure{Service: spec.Name, Err: err}
	}
	if err := r.TryStart(cmd); err != nil {
		s.mu.Lock()
		r.SetState(service.StateFailed)
		s.mu.Unlock()
		s.transition(spec.Name, prev, service.StateFailed)
		return nil, &LaunchFailure{Service: spec.Name, Err: err}
	}

	if r.MonitoringStartIfNeeded() {
		go s.reapAndRecord(r, cmd)
	}

	s.mu.Lock()
	s.noteLaunchLocked(spec.Name)
	s.mu.Unlock()

	metrics.IncStart(spec.Name)
	s.transition(spec.Name, prev, service.StateStarting)
	s.recordLaunch(r)
	s.log.Info("service launched", "service", spec.Name, "pid", r.PID(), "port", spec.Port)
	return r, nil
}

// noteLaunchLocked appends name to the launch order, moving it to the end on a
// relaunch so shutdown still goes newest-first.
func (s *Supervisor) noteLaunchLocked(name string) {
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, name)
}

func (s *Supervisor) mergedEnv(spec service.Spec) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envM.Merge(spec.Env)
}

// reapAndRecord is the single waiter for one launched process.
func (s *Supervisor) reapAndRecord(r *service.Running, cmd *exec.Cmd) {
	err := cmd.Wait()
	r.MarkExited(err)
	r.CloseWaitDone()
	r.CloseWriters()
	r.MonitoringStop()
	s.handleExit(r, err)
}

// handleExit classifies an observed process exit. Stops requested by an
// operator or the shutdown path record their own outcome; everything else is
// a crash. Safe to call from both the reaper and the liveness sweep.
func (s *Supervisor) handleExit(r *service.Running, exitErr error) {
	if r.StopRequested() {
		return
	}
	name := r.Spec().Name
	s.mu.Lock()
	from := r.State()
	if !from.Live() {
		s.mu.Unlock()
		return
	}
	r.SetState(service.StateFailed)
	s.mu.Unlock()

	s.transition(name, from, service.StateFailed)
	metrics.IncUnexpectedExit(name)
	s.log.Error("service exited unexpectedly", "service", name, "error", exitErr)
	s.recordExit(r, service.StateFailed, exitErr, history.EventUnexpectedExit)
}

// transitionIf applies a state transition only when the current state still
// matches from. Returns false when another actor got there first.
func (s *Supervisor) transitionIf(r *service.Running, from, to service.State) bool {
	s.mu.Lock()
	if r.State() != from {
		s.mu.Unlock()
		return false
	}
	r.SetState(to)
	s.mu.Unlock()
	s.transition(r.Spec().Name, from, to)
	return true
}

// transition updates the state metrics for one service.
func (s *Supervisor) transition(name string, from, to service.State) {
	if from == to {
		return
	}
	if from != "" {
		metrics.RecordStateTransition(name, from.String(), to.String())
		metrics.SetCurrentState(name, from.String(), false)
	}
	metrics.SetCurrentState(name, to.String(), true)
}

// StartLiveness begins the crash-detection loop. It complements the per-launch
// reaper: services discovered through detectors have no process handle to wait
// on, so the sweep is what notices them dying.
func (s *Supervisor) StartLiveness(ctx context.Context) {
	s.mu.Lock()
	if s.livenessStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.livenessStop = stop
	s.livenessDone = done
	interval := s.opts.LivenessInterval
	s.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				s.sweepLiveness()
			}
		}
	}()
}

// StopLiveness halts the loop and waits for the current sweep to finish.
func (s *Supervisor) StopLiveness() {
	s.mu.Lock()
	stop := s.livenessStop
	done := s.livenessDone
	s.livenessStop = nil
	s.livenessDone = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Supervisor) sweepLiveness() {
	s.mu.RLock()
	rs := make([]*service.Running, 0, len(s.services))
	for _, r := range s.services {
		rs = append(rs, r)
	}
	s.mu.RUnlock()

	for _, r := range rs {
		if !r.State().Live() || r.StopRequested() {
			continue
		}
		if alive, _ := r.Alive(); !alive {
			s.handleExit(r, r.ExitError())
		}
	}
}

// StartService launches one service by name and waits for its health gate.
// This is the operator path for bringing a crashed service back; the
// supervisor never does it by itself.
func (s *Supervisor) StartService(ctx context.Context, name string) (ServiceResult, error) {
	spec, ok := s.reg.Get(name)
	if !ok {
		return ServiceResult{}, fmt.Errorf("%w %q", ErrUnknownService, name)
	}
	res := s.startOne(ctx, spec)
	return res, res.Err
}

// StopService gracefully stops one service by name. Stopping a service that is
// not running is a no-op.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	s.mu.RLock()
	r := s.services[name]
	s.mu.RUnlock()
	if r == nil {
		if _, ok := s.reg.Get(name); !ok {
			return fmt.Errorf("%w %q", ErrUnknownService, name)
		}
		return nil
	}
	_, err := s.stopOne(ctx, r, s.opts.GracePeriod)
	return err
}

// Restart stops a service and launches it again. A stop that had to be forced
// still leaves the slot free, so the relaunch proceeds.
func (s *Supervisor) Restart(ctx context.Context, name string) (ServiceResult, error) {
	if err := s.StopService(ctx, name); err != nil {
		var st *ShutdownTimeout
		if !errors.As(err, &st) {
			return ServiceResult{}, err
		}
	}
	return s.StartService(ctx, name)
}

// Status returns the snapshot for one service. A registered service that was
// never launched reports with an empty state.
func (s *Supervisor) Status(name string) (service.Status, error) {
	s.mu.RLock()
	r := s.services[name]
	s.mu.RUnlock()
	if r != nil {
		return r.Status(), nil
	}
	spec, ok := s.reg.Get(name)
	if !ok {
		return service.Status{}, fmt.Errorf("%w %q", ErrUnknownService, name)
	}
	return service.Status{Name: spec.Name, Port: spec.Port, Optional: spec.Optional}, nil
}

// StatusAll returns snapshots for every registered service in declared order.
func (s *Supervisor) StatusAll() []service.Status {
	specs := s.reg.List()
	out := make([]service.Status, 0, len(specs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, spec := range specs {
		if r := s.services[spec.Name]; r != nil {
			out = append(out, r.Status())
			continue
		}
		out = append(out, service.Status{Name: spec.Name, Port: spec.Port, Optional: spec.Optional})
	}
	return out
}

// PIDs returns live process ids keyed by service name, shaped for the
// resource collector.
func (s *Supervisor) PIDs() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.services))
	for name, r := range s.services {
		if !r.State().Live() {
			continue
		}
		if pid := r.PID(); pid > 0 {
			out[name] = pid
		}
	}
	return out
}

// LastReport returns the report of the most recent StartAll, or nil.
func (s *Supervisor) LastReport() *StartupReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Subscribe registers a listener for lifecycle events. The returned cancel
// func must be called to release the channel. Slow subscribers drop events
// rather than blocking supervision.
func (s *Supervisor) Subscribe(buffer int) (<-chan history.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan history.Event, buffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Supervisor) publish(evt history.Event) {
	s.subMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	s.subMu.Unlock()
}

// recordLaunch persists the fresh incarnation and emits the launch event.
func (s *Supervisor) recordLaunch(r *service.Running) {
	st, sinks := s.snapshotSinks()
	rs := r.Status()
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		State:     string(service.StateStarting),
		StartedAt: rs.StartedAt,
		Live:      true,
		Uniq:      store.UniqueKey(rs.PID, rs.StartedAt),
	}
	if st != nil {
		_ = st.RecordLaunch(context.Background(), rec)
	}
	s.emit(sinks, history.Event{Type: history.EventLaunch, OccurredAt: time.Now().UTC(), Record: rec})
}

// recordStatus persists a live-state change (healthy/unhealthy) and emits evt.
func (s *Supervisor) recordStatus(r *service.Running, evt history.EventType) {
	st, sinks := s.snapshotSinks()
	rs := r.Status()
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		State:     string(rs.State),
		StartedAt: rs.StartedAt,
		Live:      true,
		Uniq:      store.UniqueKey(rs.PID, rs.StartedAt),
	}
	if st != nil {
		_ = st.UpsertStatus(context.Background(), rec)
	}
	s.emit(sinks, history.Event{Type: evt, OccurredAt: time.Now().UTC(), Record: rec})
}

// recordExit finalizes the incarnation in the store and emits evt.
func (s *Supervisor) recordExit(r *service.Running, state service.State, exitErr error, evt history.EventType) {
	st, sinks := s.snapshotSinks()
	rs := r.Status()
	uniq := store.UniqueKey(rs.PID, rs.StartedAt)
	stoppedAt := rs.StoppedAt
	if stoppedAt.IsZero() {
		stoppedAt = time.Now()
	}
	if st != nil {
		_ = st.RecordExit(context.Background(), uniq, string(state), stoppedAt, exitErr)
	}
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		State:     string(state),
		StartedAt: rs.StartedAt,
		StoppedAt: sql.NullTime{Time: stoppedAt, Valid: true},
		Live:      false,
		Uniq:      uniq,
	}
	if exitErr != nil {
		rec.ExitErr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	s.emit(sinks, history.Event{Type: evt, OccurredAt: time.Now().UTC(), Record: rec})
}

func (s *Supervisor) snapshotSinks() (store.Store, []history.Sink) {
	s.mu.RLock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.RUnlock()
	return st, sinks
}

func (s *Supervisor) emit(sinks []history.Sink, evt history.Event) {
	for _, sink := range sinks {
		_ = sink.Send(context.Background(), evt)
	}
	s.publish(evt)
}
