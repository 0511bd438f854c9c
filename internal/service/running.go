package service

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/omnix-ai/omnixd/internal/detector"
)

// Running is the mutable runtime record for one launched Spec. It owns the
// process handle exclusively: all signaling and waiting goes through its
// methods, and exactly one goroutine may reap the process (the monitoring
// claim below).
type Running struct {
	spec       Spec
	cmd        *exec.Cmd
	mu         sync.Mutex
	state      State
	startedAt  time.Time
	stoppedAt  time.Time
	exitErr    error
	stopping   bool // true when a stop has been requested; crash reporting is suppressed
	outCloser  io.WriteCloser
	errCloser  io.WriteCloser
	waitDone   chan struct{} // closed by the goroutine that reaps cmd.Wait
	monitoring bool          // true while a monitor goroutine owns the wait
	detectedBy string
}

func NewRunning(spec Spec) *Running { return &Running{spec: spec} }

// Spec returns the immutable spec this record was launched from.
func (r *Running) Spec() Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// ConfigureCmd builds and configures the *exec.Cmd for this service using
// mergedEnv. It sets workdir, environment, stdio capture, and process group
// attributes.
func (r *Running) ConfigureCmd(mergedEnv []string) (*exec.Cmd, error) {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()

	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)
	if spec.Log.HasFileOutput() {
		if spec.Log.File.Dir != "" {
			_ = os.MkdirAll(spec.Log.File.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.ServiceWriters(spec.Name)
		r.EnsureLogClosers(outW, errW)
		ow, ew := r.OutErrClosers()
		if ow != nil {
			cmd.Stdout = ow
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if ew != nil {
			cmd.Stderr = ew
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	return cmd, nil
}

// TryStart starts the command and records runtime state and the PID file.
func (r *Running) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	r.setStarted(cmd)
	r.WritePIDFile()
	return nil
}

func (r *Running) setStarted(cmd *exec.Cmd) {
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.state = StateStarting
	r.startedAt = time.Now()
	r.stoppedAt = time.Time{}
	r.exitErr = nil
	r.stopping = false
	r.detectedBy = ""
	r.mu.Unlock()
}

// State returns the current lifecycle state.
func (r *Running) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState records a lifecycle transition.
func (r *Running) SetState(st State) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
}

// PID returns the launched process id, or 0 when not started.
func (r *Running) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.Process != nil {
		return r.cmd.Process.Pid
	}
	return 0
}

// StartedAt returns the launch timestamp.
func (r *Running) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// ExitError returns the recorded exit error, if the process has exited.
func (r *Running) ExitError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitErr
}

// Status returns a snapshot shaped for reports and the API.
func (r *Running) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Name:       r.spec.Name,
		State:      r.state,
		Port:       r.spec.Port,
		Optional:   r.spec.Optional,
		StartedAt:  r.startedAt,
		StoppedAt:  r.stoppedAt,
		DetectedBy: r.detectedBy,
	}
	if r.cmd != nil && r.cmd.Process != nil {
		st.PID = r.cmd.Process.Pid
	}
	if r.exitErr != nil {
		st.ExitError = r.exitErr.Error()
	}
	return st
}

func (r *Running) copyCmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

// CloseWaitDone signals that the process has been reaped.
func (r *Running) CloseWaitDone() {
	r.mu.Lock()
	if r.waitDone != nil {
		close(r.waitDone)
		r.waitDone = nil
	}
	r.mu.Unlock()
}

// WaitDoneChan returns the channel closed when the process is reaped, or nil.
func (r *Running) WaitDoneChan() chan struct{} {
	r.mu.Lock()
	wd := r.waitDone
	r.mu.Unlock()
	return wd
}

// MarkExited records process exit.
func (r *Running) MarkExited(err error) {
	r.mu.Lock()
	r.stoppedAt = time.Now()
	r.exitErr = err
	r.mu.Unlock()
}

// SetStopRequested flags that a stop is in progress so an observed exit is not
// reported as a crash.
func (r *Running) SetStopRequested(v bool) {
	r.mu.Lock()
	r.stopping = v
	r.mu.Unlock()
}

func (r *Running) StopRequested() bool {
	r.mu.Lock()
	v := r.stopping
	r.mu.Unlock()
	return v
}

// MonitoringStartIfNeeded claims the single-waiter role. Only the claimant may
// call cmd.Wait; everyone else waits on WaitDoneChan.
func (r *Running) MonitoringStartIfNeeded() bool {
	r.mu.Lock()
	if r.monitoring {
		r.mu.Unlock()
		return false
	}
	r.monitoring = true
	r.mu.Unlock()
	return true
}

func (r *Running) MonitoringStop() {
	r.mu.Lock()
	r.monitoring = false
	r.mu.Unlock()
}

// IsMonitoring reports whether a monitor goroutine is actively waiting on the
// underlying process. When true, stop paths must wait on waitDone instead of
// calling cmd.Wait themselves.
func (r *Running) IsMonitoring() bool {
	r.mu.Lock()
	v := r.monitoring
	r.mu.Unlock()
	return v
}

func (r *Running) OutErrClosers() (io.WriteCloser, io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outCloser, r.errCloser
}

func (r *Running) EnsureLogClosers(stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	if r.outCloser == nil && stdout != nil {
		r.outCloser = stdout
	}
	if r.errCloser == nil && stderr != nil {
		r.errCloser = stderr
	}
	r.mu.Unlock()
}

func (r *Running) CloseWriters() {
	r.mu.Lock()
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	r.mu.Unlock()
}

// WritePIDFile writes the spec's PID file with a start-time line guarding
// against PID reuse.
func (r *Running) WritePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	pid := 0
	if r.cmd != nil && r.cmd.Process != nil {
		pid = r.cmd.Process.Pid
	}
	r.mu.Unlock()

	if pidFile == "" || pid == 0 {
		return
	}
	WritePIDFile(pidFile, pid, detector.ProcStartUnix(pid))
}

// RemovePIDFile best-effort.
func (r *Running) RemovePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	r.mu.Unlock()

	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

// Alive probes liveness avoiding races with os/exec internals. The second
// return names the detection method.
func (r *Running) Alive() (bool, string) {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		// A quickly-exiting child is a zombie until reaped; not alive.
		if runtime.GOOS == "linux" && isZombieLinux(pid) {
			return false, ""
		}
		if processExists(pid) {
			return true, "exec:pid"
		}
		return false, ""
	}

	// Nothing launched by this supervisor: fall back to detectors so a
	// service surviving a supervisor restart can still be reported.
	for _, d := range r.detectors() {
		if ok, _ := d.Alive(); ok {
			r.mu.Lock()
			r.detectedBy = d.Describe()
			r.mu.Unlock()
			return true, d.Describe()
		}
	}
	return false, ""
}

func (r *Running) detectors() []detector.Detector {
	r.mu.Lock()
	defer r.mu.Unlock()

	dets := make([]detector.Detector, 0, len(r.spec.Detectors)+2)
	if r.spec.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: r.spec.PIDFile})
	}
	dets = append(dets, r.spec.Detectors...)
	if r.spec.Port > 0 {
		dets = append(dets, detector.PortDetector{Port: r.spec.Port})
	}
	return dets
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// GracefulStop sends a termination request to the process group and waits up
// to grace for exit, escalating to a kill afterwards. The first return value
// reports whether forced termination was required.
func (r *Running) GracefulStop(grace time.Duration) (forced bool, err error) {
	alive, _ := r.Alive()
	if !alive {
		return false, nil
	}
	r.SetStopRequested(true)
	cmd := r.copyCmd()
	if cmd == nil || cmd.Process == nil {
		return false, nil
	}
	pid := cmd.Process.Pid
	_ = signalGroup(pid, sigTerminate)

	if r.IsMonitoring() {
		// The monitor goroutine owns cmd.Wait; wait on waitDone and escalate.
		if wd := r.WaitDoneChan(); wd != nil {
			select {
			case <-wd:
			case <-time.After(grace):
				forced = true
				_ = signalGroup(pid, sigKill)
				select {
				case <-wd:
				case <-time.After(200 * time.Millisecond):
					// best-effort
				}
			}
		} else {
			time.Sleep(grace)
		}
	} else if r.MonitoringStartIfNeeded() {
		// We own the wait; perform it and finalize state.
		ch := make(chan error, 1)
		go func() {
			werr := cmd.Wait()
			r.MarkExited(werr)
			r.CloseWaitDone()
			ch <- werr
		}()
		select {
		case <-ch:
		case <-time.After(grace):
			forced = true
			_ = signalGroup(pid, sigKill)
			select {
			case <-ch:
			case <-time.After(200 * time.Millisecond):
				// best-effort
			}
		}
		r.CloseWriters()
		r.MonitoringStop()
	} else {
		// Someone claimed monitoring concurrently; wait on waitDone instead.
		if wd := r.WaitDoneChan(); wd != nil {
			select {
			case <-wd:
			case <-time.After(grace):
				forced = true
				_ = signalGroup(pid, sigKill)
				select {
				case <-wd:
				case <-time.After(200 * time.Millisecond):
					// best-effort
				}
			}
		} else {
			time.Sleep(grace)
		}
	}
	r.RemovePIDFile()
	return forced, r.ExitError()
}

// Kill force-terminates the process group and attempts to reap promptly.
func (r *Running) Kill() error {
	cmd := r.copyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	r.SetStopRequested(true)
	pid := cmd.Process.Pid
	_ = signalGroup(pid, sigKill)
	if r.IsMonitoring() {
		if wd := r.WaitDoneChan(); wd != nil {
			select {
			case <-wd:
			case <-time.After(200 * time.Millisecond):
				// best-effort
			}
		} else {
			time.Sleep(200 * time.Millisecond)
		}
	} else if r.MonitoringStartIfNeeded() {
		ch := make(chan error, 1)
		go func() {
			werr := cmd.Wait()
			r.MarkExited(werr)
			r.CloseWaitDone()
			ch <- werr
		}()
		select {
		case <-ch:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
		r.CloseWriters()
		r.MonitoringStop()
	} else {
		if wd := r.WaitDoneChan(); wd != nil {
			select {
			case <-wd:
			case <-time.After(200 * time.Millisecond):
				// best-effort
			}
		} else {
			time.Sleep(200 * time.Millisecond)
		}
	}
	r.RemovePIDFile()
	return r.ExitError()
}
