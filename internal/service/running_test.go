package service

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/omnix-ai/omnixd/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// waitUntil polls fn until it returns true or timeout expires.
func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func TestTryStartWritesPIDAndStatus(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "stt.pid")
	spec := Spec{Name: "stt", Command: []string{"sleep", "0.2"}, Port: 8000, PIDFile: pidfile}
	r := NewRunning(spec)
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	defer func() { _ = r.Kill() }()

	st := r.Status()
	if st.State != StateStarting || st.PID <= 0 || st.Name != "stt" {
		t.Fatalf("status not set after start: %+v", st)
	}
	if st.StartedAt.IsZero() {
		t.Fatalf("StartedAt not recorded")
	}
	b, err := os.ReadFile(pidfile)
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		t.Fatalf("pidfile not written: %v, content=%q", err, string(b))
	}
}

func TestConfigureCmdAppliesEnvWorkdirLogging(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	_ = os.MkdirAll(work, 0o755)
	logs := filepath.Join(dir, "logs")

	spec := Spec{
		Name:    "cfg",
		Command: []string{"sh", "-c", "echo out; echo err 1>&2; sleep 0.05"},
		Port:    8000,
		WorkDir: work,
		Log:     logger.Config{File: logger.FileConfig{Dir: logs}},
	}
	r := NewRunning(spec)
	mergedEnv := []string{"FOO=bar"}
	cmd, err := r.ConfigureCmd(mergedEnv)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}

	if cmd.Dir != work {
		t.Fatalf("workdir not applied: got %q want %q", cmd.Dir, work)
	}
	if len(cmd.Env) != len(mergedEnv) || cmd.Env[0] != "FOO=bar" {
		t.Fatalf("env not applied: got %#v", cmd.Env)
	}

	// Start and let it produce logs
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := r.copyCmd()
	done := make(chan struct{})
	go func() {
		_ = c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("process did not exit in time")
	}
	// Allow file buffers to flush
	time.Sleep(50 * time.Millisecond)
	r.CloseWriters()

	ob, err := os.ReadFile(filepath.Join(logs, "cfg.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	eb, err := os.ReadFile(filepath.Join(logs, "cfg.stderr.log"))
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if !strings.Contains(string(ob), "out") {
		t.Fatalf("stdout missing content: %q", string(ob))
	}
	if !strings.Contains(string(eb), "err") {
		t.Fatalf("stderr missing content: %q", string(eb))
	}
}

func TestStopRequestedToggle(t *testing.T) {
	r := NewRunning(Spec{Name: "x", Command: []string{"sleep", "0.2"}, Port: 8000})
	if r.StopRequested() {
		t.Fatalf("default StopRequested should be false")
	}
	r.SetStopRequested(true)
	if !r.StopRequested() {
		t.Fatalf("StopRequested should be true after SetStopRequested(true)")
	}
	r.SetStopRequested(false)
	if r.StopRequested() {
		t.Fatalf("StopRequested should be false after SetStopRequested(false)")
	}
}

func TestStateTransitions(t *testing.T) {
	r := NewRunning(Spec{Name: "x", Command: []string{"sleep", "0.2"}, Port: 8000})
	if r.State() != "" {
		t.Fatalf("state before start should be empty, got %q", r.State())
	}
	r.SetState(StateHealthy)
	if r.State() != StateHealthy {
		t.Fatalf("SetState not applied")
	}
	r.MarkExited(nil)
	st := r.Status()
	if st.StoppedAt.IsZero() {
		t.Fatalf("MarkExited did not record stop time")
	}
}

func TestCloseWritersAndRemovePIDFileAndAlive(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p.pid")
	r := NewRunning(Spec{Name: "alive", Command: []string{"sleep", "0.3"}, Port: 8000, PIDFile: pidfile})
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	// After start, PID file should exist
	if _, err := os.Stat(pidfile); err != nil {
		t.Fatalf("pidfile missing after start: %v", err)
	}
	// Alive should report true via exec:pid
	if ok, src := r.Alive(); !ok || src != "exec:pid" {
		t.Fatalf("Alive expected true,exec:pid got %v,%q", ok, src)
	}
	// Close writers should be safe even if defaults (devnull) were used
	r.CloseWriters()

	c := r.copyCmd()
	_ = c.Process.Kill()
	_, _ = c.Process.Wait()
	r.MarkExited(nil)

	// RemovePIDFile should remove the file and be idempotent
	r.RemovePIDFile()
	if _, err := os.Stat(pidfile); !os.IsNotExist(err) {
		t.Fatalf("pidfile should be removed, stat err=%v", err)
	}
	r.RemovePIDFile() // second time should be no-op

	// Now Alive should return false
	if ok, _ := r.Alive(); ok {
		t.Fatalf("Alive expected false after exit")
	}
}

func TestDetectorsIncludePIDFileAndPort(t *testing.T) {
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "d.pid")
	r := NewRunning(Spec{Name: "d", Command: []string{"sleep", "0.2"}, Port: 8000, PIDFile: pidfile})
	dets := r.detectors()
	if len(dets) != 2 {
		t.Fatalf("expected pidfile+port detectors, got %d", len(dets))
	}
	if !strings.HasPrefix(dets[0].Describe(), "pidfile:") {
		t.Fatalf("expected pidfile detector first, got %q", dets[0].Describe())
	}
	if dets[1].Describe() != "port:8000" {
		t.Fatalf("expected port detector, got %q", dets[1].Describe())
	}
}

func TestKillWithoutMonitor(t *testing.T) {
	requireUnix(t)
	r := NewRunning(Spec{Name: "kill-nomon", Command: []string{"sleep", "10"}, Port: 8000})
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.Kill()
	if !waitUntil(1*time.Second, 20*time.Millisecond, func() bool { alive, _ := r.Alive(); return !alive }) {
		t.Fatalf("expected process to be dead after Kill")
	}
}

func TestGracefulStopTermThenExit(t *testing.T) {
	requireUnix(t)
	r := NewRunning(Spec{Name: "term", Command: []string{"sleep", "10"}, Port: 8000})
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	forced, _ := r.GracefulStop(2 * time.Second)
	if forced {
		t.Fatalf("expected graceful termination, got forced kill")
	}
	if !waitUntil(1*time.Second, 20*time.Millisecond, func() bool { alive, _ := r.Alive(); return !alive }) {
		t.Fatalf("process should be dead after GracefulStop")
	}
}

func TestGracefulStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	// The shell ignores TERM and keeps respawning sleeps until it is killed.
	r := NewRunning(Spec{
		Name:    "stubborn",
		Command: []string{"sh", "-c", "trap '' TERM; while true; do sleep 0.1; done"},
		Port:    8000,
	})
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Let the trap install before signaling.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	forced, _ := r.GracefulStop(300 * time.Millisecond)
	if !forced {
		t.Fatalf("expected forced kill for TERM-trapping process")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("GracefulStop took too long: %v", elapsed)
	}
	if !waitUntil(1*time.Second, 20*time.Millisecond, func() bool { alive, _ := r.Alive(); return !alive }) {
		t.Fatalf("expected process dead after escalation")
	}
}

func TestGracefulStopOnStoppedProcessIsNoop(t *testing.T) {
	r := NewRunning(Spec{Name: "never-started", Command: []string{"sleep", "1"}, Port: 18097})
	forced, err := r.GracefulStop(time.Second)
	if forced || err != nil {
		t.Fatalf("expected no-op for never-started service, got forced=%v err=%v", forced, err)
	}
}

func TestAliveParallel(t *testing.T) {
	requireUnix(t)
	r := NewRunning(Spec{Name: "alive-par", Command: []string{"sleep", "0.3"}, Port: 8000})
	cmd, err := r.ConfigureCmd(nil)
	if err != nil {
		t.Fatalf("ConfigureCmd: %v", err)
	}
	if err := r.TryStart(cmd); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				alive, _ := r.Alive()
				if !alive {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	c := r.copyCmd()
	_ = c.Wait()
	r.MarkExited(nil)
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatalf("goroutine %d did not finish", i)
		}
	}
}

func TestMonitoringClaim(t *testing.T) {
	r := NewRunning(Spec{Name: "claim", Command: []string{"sleep", "0.1"}, Port: 8000})
	if !r.MonitoringStartIfNeeded() {
		t.Fatalf("first claim should succeed")
	}
	if r.MonitoringStartIfNeeded() {
		t.Fatalf("second claim should fail while held")
	}
	if !r.IsMonitoring() {
		t.Fatalf("IsMonitoring should report true")
	}
	r.MonitoringStop()
	if r.IsMonitoring() {
		t.Fatalf("IsMonitoring should report false after stop")
	}
	if !r.MonitoringStartIfNeeded() {
		t.Fatalf("claim should succeed again after release")
	}
}
