package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/omnix-ai/omnixd/internal/registry"
	"github.com/omnix-ai/omnixd/internal/service"
)

func hookTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	reg, err := registry.New([]service.Spec{
		{Name: "stt", Command: []string{"sleep", "1"}, Port: 8000},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return New(reg, Options{Logger: discardLogger()})
}

func TestRunHooksBlockingOrder(t *testing.T) {
	requireUnix(t)
	sup := hookTestSupervisor(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "order.txt")
	spec := service.Spec{
		Name: "stt",
		Hooks: service.Hooks{
			PreStart: []service.Hook{
				{Name: "first", Command: []string{"sh", "-c", "printf 'a' >> " + out}},
				{Name: "second", Command: []string{"sh", "-c", "printf 'b' >> " + out}},
				{Name: "third", Command: []string{"sh", "-c", "printf 'c' >> " + out}},
			},
		},
	}
	if err := sup.runHooks(context.Background(), spec, service.PhasePreStart); err != nil {
		t.Fatalf("runHooks: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hooks did not run: %v", err)
	}
	if got := string(b); got != "abc" {
		t.Fatalf("hook order = %q, want abc", got)
	}
}

func TestRunHooksAsyncDoesNotBlock(t *testing.T) {
	requireUnix(t)
	sup := hookTestSupervisor(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "async.txt")
	spec := service.Spec{
		Name: "stt",
		Hooks: service.Hooks{
			PreStart: []service.Hook{{
				Name:    "slow",
				Command: []string{"sh", "-c", "sleep 0.3; printf 'done' > " + marker},
				RunMode: service.RunModeAsync,
			}},
		},
	}
	begin := time.Now()
	if err := sup.runHooks(context.Background(), spec, service.PhasePreStart); err != nil {
		t.Fatalf("runHooks: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Fatalf("async hook blocked for %s", elapsed)
	}
	ok := waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	})
	if !ok {
		t.Fatalf("async hook never completed")
	}
}

func TestRunHooksFailureModes(t *testing.T) {
	requireUnix(t)
	sup := hookTestSupervisor(t)
	dir := t.TempDir()
	after := filepath.Join(dir, "after.txt")

	failing := service.Hook{Name: "bad", Command: []string{"sh", "-c", "exit 7"}, FailureMode: service.FailureModeFail}
	follower := service.Hook{Name: "after", Command: []string{"sh", "-c", "printf 'x' > " + after}}

	spec := service.Spec{Name: "stt", Hooks: service.Hooks{PreStart: []service.Hook{failing, follower}}}
	err := sup.runHooks(context.Background(), spec, service.PhasePreStart)
	if err == nil {
		t.Fatalf("expected failure from fail-mode hook")
	}
	if _, serr := os.Stat(after); serr == nil {
		t.Fatalf("failing hook must abort the remainder of the phase")
	}

	// Ignore mode: same hooks, but the failure is swallowed and the phase
	// continues.
	failing.FailureMode = service.FailureModeIgnore
	spec.Hooks.PreStart = []service.Hook{failing, follower}
	if err := sup.runHooks(context.Background(), spec, service.PhasePreStart); err != nil {
		t.Fatalf("ignore-mode hook must not fail the phase: %v", err)
	}
	if _, serr := os.Stat(after); serr != nil {
		t.Fatalf("follower hook should have run: %v", serr)
	}
}

func TestExecHookTimeout(t *testing.T) {
	requireUnix(t)
	sup := hookTestSupervisor(t)
	h := service.Hook{
		Name:    "hang",
		Command: []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	}
	begin := time.Now()
	err := sup.execHook(context.Background(), service.Spec{Name: "stt"}, service.PhasePreStart, h)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestExecHookErrorIncludesOutput(t *testing.T) {
	requireUnix(t)
	sup := hookTestSupervisor(t)
	h := service.Hook{
		Name:    "diag",
		Command: []string{"sh", "-c", "echo model checkpoint missing 1>&2; exit 2"},
	}
	err := sup.execHook(context.Background(), service.Spec{Name: "tts"}, service.PhasePreStart, h)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model checkpoint missing") {
		t.Fatalf("error should carry the hook's first output line: %v", err)
	}
}

func TestFirstLineTruncates(t *testing.T) {
	if got := firstLine([]byte("  one\ntwo\nthree\n")); got != "one" {
		t.Fatalf("firstLine = %q, want one", got)
	}
	long := strings.Repeat("x", 500)
	if got := firstLine([]byte(long)); len(got) != 200 {
		t.Fatalf("firstLine length = %d, want 200", len(got))
	}
	if got := firstLine(nil); got != "" {
		t.Fatalf("firstLine(nil) = %q, want empty", got)
	}
}
