package omnixd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFacade(t *testing.T, specs ...Spec) *Supervisor {
	t.Helper()
	sup, err := New(specs, Options{GracePeriod: 2 * time.Second, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sup.ShutdownAll(ctx, 0)
	})
	return sup
}

func TestFacadeStartStatusStop(t *testing.T) {
	requireUnix(t)
	sup := newFacade(t, Spec{Name: "stt", Command: []string{"sleep", "30"}, Port: 8000})
	res, err := sup.Start(context.Background(), "stt")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.State != StateHealthy || res.PID <= 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	st, err := sup.Status("stt")
	if err != nil || st.PID != res.PID {
		t.Fatalf("status: %+v err=%v", st, err)
	}
	if err := sup.Stop(context.Background(), "stt"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, _ = sup.Status("stt")
	if st.State != StateStopped {
		t.Fatalf("expected stopped, got %s", st.State)
	}
}

func TestFacadeStartAllShutdownAllIdempotent(t *testing.T) {
	requireUnix(t)
	sup := newFacade(t,
		Spec{Name: "stt", Command: []string{"sleep", "30"}, Port: 8000},
		Spec{Name: "tts", Command: []string{"sleep", "30"}, Port: 8020},
	)
	rep := sup.StartAll(context.Background())
	if !rep.Success || len(rep.Services) != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if sup.LastReport() != rep {
		t.Fatal("LastReport should return the retained report")
	}
	if sup.Phase() != PhaseRunning {
		t.Fatalf("expected running phase, got %s", sup.Phase())
	}
	down1 := sup.ShutdownAll(context.Background(), 0)
	down2 := sup.ShutdownAll(context.Background(), 0)
	if down1 != down2 {
		t.Fatal("repeated shutdown must return the same report")
	}
	if len(down1.Stopped) != 2 {
		t.Fatalf("unexpected shutdown report: %+v", down1)
	}
}

func TestFacadeConfigurationError(t *testing.T) {
	_, err := New([]Spec{
		{Name: "a", Command: []string{"sleep", "1"}, Port: 8000},
		{Name: "b", Command: []string{"sleep", "1"}, Port: 8000},
	}, Options{})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestFacadeLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnixd.toml")
	data := `
[[service]]
name = "stt"
command = ["sleep", "1"]
port = 8000

[[service]]
name = "tts"
command = ["sleep", "1"]
port = 8020
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(config.Specs) != 2 || config.Specs[0].Name != "stt" {
		t.Fatalf("unexpected specs: %+v", config.Specs)
	}
	if _, err := New(config.Specs, Options{Logger: discardLogger()}); err != nil {
		t.Fatalf("specs should build a supervisor: %v", err)
	}
}

func TestFacadeEvents(t *testing.T) {
	requireUnix(t)
	sup := newFacade(t, Spec{Name: "rt", Command: []string{"sleep", "30"}, Port: 8001})
	events, cancel := sup.Subscribe(16)
	defer cancel()
	if _, err := sup.Start(context.Background(), "rt"); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case evt := <-events:
		if evt.Record.Name != "rt" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event within 3s")
	}
}

func TestFacadeHTTPServer(t *testing.T) {
	requireUnix(t)
	sup := newFacade(t, Spec{Name: "stt", Command: []string{"sleep", "30"}, Port: 8000})
	srv, err := NewHTTPServer("127.0.0.1:0", "", sup)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMetricsHelpers(t *testing.T) {
	requireUnix(t)
	// Default registry first so the promhttp handler can gather the
	// collectors.
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	sup := newFacade(t, Spec{Name: "metricsvc", Command: []string{"sleep", "30"}, Port: 18200})
	if _, err := sup.Start(context.Background(), "metricsvc"); err != nil {
		t.Fatalf("start: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "omnixd_service_starts_total") {
		t.Fatalf("metrics output missing omnixd counters: %s", rr.Body.String())
	}
}
