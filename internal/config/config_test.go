package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omnix-ai/omnixd/internal/detector"
	"github.com/omnix-ai/omnixd/internal/service"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "omnixd.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoadConfig_Minimal(t *testing.T) {
	file := writeConfig(t, `
[[service]]
name = "stt"
command = ["sleep", "1"]
port = 8000
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(cfg.Specs))
	}
	s := cfg.Specs[0]
	if s.Name != "stt" || len(s.Command) != 2 || s.Command[0] != "sleep" || s.Port != 8000 {
		t.Fatalf("unexpected spec: %+v", s)
	}
	// Section defaults apply when the file stays silent.
	sup := cfg.Supervisor
	if sup.OnFailure != "teardown" {
		t.Fatalf("default on_failure: %q", sup.OnFailure)
	}
	if sup.GracePeriod != 10*time.Second || sup.ShutdownTimeout != 30*time.Second {
		t.Fatalf("default budgets: %+v", sup)
	}
	if sup.LivenessInterval != 2*time.Second || sup.HealthPollInterval != time.Second || sup.HealthAttemptTimeout != 2*time.Second {
		t.Fatalf("default intervals: %+v", sup)
	}
	if !sup.UseOSEnv {
		t.Fatalf("use_os_env should default to true")
	}
	if !cfg.LoggerConfig().Slog.TimeStamps {
		t.Fatalf("log timestamps should default to true")
	}
	// Server section materializes with the default listen but stays disabled.
	if cfg.Server == nil || cfg.Server.Enabled || cfg.Server.Listen != "127.0.0.1:9001" {
		t.Fatalf("default server section: %+v", cfg.Server)
	}
}

func TestLoadConfig_FullService(t *testing.T) {
	file := writeConfig(t, `
[supervisor]
on_failure = "degraded"
grace_period = "5s"
shutdown_timeout = "20s"

[[service]]
name = "tts"
command = ["python", "kokoro_tts_server.py", "--port", "8020"]
work_dir = "/opt/omnix/tts"
port = 8020
health_url = "http://127.0.0.1:8020/health"
startup_delay = "2s"
health_timeout = "90s"
optional = true
env = ["OMNIX_TTS_VOICE=af_heart", "OMP_NUM_THREADS=4"]
pidfile = "/run/omnixd/tts.pid"
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supervisor.OnFailure != "degraded" || cfg.Supervisor.GracePeriod != 5*time.Second || cfg.Supervisor.ShutdownTimeout != 20*time.Second {
		t.Fatalf("unexpected supervisor section: %+v", cfg.Supervisor)
	}
	if len(cfg.Specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(cfg.Specs))
	}
	s := cfg.Specs[0]
	if s.Name != "tts" || s.WorkDir != "/opt/omnix/tts" || s.Port != 8020 {
		t.Fatalf("unexpected base fields: %+v", s)
	}
	if s.HealthURL != "http://127.0.0.1:8020/health" || s.StartupDelay != 2*time.Second || s.HealthTimeout != 90*time.Second {
		t.Fatalf("unexpected health fields: %+v", s)
	}
	if !s.Optional || len(s.Env) != 2 || s.PIDFile != "/run/omnixd/tts.pid" {
		t.Fatalf("unexpected control fields: %+v", s)
	}
}

func TestLoadConfig_DeclaredOrderKept(t *testing.T) {
	file := writeConfig(t, `
[[service]]
name = "stt"
command = ["true"]
port = 8000

[[service]]
name = "realtime"
command = ["true"]
port = 8001

[[service]]
name = "webapp"
command = ["true"]
port = 5000
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"stt", "realtime", "webapp"}
	if len(cfg.Specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(cfg.Specs))
	}
	for i, name := range want {
		if cfg.Specs[i].Name != name {
			t.Fatalf("spec %d: expected %s, got %s", i, name, cfg.Specs[i].Name)
		}
	}
}

func TestLoadConfig_Detectors(t *testing.T) {
	file := writeConfig(t, `
[[service]]
name = "llama"
command = ["llama-server"]
port = 8080
  [[service.detectors]]
  type = "pidfile"
  path = "/run/omnixd/llama.pid"
  [[service.detectors]]
  type = "command"
  command = ["pgrep", "-f", "llama-server"]
  [[service.detectors]]
  type = "port"
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.Specs[0]
	if len(s.Detectors) != 3 {
		t.Fatalf("expected 3 detectors, got %d", len(s.Detectors))
	}
	pd, ok := s.Detectors[2].(detector.PortDetector)
	if !ok {
		t.Fatalf("expected port detector, got %T", s.Detectors[2])
	}
	if pd.Port != 8080 {
		t.Fatalf("port detector should inherit the service port, got %d", pd.Port)
	}
}

func TestLoadConfig_Hooks(t *testing.T) {
	file := writeConfig(t, `
[[service]]
name = "stt"
command = ["true"]
port = 8000
  [[service.hooks.pre_start]]
  name = "download-model"
  command = ["sh", "-c", "true"]
  timeout = "30s"
  failure_mode = "fail"
  [[service.hooks.post_stop]]
  name = "cleanup"
  command = ["rm", "-f", "/tmp/stt.sock"]
  failure_mode = "ignore"
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	h := cfg.Specs[0].Hooks
	if len(h.PreStart) != 1 || len(h.PostStop) != 1 {
		t.Fatalf("unexpected hooks: %+v", h)
	}
	pre := h.PreStart[0]
	if pre.Name != "download-model" || pre.Timeout != 30*time.Second || pre.FailureMode != service.FailureModeFail {
		t.Fatalf("unexpected pre_start hook: %+v", pre)
	}
	if h.PostStop[0].FailureMode != service.FailureModeIgnore {
		t.Fatalf("unexpected post_stop hook: %+v", h.PostStop[0])
	}
}

func TestLoadConfig_LogLayering(t *testing.T) {
	file := writeConfig(t, `
[log]
level = "debug"
dir = "/var/log/omnixd"
max_size_mb = 50

[[service]]
name = "stt"
command = ["true"]
port = 8000

[[service]]
name = "webapp"
command = ["true"]
port = 5000
  [service.log]
  dir = "/var/log/webapp"
  max_backups = 9
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Global applies where no override exists.
	stt := cfg.Specs[0].Log.File
	if stt.Dir != "/var/log/omnixd" || stt.MaxSizeMB != 50 {
		t.Fatalf("stt should inherit global capture config: %+v", stt)
	}
	// Override wins field by field; untouched fields keep the global value.
	web := cfg.Specs[1].Log.File
	if web.Dir != "/var/log/webapp" || web.MaxBackups != 9 || web.MaxSizeMB != 50 {
		t.Fatalf("webapp override layering wrong: %+v", web)
	}
	// The daemon's own slog settings come from the global section only.
	if cfg.LoggerConfig().Slog.Level != "debug" {
		t.Fatalf("unexpected daemon log level: %q", cfg.LoggerConfig().Slog.Level)
	}
}

func TestLoadConfig_PIDDir(t *testing.T) {
	file := writeConfig(t, `
[supervisor]
pid_dir = "run"

[[service]]
name = "stt"
command = ["true"]
port = 8000

[[service]]
name = "tts"
command = ["true"]
port = 8020
pidfile = "/explicit/tts.pid"
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wantDir := filepath.Join(filepath.Dir(file), "run")
	if cfg.Supervisor.PIDDir != wantDir {
		t.Fatalf("pid_dir should resolve against the config dir: %q", cfg.Supervisor.PIDDir)
	}
	if cfg.Specs[0].PIDFile != filepath.Join(wantDir, "stt.pid") {
		t.Fatalf("stt should default its pidfile under pid_dir: %q", cfg.Specs[0].PIDFile)
	}
	if cfg.Specs[1].PIDFile != "/explicit/tts.pid" {
		t.Fatalf("explicit pidfile must win: %q", cfg.Specs[1].PIDFile)
	}
}

func TestLoadConfig_ServerMetricsStore(t *testing.T) {
	file := writeConfig(t, `
[server]
enabled = true
listen = "127.0.0.1:9033"
base_path = "/omnixd"
  [server.tls]
  enabled = true
  dir = "/etc/omnixd/tls"
  auto_generate = true

[metrics]
enabled = true
listen = "127.0.0.1:9100"
  [metrics.resources]
  enabled = true
  interval = "15s"

[store]
enabled = true
dsn = "sqlite:///var/lib/omnixd/state.db"
retention = "720h"
`)
	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server == nil || !cfg.Server.Enabled || cfg.Server.Listen != "127.0.0.1:9033" || cfg.Server.BasePath != "/omnixd" {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if cfg.Server.TLS == nil || !cfg.Server.TLS.Enabled || cfg.Server.TLS.Dir != "/etc/omnixd/tls" || !cfg.Server.TLS.AutoGenerate {
		t.Fatalf("unexpected tls section: %+v", cfg.Server.TLS)
	}
	if cfg.Metrics == nil || !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Fatalf("unexpected metrics section: %+v", cfg.Metrics)
	}
	if cfg.Metrics.Resources == nil || !cfg.Metrics.Resources.Enabled || cfg.Metrics.Resources.Interval != 15*time.Second {
		t.Fatalf("unexpected resources section: %+v", cfg.Metrics.Resources)
	}
	if cfg.Store == nil || !cfg.Store.Enabled || cfg.Store.DSN != "sqlite:///var/lib/omnixd/state.db" {
		t.Fatalf("unexpected store section: %+v", cfg.Store)
	}
	if cfg.Store.Retention != 720*time.Hour {
		t.Fatalf("unexpected retention: %v", cfg.Store.Retention)
	}
}
