package template

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Kind selects a scaffold for one of the known service kinds.
type Kind string

const (
	KindSTT      Kind = "stt"
	KindTTS      Kind = "tts"
	KindRealtime Kind = "realtime"
	KindWebapp   Kind = "webapp"
	KindLlama    Kind = "llama"
	// KindStack emits a complete config with the whole voice stack.
	KindStack Kind = "stack"
)

// Conventional ports for the known service kinds.
const (
	PortSTT      = 8000
	PortRealtime = 8001
	PortTTS      = 8020
	PortLlama    = 8080
	PortWebapp   = 5000
)

// ServiceTemplate is one [[service]] block in scaffold form. Durations are
// strings so the emitted TOML stays human-editable.
type ServiceTemplate struct {
	Name          string   `toml:"name"`
	Command       []string `toml:"command"`
	WorkDir       string   `toml:"work_dir,omitempty"`
	Port          int      `toml:"port"`
	HealthURL     string   `toml:"health_url,omitempty"`
	StartupDelay  string   `toml:"startup_delay,omitempty"`
	HealthTimeout string   `toml:"health_timeout,omitempty"`
	Optional      bool     `toml:"optional,omitempty"`
	Env           []string `toml:"env,omitempty"`
}

// SupervisorTemplate is the [supervisor] section of a stack scaffold.
type SupervisorTemplate struct {
	OnFailure       string `toml:"on_failure"`
	GracePeriod     string `toml:"grace_period"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LogTemplate is the [log] section of a stack scaffold.
type LogTemplate struct {
	Level string `toml:"level,omitempty"`
	Dir   string `toml:"dir,omitempty"`
}

// ServerTemplate is the [server] section of a stack scaffold.
type ServerTemplate struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// StackTemplate is a complete config scaffold.
type StackTemplate struct {
	Supervisor SupervisorTemplate `toml:"supervisor"`
	Log        *LogTemplate       `toml:"log,omitempty"`
	Server     *ServerTemplate    `toml:"server,omitempty"`
	Services   []ServiceTemplate  `toml:"service"`
}

// Generator provides config scaffolding for the known service kinds.
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the scaffold for one service kind. A non-empty name
// overrides the kind's default service name.
func (g *Generator) Generate(kind Kind, name string) (*ServiceTemplate, error) {
	var t ServiceTemplate
	switch kind {
	case KindSTT:
		t = sttTemplate()
	case KindTTS:
		t = ttsTemplate()
	case KindRealtime:
		t = realtimeTemplate()
	case KindWebapp:
		t = webappTemplate()
	case KindLlama:
		t = llamaTemplate()
	default:
		return nil, fmt.Errorf("unknown template kind: %s (supported: %s)", kind, strings.Join(g.SupportedKinds(), ", "))
	}
	if name != "" {
		t.Name = name
	}
	return &t, nil
}

// GenerateTOML renders the scaffold for kind as a TOML document. KindStack
// renders the full config; every other kind renders a single [[service]]
// block ready to paste into an existing config.
func (g *Generator) GenerateTOML(kind Kind, name string) ([]byte, error) {
	if kind == KindStack {
		return g.GenerateStackTOML()
	}
	t, err := g.Generate(kind, name)
	if err != nil {
		return nil, err
	}
	doc := struct {
		Services []ServiceTemplate `toml:"service"`
	}{Services: []ServiceTemplate{*t}}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}
	return out, nil
}

// GenerateStackTOML renders a complete voice-stack config: stt, tts, the
// llama inference server (optional), the realtime gateway, then the webapp.
func (g *Generator) GenerateStackTOML() ([]byte, error) {
	doc := StackTemplate{
		Supervisor: SupervisorTemplate{
			OnFailure:       "teardown",
			GracePeriod:     "10s",
			ShutdownTimeout: "30s",
		},
		Log:    &LogTemplate{Level: "info", Dir: "/var/log/omnixd"},
		Server: &ServerTemplate{Enabled: true, Listen: "127.0.0.1:9001"},
		Services: []ServiceTemplate{
			sttTemplate(),
			ttsTemplate(),
			llamaTemplate(),
			realtimeTemplate(),
			webappTemplate(),
		},
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal stack template: %w", err)
	}
	return out, nil
}

// SupportedKinds returns every kind Generate accepts.
func (g *Generator) SupportedKinds() []string {
	return []string{
		string(KindSTT),
		string(KindTTS),
		string(KindRealtime),
		string(KindWebapp),
		string(KindLlama),
		string(KindStack),
	}
}

func healthURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", port)
}

func sttTemplate() ServiceTemplate {
	return ServiceTemplate{
		Name:          "stt",
		Command:       []string{"python", "parakeet_stt_server.py"},
		WorkDir:       "/opt/omnix/stt",
		Port:          PortSTT,
		HealthURL:     healthURL(PortSTT),
		HealthTimeout: "120s",
		Env:           []string{"OMNIX_STT_DEVICE=cuda:0"},
	}
}

func ttsTemplate() ServiceTemplate {
	return ServiceTemplate{
		Name:          "tts",
		Command:       []string{"python", "kokoro_tts_server.py"},
		WorkDir:       "/opt/omnix/tts",
		Port:          PortTTS,
		HealthURL:     healthURL(PortTTS),
		HealthTimeout: "90s",
	}
}

func realtimeTemplate() ServiceTemplate {
	return ServiceTemplate{
		Name:          "realtime",
		Command:       []string{"python", "-m", "realtime_gateway"},
		WorkDir:       "/opt/omnix/realtime",
		Port:          PortRealtime,
		HealthURL:     healthURL(PortRealtime),
		HealthTimeout: "60s",
	}
}

// webappTemplate has no health endpoint: readiness is the fixed delay.
func webappTemplate() ServiceTemplate {
	return ServiceTemplate{
		Name:         "webapp",
		Command:      []string{"python", "app.py"},
		WorkDir:      "/opt/omnix/webapp",
		Port:         PortWebapp,
		StartupDelay: "3s",
	}
}

func llamaTemplate() ServiceTemplate {
	return ServiceTemplate{
		Name:          "llama",
		Command:       []string{"llama-server", "--host", "127.0.0.1", "--port", "8080", "-m", "models/llm.gguf"},
		WorkDir:       "/opt/omnix/llama",
		Port:          PortLlama,
		HealthURL:     healthURL(PortLlama),
		HealthTimeout: "180s",
		Optional:      true,
	}
}
