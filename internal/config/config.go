package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omnix-ai/omnixd/internal/detector"
	"github.com/omnix-ai/omnixd/internal/logger"
	"github.com/omnix-ai/omnixd/internal/service"
	"github.com/spf13/viper"
)

// Config is the resolved configuration of one omnixd instance. Raw TOML
// sections are unmarshaled directly; Specs and GlobalEnv are derived from
// them by LoadConfig.
type Config struct {
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        *LogConfig       `mapstructure:"log"`
	Server     *ServerConfig    `mapstructure:"server"`
	Metrics    *MetricsConfig   `mapstructure:"metrics"`
	Store      *StoreConfig     `mapstructure:"store"`
	History    *HistoryConfig   `mapstructure:"history"`
	Services   []ServiceConfig  `mapstructure:"service"`

	// Derived by LoadConfig.
	Specs     []service.Spec `mapstructure:"-"`
	GlobalEnv []string       `mapstructure:"-"`
}

// SupervisorConfig carries the [supervisor] policy knobs and the global
// environment sources.
type SupervisorConfig struct {
	OnFailure            string        `toml:"on_failure" mapstructure:"on_failure"`
	GracePeriod          time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	LivenessInterval     time.Duration `toml:"liveness_interval" mapstructure:"liveness_interval"`
	HealthPollInterval   time.Duration `toml:"health_poll_interval" mapstructure:"health_poll_interval"`
	HealthAttemptTimeout time.Duration `toml:"health_attempt_timeout" mapstructure:"health_attempt_timeout"`
	PIDDir               string        `toml:"pid_dir" mapstructure:"pid_dir"`
	Env                  []string      `toml:"env" mapstructure:"env"`
	EnvFiles             []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv             bool          `toml:"use_os_env" mapstructure:"use_os_env"`
}

func (sc *SupervisorConfig) validate() error {
	switch sc.OnFailure {
	case "", "teardown", "degraded":
	default:
		return fmt.Errorf("supervisor: on_failure must be %q or %q, got %q", "teardown", "degraded", sc.OnFailure)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"grace_period", sc.GracePeriod},
		{"shutdown_timeout", sc.ShutdownTimeout},
		{"liveness_interval", sc.LivenessInterval},
		{"health_poll_interval", sc.HealthPollInterval},
		{"health_attempt_timeout", sc.HealthAttemptTimeout},
	} {
		if d.v < 0 {
			return fmt.Errorf("supervisor: %s cannot be negative", d.name)
		}
	}
	return nil
}

// LogConfig is the [log] section and, per service, the [service.log]
// override. The slog fields only apply to the global section; per-service
// overrides affect output capture.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

func (lc *LogConfig) toLogger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(lc.Level),
			Format:     logger.Format(lc.Format),
			Color:      lc.Color,
			TimeStamps: lc.Timestamps,
			Source:     lc.Source,
		},
		File: logger.FileConfig{
			Dir:        lc.Dir,
			StdoutPath: lc.Stdout,
			StderrPath: lc.Stderr,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		},
	}
}

// ServerConfig is the [server] section for the control-plane API.
type ServerConfig struct {
	Enabled       bool       `toml:"enabled" mapstructure:"enabled"`
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	PidFile       string     `toml:"pidfile" mapstructure:"pidfile"`
	LogFile       string     `toml:"logfile" mapstructure:"logfile"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig is the [server.tls] section: either explicit cert/key files or a
// directory that may be populated with an auto-generated self-signed pair.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// MetricsConfig is the [metrics] section. With an empty Listen the metrics
// handler is mounted on the API server instead of its own listener.
type MetricsConfig struct {
	Enabled   bool                   `toml:"enabled" mapstructure:"enabled"`
	Listen    string                 `toml:"listen" mapstructure:"listen"`
	Resources *ResourceMetricsConfig `toml:"resources" mapstructure:"resources"`
}

// ResourceMetricsConfig enables periodic CPU/memory sampling of the managed
// services.
type ResourceMetricsConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// StoreConfig is the [store] section. The DSN scheme selects the backend
// (sqlite by default, postgres://... for PostgreSQL).
type StoreConfig struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	DSN       string        `toml:"dsn" mapstructure:"dsn"`
	Retention time.Duration `toml:"retention" mapstructure:"retention"`
}

// HistoryConfig is the [history] section: lifecycle events are fanned out to
// every configured sink.
type HistoryConfig struct {
	Enabled bool         `toml:"enabled" mapstructure:"enabled"`
	Sinks   []SinkConfig `toml:"sinks" mapstructure:"sinks"`
}

// SinkConfig names one history sink by DSN. The scheme selects the backend:
// sqlite://, postgres://, clickhouse://, opensearch://, redis://.
type SinkConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServiceConfig is one [[service]] block.
type ServiceConfig struct {
	Name          string          `toml:"name" mapstructure:"name"`
	Command       []string        `toml:"command" mapstructure:"command"`
	WorkDir       string          `toml:"work_dir" mapstructure:"work_dir"`
	Port          int             `toml:"port" mapstructure:"port"`
	HealthURL     string          `toml:"health_url" mapstructure:"health_url"`
	StartupDelay  time.Duration   `toml:"startup_delay" mapstructure:"startup_delay"`
	HealthTimeout time.Duration   `toml:"health_timeout" mapstructure:"health_timeout"`
	Optional      bool            `toml:"optional" mapstructure:"optional"`
	Env           []string        `toml:"env" mapstructure:"env"`
	PIDFile       string          `toml:"pidfile" mapstructure:"pidfile"`
	Detectors     []DetectorEntry `toml:"detectors" mapstructure:"detectors"`
	Hooks         *service.Hooks  `toml:"hooks" mapstructure:"hooks"`
	Log           *LogConfig      `toml:"log" mapstructure:"log"`
}

// DetectorEntry configures one extra liveness detector for a service.
type DetectorEntry struct {
	Type    string   `toml:"type" mapstructure:"type"`
	Path    string   `toml:"path" mapstructure:"path"`
	PID     int      `toml:"pid" mapstructure:"pid"`
	Command []string `toml:"command" mapstructure:"command"`
	Host    string   `toml:"host" mapstructure:"host"`
	Port    int      `toml:"port" mapstructure:"port"`
}

// LoadConfig reads a TOML file and resolves it into a Config: policy knobs
// validated, global env merged from env_files and env, service specs built
// with detectors and layered log settings. A relative pid_dir is resolved
// against the config file's directory.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Supervisor.validate(); err != nil {
		return nil, err
	}
	if c.Supervisor.PIDDir != "" && !filepath.IsAbs(c.Supervisor.PIDDir) {
		c.Supervisor.PIDDir = filepath.Join(filepath.Dir(path), c.Supervisor.PIDDir)
	}
	env, err := buildGlobalEnv(c.Supervisor)
	if err != nil {
		return nil, err
	}
	c.GlobalEnv = env
	specs, err := c.buildSpecs()
	if err != nil {
		return nil, err
	}
	c.Specs = specs
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supervisor.on_failure", "teardown")
	v.SetDefault("supervisor.grace_period", "10s")
	v.SetDefault("supervisor.shutdown_timeout", "30s")
	v.SetDefault("supervisor.liveness_interval", "2s")
	v.SetDefault("supervisor.health_poll_interval", "1s")
	v.SetDefault("supervisor.health_attempt_timeout", "2s")
	v.SetDefault("supervisor.use_os_env", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("server.listen", "127.0.0.1:9001")
}

// LoggerConfig returns the daemon's own logging configuration from [log].
func (c *Config) LoggerConfig() logger.Config {
	if c.Log == nil {
		return logger.Config{Slog: logger.SlogConfig{TimeStamps: true}}
	}
	return c.Log.toLogger()
}

func (c *Config) buildSpecs() ([]service.Spec, error) {
	specs := make([]service.Spec, 0, len(c.Services))
	for _, sc := range c.Services {
		dets, err := buildDetectors(sc)
		if err != nil {
			return nil, err
		}
		pidFile := sc.PIDFile
		if pidFile == "" && c.Supervisor.PIDDir != "" {
			pidFile = filepath.Join(c.Supervisor.PIDDir, sc.Name+".pid")
		}
		s := service.Spec{
			Name:          sc.Name,
			Command:       sc.Command,
			WorkDir:       sc.WorkDir,
			Port:          sc.Port,
			HealthURL:     sc.HealthURL,
			StartupDelay:  sc.StartupDelay,
			HealthTimeout: sc.HealthTimeout,
			Optional:      sc.Optional,
			Env:           sc.Env,
			PIDFile:       pidFile,
			Detectors:     dets,
			Log:           mergeLogConfig(c.Log, sc.Log),
		}
		if sc.Hooks != nil {
			s.Hooks = *sc.Hooks
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func buildDetectors(sc ServiceConfig) ([]detector.Detector, error) {
	dets := make([]detector.Detector, 0, len(sc.Detectors))
	for _, d := range sc.Detectors {
		switch d.Type {
		case "pidfile":
			if d.Path == "" {
				return nil, fmt.Errorf("detector pidfile requires path for service %s", sc.Name)
			}
			dets = append(dets, detector.PIDFileDetector{PIDFile: d.Path})
		case "pid":
			if d.PID <= 0 {
				return nil, fmt.Errorf("detector pid requires positive pid for service %s", sc.Name)
			}
			dets = append(dets, detector.PIDDetector{PID: d.PID})
		case "command":
			if len(d.Command) == 0 {
				return nil, fmt.Errorf("detector command requires command for service %s", sc.Name)
			}
			dets = append(dets, detector.CommandDetector{Command: d.Command})
		case "port":
			port := d.Port
			if port == 0 {
				port = sc.Port
			}
			if port <= 0 {
				return nil, fmt.Errorf("detector port requires port for service %s", sc.Name)
			}
			dets = append(dets, detector.PortDetector{Host: d.Host, Port: port})
		default:
			return nil, fmt.Errorf("unknown detector type %q for service %s", d.Type, sc.Name)
		}
	}
	return dets, nil
}

// mergeLogConfig layers the per-service override over the global [log]
// defaults. Only capture fields participate; the slog fields belong to the
// daemon.
func mergeLogConfig(global, override *LogConfig) logger.Config {
	var lc logger.Config
	if global != nil {
		lc.File = global.toLogger().File
	}
	if override != nil {
		if override.Dir != "" {
			lc.File.Dir = override.Dir
		}
		if override.Stdout != "" {
			lc.File.StdoutPath = override.Stdout
		}
		if override.Stderr != "" {
			lc.File.StderrPath = override.Stderr
		}
		if override.MaxSizeMB != 0 {
			lc.File.MaxSizeMB = override.MaxSizeMB
		}
		if override.MaxBackups != 0 {
			lc.File.MaxBackups = override.MaxBackups
		}
		if override.MaxAgeDays != 0 {
			lc.File.MaxAgeDays = override.MaxAgeDays
		}
		if override.Compress {
			lc.File.Compress = true
		}
	}
	return lc
}

// buildGlobalEnv merges env_files contents in order, then the env list on
// top. The OS environment is not merged here; the supervisor's env layer
// owns that via use_os_env.
func buildGlobalEnv(sc SupervisorConfig) ([]string, error) {
	m := make(map[string]string)
	for _, p := range sc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range sc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
