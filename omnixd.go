// Package omnixd embeds the omnix voice-stack supervisor: an ordered set of
// backend services launched sequentially behind health gates, watched for
// crashes, and torn down in reverse launch order.
package omnixd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/omnix-ai/omnixd/internal/config"
	"github.com/omnix-ai/omnixd/internal/health"
	"github.com/omnix-ai/omnixd/internal/history"
	historyfactory "github.com/omnix-ai/omnixd/internal/history/factory"
	"github.com/omnix-ai/omnixd/internal/metrics"
	"github.com/omnix-ai/omnixd/internal/registry"
	iapi "github.com/omnix-ai/omnixd/internal/server"
	"github.com/omnix-ai/omnixd/internal/service"
	"github.com/omnix-ai/omnixd/internal/store"
	storefactory "github.com/omnix-ai/omnixd/internal/store/factory"
	"github.com/omnix-ai/omnixd/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type Status = service.Status

type State = service.State

type Hooks = service.Hooks

// Service lifecycle states.
const (
	StateStarting  = service.StateStarting
	StateHealthy   = service.StateHealthy
	StateUnhealthy = service.StateUnhealthy
	StateStopped   = service.StateStopped
	StateFailed    = service.StateFailed
)

type Options = supervisor.Options

type FailurePolicy = supervisor.FailurePolicy

const (
	FailureTeardown = supervisor.FailureTeardown
	FailureDegraded = supervisor.FailureDegraded
)

type Phase = supervisor.Phase

// Supervisor lifecycle phases.
const (
	PhaseInitializing = supervisor.PhaseInitializing
	PhaseRunning      = supervisor.PhaseRunning
	PhaseShuttingDown = supervisor.PhaseShuttingDown
	PhaseTerminated   = supervisor.PhaseTerminated
)

type ServiceResult = supervisor.ServiceResult

type StartupReport = supervisor.StartupReport

type ShutdownReport = supervisor.ShutdownReport

// Error taxonomy, usable with errors.As from embedding code.

type ConfigurationError = registry.ConfigurationError

type LaunchFailure = supervisor.LaunchFailure

type HealthCheckTimeout = supervisor.HealthCheckTimeout

type UnexpectedExit = supervisor.UnexpectedExit

type ShutdownTimeout = supervisor.ShutdownTimeout

type Config = cfg.Config

type ServerConfig = cfg.ServerConfig

type TLSConfig = cfg.TLSConfig

type HistorySink = history.Sink

type Event = history.Event

type Store = store.Store

type HealthChecker = health.Checker

type ResourceConfig = metrics.ResourceConfig

type ResourceCollector = metrics.ResourceCollector

// Supervisor is a thin facade over the internal supervisor. It bundles the
// shutdown coordinator so embedders get idempotent full-stack shutdown without
// extra wiring.
type Supervisor struct {
	inner *supervisor.Supervisor
	coord *supervisor.ShutdownCoordinator
}

// New validates specs into an ordered stack and builds a supervisor over it.
// Validation failures surface as *ConfigurationError.
func New(specs []Spec, opts Options) (*Supervisor, error) {
	reg, err := registry.New(specs)
	if err != nil {
		return nil, err
	}
	inner := supervisor.New(reg, opts)
	return &Supervisor{inner: inner, coord: supervisor.NewShutdownCoordinator(inner)}, nil
}

func (s *Supervisor) SetGlobalEnv(kvs []string) { s.inner.SetGlobalEnv(kvs) }
func (s *Supervisor) SetUseOSEnv(use bool)      { s.inner.SetUseOSEnv(use) }
func (s *Supervisor) SetHistorySinks(sinks ...HistorySink) {
	s.inner.SetHistorySinks(sinks...)
}

// SetStore wires a persistence store and ensures its schema.
func (s *Supervisor) SetStore(st Store) error { return s.inner.SetStore(st) }

// StartAll launches the stack in declared order and returns the report.
func (s *Supervisor) StartAll(ctx context.Context) *StartupReport { return s.inner.StartAll(ctx) }

// ShutdownAll stops the stack in reverse launch order. Safe to call from
// multiple signal handlers; the stack is torn down once and every call
// returns the same report. A grace of zero selects the configured default.
func (s *Supervisor) ShutdownAll(ctx context.Context, grace time.Duration) *ShutdownReport {
	return s.coord.ShutdownAll(ctx, grace)
}

func (s *Supervisor) StartLiveness(ctx context.Context) { s.inner.StartLiveness(ctx) }
func (s *Supervisor) StopLiveness()                     { s.inner.StopLiveness() }

func (s *Supervisor) Start(ctx context.Context, name string) (ServiceResult, error) {
	return s.inner.StartService(ctx, name)
}

func (s *Supervisor) Stop(ctx context.Context, name string) error {
	return s.inner.StopService(ctx, name)
}

func (s *Supervisor) Restart(ctx context.Context, name string) (ServiceResult, error) {
	return s.inner.Restart(ctx, name)
}

func (s *Supervisor) Status(name string) (Status, error) { return s.inner.Status(name) }
func (s *Supervisor) StatusAll() []Status                { return s.inner.StatusAll() }
func (s *Supervisor) PIDs() map[string]int               { return s.inner.PIDs() }
func (s *Supervisor) LastReport() *StartupReport         { return s.inner.LastReport() }
func (s *Supervisor) Phase() Phase                       { return s.inner.Phase() }

// Subscribe streams lifecycle events to the returned channel until cancel is
// called. Slow consumers drop events rather than blocking supervision.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.inner.Subscribe(buffer)
}

// LoadConfig reads a TOML config file into Config, with Specs and GlobalEnv
// derived and ready for New.
func LoadConfig(path string) (*Config, error) {
	return cfg.LoadConfig(path)
}

// NewStore builds a persistence store from a DSN: a sqlite path/URL or a
// postgres:// URL.
func NewStore(dsn string) (Store, error) { return storefactory.NewFromDSN(dsn) }

// NewHistorySink builds a lifecycle-event sink from a DSN: sqlite, postgres,
// clickhouse, opensearch or redis.
func NewHistorySink(dsn string) (HistorySink, error) { return historyfactory.NewSinkFromDSN(dsn) }

// NewHealthChecker returns a checker with the given poll interval and
// per-attempt timeout; zero values keep the defaults.
func NewHealthChecker(pollInterval, attemptTimeout time.Duration) *HealthChecker {
	c := health.New()
	if pollInterval > 0 {
		c.PollInterval = pollInterval
	}
	if attemptTimeout > 0 {
		c.AttemptTimeout = attemptTimeout
	}
	return c
}

// NewHTTPServer starts a plain-HTTP control-plane server on addr. The caller
// owns Shutdown/Close on the returned server.
func NewHTTPServer(addr, basePath string, sup *Supervisor) (*http.Server, error) {
	return iapi.NewServer(ServerConfig{Listen: addr, BasePath: basePath}, sup.inner, false)
}

// NewServer starts the control-plane server described by a full [server]
// section, including TLS and the optional shared /metrics mount.
func NewServer(scfg ServerConfig, sup *Supervisor, withMetrics bool) (*http.Server, error) {
	return iapi.NewServer(scfg, sup.inner, withMetrics)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewResourceCollector builds a CPU/memory sampler for the supervised
// services. The caller registers its gauges and owns Start/Stop.
func NewResourceCollector(rc ResourceConfig) *ResourceCollector {
	return metrics.NewResourceCollector(rc)
}

// RegisterMetricsWithResourcesDefault registers the standard collectors plus
// a resource collector built from rc with the default registry and returns
// the collector. Wire it with Start(ctx, sup.PIDs) and Stop on shutdown.
func RegisterMetricsWithResourcesDefault(rc ResourceConfig) (*ResourceCollector, error) {
	if err := RegisterMetricsDefault(); err != nil {
		return nil, err
	}
	c := metrics.NewResourceCollector(rc)
	if err := c.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	return c, nil
}

// MetricsHandler returns the /metrics handler for mounting on a caller-owned
// mux.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
