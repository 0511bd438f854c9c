package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ResourceConfig controls the per-service resource sampler.
type ResourceConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// ResourceUsage is one CPU/memory sample for a running service.
type ResourceUsage struct {
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceCollector periodically samples CPU and memory of supervised
// services and exports them as gauges. The latest sample per service is kept
// for the status API.
type ResourceCollector struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.RWMutex
	last map[string]ResourceUsage

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		last:     make(map[string]ResourceUsage),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "omnixd",
				Subsystem: "service",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage per supervised service.",
			}, []string{"name"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "omnixd",
				Subsystem: "service",
				Name:      "memory_mb",
				Help:      "Resident memory in MB per supervised service.",
			}, []string{"name"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "omnixd",
				Subsystem: "service",
				Name:      "num_threads",
				Help:      "Thread count per supervised service.",
			}, []string{"name"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "omnixd",
				Subsystem: "service",
				Name:      "num_fds",
				Help:      "Open file descriptors per supervised service (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, col := range collectors {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. pids returns the current service name to
// PID mapping; services missing from it have their samples dropped.
func (c *ResourceCollector) Start(ctx context.Context, pids func() map[string]int) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(pids())
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine.
func (c *ResourceCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Snapshot returns the latest sample per service, sorted by name.
func (c *ResourceCollector) Snapshot() []ResourceUsage {
	c.mu.RLock()
	out := make([]ResourceUsage, 0, len(c.last))
	for _, u := range c.last {
		out = append(out, u)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *ResourceCollector) collect(pids map[string]int) {
	now := time.Now()
	fresh := make(map[string]ResourceUsage, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		usage, err := sampleProcess(name, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "service", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = *usage
		c.cpuPercent.WithLabelValues(name).Set(usage.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(usage.MemoryMB)
		c.numThreads.WithLabelValues(name).Set(float64(usage.NumThreads))
		if runtime.GOOS != "windows" && usage.NumFDs > 0 {
			c.numFDs.WithLabelValues(name).Set(float64(usage.NumFDs))
		}
	}

	c.mu.Lock()
	for name := range c.last {
		if _, ok := fresh[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
			c.numThreads.DeleteLabelValues(name)
			c.numFDs.DeleteLabelValues(name)
		}
	}
	c.last = fresh
	c.mu.Unlock()
}

func sampleProcess(name string, pid int, ts time.Time) (*ResourceUsage, error) {
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	usage := &ResourceUsage{
		Name:       name,
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			usage.NumFDs = numFDs
		}
	}
	return usage, nil
}
