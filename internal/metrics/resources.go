package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceCollector samples CPU and memory of running service processes.
type ResourceCollector struct {
	interval time.Duration
	log      *slog.Logger

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec

	mu    sync.Mutex
	procs map[string]*process.Process // keyed by service, reused for CPU deltas
	seen  map[string]bool
}

// NewResourceCollector returns a collector sampling every interval (default 5s).
func NewResourceCollector(interval time.Duration, log *slog.Logger) *ResourceCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      name,
			Help:      help,
		}, []string{"service"})
	}
	return &ResourceCollector{
		interval: interval,
		log:      log,
		cpu:      gauge("cpu_percent", "CPU usage of the service process."),
		rss:      gauge("memory_rss_bytes", "Resident memory of the service process."),
		threads:  gauge("threads", "Number of OS threads of the service process."),
		fds:      gauge("open_fds", "Number of open file descriptors of the service process."),
		procs:    make(map[string]*process.Process),
		seen:     make(map[string]bool),
	}
}

// Register adds the resource gauges to r.
func (c *ResourceCollector) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{c.cpu, c.rss, c.threads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.fds)
	}
	for _, col := range cs {
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

// Run samples pids() every interval until ctx is done.
func (c *ResourceCollector) Run(ctx context.Context, pids func() map[string]int) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Collect(ctx, pids())
		}
	}
}

// Collect takes one sample. Services missing from pids lose their series.
func (c *ResourceCollector) Collect(ctx context.Context, pids map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		p := c.procs[name]
		if p == nil || int(p.Pid) != pid {
			np, err := process.NewProcessWithContext(ctx, int32(pid))
			if err != nil {
				c.log.Debug("resource sample", "service", name, "pid", pid, "error", err)
				continue
			}
			p = np
			c.procs[name] = p
		}
		if v, err := p.PercentWithContext(ctx, 0); err == nil {
			c.cpu.WithLabelValues(name).Set(v)
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			c.rss.WithLabelValues(name).Set(float64(mi.RSS))
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			c.threads.WithLabelValues(name).Set(float64(n))
		}
		if runtime.GOOS != "windows" {
			if n, err := p.NumFDsWithContext(ctx); err == nil {
				c.fds.WithLabelValues(name).Set(float64(n))
			}
		}
		c.seen[name] = true
	}
	for name := range c.seen {
		if pid, ok := pids[name]; ok && pid > 0 {
			continue
		}
		c.cpu.DeleteLabelValues(name)
		c.rss.DeleteLabelValues(name)
		c.threads.DeleteLabelValues(name)
		c.fds.DeleteLabelValues(name)
		delete(c.procs, name)
		delete(c.seen, name)
	}
}
