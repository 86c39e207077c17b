package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/fleetd/internal/metrics"
)

// Defaults for the readiness poll.
const (
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// ErrTimeout is reported when a service never opened its port in time.
var ErrTimeout = errors.New("health check timed out")

// Prober answers a single "is pid listening on port" question.
type Prober interface {
	IsListening(pid, port int) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(pid, port int) bool

func (f ProberFunc) IsListening(pid, port int) bool { return f(pid, port) }

// Target is one service awaiting readiness.
type Target struct {
	Name string
	PID  int
	Port int // 0 skips the check
}

// Result is the outcome of one readiness wait.
type Result struct {
	Name  string
	Port  int
	Ready bool
	Err   error
}

// Gate polls service ports until they listen or a timeout expires.
type Gate struct {
	prober   Prober
	timeout  time.Duration
	interval time.Duration
	log      *slog.Logger
}

// NewGate returns a gate. Zero durations fall back to the defaults.
func NewGate(p Prober, timeout, interval time.Duration, log *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{prober: p, timeout: timeout, interval: interval, log: log}
}

// AwaitReady blocks until t listens, the timeout expires or ctx ends.
// A failed check is logged and returned; it is never fatal.
func (g *Gate) AwaitReady(ctx context.Context, t Target) Result {
	res := Result{Name: t.Name, Port: t.Port}
	if t.Port == 0 {
		res.Ready = true
		return res
	}
	start := time.Now()
	deadline := time.NewTimer(g.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(g.interval)
	defer tick.Stop()
	for {
		if g.prober.IsListening(t.PID, t.Port) {
			res.Ready = true
			metrics.ObserveReady(t.Name, time.Since(start).Seconds())
			g.log.Info("service ready", "service", t.Name, "port", t.Port, "after", time.Since(start).Round(time.Millisecond))
			return res
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-deadline.C:
			res.Err = ErrTimeout
			metrics.IncHealthTimeout(t.Name)
			g.log.Error("service did not start listening", "service", t.Name, "port", t.Port, "timeout", g.timeout)
			return res
		case <-tick.C:
		}
	}
}

// AwaitAll checks every target concurrently and delivers results in
// completion order. The channel is closed after the last result.
func (g *Gate) AwaitAll(ctx context.Context, targets []Target) <-chan Result {
	out := make(chan Result, len(targets))
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			out <- g.AwaitReady(ctx, t)
		}(t)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
