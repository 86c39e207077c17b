package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/fleetd/internal/process"
	"github.com/loykin/fleetd/internal/service"
)

// DefaultGrace is how long a service may take to exit after SIGTERM.
const DefaultGrace = 10 * time.Second

// Coordinator stops the whole fleet exactly once.
type Coordinator struct {
	once     sync.Once
	stopping atomic.Bool
	done     chan struct{}

	grace     time.Duration
	children  func(pid int) ([]int, error)
	terminate func(pid int) error
	log       *slog.Logger
}

type Option func(*Coordinator)

func WithGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithChildLister replaces the descendant enumeration, mainly for tests.
func WithChildLister(fn func(pid int) ([]int, error)) Option {
	return func(c *Coordinator) { c.children = fn }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		done:      make(chan struct{}),
		grace:     DefaultGrace,
		children:  process.ChildPIDs,
		terminate: process.TerminatePID,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stopping reports whether shutdown has begun.
func (c *Coordinator) Stopping() bool { return c.stopping.Load() }

// Done is closed once ShutdownAll has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// ShutdownAll terminates every live service and its descendants, then joins
// each top-level process. Every service is signalled before any is waited
// on, so one that ignores SIGTERM only delays its own SIGKILL. Later calls
// block until the first one completes and then return without touching any
// process.
func (c *Coordinator) ShutdownAll(descs []*service.Descriptor) {
	c.once.Do(func() {
		c.stopping.Store(true)
		defer close(c.done)
		c.log.Info("stopping services")

		type target struct {
			d *service.Descriptor
			h *process.Handle
		}
		live := make([]target, 0, len(descs))
		for _, d := range descs {
			if h := d.Handle(); h != nil && !h.Exited() {
				c.terminateChildren(d, h)
				live = append(live, target{d, h})
			}
		}

		var wg sync.WaitGroup
		for _, t := range live {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.stopOne(t.d, t.h)
			}()
		}
		wg.Wait()
		c.log.Info("all services stopped")
	})
}

func (c *Coordinator) terminateChildren(d *service.Descriptor, h *process.Handle) {
	kids, err := c.children(h.PID())
	if err != nil {
		c.log.Debug("list children", "service", d.Name, "pid", h.PID(), "error", err)
	}
	for _, pid := range kids {
		if err := c.terminate(pid); err != nil {
			c.log.Warn("terminate child", "service", d.Name, "pid", pid, "error", err)
		}
	}
}

// stopOne sends SIGTERM right away and escalates to SIGKILL after grace.
func (c *Coordinator) stopOne(d *service.Descriptor, h *process.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.grace)
	defer cancel()
	if err := h.Stop(ctx, c.grace); err != nil {
		c.log.Warn("stop service", "service", d.Name, "pid", h.PID(), "error", err)
		return
	}
	c.log.Info("service stopped", "service", d.Name, "pid", h.PID())
}
