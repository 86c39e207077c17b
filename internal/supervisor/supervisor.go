// Package supervisor runs the fleet: it launches every needed service, waits
// for their ports, watches each process and applies the restart policy until
// the run context ends.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/fleetd/internal/health"
	"github.com/loykin/fleetd/internal/history"
	"github.com/loykin/fleetd/internal/metrics"
	"github.com/loykin/fleetd/internal/process"
	"github.com/loykin/fleetd/internal/service"
	"github.com/loykin/fleetd/internal/shutdown"
)

// Launcher starts one service process.
type Launcher interface {
	Launch(spec process.Spec) (*process.Handle, error)
}

// Runner is a background loop tied to the supervisor's lifetime,
// typically the orphan reconciler.
type Runner interface {
	Run(ctx context.Context)
}

// Supervisor owns the descriptor set for one run.
type Supervisor struct {
	descs    []*service.Descriptor
	launcher Launcher
	gate     *health.Gate
	coord    *shutdown.Coordinator
	runners  []Runner
	rec      *history.Recorder
	managed  bool
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }

func WithGate(g *health.Gate) Option { return func(s *Supervisor) { s.gate = g } }

func WithCoordinator(c *shutdown.Coordinator) Option { return func(s *Supervisor) { s.coord = c } }

// WithRunner adds a loop started after the fleet is up and stopped with it.
func WithRunner(r Runner) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.runners = append(s.runners, r)
		}
	}
}

func WithRecorder(r *history.Recorder) Option { return func(s *Supervisor) { s.rec = r } }

// WithManaged disables restarts; the hosting platform owns them.
func WithManaged(m bool) Option { return func(s *Supervisor) { s.managed = m } }

func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a supervisor over descs. Descriptors with Needed unset are
// kept for status reporting but never launched.
func New(descs []*service.Descriptor, opts ...Option) *Supervisor {
	s := &Supervisor{descs: descs, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.launcher == nil {
		s.launcher = process.NewLauncher(s.log)
	}
	if s.gate == nil {
		s.gate = health.NewGate(health.ProberFunc(process.IsListening), 0, 0, s.log)
	}
	if s.coord == nil {
		s.coord = shutdown.New(shutdown.WithLogger(s.log))
	}
	return s
}

// Descriptors returns every descriptor, needed or not.
func (s *Supervisor) Descriptors() []*service.Descriptor { return s.descs }

// Needed returns the descriptors selected for this run.
func (s *Supervisor) Needed() []*service.Descriptor {
	out := make([]*service.Descriptor, 0, len(s.descs))
	for _, d := range s.descs {
		if d.Needed {
			out = append(out, d)
		}
	}
	return out
}

// Run launches the fleet and supervises it until ctx ends or every service
// has stopped for good. A launch failure during startup stops whatever was
// already launched and is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	needed := s.Needed()
	if err := s.startAll(needed); err != nil {
		s.coord.ShutdownAll(s.descs)
		s.markStopped(needed)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bg sync.WaitGroup
	for _, r := range s.runners {
		bg.Add(1)
		go func(r Runner) {
			defer bg.Done()
			r.Run(ctx)
		}(r)
	}

	var wg sync.WaitGroup
	watch := func(d *service.Descriptor) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watch(ctx, d)
		}()
	}

	// Each watch loop starts with its own health result, so a slow port
	// never delays restarting another service.
	targets := make([]health.Target, 0, len(needed))
	byName := make(map[string]*service.Descriptor, len(needed))
	for _, d := range needed {
		h := d.Handle()
		if h == nil {
			watch(d)
			continue
		}
		targets = append(targets, health.Target{Name: string(d.Name), PID: h.PID(), Port: d.Port})
		byName[string(d.Name)] = d
	}
	for res := range s.gate.AwaitAll(ctx, targets) {
		d := byName[res.Name]
		if d == nil {
			continue
		}
		s.afterHealth(d, res)
		watch(d)
	}
	watchersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(watchersDone)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown requested")
	case <-watchersDone:
		s.log.Info("no services left running")
	}
	cancel()
	s.coord.ShutdownAll(s.descs)
	<-watchersDone
	bg.Wait()
	s.markStopped(needed)
	return nil
}

// Shutdown stops every live service. Safe to call more than once.
func (s *Supervisor) Shutdown() { s.coord.ShutdownAll(s.descs) }

func (s *Supervisor) startAll(needed []*service.Descriptor) error {
	var g errgroup.Group
	for _, d := range needed {
		d := d
		g.Go(func() error { return s.launch(d) })
	}
	return g.Wait()
}

func (s *Supervisor) launch(d *service.Descriptor) error {
	s.transition(d, service.StateLaunching)
	s.log.Info("starting service", "service", d.Name)
	h, err := s.launcher.Launch(d.Entrypoint)
	if err != nil {
		metrics.IncLaunchFailure(string(d.Name))
		s.log.Error("failed to start service", "service", d.Name, "error", err)
		return err
	}
	d.SetHandle(h)
	metrics.IncLaunch(string(d.Name))
	s.rec.Record(history.Event{Type: history.EventLaunch, Service: string(d.Name), PID: h.PID()})
	if s.coord.Stopping() {
		// shutdown began while we were launching; the coordinator may have missed h
		ctx, cancel := context.WithTimeout(context.Background(), 2*shutdown.DefaultGrace)
		_ = h.Stop(ctx, shutdown.DefaultGrace)
		cancel()
		return nil
	}
	s.transition(d, service.StateHealthChecking)
	return nil
}

func (s *Supervisor) afterHealth(d *service.Descriptor, res health.Result) {
	if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
		pid := 0
		if h := d.Handle(); h != nil {
			pid = h.PID()
		}
		s.rec.Record(history.Event{Type: history.EventHealthTimeout, Service: string(d.Name), PID: pid, Detail: res.Err.Error()})
	}
	if d.State() == service.StateHealthChecking {
		s.transition(d, service.StateRunning)
	}
}

// watch owns d for the rest of the run. It blocks on the process exit,
// decides on a restart and relaunches until a restart is refused, a
// relaunch fails or ctx ends.
func (s *Supervisor) watch(ctx context.Context, d *service.Descriptor) {
	for {
		h := d.Handle()
		if h == nil {
			s.transition(d, service.StateStopped)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
		}
		exit := h.ExitStatus()
		d.RecordExit(exit)
		s.transition(d, service.StateExited)
		metrics.IncExit(string(d.Name), exitKind(exit))
		ev := history.Event{Type: history.EventExit, Service: string(d.Name), PID: h.PID(), ExitCode: exit.Code}
		if exit.Signaled {
			ev.Signal = exit.Signal.String()
		}
		s.rec.Record(ev)

		if ctx.Err() != nil || s.coord.Stopping() {
			return
		}
		if !service.ShouldRestart(d, exit, s.managed, s.log) {
			s.log.Info("service exited", "service", d.Name, "pid", h.PID(), "exit", exit.String())
			s.transition(d, service.StateStopped)
			return
		}
		if !d.Policy.Admit(s.now()) {
			metrics.IncRestartDenied(string(d.Name))
			s.rec.Record(history.Event{Type: history.EventRestartDenied, Service: string(d.Name), PID: h.PID()})
			s.log.Warn("not restarting service", "service", d.Name, "error",
				fmt.Errorf("%w: %d restarts within %s", service.ErrRestartDenied, d.Policy.MaxCount, d.Policy.MaxInterval))
			s.transition(d, service.StateStopped)
			return
		}

		s.log.Warn("service crashed, restarting", "service", d.Name, "pid", h.PID(), "exit", exit.String())
		s.transition(d, service.StateRestarting)
		d.PrepareRestart()
		metrics.IncRestart(string(d.Name))
		s.rec.Record(history.Event{Type: history.EventRestart, Service: string(d.Name), PID: h.PID()})
		if err := s.launch(d); err != nil {
			s.transition(d, service.StateStopped)
			return
		}
		nh := d.Handle()
		if nh == nil || s.coord.Stopping() {
			return
		}
		res := s.gate.AwaitReady(ctx, health.Target{Name: string(d.Name), PID: nh.PID(), Port: d.Port})
		s.afterHealth(d, res)
	}
}

func (s *Supervisor) transition(d *service.Descriptor, to service.State) {
	from := d.SetState(to)
	if from == to {
		return
	}
	name := string(d.Name)
	metrics.RecordStateTransition(name, from.String(), to.String())
	metrics.SetCurrentState(name, from.String(), false)
	metrics.SetCurrentState(name, to.String(), true)
	s.log.Debug("state", "service", d.Name, "from", from, "to", to)
}

func (s *Supervisor) markStopped(descs []*service.Descriptor) {
	for _, d := range descs {
		s.transition(d, service.StateStopped)
	}
}

// Snapshot reports every descriptor.
func (s *Supervisor) Snapshot() []service.Status {
	out := make([]service.Status, 0, len(s.descs))
	for _, d := range s.descs {
		out = append(out, d.Snapshot())
	}
	return out
}

// Status reports one descriptor by name.
func (s *Supervisor) Status(name string) (service.Status, bool) {
	for _, d := range s.descs {
		if string(d.Name) == name {
			return d.Snapshot(), true
		}
	}
	return service.Status{}, false
}

// PIDs maps each live service to its top-level pid.
func (s *Supervisor) PIDs() map[string]int {
	out := make(map[string]int, len(s.descs))
	for _, d := range s.descs {
		if h := d.Handle(); h != nil && !h.Exited() {
			out[string(d.Name)] = h.PID()
		}
	}
	return out
}

func exitKind(e process.ExitStatus) string {
	switch {
	case e.OOMKilled():
		return "oom"
	case e.Signaled:
		return "signal"
	case e.Crashed():
		return "crash"
	default:
		return "clean"
	}
}
