// Package fleetd supervises the service processes of a multi-protocol data
// platform: it launches them, waits for their ports, restarts crashed
// workers within a rate limit, repairs training records left behind by
// vanished workers and shuts the fleet down together.
package fleetd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/fleetd/internal/auth"
	"github.com/loykin/fleetd/internal/config"
	"github.com/loykin/fleetd/internal/entrypoint"
	"github.com/loykin/fleetd/internal/health"
	"github.com/loykin/fleetd/internal/history"
	historyfactory "github.com/loykin/fleetd/internal/history/factory"
	"github.com/loykin/fleetd/internal/logger"
	"github.com/loykin/fleetd/internal/marks"
	"github.com/loykin/fleetd/internal/metrics"
	"github.com/loykin/fleetd/internal/process"
	"github.com/loykin/fleetd/internal/reconcile"
	"github.com/loykin/fleetd/internal/server"
	"github.com/loykin/fleetd/internal/service"
	"github.com/loykin/fleetd/internal/shutdown"
	"github.com/loykin/fleetd/internal/store"
	storefactory "github.com/loykin/fleetd/internal/store/factory"
	"github.com/loykin/fleetd/internal/supervisor"
	ftls "github.com/loykin/fleetd/internal/tls"
)

// Re-exported for embedders.
type (
	Config = config.Config
	Status = service.Status
	Name   = service.Name
)

// LowMemoryThreshold triggers a startup warning.
const LowMemoryThreshold = 1 << 30

// Options carries the command line.
type Options struct {
	ConfigPath string
	API        string // --api value
	APISet     bool   // --api was given, even blank
	Verbose    bool
	NoStudio   bool
	MLConsumer bool
	Executable string // defaults to the running binary
	Version    string
	Log        *slog.Logger // defaults to one built from [log]
}

// App is one supervisor run with all of its collaborators.
type App struct {
	cfg     *config.Config
	opts    Options
	log     *slog.Logger
	apis    []service.Name
	sup     *supervisor.Supervisor
	records store.Store
	marks   *marks.Store
	recon   *reconcile.Reconciler
	rec     *history.Recorder
	res     *metrics.ResourceCollector
	servers []*http.Server
}

// LoadConfig reads a TOML config; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// New loads the configuration and assembles the fleet. Unknown api names
// fail here, before anything is launched.
func New(o Options) (*App, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := o.Log
	if log == nil {
		log = logger.New(cfg.SlogConfig(o.Verbose))
	}
	apis, err := cfg.ResolveAPIs(o.API, o.APISet)
	if err != nil {
		return nil, err
	}
	descs, err := cfg.Compose(apis, config.ComposeOptions{
		Executable: o.Executable,
		Verbose:    o.Verbose,
		NoStudio:   o.NoStudio,
		MLConsumer: o.MLConsumer,
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, opts: o, log: log, apis: apis}
	a.records, err = storefactory.NewFromDSN(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.marks = marks.New(cfg.Marks.Dir, log)
	a.recon = reconcile.New(a.marks, a.records, cfg.Managed, cfg.Reconcile.Interval, log)

	sinks := make([]history.Sink, 0, len(cfg.History.DSNs))
	for _, dsn := range cfg.History.DSNs {
		s, err := historyfactory.NewSinkFromDSN(dsn)
		if err != nil {
			a.closeSinks(sinks)
			_ = a.records.Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	a.rec = history.NewRecorder(log, sinks...)

	gate := health.NewGate(health.ProberFunc(process.IsListening), cfg.Health.Timeout, cfg.Health.Interval, log)
	coord := shutdown.New(shutdown.WithGrace(cfg.Shutdown.Grace), shutdown.WithLogger(log))
	a.sup = supervisor.New(descs,
		supervisor.WithLauncher(process.NewLauncher(log)),
		supervisor.WithGate(gate),
		supervisor.WithCoordinator(coord),
		supervisor.WithRunner(a.recon),
		supervisor.WithRecorder(a.rec),
		supervisor.WithManaged(cfg.Managed()),
		supervisor.WithLogger(log),
	)
	return a, nil
}

func (a *App) closeSinks(sinks []history.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Config returns the loaded configuration.
func (a *App) Config() *Config { return a.cfg }

// APIs returns the resolved api list.
func (a *App) APIs() []Name { return a.apis }

// Snapshot reports every service.
func (a *App) Snapshot() []Status { return a.sup.Snapshot() }

// Banner logs what is about to run.
func (a *App) Banner() {
	path := a.cfg.Path()
	if path == "" {
		path = "absent"
	}
	a.log.Info("fleetd", "version", a.opts.Version)
	a.log.Info("configuration", "file", path, "environment", a.cfg.Mode(), "storage", a.cfg.Storage.DSN)
	a.log.Debug("marks", "dir", a.marks.Root())
	if avail, err := process.AvailableMemory(); err == nil && avail < LowMemoryThreshold {
		a.log.Warn("the system is running low on memory; this may impact stability",
			"available_mb", avail>>20)
	}
}

// Boot prepares the store and repairs what a previous run left behind. Only
// a store that cannot be initialised is fatal.
func (a *App) Boot(ctx context.Context) error {
	if err := a.records.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.recon.Boot(ctx)
	return nil
}

// Run serves the status and metrics endpoints and supervises the fleet
// until ctx ends. It returns the startup launch error, if any.
func (a *App) Run(ctx context.Context) error {
	if err := a.startServers(ctx); err != nil {
		return err
	}
	err := a.sup.Run(ctx)
	a.stopServers()
	return err
}

func (a *App) startServers(ctx context.Context) error {
	statusAddr := a.cfg.Server.Listen
	metricsAddr := a.cfg.Metrics.Listen
	if statusAddr == "" && metricsAddr == "" {
		return nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.res = metrics.NewResourceCollector(0, a.log)
	if err := a.res.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register resource metrics: %w", err)
	}
	go a.res.Run(ctx, a.sup.PIDs)

	if statusAddr != "" {
		var mh http.Handler
		if metricsAddr == "" || metricsAddr == statusAddr {
			mh = metrics.Handler()
		}
		tlsConf, err := ftls.Setup(a.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("status server tls: %w", err)
		}
		guard, err := auth.New(a.cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("status server auth: %w", err)
		}
		r := server.NewRouter(a.sup, a.recon, mh, a.cfg.Server.BasePath)
		if guard != nil {
			r.WithAuth(guard.Gin())
		}
		a.servers = append(a.servers, server.NewServer(statusAddr, r, tlsConf, a.log))
		a.log.Info("status api listening", "addr", statusAddr, "base", a.cfg.Server.BasePath, "tls", tlsConf != nil)
	}
	if metricsAddr != "" && metricsAddr != statusAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", "addr", metricsAddr, "error", err)
			}
		}()
		a.servers = append(a.servers, srv)
		a.log.Info("metrics listening", "addr", metricsAddr)
	}
	return nil
}

func (a *App) stopServers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range a.servers {
		_ = s.Shutdown(ctx)
	}
	a.servers = nil
}

// Close flushes history and releases the store.
func (a *App) Close() error {
	return errors.Join(a.rec.Close(), a.records.Close())
}

// RunService is the body of "fleetd service <name>".
func RunService(ctx context.Context, name string, o Options) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	log := o.Log
	if log == nil {
		log = logger.New(cfg.SlogConfig(o.Verbose))
	}
	return entrypoint.Run(ctx, name, entrypoint.Deps{
		Config:   cfg,
		Log:      log,
		Version:  o.Version,
		NoStudio: o.NoStudio,
	})
}
