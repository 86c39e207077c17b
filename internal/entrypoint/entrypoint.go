// Package entrypoint holds the in-process bodies of the supervised
// services. The supervisor re-executes its own binary as
// "fleetd service <name>", which lands in Run.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/loykin/fleetd/internal/config"
	"github.com/loykin/fleetd/internal/service"
)

// Deps is what every entrypoint receives.
type Deps struct {
	Config   *config.Config
	Log      *slog.Logger
	Version  string
	NoStudio bool

	// Addr overrides host:port from the config.
	Addr string
	// OnListen is called once the service's listener is bound.
	OnListen func(addr net.Addr)
}

// Func is the body of one service. It returns when ctx is done.
type Func func(ctx context.Context, d Deps) error

var registry = map[service.Name]Func{
	service.HTTP:        runHTTP,
	service.MySQL:       frontend(service.MySQL),
	service.MongoDB:     frontend(service.MongoDB),
	service.Postgres:    frontend(service.Postgres),
	service.MCP:         runMCP,
	service.Jobs:        runJobs,
	service.Tasks:       runTasks,
	service.MLTaskQueue: runMLTaskQueue,
}

// Lookup returns the body of n.
func Lookup(n service.Name) (Func, error) {
	fn, ok := registry[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q", service.ErrUnknownService, n)
	}
	return fn, nil
}

// Run executes the named service until ctx is done.
func Run(ctx context.Context, name string, d Deps) error {
	n, err := service.ParseName(name)
	if err != nil {
		return err
	}
	fn, err := Lookup(n)
	if err != nil {
		return err
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Config == nil {
		if d.Config, err = config.Load(""); err != nil {
			return err
		}
	}
	d.Log = d.Log.With("service", string(n))
	d.Log.Info("service starting", "pid", os.Getpid())
	err = fn(ctx, d)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.Log.Info("service stopped", "error", err)
	return err
}

func (d Deps) listen(n service.Name) (net.Listener, error) {
	addr := d.Addr
	if addr == "" {
		sc := d.Config.ServiceConfig(n)
		addr = net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listen %s: %w", n, addr, err)
	}
	if d.OnListen != nil {
		d.OnListen(ln.Addr())
	}
	return ln, nil
}

// serveHTTP serves h on ln until ctx is done, then drains for up to 5s.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
