package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetd/internal/service"
)

// Fleet is the read side of the supervisor.
type Fleet interface {
	Snapshot() []service.Status
	Status(name string) (service.Status, bool)
}

// Reconciler runs one orphan sweep on demand.
type Reconciler interface {
	SweepOnce(ctx context.Context) (int, error)
}

// Router exposes supervisor state over HTTP.
// Endpoints:
//
//	GET  {basePath}/status        every service
//	GET  {basePath}/status/:name  one service
//	POST {basePath}/reconcile     run one orphan sweep now
//	GET  /metrics                 when a metrics handler is set
type Router struct {
	fleet    Fleet
	recon    Reconciler
	metrics  http.Handler
	basePath string
	guard    gin.HandlerFunc
}

// NewRouter builds a router. recon and metrics may be nil.
func NewRouter(fleet Fleet, recon Reconciler, metrics http.Handler, basePath string) *Router {
	return &Router{fleet: fleet, recon: recon, metrics: metrics, basePath: sanitizeBase(basePath)}
}

// WithAuth installs mw in front of every endpoint under basePath.
// /metrics stays open for scrapers.
func (r *Router) WithAuth(mw gin.HandlerFunc) *Router {
	r.guard = mw
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.guard != nil {
		group.Use(r.guard)
	}
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:name", r.handleStatus)
	group.POST("/reconcile", r.handleReconcile)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr. With a non-nil
// tlsConf it serves HTTPS using tlsConf's certificates.
func NewServer(addr string, r *Router, tlsConf *tls.Config, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsConf != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("status server", "addr", addr, "error", err)
		}
	}()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type reconcileResp struct {
	Repaired int `json:"repaired"`
}

func (r *Router) handleStatusAll(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.fleet.Snapshot())
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if _, err := service.ParseName(name); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	st, ok := r.fleet.Status(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "service not configured: " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleReconcile(c *gin.Context) {
	if r.recon == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "reconciler not configured"})
		return
	}
	n, err := r.recon.SweepOnce(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, reconcileResp{Repaired: n})
}
