package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetd"

// Package-level collectors, registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "launches_total",
			Help:      "Number of successful service process launches.",
		}, []string{"service"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of failed service process launches.",
		}, []string{"service"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of admitted restart attempts.",
		}, []string{"service"},
	)
	restartDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "restart_denied_total",
			Help:      "Number of restarts refused by the rate limit.",
		}, []string{"service"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Number of service process exits by kind (clean, crash, oom).",
		}, []string{"service", "kind"},
	)
	readyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "ready_seconds",
			Help:      "Time from launch until the service port was listening.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	healthTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "health_timeouts_total",
			Help:      "Number of services that never opened their port in time.",
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	orphansRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "records_repaired_total",
			Help:      "Number of training records moved to error by reconciliation.",
		},
	)
	staleMarks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "stale_marks_total",
			Help:      "Number of process marks removed because their process was gone.",
		},
	)
	reconcileFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "failures_total",
			Help:      "Number of reconciliation sweeps that failed.",
		},
	)
)

// Register registers all metrics with r. Calling it again after a success is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		launches, launchFailures, restarts, restartDenials, exits, readyDuration,
		healthTimeouts, stateTransitions, currentStates, orphansRepaired, staleMarks, reconcileFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register succeeds.

func IncLaunch(service string) {
	if regOK.Load() {
		launches.WithLabelValues(service).Inc()
	}
}

func IncLaunchFailure(service string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		restarts.WithLabelValues(service).Inc()
	}
}

func IncRestartDenied(service string) {
	if regOK.Load() {
		restartDenials.WithLabelValues(service).Inc()
	}
}

func IncExit(service, kind string) {
	if regOK.Load() {
		exits.WithLabelValues(service, kind).Inc()
	}
}

func ObserveReady(service string, seconds float64) {
	if regOK.Load() {
		readyDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncHealthTimeout(service string) {
	if regOK.Load() {
		healthTimeouts.WithLabelValues(service).Inc()
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func SetCurrentState(service, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		currentStates.WithLabelValues(service, state).Set(v)
	}
}

func AddRecordsRepaired(n int) {
	if regOK.Load() && n > 0 {
		orphansRepaired.Add(float64(n))
	}
}

func AddStaleMarks(n int) {
	if regOK.Load() && n > 0 {
		staleMarks.Add(float64(n))
	}
}

func IncReconcileFailure() {
	if regOK.Load() {
		reconcileFailures.Inc()
	}
}
