package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]int)
	for _, mf := range mfs {
		out[mf.GetName()] = len(mf.GetMetric())
	}
	return out
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncLaunch("http")
	IncRestart("http")
	IncRestartDenied("http")
	IncExit("http", "oom")
	ObserveReady("http", 0.7)
	IncHealthTimeout("mysql")
	RecordStateTransition("http", "running", "exited")
	SetCurrentState("http", "running", true)
	AddRecordsRepaired(2)
	AddStaleMarks(1)
	IncReconcileFailure()

	names := gatherNames(t, reg)
	for _, n := range []string{
		"fleetd_service_launches_total",
		"fleetd_service_restarts_total",
		"fleetd_service_restart_denied_total",
		"fleetd_service_exits_total",
		"fleetd_service_ready_seconds",
		"fleetd_service_health_timeouts_total",
		"fleetd_service_state_transitions_total",
		"fleetd_service_current_state",
		"fleetd_reconcile_records_repaired_total",
		"fleetd_reconcile_stale_marks_total",
		"fleetd_reconcile_failures_total",
	} {
		if names[n] == 0 {
			t.Fatalf("expected samples for %s", n)
		}
	}
}

func TestHandlerServesDefaultGatherer(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(b), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

func TestResourceCollectorSamplesAndForgets(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewResourceCollector(0, nil)
	if err := c.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	c.Collect(ctx, map[string]int{"http": os.Getpid()})
	if got := gatherNames(t, reg)["fleetd_process_memory_rss_bytes"]; got != 1 {
		t.Fatalf("expected one rss series, got %d", got)
	}
	c.Collect(ctx, map[string]int{})
	if got := gatherNames(t, reg)["fleetd_process_memory_rss_bytes"]; got != 0 {
		t.Fatalf("expected series to be dropped, got %d", got)
	}
}
