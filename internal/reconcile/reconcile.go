package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/fleetd/internal/metrics"
	"github.com/loykin/fleetd/internal/store"
)

// DefaultInterval between sweeps.
const DefaultInterval = 5 * time.Second

// MarkSweeper removes and reports marks whose process is gone.
type MarkSweeper interface {
	SweepStale() ([]int, error)
	ClearAll() error
}

// Records is the slice of store.Store the reconciler needs.
type Records interface {
	QueryNonTerminal(ctx context.Context) ([]store.TrainingRecord, error)
	SetError(ctx context.Context, id int64, msg string) (bool, error)
}

// Reconciler repairs training records left behind by vanished workers.
type Reconciler struct {
	marks    MarkSweeper
	records  Records
	managed  func() bool
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[int]struct{} // swept pids whose records are not repaired yet
}

// New builds a reconciler. managed reports a hosted deployment, where
// records are left alone.
func New(marks MarkSweeper, records Records, managed func() bool, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	if managed == nil {
		managed = func() bool { return false }
	}
	return &Reconciler{marks: marks, records: records, managed: managed, interval: interval, log: log, pending: map[int]struct{}{}}
}

// Run sweeps every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				metrics.IncReconcileFailure()
				r.log.Warn("reconciliation failed", "error", err)
			}
		}
	}
}

// SweepOnce removes stale marks and repairs the records of their processes.
// It returns the number of records moved to error. Pids whose repair fails
// are kept and retried by the next sweep, since their marks are already gone.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	pids, err := r.marks.SweepStale()
	if err != nil {
		return 0, fmt.Errorf("sweep process marks: %w", err)
	}
	metrics.AddStaleMarks(len(pids))

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pids {
		r.pending[p] = struct{}{}
	}
	if len(r.pending) == 0 {
		return 0, nil
	}
	if r.managed() {
		clear(r.pending)
		return 0, nil
	}
	todo := make([]int, 0, len(r.pending))
	for p := range r.pending {
		todo = append(todo, p)
	}
	sort.Ints(todo)
	r.log.Info("found orphaned worker processes", "pids", todo)
	n, err := r.RepairByPIDs(ctx, todo)
	if err != nil {
		return n, err
	}
	clear(r.pending)
	return n, nil
}

// RepairByPIDs marks every non-terminal record owned by one of pids as error.
func (r *Reconciler) RepairByPIDs(ctx context.Context, pids []int) (int, error) {
	set := make(map[int]bool, len(pids))
	for _, p := range pids {
		set[p] = true
	}
	return r.repair(ctx, store.MsgOrphaned, func(rec store.TrainingRecord) bool {
		return set[rec.ProcessID]
	})
}

// RepairUnfinished marks every non-terminal record as error. It is meant for
// boot, when no worker from a previous run can still be alive.
func (r *Reconciler) RepairUnfinished(ctx context.Context) (int, error) {
	return r.repair(ctx, store.MsgUnknown, func(store.TrainingRecord) bool { return true })
}

func (r *Reconciler) repair(ctx context.Context, msg string, match func(store.TrainingRecord) bool) (int, error) {
	recs, err := r.records.QueryNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("query training records: %w", err)
	}
	var n int
	for _, rec := range recs {
		if !match(rec) {
			continue
		}
		changed, err := r.records.SetError(ctx, rec.ID, msg)
		if err != nil {
			return n, fmt.Errorf("mark record %d as error: %w", rec.ID, err)
		}
		if changed {
			n++
			r.log.Warn("training record marked as error", "record", rec.ID, "name", rec.Name, "pid", rec.ProcessID)
		}
	}
	metrics.AddRecordsRepaired(n)
	return n, nil
}

// Boot runs once before any service starts: it repairs records of crashed
// workers, then every unfinished record, then drops all marks. Failures are
// logged and counted; the periodic sweep picks up what is left.
func (r *Reconciler) Boot(ctx context.Context) {
	if _, err := r.SweepOnce(ctx); err != nil {
		metrics.IncReconcileFailure()
		r.log.Warn("boot reconciliation sweep failed", "error", err)
	}
	if !r.managed() {
		if _, err := r.RepairUnfinished(ctx); err != nil {
			metrics.IncReconcileFailure()
			r.log.Warn("repairing unfinished training records failed", "error", err)
		}
	}
	if err := r.marks.ClearAll(); err != nil {
		metrics.IncReconcileFailure()
		r.log.Warn("clearing process marks failed", "error", err)
	}
}
