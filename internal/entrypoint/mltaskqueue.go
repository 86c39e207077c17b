package entrypoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/fleetd/internal/marks"
	"github.com/loykin/fleetd/internal/store"
	storefactory "github.com/loykin/fleetd/internal/store/factory"
)

// Consumer pulls queued training records and works them one at a time.
// While a record is in training the consumer holds a process mark, so a
// crash mid-training is detected by the supervisor's reconciler.
type Consumer struct {
	Store store.Store
	Marks *marks.Store
	PID   int
	Poll  time.Duration
	Train time.Duration
	Log   *slog.Logger
}

// Run polls until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	t := time.NewTicker(c.Poll)
	defer t.Stop()
	for {
		for {
			ok, err := c.ProcessOne(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.Log.Warn("ml task failed", "error", err)
				break
			}
			if !ok {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// ProcessOne claims and trains the oldest queued record. It reports false
// when the queue is empty. If ctx ends during training the mark is left in
// place for the reconciler.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	rec, ok, err := c.Store.ClaimNext(ctx, c.PID)
	if err != nil || !ok {
		return false, err
	}
	log := c.Log.With("record", rec.ID, "name", rec.Name)
	m, err := c.Marks.CreateFor(marks.FolderLearn, c.PID)
	if err != nil {
		_, _ = c.Store.SetError(ctx, rec.ID, fmt.Sprintf("create process mark: %v", err))
		return true, err
	}
	log.Info("training started")
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-time.After(c.Train):
	}
	if err := c.Store.Complete(ctx, rec.ID); err != nil {
		return true, err
	}
	if err := c.Marks.Delete(m); err != nil {
		log.Warn("delete process mark", "error", err)
	}
	log.Info("training complete")
	return true, nil
}

func runMLTaskQueue(ctx context.Context, d Deps) error {
	st, err := storefactory.NewFromDSN(d.Config.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	q := d.Config.MLTaskQueue
	c := &Consumer{
		Store: st,
		Marks: marks.New(d.Config.Marks.Dir, d.Log),
		PID:   os.Getpid(),
		Poll:  q.PollInterval,
		Train: q.TrainDuration,
		Log:   d.Log,
	}
	if c.Poll <= 0 {
		c.Poll = time.Second
	}
	d.Log.Info("ml task queue consumer started", "poll", c.Poll)
	return c.Run(ctx)
}
