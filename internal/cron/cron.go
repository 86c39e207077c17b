package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a function run on a fixed period.
// Schedule supports only the form "@every <duration>" (e.g., "@every 5s").
// A tick is skipped while the previous run of the same job is still active.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	period  time.Duration
	running atomic.Bool
	runs    atomic.Int64
}

// Runs reports how many times the job has fired.
func (j *Job) Runs() int64 { return j.runs.Load() }

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

// Scheduler runs jobs inside the current process.
type Scheduler struct {
	jobs []*Job
	log  *slog.Logger
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

// Add validates and registers a job. Names must be unique.
func (s *Scheduler) Add(j *Job) error {
	if j.Name == "" {
		return errors.New("job requires a name")
	}
	if j.Run == nil {
		return fmt.Errorf("job %s has no function", j.Name)
	}
	d, err := ParseEvery(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	for _, o := range s.jobs {
		if o.Name == j.Name {
			return fmt.Errorf("job %s already registered", j.Name)
		}
	}
	j.period = d
	s.jobs = append(s.jobs, j)
	return nil
}

// Run drives every job until ctx is done, then waits for active runs.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			s.loop(ctx, j, &wg)
		}(j)
	}
	<-ctx.Done()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *Job, wg *sync.WaitGroup) {
	t := time.NewTicker(j.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !j.running.CompareAndSwap(false, true) {
				s.log.Debug("job still running, tick skipped", "job", j.Name)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer j.running.Store(false)
				j.runs.Add(1)
				if err := j.Run(ctx); err != nil && ctx.Err() == nil {
					s.log.Warn("job failed", "job", j.Name, "error", err)
				}
			}()
		}
	}
}
