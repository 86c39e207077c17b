package entrypoint

import (
	"context"

	"github.com/loykin/fleetd/internal/cron"
	"github.com/loykin/fleetd/internal/service"
)

// worker runs one scheduled job named after the service until ctx ends.
func worker(ctx context.Context, d Deps, n service.Name, job string) error {
	sc := d.Config.ServiceConfig(n)
	s := cron.NewScheduler(d.Log)
	j := &cron.Job{
		Name:     job,
		Schedule: sc.Schedule,
		Run: func(context.Context) error {
			d.Log.Debug("heartbeat", "job", job)
			return nil
		},
	}
	if err := s.Add(j); err != nil {
		return err
	}
	d.Log.Info("worker started", "job", job, "schedule", sc.Schedule)
	s.Run(ctx)
	d.Log.Info("worker finished", "job", job, "runs", j.Runs())
	return nil
}

func runJobs(ctx context.Context, d Deps) error {
	return worker(ctx, d, service.Jobs, "check_jobs")
}

func runTasks(ctx context.Context, d Deps) error {
	return worker(ctx, d, service.Tasks, "process_tasks")
}
