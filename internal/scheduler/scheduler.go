package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/robfig/cron/v3"
)

const stopTimeout = 30 * time.Second

// Job is a named periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs in UTC. A job still running when its next
// tick fires is skipped rather than overlapped.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]Job
	ctx    context.Context
	cancel context.CancelFunc
}

func New(jobs ...Job) (*Scheduler, error) {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, jobs: make(map[string]Job, len(jobs)), ctx: ctx, cancel: cancel}
	for _, job := range jobs {
		if job.Spec == "" {
			slog.Info("job disabled", "job", job.Name)
			continue
		}
		if _, dup := s.jobs[job.Name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate job %q", job.Name)
		}
		job := job
		if _, err := c.AddFunc(job.Spec, func() { _ = s.execute(s.ctx, job) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
		}
		s.jobs[job.Name] = job
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		slog.Warn("scheduler stop timed out")
	}
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(job.Name, "failed").Inc()
		slog.Error("scheduled job failed",
			"action", job.Name,
			"error", err,
			"latency_ms", float64(time.Since(start).Milliseconds()),
		)
		return err
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name, "succeeded").Inc()
	slog.Info("scheduled job completed", "job", job.Name, "duration", time.Since(start).String())
	return nil
}
