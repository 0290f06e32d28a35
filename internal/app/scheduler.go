package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Job is one periodic task. Errors are logged and never stop the loop.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until the context ends.
type Scheduler struct {
	jobs []Job
	log  logrus.FieldLogger
}

func NewScheduler(log logrus.FieldLogger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, log: log}
}

func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.WithField("job", job.Name).Warn("job disabled, interval is not positive")
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.log.WithFields(logrus.Fields{"job": job.Name, "interval": job.Interval.String()})
	log.Info("job scheduled")

	if job.Immediate {
		s.runOnce(ctx, job, log)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("job stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, job, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, log logrus.FieldLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("job panicked")
		}
	}()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("job failed")
	}
}
