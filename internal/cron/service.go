package cron

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

const defaultInterval = 24 * time.Hour

// Lock coordinates exclusive job runs across cron-worker instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds the lock guarding a single job.
type LockFactory func(job string) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
}

// Service runs every registered job on its own ticker, so a long run of one
// job never delays another. Each job takes its own lock so two workers never
// run the same job at once.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
	}, nil
}

// Run starts one schedule per job and blocks until the context is canceled.
// Every job runs once at startup.
func (s *Service) Run(ctx context.Context) error {
	var group errgroup.Group
	for _, e := range s.registry.entries {
		group.Go(func() error {
			return s.schedule(ctx, e)
		})
	}
	// Schedules only return once ctx is done.
	_ = group.Wait()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	return ctx.Err()
}

// schedule runs one job now and then every interval. Ticks that fire while
// the job is still running collapse into one.
func (s *Service) schedule(ctx context.Context, e entry) error {
	s.runLocked(ctx, e.job)

	ticker := time.NewTicker(e.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runLocked(ctx, e.job)
		}
	}
}

// runLocked runs job under its lock and reports whether it ran. Nothing
// starts once ctx is done, even if a tick is already pending.
func (s *Service) runLocked(ctx context.Context, job Job) bool {
	if ctx.Err() != nil {
		return false
	}
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	lock, err := s.locks(job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "build job lock", err)
		return false
	}
	locked, err := lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return false
	}
	if !locked {
		s.logg.Info(jobCtx, "job running on another instance; skipping")
		return false
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(jobCtx)); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()

	s.runJob(jobCtx, job)
	return true
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}
