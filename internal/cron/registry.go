package cron

import (
	"context"
	"fmt"
	"time"
)

// Job is one unit of scheduled work. Name keys the schedule and the metrics,
// so it must be unique within a registry.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job   Job
	every time.Duration
}

func (e entry) interval() time.Duration {
	if e.every <= 0 {
		return defaultInterval
	}
	return e.every
}

// Registry keeps jobs in registration order.
type Registry struct {
	entries []entry
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register schedules job every interval; zero or negative means the service
// default. Nil jobs are ignored and a repeated name is an error.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return nil
	}
	if _, taken := r.names[job.Name()]; taken {
		return fmt.Errorf("cron job %q registered twice", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.entries = append(r.entries, entry{job: job, every: every})
	return nil
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.entries))
	for i, e := range r.entries {
		jobs[i] = e.job
	}
	return jobs
}

// Schedule maps job names to their configured interval, for startup logs.
func (r *Registry) Schedule() map[string]string {
	out := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		out[e.job.Name()] = e.interval().String()
	}
	return out
}
