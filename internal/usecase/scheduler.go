package usecase

import (
	"context"
	"time"

	"SignalScanner/internal/ports"
)

// ReportJob is a recurring side task, typically report generation.
type ReportJob func(ctx context.Context, now time.Time)

// Scheduler wires the interval driver with a recurring job.
type Scheduler struct {
	driver ports.Scheduler
	job    ReportJob
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, job ReportJob) *Scheduler {
	return &Scheduler{driver: driver, job: job}
}

// Start registers the job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.job == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.job(ctx, trigger)
	})
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
