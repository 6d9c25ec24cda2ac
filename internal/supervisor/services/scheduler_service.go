// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package services adapts Snapvault's long-running components to
// suture.Service so the supervisor tree can restart them.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/snapvault/internal/logging"
)

// Job is a named unit of scheduled work.
type Job struct {
	Name string

	// Spec is a standard five-field cron expression or a descriptor such as
	// @hourly or @every 30m.
	Spec string

	// Run receives a context carrying a fresh correlation ID. It is
	// cancelled when the scheduler stops.
	Run func(ctx context.Context) error
}

// SchedulerService triggers jobs on their cron schedules. It never runs a
// second instance of a job while the previous run is still in progress.
type SchedulerService struct {
	jobs        []Job
	stopTimeout time.Duration
	name        string
}

// NewSchedulerService validates every job's schedule up front so a typo in
// configuration fails startup instead of silently never firing.
func NewSchedulerService(stopTimeout time.Duration, jobs ...Job) (*SchedulerService, error) {
	if len(jobs) == 0 {
		return nil, errors.New("scheduler needs at least one job")
	}
	for _, j := range jobs {
		if j.Run == nil {
			return nil, fmt.Errorf("job %q has no run function", j.Name)
		}
		if _, err := cron.ParseStandard(j.Spec); err != nil {
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", j.Name, j.Spec, err)
		}
	}
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &SchedulerService{jobs: jobs, stopTimeout: stopTimeout, name: "scheduler"}, nil
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	logger := logging.NewCronLogger()
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, j := range s.jobs {
		job := j
		if _, err := c.AddFunc(job.Spec, func() { s.run(ctx, job) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
		}
		logging.Info().Str("job", job.Name).Str("schedule", job.Spec).Msg("Job scheduled")
	}

	c.Start()
	<-ctx.Done()

	// Stop prevents new runs; its context ends once running jobs return.
	select {
	case <-c.Stop().Done():
	case <-time.After(s.stopTimeout):
		logging.Warn().Dur("timeout", s.stopTimeout).Msg("Scheduled jobs still running at shutdown")
	}
	return ctx.Err()
}

func (s *SchedulerService) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	runCtx := logging.ContextWithNewCorrelationID(ctx)
	start := time.Now()

	err := job.Run(runCtx)
	event := logging.CtxInfo(runCtx)
	if err != nil {
		event = logging.CtxErr(runCtx, err)
	}
	event.Str("job", job.Name).Dur("duration", time.Since(start)).Msg("Scheduled job finished")
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}
