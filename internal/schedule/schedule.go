// Package schedule runs the recurring daily job inside a dedicated process.
// Scheduling only decides when; the dispatch engine still runs dry-run or
// confirm-send exactly as a manual invocation would.
package schedule

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"github.com/robfig/cron/v3"
)

// Job executes one scheduled invocation for a business date.
type Job func(ctx context.Context, asOfDate string) error

// Scheduler triggers the job on a cron spec in the configured location. The
// business date passed to the job is "today" in that location, not UTC.
type Scheduler struct {
	Spec     string
	Location *time.Location
	Job      Job
}

// Validate checks the cron spec without starting anything.
func (s Scheduler) Validate() error {
	_, err := cron.ParseStandard(s.Spec)
	if err != nil {
		return errors.Wrap(err, "invalid cron spec", j.KV("spec", s.Spec))
	}
	return nil
}

// Run blocks until ctx is done, firing the job on schedule. Job failures are
// logged and do not stop the scheduler; the next trigger still fires.
func (s Scheduler) Run(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(cron.WithLocation(loc))
	entryID, err := c.AddFunc(s.Spec, func() {
		asOfDate := time.Now().In(loc).Format("2006-01-02")
		if err := s.Job(ctx, asOfDate); err != nil {
			log.Error(ctx, errors.Wrap(err, "scheduled run failed", j.KV("as_of_date", asOfDate)))
			return
		}
		log.Info(ctx, "scheduled run completed", j.KV("as_of_date", asOfDate))
	})
	if err != nil {
		return errors.Wrap(err, "register job")
	}

	c.Start()
	log.Info(ctx, "scheduler started", j.MKV{
		"spec":     s.Spec,
		"location": loc.String(),
		"next_run": c.Entry(entryID).Schedule.Next(time.Now().In(loc)).Format(time.RFC3339),
	})

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return ctx.Err()
}
