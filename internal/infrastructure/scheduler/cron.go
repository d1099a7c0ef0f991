package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"paperscope/internal/ports"
)

// CronScheduler triggers ingestion runs on a cron expression, plus once
// immediately at startup.
type CronScheduler struct {
	spec     string
	location *time.Location
	cron     *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler from a cron expression and timezone.
func NewCronScheduler(spec string, location *time.Location) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{spec: spec, location: location}
}

// Start registers the job and fires it once right away.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if c.cron != nil {
		return nil
	}

	c.cron = cron.New(cron.WithLocation(c.location))
	if _, err := c.cron.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		c.cron = nil
		return fmt.Errorf("schedule %q: %w", c.spec, err)
	}

	go job(time.Now().In(c.location))
	c.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish or the
// context to expire.
func (c *CronScheduler) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}

	done := c.cron.Stop().Done()
	c.cron = nil

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
