// Package scheduler implements the time-keeping runtime of the bus: it owns
// the cron and interval job tables and emits job requests at their fire
// times.
package scheduler

import (
	"fmt"
	"time"

	"github.com/jobmq/jobmq/config"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom
// month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronJob fires against the wall clock.
type cronJob struct {
	handle   string
	nextFire time.Time
	schedule cron.Schedule
	queue    string
	payload  string
}

// intervalJob fires against the monotonic clock.
type intervalJob struct {
	handle   string
	nextFire time.Duration
	iter     *intervalIter
	queue    string
	payload  string
}

// intervalIter yields successive fire instants spaced one interval apart.
// Each instant derives from the previous one, so drift accumulates instead
// of producing catch-up fire storms.
type intervalIter struct {
	current time.Duration
	every   time.Duration
}

func newIntervalIter(start, every time.Duration) *intervalIter {
	return &intervalIter{current: start, every: every}
}

func (i *intervalIter) Next() time.Duration {
	i.current += i.every
	return i.current
}

// loadCronJobs builds the initial cron table from configuration. Every
// job's first fire instant is drawn from its iterator strictly after now.
func loadCronJobs(jobs []config.CronJob, now time.Time) ([]*cronJob, error) {
	out := make([]*cronJob, 0, len(jobs))
	for i, job := range jobs {
		schedule, err := cronParser.Parse(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("cron_jobs[%d]: parse %q: %w", i, job.Schedule, err)
		}

		out = append(out, &cronJob{
			handle:   fmt.Sprintf("cron-%d", i),
			nextFire: schedule.Next(now),
			schedule: schedule,
			queue:    job.Queue,
			payload:  job.Payload,
		})
	}
	return out, nil
}
