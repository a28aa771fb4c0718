package batch

import (
	"context"
	"time"
)

// DailyJob adapts the reconciler to the scheduler's Job interface,
// bounding each scheduled run with a deadline.
type DailyJob struct {
	rec     *Reconciler
	timeout time.Duration
}

// NewDailyJob creates the scheduled daily adjustment job.
func NewDailyJob(rec *Reconciler, timeout time.Duration) *DailyJob {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &DailyJob{rec: rec, timeout: timeout}
}

// Name identifies the job in scheduler logs.
func (j *DailyJob) Name() string { return "ex-dividend-adjustment" }

// Run executes one batch pass for yesterday's trade date.
func (j *DailyJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.rec.RunForYesterday(ctx)
	return err
}
