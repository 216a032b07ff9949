package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

// Sweep kinds dispatched through the queue.
const (
	SweepDeposits  = "deposits"
	SweepRateLimit = "rate_limit"
	SweepUnmatched = "unmatched"
)

// SweepArgs selects which sweep a queued job runs.
type SweepArgs struct {
	Sweep string `json:"sweep"`
}

func (SweepArgs) Kind() string { return "cleanup_sweep" }

// SweepWorker runs one sweep per job. Sweeps are idempotent, so River's
// at-least-once delivery is harmless here.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	svc *Service
}

func NewSweepWorker(svc *Service) *SweepWorker {
	return &SweepWorker{svc: svc}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	switch job.Args.Sweep {
	case SweepDeposits:
		_, err := w.svc.ExpiredDeposits(ctx)
		return err
	case SweepRateLimit:
		_, err := w.svc.RateLimitLog(ctx)
		return err
	case SweepUnmatched:
		_, err := w.svc.UnmatchedOlderThan(ctx, 0)
		return err
	default:
		return fmt.Errorf("unknown sweep %q", job.Args.Sweep)
	}
}

// PeriodicJobs returns the schedule for the embedded scheduler: deposits
// every 10 minutes, the rate-limit log hourly, the unmatched queue daily.
func PeriodicJobs() []*river.PeriodicJob {
	every := func(interval time.Duration, sweep string) *river.PeriodicJob {
		return river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepArgs{Sweep: sweep}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		)
	}
	return []*river.PeriodicJob{
		every(10*time.Minute, SweepDeposits),
		every(time.Hour, SweepRateLimit),
		every(24*time.Hour, SweepUnmatched),
	}
}
