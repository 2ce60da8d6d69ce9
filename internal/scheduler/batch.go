package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// JobFunc executes one benchmark job on the device under the current lock.
type JobFunc func(ctx context.Context, job model.Job) error

// runBatch pops and runs jobs in order until the queue empties or the time
// elapsed since start reaches budget. At least one job always runs while any
// are pending, so an already-expired budget cannot starve the queue.
// Cancellation is honored between job invocations only; a measurement in
// flight is never cut short.
//
// It returns how many jobs completed and the unattempted remainder. On a job
// failure the failed job is consumed, the remainder returned, and the error
// propagated: a failed measurement invalidates the rest of the hold.
func runBatch(ctx context.Context, jobs []model.Job, start time.Time, budget time.Duration, now func() time.Time, run JobFunc) (int, []model.Job, error) {
	ran := 0
	for len(jobs) > 0 && (ran == 0 || now().Sub(start) < budget) {
		if err := ctx.Err(); err != nil {
			return ran, jobs, err
		}

		job := jobs[0]
		jobs = jobs[1:]
		if err := run(ctx, job); err != nil {
			return ran, jobs, fmt.Errorf("failed to run %s: %w", job, err)
		}
		ran++
	}
	return ran, jobs, nil
}
