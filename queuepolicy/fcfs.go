package queuepolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dustin/go-humanize"

	"github.com/hpcsched/planner/planner"
	"github.com/hpcsched/planner/resourceclient"
)

// FCFS walks the pending queue in submit order, allocating each job up to
// QueueDepth jobs per loop and stopping at the first one it can't satisfy,
// grounded on queue_policy_fcfs_impl.hpp's allocate_jobs.
type FCFS struct {
	baseQueue
}

// NewFCFS builds a first-come-first-served policy driving matcher.
func NewFCFS(matcher resourceclient.ResourceMatcher, cfg Config) *FCFS {
	return &FCFS{baseQueue: newBaseQueue(matcher, cfg)}
}

func (f *FCFS) Insert(job *Job) error { return f.insert(job) }
func (f *FCFS) Remove(id JobID) error { return f.remove(id) }

// RunSchedLoop cancels newly completed jobs, then allocates as many
// pending jobs as it can (in submit order) before giving up at the first
// unsatisfiable one, matching run_sched_loop's
// cancel_completed_jobs + allocate_jobs sequence.
func (f *FCFS) RunSchedLoop(ctx context.Context, useAllocedQueue bool) error {
	defer metrics.MeasureSince([]string{"queuepolicy", "fcfs", "sched_loop"}, time.Now())

	if err := f.cancelCompletedJobs(ctx); err != nil {
		f.cfg.Logger.Warn("errors canceling completed jobs", "error", err)
	}

	depth := 0
	for depth < f.cfg.QueueDepth && len(f.pendingOrder) > 0 {
		id := f.pendingOrder[0]
		job := f.jobs[id]

		res, err := f.matcher.MatchAllocate(ctx, false, job.Jobspec, resourceclient.JobID(job.ID))
		if err != nil {
			if errors.Is(err, planner.ErrNotFound) {
				// Unsatisfiable for now: FCFS does not reserve, it just
				// stops here and waits for the next loop invocation.
				f.cfg.Logger.Debug("job unsatisfiable, halting fcfs loop",
					"job", job.ID, "depth", humanize.Comma(int64(depth)))
				break
			}
			metrics.IncrCounter([]string{"queuepolicy", "jobs", "rejected"}, 1)
			return fmt.Errorf("queuepolicy: matching job %s: %w", job.ID, err)
		}

		job.Schedule = Schedule{Reserved: res.Reserved, At: res.At}
		f.toRunning(id, useAllocedQueue)
		metrics.IncrCounter([]string{"queuepolicy", "jobs", "allocated"}, 1)
		depth++
	}
	return nil
}
