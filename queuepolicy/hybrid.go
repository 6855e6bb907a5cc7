package queuepolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/armon/go-metrics"

	"github.com/hpcsched/planner/planner"
	"github.com/hpcsched/planner/resourceclient"
)

// DefaultReservationDepth mirrors HYBRID_RESERVATION_DEPTH.
const DefaultReservationDepth = 64

// BackfillHybrid walks the pending queue like FCFS but, instead of
// stopping at the first job it can't run immediately, reserves that
// job's earliest feasible start (up to ReservationDepth reservations per
// loop) and keeps scanning, letting later, smaller jobs backfill into the
// gap ahead of the reservation. Grounded on
// queue_policy_bf_base_impl.hpp/queue_policy_hybrid_impl.hpp.
type BackfillHybrid struct {
	baseQueue
	ReservationDepth int
}

// NewBackfillHybrid builds a backfill-hybrid policy driving matcher.
func NewBackfillHybrid(matcher resourceclient.ResourceMatcher, cfg Config, reservationDepth int) *BackfillHybrid {
	if reservationDepth <= 0 {
		reservationDepth = DefaultReservationDepth
	}
	return &BackfillHybrid{
		baseQueue:        newBaseQueue(matcher, cfg),
		ReservationDepth: reservationDepth,
	}
}

func (h *BackfillHybrid) Insert(job *Job) error { return h.insert(job) }
func (h *BackfillHybrid) Remove(id JobID) error { return h.remove(id) }

// RunSchedLoop cancels completed jobs, then scans the full pending queue
// (bounded by QueueDepth) once: each job is tried for an immediate
// allocation first; on failure, it is granted a reservation instead of
// halting the scan, as long as fewer than ReservationDepth reservations
// have been granted this loop.
func (h *BackfillHybrid) RunSchedLoop(ctx context.Context, useAllocedQueue bool) error {
	defer metrics.MeasureSince([]string{"queuepolicy", "backfill_hybrid", "sched_loop"}, time.Now())

	if err := h.cancelCompletedJobs(ctx); err != nil {
		h.cfg.Logger.Warn("errors canceling completed jobs", "error", err)
	}

	reservationsUsed := 0
	considered := 0
	// Snapshot the pending order: jobs moved to running during this pass
	// must not be revisited, and h.pendingOrder mutates as we go.
	pending := append([]JobID(nil), h.pendingOrder...)

	for _, id := range pending {
		if considered >= h.cfg.QueueDepth {
			break
		}
		job, ok := h.jobs[id]
		if !ok {
			// removed mid-scan
			continue
		}
		considered++

		res, err := h.matcher.MatchAllocate(ctx, false, job.Jobspec, resourceclient.JobID(job.ID))
		if err == nil {
			job.Schedule = Schedule{Reserved: false, At: res.At}
			h.toRunning(id, useAllocedQueue)
			metrics.IncrCounter([]string{"queuepolicy", "jobs", "allocated"}, 1)
			continue
		}
		if !errors.Is(err, planner.ErrNotFound) {
			metrics.IncrCounter([]string{"queuepolicy", "jobs", "rejected"}, 1)
			return fmt.Errorf("queuepolicy: matching job %s: %w", job.ID, err)
		}

		if reservationsUsed >= h.ReservationDepth {
			h.cfg.Logger.Debug("reservation depth exhausted, skipping job this loop", "job", job.ID)
			continue
		}

		res, err = h.matcher.MatchAllocate(ctx, true, job.Jobspec, resourceclient.JobID(job.ID))
		if err != nil {
			metrics.IncrCounter([]string{"queuepolicy", "jobs", "rejected"}, 1)
			return fmt.Errorf("queuepolicy: reserving job %s: %w", job.ID, err)
		}
		job.Schedule = Schedule{Reserved: res.Reserved, At: res.At}
		h.toRunning(id, useAllocedQueue)
		reservationsUsed++
		metrics.IncrCounter([]string{"queuepolicy", "jobs", "reserved"}, 1)
	}
	return nil
}
