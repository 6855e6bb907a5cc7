// Package queuepolicy implements queueing policies that drive a
// resourceclient.ResourceMatcher: first-come-first-served, and a
// backfill-hybrid policy that lets small trailing jobs fill gaps ahead
// of a blocked, reserved job.
package queuepolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/armon/go-metrics"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/hpcsched/planner/resourceclient"
)

// JobID is the broker-facing job identifier, distinct from the planner's
// own monotonic span ids.
type JobID string

// NewJobID generates a fresh broker-facing job id.
func NewJobID() (JobID, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("queuepolicy: generating job id: %w", err)
	}
	return JobID(id), nil
}

// State mirrors job_state_kind_t from the queue policy's job lifecycle.
type State int

const (
	StateInit State = iota
	StatePending
	StateRunning
	StateAllocRunning
	StateCanceled
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateAllocRunning:
		return "alloc_running"
	case StateCanceled:
		return "canceled"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Schedule records the outcome of a successful match for a job, mirroring
// schedule_t.
type Schedule struct {
	Reserved bool
	At       int64
}

// Stamps records the time a job entered each queue.
type Stamps struct {
	Pending  time.Time
	Running  time.Time
	Complete time.Time
}

// Job mirrors job_t: a unit of queued work plus its current state and
// schedule once matched.
type Job struct {
	ID       JobID
	Jobspec  string
	State    State
	Priority int
	Submit   time.Time
	Stamps   Stamps
	Schedule Schedule
}

// Config carries the policy's tunables. No flags, no env vars: per the
// collaborators' CLI non-goal, callers build this struct directly.
type Config struct {
	Logger     hclog.Logger
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1000
	}
	return c
}

// Policy is the interface service.Module drives.
type Policy interface {
	Insert(job *Job) error
	Remove(id JobID) error
	RunSchedLoop(ctx context.Context, useAllocedQueue bool) error
	PendingPop() *Job
	AllocedPop() *Job
	CompletePop() *Job
}

// baseQueue holds the four queues shared by every policy implementation,
// grounded on detail::queue_policy_base_impl_t's m_pending/m_running/
// m_alloced/m_complete maps, keyed here by submit order instead of a
// counter-keyed std::map since Go slices preserve insertion order
// directly.
type baseQueue struct {
	cfg Config

	matcher resourceclient.ResourceMatcher

	pendingOrder  []JobID
	runningOrder  []JobID
	allocedOrder  []JobID
	completeOrder []JobID
	jobs          map[JobID]*Job
}

func newBaseQueue(matcher resourceclient.ResourceMatcher, cfg Config) baseQueue {
	return baseQueue{
		cfg:     cfg.withDefaults(),
		matcher: matcher,
		jobs:    make(map[JobID]*Job),
	}
}

func (b *baseQueue) insert(job *Job) error {
	if _, exists := b.jobs[job.ID]; exists {
		return fmt.Errorf("queuepolicy: job %s already queued", job.ID)
	}
	job.State = StatePending
	job.Stamps.Pending = job.Submit
	b.jobs[job.ID] = job
	b.pendingOrder = append(b.pendingOrder, job.ID)
	return nil
}

// remove drops id from whichever queue it is in. A job that had
// progressed past pending is moved to the completed queue instead of
// being dropped outright: its resource allocation is released later by
// cancelCompletedJobs, during the next schedule loop pass, exactly as a
// free request arriving for a running job defers the actual cancel to
// cancel_completed_jobs rather than canceling inline.
func (b *baseQueue) remove(id JobID) error {
	job, ok := b.jobs[id]
	if !ok {
		return fmt.Errorf("queuepolicy: unknown job %s", id)
	}
	if job.State == StateRunning || job.State == StateAllocRunning {
		b.allocedOrder = removeID(b.allocedOrder, id)
		b.toComplete(id)
		return nil
	}
	b.pendingOrder = removeID(b.pendingOrder, id)
	delete(b.jobs, id)
	return nil
}

func removeID(order []JobID, id JobID) []JobID {
	for i, existing := range order {
		if existing == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func (b *baseQueue) popFront(order *[]JobID) *Job {
	if len(*order) == 0 {
		return nil
	}
	id := (*order)[0]
	*order = (*order)[1:]
	return b.jobs[id]
}

func (b *baseQueue) PendingPop() *Job {
	job := b.popFront(&b.pendingOrder)
	if job == nil {
		return nil
	}
	delete(b.jobs, job.ID)
	return job
}

func (b *baseQueue) AllocedPop() *Job {
	id := b.allocedOrder
	if len(id) == 0 {
		return nil
	}
	first := id[0]
	b.allocedOrder = id[1:]
	return b.jobs[first]
}

func (b *baseQueue) CompletePop() *Job {
	job := b.popFront(&b.completeOrder)
	if job == nil {
		return nil
	}
	delete(b.jobs, job.ID)
	return job
}

func (b *baseQueue) toRunning(id JobID, useAllocedQueue bool) {
	b.pendingOrder = removeID(b.pendingOrder, id)
	job := b.jobs[id]
	job.State = StateRunning
	job.Stamps.Running = time.Now()
	b.runningOrder = append(b.runningOrder, id)
	if useAllocedQueue {
		job.State = StateAllocRunning
		b.allocedOrder = append(b.allocedOrder, id)
	}
}

func (b *baseQueue) toComplete(id JobID) {
	b.runningOrder = removeID(b.runningOrder, id)
	job := b.jobs[id]
	job.State = StateComplete
	job.Stamps.Complete = time.Now()
	b.completeOrder = append(b.completeOrder, id)
}

// cancelCompletedJobs drains the completed-job queue, canceling each
// one's allocation. Errors are aggregated rather than stopping at the
// first failure, mirroring cancel_completed_jobs's accumulate-then-return
// pattern.
func (b *baseQueue) cancelCompletedJobs(ctx context.Context) error {
	var result *multierror.Error
	for {
		job := b.CompletePop()
		if job == nil {
			break
		}
		if err := b.matcher.Cancel(ctx, resourceclient.JobID(job.ID), true); err != nil {
			result = multierror.Append(result, fmt.Errorf("canceling %s: %w", job.ID, err))
		}
		metrics.IncrCounter([]string{"queuepolicy", "jobs", "completed"}, 1)
	}
	return result.ErrorOrNil()
}
