// Package service provides the dispatch glue that drives a
// queuepolicy.Policy: a single goroutine reading allocation and release
// requests off a channel and responding on another, grounded on
// qmanager.cpp's alloc_cb/free_cb pair collapsed into one select loop.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/hpcsched/planner/queuepolicy"
)

// AllocRequest asks the module to admit a job, mirroring
// jobmanager_alloc_cb's decoded arguments.
type AllocRequest struct {
	JobID   queuepolicy.JobID
	Jobspec string
	Submit  time.Time
}

// FreeRequest asks the module to release a job's allocation, mirroring
// jobmanager_free_cb.
type FreeRequest struct {
	JobID queuepolicy.JobID
}

// Response reports the outcome of one AllocRequest or FreeRequest after a
// scheduling pass.
type Response struct {
	JobID    queuepolicy.JobID
	Schedule queuepolicy.Schedule
	Err      error
}

// Request is the envelope delivered on the module's inbound channel:
// exactly one of Alloc or Free is set.
type Request struct {
	Alloc *AllocRequest
	Free  *FreeRequest
}

// Config carries Module's tunables. Per the CLI non-goal, no flags: a
// caller builds this struct directly.
type Config struct {
	Logger          hclog.Logger
	UseAllocedQueue bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return c
}

// Module owns exactly one goroutine that serializes every call into its
// queuepolicy.Policy: concurrency is pushed to the channel boundary, never
// into the policy or the planner beneath it.
type Module struct {
	cfg    Config
	policy queuepolicy.Policy

	requests  <-chan Request
	responses chan<- Response

	done chan struct{}
}

// NewModule builds a Module driving policy, reading from requests and
// writing to responses. Run must be called to start the dispatch loop.
func NewModule(policy queuepolicy.Policy, requests <-chan Request, responses chan<- Response, cfg Config) *Module {
	return &Module{
		cfg:       cfg.withDefaults(),
		policy:    policy,
		requests:  requests,
		responses: responses,
		done:      make(chan struct{}),
	}
}

// Run drives the dispatch loop until ctx is canceled or requests is
// closed. It blocks; call it from its own goroutine.
func (m *Module) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return m.teardown(context.Background())
		case req, ok := <-m.requests:
			if !ok {
				return m.teardown(context.Background())
			}
			m.dispatch(ctx, req)
		}
	}
}

// Done is closed once Run has returned.
func (m *Module) Done() <-chan struct{} {
	return m.done
}

func (m *Module) dispatch(ctx context.Context, req Request) {
	switch {
	case req.Alloc != nil:
		m.handleAlloc(ctx, req.Alloc)
	case req.Free != nil:
		m.handleFree(ctx, req.Free)
	default:
		m.cfg.Logger.Warn("dispatch received an empty request envelope")
	}
}

// handleAlloc mirrors jobmanager_alloc_cb: insert the job, run the
// schedule loop, then drain and respond to every job the loop moved into
// the alloced queue (not just this one — the loop may have admitted
// others queued ahead of it).
func (m *Module) handleAlloc(ctx context.Context, req *AllocRequest) {
	m.cfg.Logger.Info("alloc requested", "job", req.JobID)

	job := &queuepolicy.Job{ID: req.JobID, Jobspec: req.Jobspec, Submit: req.Submit}
	if err := m.policy.Insert(job); err != nil {
		m.cfg.Logger.Error("queue insert failed", "job", req.JobID, "error", err)
		m.respond(Response{JobID: req.JobID, Err: fmt.Errorf("service: inserting job %s: %w", req.JobID, err)})
		return
	}

	if err := m.policy.RunSchedLoop(ctx, m.cfg.UseAllocedQueue); err != nil {
		m.cfg.Logger.Debug("schedule loop returned an error", "error", err)
	}
	m.drainAlloced()
}

// handleFree mirrors jobmanager_free_cb: remove the job, run the schedule
// loop (freeing capacity may let blocked jobs run), respond to the
// freeing request, then drain newly alloced jobs exactly as alloc does.
func (m *Module) handleFree(ctx context.Context, req *FreeRequest) {
	m.cfg.Logger.Info("free requested", "job", req.JobID)

	if err := m.policy.Remove(req.JobID); err != nil {
		m.cfg.Logger.Error("queue remove failed", "job", req.JobID, "error", err)
	}
	if err := m.policy.RunSchedLoop(ctx, m.cfg.UseAllocedQueue); err != nil {
		m.cfg.Logger.Debug("schedule loop returned an error", "error", err)
	}
	m.respond(Response{JobID: req.JobID})
	m.drainAlloced()
}

func (m *Module) drainAlloced() {
	count := 0
	for {
		job := m.policy.AllocedPop()
		if job == nil {
			break
		}
		m.respond(Response{JobID: job.ID, Schedule: job.Schedule})
		count++
	}
	if count > 0 {
		m.cfg.Logger.Debug("drained alloced jobs", "count", humanize.Comma(int64(count)))
	}
}

func (m *Module) respond(resp Response) {
	select {
	case m.responses <- resp:
	default:
		m.cfg.Logger.Warn("response channel full, dropping response", "job", resp.JobID)
	}
}

// teardown replays every free request still buffered on the inbound
// channel before Run returns, so a shutdown doesn't strand jobs that were
// already freed by their caller but not yet processed. Each replay's
// error is aggregated rather than stopping at the first failure, matching
// cancel_completed_jobs's accumulate-then-return pattern.
func (m *Module) teardown(ctx context.Context) error {
	var result *multierror.Error
	replayed := false
	for {
		select {
		case req, ok := <-m.requests:
			if !ok {
				return m.finishTeardown(ctx, replayed, result)
			}
			if req.Free == nil {
				m.cfg.Logger.Debug("teardown: dropping non-free request", "job", jobIDOf(req))
				continue
			}
			replayed = true
			if err := m.policy.Remove(req.Free.JobID); err != nil {
				result = multierror.Append(result, fmt.Errorf("service: teardown removing job %s: %w", req.Free.JobID, err))
			}
		default:
			return m.finishTeardown(ctx, replayed, result)
		}
	}
}

// finishTeardown flushes the schedule loop once, after every buffered
// free has been replayed, so the cancels queued up by the replay actually
// run rather than sitting in the completed-job queue.
func (m *Module) finishTeardown(ctx context.Context, replayed bool, result *multierror.Error) error {
	if replayed {
		if err := m.policy.RunSchedLoop(ctx, false); err != nil {
			result = multierror.Append(result, fmt.Errorf("service: teardown schedule loop: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func jobIDOf(req Request) queuepolicy.JobID {
	switch {
	case req.Alloc != nil:
		return req.Alloc.JobID
	case req.Free != nil:
		return req.Free.JobID
	default:
		return ""
	}
}
