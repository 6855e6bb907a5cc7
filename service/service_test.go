package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpcsched/planner/planner"
	"github.com/hpcsched/planner/queuepolicy"
	"github.com/hpcsched/planner/resourceclient"
)

func newModule(t *testing.T) (*Module, chan Request, chan Response, *planner.Planner) {
	t.Helper()
	p, err := planner.New(0, 1000, 10, "core")
	require.NoError(t, err)
	matcher, err := resourceclient.NewInMemoryMatcher(p, 32)
	require.NoError(t, err)
	policy := queuepolicy.NewFCFS(matcher, queuepolicy.Config{})

	requests := make(chan Request, 8)
	responses := make(chan Response, 8)
	mod := NewModule(policy, requests, responses, Config{UseAllocedQueue: true})
	return mod, requests, responses, p
}

func recvResponse(t *testing.T, ch chan Response) Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return Response{}
	}
}

func TestModule_AllocThenFreeSequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	mod, requests, responses, p := newModule(t)
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- mod.Run(ctx) }()

	spec := resourceclient.Jobspec{Start: 0, Duration: 100, Count: 6}.Encode()
	requests <- Request{Alloc: &AllocRequest{JobID: "job-1", Jobspec: spec, Submit: time.Now()}}

	resp := recvResponse(t, responses)
	require.Equal(t, queuepolicy.JobID("job-1"), resp.JobID)
	require.NoError(t, resp.Err)
	require.Equal(t, int64(0), resp.Schedule.At)

	r, err := p.ResourcesAt(50)
	require.NoError(t, err)
	require.Equal(t, int64(4), r)

	requests <- Request{Free: &FreeRequest{JobID: "job-1"}}
	freeResp := recvResponse(t, responses)
	require.Equal(t, queuepolicy.JobID("job-1"), freeResp.JobID)

	r, err = p.ResourcesAt(50)
	require.NoError(t, err)
	require.Equal(t, int64(10), r)

	cancel()
	require.NoError(t, <-runErr)
	<-mod.Done()
}

func TestModule_FreeUnblocksQueuedJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	mod, requests, responses, _ := newModule(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- mod.Run(ctx) }()

	full := resourceclient.Jobspec{Start: 0, Duration: 100, Count: 10}.Encode()
	requests <- Request{Alloc: &AllocRequest{JobID: "blocker", Jobspec: full, Submit: time.Now()}}
	blockerResp := recvResponse(t, responses)
	require.NoError(t, blockerResp.Err)

	requests <- Request{Alloc: &AllocRequest{JobID: "waiter", Jobspec: full, Submit: time.Now()}}
	// waiter can't be satisfied immediately and FCFS doesn't reserve, so
	// no response arrives for it yet.
	select {
	case r := <-responses:
		t.Fatalf("unexpected early response for waiter: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	requests <- Request{Free: &FreeRequest{JobID: "blocker"}}
	freeResp := recvResponse(t, responses)
	require.Equal(t, queuepolicy.JobID("blocker"), freeResp.JobID)

	waiterResp := recvResponse(t, responses)
	require.Equal(t, queuepolicy.JobID("waiter"), waiterResp.JobID)
	require.NoError(t, waiterResp.Err)

	cancel()
	require.NoError(t, <-runErr)
}

func TestModule_TeardownReplaysBufferedFrees(t *testing.T) {
	defer goleak.VerifyNone(t)

	mod, requests, _, p := newModule(t)

	spec := resourceclient.Jobspec{Start: 0, Duration: 50, Count: 3}.Encode()
	require.NoError(t, mod.policy.Insert(&queuepolicy.Job{ID: "job-a", Jobspec: spec, Submit: time.Now()}))
	require.NoError(t, mod.policy.RunSchedLoop(context.Background(), true))
	alloced := mod.policy.AllocedPop()
	require.NotNil(t, alloced)

	r, err := p.ResourcesAt(10)
	require.NoError(t, err)
	require.Equal(t, int64(7), r)

	// Buffer a free directly, with nothing consuming the request channel,
	// then exercise teardown's buffered-replay path in isolation.
	requests <- Request{Free: &FreeRequest{JobID: "job-a"}}

	require.NoError(t, mod.teardown(context.Background()))

	r, err = p.ResourcesAt(10)
	require.NoError(t, err)
	require.Equal(t, int64(10), r, "teardown must have replayed the buffered free")
}
