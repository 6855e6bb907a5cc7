// Package resourceclient provides a minimal stand-in for the resource
// matcher RPC surface that sits in front of a reservation planner: match
// and cancel, nothing more. It implements no wire protocol — callers in
// this module talk to it as a plain Go interface, backed here by a
// planner.Planner held in memory.
package resourceclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hpcsched/planner/planner"
)

// JobID identifies a job across MatchAllocate/Cancel calls. Distinct from
// planner.SpanID: this is the caller's id space, not the planner's.
type JobID string

// MatchResult reports the outcome of a successful MatchAllocate call.
type MatchResult struct {
	// Reserved is true when the match was satisfied only by reserving a
	// future start time rather than an immediately runnable allocation.
	Reserved bool
	// At is the start time the allocation (or reservation) begins at.
	At int64
}

// ResourceMatcher is the interface queuepolicy drives. Grounded on
// reapi_module_impl.hpp's match_allocate/cancel.
type ResourceMatcher interface {
	// MatchAllocate attempts to satisfy jobspec for id. When reserve is
	// true, a request that cannot run immediately is instead reserved at
	// its earliest feasible start rather than rejected.
	MatchAllocate(ctx context.Context, reserve bool, jobspec string, id JobID) (MatchResult, error)
	// Cancel releases any allocation or reservation held by id. noop
	// suppresses an error when id holds nothing (used during teardown
	// replays where the caller cannot tell in advance).
	Cancel(ctx context.Context, id JobID, noop bool) error
}

// Jobspec encodes the (start, duration, count) triple a real resource
// matcher would derive from parsing a jobspec document. The planner has
// no notion of an actual resource-matching DSL, so callers build this
// directly instead of parsing one.
type Jobspec struct {
	Start    int64
	Duration uint64
	Count    uint64
}

// Encode renders j as the jobspec string MatchAllocate expects.
func (j Jobspec) Encode() string {
	return fmt.Sprintf("%d:%d:%d", j.Start, j.Duration, j.Count)
}

func decodeJobspec(s string) (Jobspec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Jobspec{}, fmt.Errorf("resourceclient: malformed jobspec %q", s)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Jobspec{}, fmt.Errorf("resourceclient: malformed jobspec start: %w", err)
	}
	dur, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Jobspec{}, fmt.Errorf("resourceclient: malformed jobspec duration: %w", err)
	}
	count, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Jobspec{}, fmt.Errorf("resourceclient: malformed jobspec count: %w", err)
	}
	return Jobspec{Start: start, Duration: dur, Count: count}, nil
}

// probeKey identifies an AvailableDuring probe for the LRU cache.
type probeKey struct {
	at    int64
	dur   uint64
	count uint64
}

// InMemoryMatcher implements ResourceMatcher directly against a
// planner.Planner, with no RPC boundary in between. It caches
// AvailableDuring probes, since the backfill-hybrid policy's look-ahead
// scan re-issues the same (start, dur, count) probe across scheduling
// loop passes.
type InMemoryMatcher struct {
	planner *planner.Planner
	probes  *lru.Cache[probeKey, bool]
	spans   map[JobID]planner.SpanID
}

// NewInMemoryMatcher wraps p, caching up to probeCacheSize distinct
// AvailableDuring probes.
func NewInMemoryMatcher(p *planner.Planner, probeCacheSize int) (*InMemoryMatcher, error) {
	cache, err := lru.New[probeKey, bool](probeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("resourceclient: building probe cache: %w", err)
	}
	return &InMemoryMatcher{
		planner: p,
		probes:  cache,
		spans:   make(map[JobID]planner.SpanID),
	}, nil
}

func (m *InMemoryMatcher) availableDuring(at int64, dur, count uint64) (bool, error) {
	key := probeKey{at: at, dur: dur, count: count}
	if ok, hit := m.probes.Get(key); hit {
		return ok, nil
	}
	ok, err := m.planner.AvailableDuring(at, dur, count)
	if err != nil {
		return false, err
	}
	m.probes.Add(key, ok)
	return ok, nil
}

// MatchAllocate satisfies jobspec for id, reserving its earliest feasible
// start instead of rejecting it outright when reserve is true and an
// immediate allocation is not possible.
func (m *InMemoryMatcher) MatchAllocate(_ context.Context, reserve bool, jobspec string, id JobID) (MatchResult, error) {
	if _, exists := m.spans[id]; exists {
		return MatchResult{}, fmt.Errorf("resourceclient: job %s already has an allocation", id)
	}

	spec, err := decodeJobspec(jobspec)
	if err != nil {
		return MatchResult{}, err
	}

	ok, err := m.availableDuring(spec.Start, spec.Duration, spec.Count)
	if err != nil {
		return MatchResult{}, fmt.Errorf("resourceclient: probing availability for %s: %w", id, err)
	}
	if ok {
		spanID, err := m.planner.AddSpan(spec.Start, spec.Duration, spec.Count)
		if err != nil {
			return MatchResult{}, fmt.Errorf("resourceclient: allocating for %s: %w", id, err)
		}
		m.spans[id] = spanID
		m.probes.Purge()
		return MatchResult{Reserved: false, At: spec.Start}, nil
	}

	if !reserve {
		return MatchResult{}, fmt.Errorf("resourceclient: job %s unsatisfiable: %w", id, planner.ErrNotFound)
	}

	at, err := m.planner.AvailTimeFirst(spec.Start, spec.Duration, spec.Count)
	if err != nil {
		return MatchResult{}, fmt.Errorf("resourceclient: reserving for %s: %w", id, err)
	}
	spanID, err := m.planner.AddSpan(at, spec.Duration, spec.Count)
	if err != nil {
		return MatchResult{}, fmt.Errorf("resourceclient: reserving for %s: %w", id, err)
	}
	m.spans[id] = spanID
	m.probes.Purge()
	return MatchResult{Reserved: true, At: at}, nil
}

// Cancel releases the allocation or reservation held by id.
func (m *InMemoryMatcher) Cancel(_ context.Context, id JobID, noop bool) error {
	spanID, ok := m.spans[id]
	if !ok {
		if noop {
			return nil
		}
		return fmt.Errorf("resourceclient: job %s holds no allocation", id)
	}
	if err := m.planner.RemoveSpan(spanID); err != nil {
		return fmt.Errorf("resourceclient: canceling %s: %w", id, err)
	}
	delete(m.spans, id)
	m.probes.Purge()
	return nil
}
