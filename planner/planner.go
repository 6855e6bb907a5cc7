// Package planner implements the reservation planner: an in-memory data
// structure answering, in O(log n), "does a shared resource pool have
// enough capacity for a given start time, duration, and count" and "what
// is the earliest time it will." See SPEC_FULL.md for the full component
// design this package implements.
//
// The planner is single-threaded and non-reentrant (spec.md §5): every
// public method runs to completion before the next call may begin, and
// none may be invoked re-entrantly from a callback. It performs no I/O,
// holds no internal goroutines, and emits no logs — callers in the layers
// above (queuepolicy, service) own observability.
package planner

import (
	"github.com/hashicorp/go-set/v3"
)

// request captures the parameters of an in-flight avail-time iteration so
// Next can resume where First left off.
type request struct {
	onOrAfter int64
	duration  uint64
	count     int64
}

// Planner is the public facade (spec.md §4.3-§4.6). The zero value is not
// usable; construct with New.
type Planner struct {
	total        int64
	resourceType string
	planStart    int64
	planEnd      int64

	timeTree *timeTree
	capTree  *capacityTree
	p0       *scheduledPoint

	points map[int64]*scheduledPoint // at -> point, owns every live point

	spans     map[SpanID]*span
	spanOrder []SpanID
	spanIter  int
	spanSeq   int64

	// savedPoints holds points temporarily detached from the capacity
	// tree during avail-time iteration (spec.md §4.4); restored on reset,
	// a fresh First, or any successful mutation.
	savedPoints *set.Set[int64]

	currentRequest request
	iterActive     bool
}

// New constructs a planner over the half-open window
// [baseTime, baseTime+duration) with the given total resource count and
// an opaque resource type label.
func New(baseTime int64, duration uint64, total uint64, resourceType string) (*Planner, error) {
	if duration < 1 {
		return nil, wrapf(ErrInvalidArgument, "duration must be >= 1, got %d", duration)
	}
	if total > uint64(maxInt64) {
		return nil, wrapf(ErrOutOfRange, "total %d exceeds max representable resource count", total)
	}
	p := &Planner{total: int64(total), resourceType: resourceType}
	p.initialize(baseTime, duration)
	return p, nil
}

const maxInt64 = int64(^uint64(0) >> 1)

func (p *Planner) initialize(baseTime int64, duration uint64) {
	p.planStart = baseTime
	p.planEnd = baseTime + int64(duration)
	p.timeTree = newTimeTree()
	p.capTree = newCapacityTree()
	p.points = make(map[int64]*scheduledPoint)

	p0 := &scheduledPoint{at: baseTime, scheduled: 0, remaining: p.total, refCount: 1}
	p.points[baseTime] = p0
	_ = p.timeTree.insert(p0)
	p.capTree.insert(p0)
	p.p0 = p0

	p.spans = make(map[SpanID]*span)
	p.spanOrder = nil
	p.spanIter = 0
	p.spanSeq = 0
	p.savedPoints = set.New[int64](0)
	p.currentRequest = request{}
	p.iterActive = false
}

// Reset tears down the planner's state and reinitializes it over a new
// window, keeping the same total/resourceType. Observably equivalent to
// Destroy followed by New(baseTime, duration, total, resourceType).
func (p *Planner) Reset(baseTime int64, duration uint64) error {
	if duration < 1 {
		return wrapf(ErrInvalidArgument, "duration must be >= 1, got %d", duration)
	}
	p.erase()
	p.initialize(baseTime, duration)
	return nil
}

func (p *Planner) erase() {
	p.timeTree.destroyAll()
	p.points = nil
	p.spans = nil
	p.spanOrder = nil
	p.savedPoints = nil
}

// Destroy invalidates every handle previously returned by p (span ids,
// iteration state). Callers must not use stale ids afterward.
func (p *Planner) Destroy() {
	p.restoreSavedPoints()
	p.erase()
}

func (p *Planner) BaseTime() int64      { return p.planStart }
func (p *Planner) Duration() int64      { return p.planEnd - p.planStart }
func (p *Planner) ResourceTotal() int64 { return p.total }
func (p *Planner) ResourceType() string { return p.resourceType }

// restoreSavedPoints reinserts every point stashed during avail-time
// iteration back into the capacity tree, matching restore_track_points.
func (p *Planner) restoreSavedPoints() {
	if p.savedPoints == nil {
		return
	}
	for _, at := range p.savedPoints.Slice() {
		if pt, ok := p.points[at]; ok {
			p.capTree.insert(pt)
		}
	}
	p.savedPoints = set.New[int64](0)
}

func (p *Planner) stashPoint(pt *scheduledPoint) {
	p.capTree.remove(pt)
	p.savedPoints.Insert(pt.at)
}

// ---------------------------------------------------------------------
// Queries (spec.md §4.3)
// ---------------------------------------------------------------------

// ResourcesAt returns the remaining resource count at instant t.
func (p *Planner) ResourcesAt(at int64) (int64, error) {
	if at > p.planEnd {
		return 0, wrapf(ErrInvalidArgument, "at %d beyond plan end %d", at, p.planEnd)
	}
	state := p.timeTree.stateAt(at)
	if state == nil {
		return 0, wrapf(ErrInternalInvariantViolated, "no state at or before %d", at)
	}
	return state.remaining, nil
}

// ResourcesDuring returns the minimum remaining resource count over every
// point in [at, at+dur).
func (p *Planner) ResourcesDuring(at int64, dur uint64) (int64, error) {
	if dur < 1 {
		return 0, wrapf(ErrInvalidArgument, "duration must be >= 1, got %d", dur)
	}
	if at+int64(dur) > p.planEnd {
		return 0, wrapf(ErrOutOfRange, "window [%d,%d) extends past plan end %d", at, at+int64(dur), p.planEnd)
	}
	point := p.timeTree.stateAt(at)
	if point == nil {
		return 0, wrapf(ErrInternalInvariantViolated, "no state at or before %d", at)
	}
	min := point.remaining
	end := at + int64(dur)
	for point != nil && point.at < end {
		if point.remaining < min {
			min = point.remaining
		}
		point = p.timeTree.next(point)
	}
	return min, nil
}

// AvailableDuring reports whether every point in [at, at+dur) has
// remaining >= request. It short-circuits on the first violation and
// never mutates the trees.
func (p *Planner) AvailableDuring(at int64, dur uint64, request uint64) (bool, error) {
	if dur < 1 {
		return false, wrapf(ErrInvalidArgument, "duration must be >= 1, got %d", dur)
	}
	if int64(request) > p.total {
		return false, wrapf(ErrOutOfRange, "request %d exceeds total %d", request, p.total)
	}
	if at+int64(dur) > p.planEnd {
		return false, wrapf(ErrOutOfRange, "window [%d,%d) extends past plan end %d", at, at+int64(dur), p.planEnd)
	}
	ok, err := p.availableDuringUnchecked(at, dur, int64(request))
	return ok, err
}

func (p *Planner) availableDuringUnchecked(at int64, dur uint64, request int64) (bool, error) {
	point := p.timeTree.stateAt(at)
	if point == nil {
		return false, wrapf(ErrInternalInvariantViolated, "no state at or before %d", at)
	}
	end := at + int64(dur)
	for point != nil && point.at < end {
		if request > point.remaining {
			return false, nil
		}
		point = p.timeTree.next(point)
	}
	return true, nil
}
