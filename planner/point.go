package planner

// scheduledPoint is an event at which the resource accounting state
// changes. It doubles as a node in both the time-keyed tree (via the
// google/btree ordering on at) and the capacity-keyed tree (the cap*
// fields below), matching the inline node embedding of the C source this
// package is ported from.
//
// Invariants, all pointwise:
//   - 0 <= scheduled <= total
//   - remaining == total - scheduled
//   - refCount equals the number of live spans anchored here; the point
//     is destroyed when it reaches zero, except for p0.
type scheduledPoint struct {
	at        int64
	scheduled int64
	remaining int64
	refCount  uint64

	inCapacityTree bool

	// capacity-keyed augmented red-black tree linkage, keyed by
	// (remaining, at) with at as the deterministic tie-break.
	capLeft, capRight, capParent *scheduledPoint
	capColor                     rbColor
	// capSubtreeMin is the minimum `at` across this node's subtree in
	// the capacity-keyed tree. Repaired on every rotation, insertion,
	// and deletion along the affected spine.
	capSubtreeMin int64
}

func (p *scheduledPoint) checkInvariants(total int64) error {
	if p.scheduled < 0 || p.scheduled > total {
		return wrapf(ErrInternalInvariantViolated, "point at %d: scheduled %d out of [0,%d]", p.at, p.scheduled, total)
	}
	if p.remaining != total-p.scheduled {
		return wrapf(ErrInternalInvariantViolated, "point at %d: remaining %d != total %d - scheduled %d", p.at, p.remaining, total, p.scheduled)
	}
	return nil
}
