package planner

// spanOK checks whether every point in [start, start+dur) satisfies the
// request, starting from start (inclusive). On failure it detaches start
// from the capacity tree and stashes it, mirroring span_ok in the C
// source: a start point that can't sustain the full window is pruned from
// further consideration by mintime until the iterator resets.
func (p *Planner) spanOK(start *scheduledPoint, dur uint64, request int64) bool {
	end := start.at + int64(dur)
	for next := start; next != nil; next = p.timeTree.next(next) {
		if next.at >= end {
			return true
		}
		if request > next.remaining {
			p.stashPoint(start)
			return false
		}
	}
	return true
}

// availAt is the earliest-fit search loop (spec.md §4.4): repeatedly pull
// the minimum-time point with enough capacity, detach-and-stash it, and
// either accept it (it's >= onOrAfter and sustains the full window) or
// keep scanning.
func (p *Planner) availAt(onOrAfter int64, dur uint64, request int64) int64 {
	for {
		start := p.capTree.mintime(request)
		if start == nil {
			return -1
		}
		at := start.at
		if at < onOrAfter {
			p.stashPoint(start)
			continue
		}
		if p.spanOK(start, dur, request) {
			p.stashPoint(start)
			if at+int64(dur) > p.planEnd {
				return -1
			}
			return at
		}
		// spanOK already stashed start on failure.
	}
}

// AvailTimeFirst resets the avail-time iterator, stores
// (onOrAfter, dur, request) as the active query, restores any
// previously-stashed points, and returns the earliest feasible start
// time at or after onOrAfter, or ErrNotFound if none exists within the
// plan window. Only the times of existing scheduled points are
// candidates: a start between two points, including onOrAfter itself
// when no point falls there, is not returned even if the window there
// would fit.
func (p *Planner) AvailTimeFirst(onOrAfter int64, dur uint64, request uint64) (int64, error) {
	if onOrAfter < p.planStart || onOrAfter >= p.planEnd || dur < 1 {
		return -1, wrapf(ErrInvalidArgument, "malformed window: onOrAfter=%d dur=%d", onOrAfter, dur)
	}
	if int64(request) > p.total {
		return -1, wrapf(ErrOutOfRange, "request %d exceeds total %d", request, p.total)
	}

	p.restoreSavedPoints()
	p.iterActive = true
	p.currentRequest.onOrAfter = onOrAfter
	p.currentRequest.duration = dur
	p.currentRequest.count = int64(request)

	t := p.availAt(onOrAfter, dur, int64(request))
	if t == -1 {
		return -1, ErrNotFound
	}
	return t, nil
}

// AvailTimeNext continues the iteration started by AvailTimeFirst,
// returning the next feasible start time strictly after the previous one
// (by virtue of the previous candidate having been pruned from the
// capacity tree). Returns ErrInvalidArgument if no iteration is active.
func (p *Planner) AvailTimeNext() (int64, error) {
	if !p.iterActive {
		return -1, wrapf(ErrInvalidArgument, "avail-time iteration not active: call AvailTimeFirst first")
	}
	req := p.currentRequest
	if req.count > p.total {
		return -1, wrapf(ErrOutOfRange, "request %d exceeds total %d", req.count, p.total)
	}
	t := p.availAt(req.onOrAfter, req.duration, req.count)
	if t == -1 {
		return -1, ErrNotFound
	}
	return t, nil
}
