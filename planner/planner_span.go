package planner

// getOrCreatePoint returns the existing point at t, or creates one whose
// scheduled/remaining are inherited from the point governing t just
// before it (state_at), inserts it into both trees, and records it in
// the point map. Mirrors get_or_new_point.
func (p *Planner) getOrCreatePoint(at int64) *scheduledPoint {
	if existing, ok := p.points[at]; ok {
		return existing
	}
	state := p.timeTree.stateAt(at)
	pt := &scheduledPoint{at: at, scheduled: state.scheduled, remaining: state.remaining}
	p.points[at] = pt
	_ = p.timeTree.insert(pt)
	p.capTree.insert(pt)
	return pt
}

// fetchOverlapPoints returns every existing point q with at <= q.at <
// at+dur, in time order. It walks forward from state_at(at) but keeps
// only points with q.at >= at, mirroring fetch_overlap_points, so the
// point governing the window's start is included only when it falls
// exactly at `at`; callers that need the window's leading edge have
// already materialized it via getOrCreatePoint.
func (p *Planner) fetchOverlapPoints(at int64, dur uint64) []*scheduledPoint {
	var out []*scheduledPoint
	end := at + int64(dur)
	point := p.timeTree.stateAt(at)
	for point != nil && point.at < end {
		if point.at >= at {
			out = append(out, point)
		}
		point = p.timeTree.next(point)
	}
	return out
}

// updateCapacityTreeFor re-augments the capacity tree for every point
// whose remaining changed: remove-then-reinsert of exactly the touched
// set, the simplest correct design per spec.md §4.2.
func (p *Planner) updateCapacityTreeFor(points []*scheduledPoint) {
	for _, pt := range points {
		if pt.inCapacityTree {
			p.capTree.remove(pt)
		}
		if pt.refCount > 0 && !pt.inCapacityTree {
			p.capTree.insert(pt)
		}
	}
}

// AddSpan reserves `request` units of the resource over
// [start, start+dur) and returns the new span's id.
func (p *Planner) AddSpan(start int64, dur uint64, request uint64) (SpanID, error) {
	if dur < 1 || start < p.planStart {
		return 0, wrapf(ErrInvalidArgument, "malformed span window: start=%d dur=%d", start, dur)
	}
	if start+int64(dur) > p.planEnd {
		return 0, wrapf(ErrOutOfRange, "window [%d,%d) extends past plan end %d", start, start+int64(dur), p.planEnd)
	}
	if int64(request) > p.total {
		return 0, wrapf(ErrOutOfRange, "request %d exceeds total %d", request, p.total)
	}

	ok, err := p.availableDuringUnchecked(start, dur, int64(request))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, wrapf(ErrInvalidArgument, "window [%d,%d) cannot satisfy request %d", start, start+int64(dur), request)
	}

	p.restoreSavedPoints()

	p.spanSeq++
	id := SpanID(p.spanSeq)
	sp := &span{id: id, start: start, last: start + int64(dur), planned: int64(request)}

	startP := p.getOrCreatePoint(sp.start)
	startP.refCount++
	lastP := p.getOrCreatePoint(sp.last)
	lastP.refCount++

	touched := p.fetchOverlapPoints(sp.start, dur)
	for _, pt := range touched {
		pt.scheduled += sp.planned
		pt.remaining -= sp.planned
		if err := pt.checkInvariants(p.total); err != nil {
			// Precondition check above makes this unreachable in
			// practice; unwind the partial update rather than leave a
			// corrupted point, per spec.md §7's atomicity requirement.
			p.unwindAddSpan(touched, sp, startP, lastP)
			return 0, err
		}
	}

	sp.startP = startP
	sp.lastP = lastP
	p.updateCapacityTreeFor(touched)

	sp.active = true
	p.spans[id] = sp
	p.spanOrder = append(p.spanOrder, id)
	p.iterActive = false

	return id, nil
}

// unwindAddSpan reverses a partial AddSpan update after a mid-flight
// invariant violation: defense-in-depth only, since availableDuringUnchecked
// already rules this case out.
func (p *Planner) unwindAddSpan(touched []*scheduledPoint, sp *span, startP, lastP *scheduledPoint) {
	for _, pt := range touched {
		pt.scheduled -= sp.planned
		pt.remaining += sp.planned
	}
	startP.refCount--
	lastP.refCount--
	p.destroyPointIfOrphaned(startP)
	if lastP != startP {
		p.destroyPointIfOrphaned(lastP)
	}
}

func (p *Planner) destroyPointIfOrphaned(pt *scheduledPoint) {
	if pt == p.p0 || pt.refCount != 0 {
		return
	}
	p.timeTree.remove(pt)
	if pt.inCapacityTree {
		p.capTree.remove(pt)
	}
	delete(p.points, pt.at)
}

// RemoveSpan releases the reservation identified by id. Observably,
// AddSpan(s,d,r) followed by RemoveSpan(id) restores every point's
// (scheduled, remaining) and the exact point set.
func (p *Planner) RemoveSpan(id SpanID) error {
	sp, ok := p.spans[id]
	if !ok {
		return wrapf(ErrInvalidArgument, "unknown span id %d", id)
	}

	p.restoreSavedPoints()

	sp.startP.refCount--
	sp.lastP.refCount--

	dur := uint64(sp.last - sp.start)
	touched := p.fetchOverlapPoints(sp.start, dur)
	for _, pt := range touched {
		pt.scheduled -= sp.planned
		pt.remaining += sp.planned
		if err := pt.checkInvariants(p.total); err != nil {
			return err
		}
	}
	p.updateCapacityTreeFor(touched)
	sp.active = false

	p.destroyPointIfOrphaned(sp.startP)
	if sp.lastP != sp.startP {
		p.destroyPointIfOrphaned(sp.lastP)
	}

	delete(p.spans, id)
	for i, sid := range p.spanOrder {
		if sid == id {
			p.spanOrder = append(p.spanOrder[:i], p.spanOrder[i+1:]...)
			break
		}
	}
	p.iterActive = false
	return nil
}

// ---------------------------------------------------------------------
// Span table iteration and accessors (spec.md §4.6)
// ---------------------------------------------------------------------

// SpanFirst resets span iteration and returns the first span id, or an
// error if the planner has no spans.
func (p *Planner) SpanFirst() (SpanID, error) {
	p.spanIter = 0
	return p.SpanNext()
}

// SpanNext continues span iteration from where SpanFirst/SpanNext left
// off.
func (p *Planner) SpanNext() (SpanID, error) {
	if p.spanIter >= len(p.spanOrder) {
		return 0, wrapf(ErrInvalidArgument, "no more spans")
	}
	id := p.spanOrder[p.spanIter]
	p.spanIter++
	return id, nil
}

// SpanSize returns the number of spans currently tracked (active or not).
func (p *Planner) SpanSize() int {
	return len(p.spans)
}

// IsActiveSpan reports whether id refers to a currently-active span.
func (p *Planner) IsActiveSpan(id SpanID) (bool, error) {
	sp, ok := p.spans[id]
	if !ok {
		return false, wrapf(ErrInvalidArgument, "unknown span id %d", id)
	}
	return sp.active, nil
}

// SpanStartTime returns the start time of span id.
func (p *Planner) SpanStartTime(id SpanID) (int64, error) {
	sp, ok := p.spans[id]
	if !ok {
		return -1, wrapf(ErrInvalidArgument, "unknown span id %d", id)
	}
	return sp.start, nil
}

// SpanDuration returns the duration of span id.
func (p *Planner) SpanDuration(id SpanID) (int64, error) {
	sp, ok := p.spans[id]
	if !ok {
		return -1, wrapf(ErrInvalidArgument, "unknown span id %d", id)
	}
	return sp.last - sp.start, nil
}

// SpanResourceCount returns the requested resource count of span id.
func (p *Planner) SpanResourceCount(id SpanID) (int64, error) {
	sp, ok := p.spans[id]
	if !ok {
		return -1, wrapf(ErrInvalidArgument, "unknown span id %d", id)
	}
	return sp.planned, nil
}
