package planner

import "github.com/google/btree"

// timeTree is the time-keyed tree (spec.md §4.1): a balanced BST keyed by
// the unique `at` field, backed by google/btree. It carries no
// augmentation, which is exactly what makes it a good fit for an
// off-the-shelf ordered container: search, predecessor ("state at"), and
// in-order next/prev are all the library gives for free.
type timeTree struct {
	bt *btree.BTreeG[*scheduledPoint]
}

func timeLess(a, b *scheduledPoint) bool {
	return a.at < b.at
}

func newTimeTree() *timeTree {
	return &timeTree{bt: btree.NewG(32, timeLess)}
}

// search returns the point at exactly t, or nil if none exists.
func (t *timeTree) search(at int64) *scheduledPoint {
	pivot := &scheduledPoint{at: at}
	if p, ok := t.bt.Get(pivot); ok {
		return p
	}
	return nil
}

// stateAt returns the point with the greatest `at` <= t: predecessor
// search, not lower-bound. Callers within the planner rely on this never
// being empty for t >= plan_start, since p0 always exists at plan_start.
func (t *timeTree) stateAt(at int64) *scheduledPoint {
	pivot := &scheduledPoint{at: at}
	var found *scheduledPoint
	t.bt.DescendLessOrEqual(pivot, func(item *scheduledPoint) bool {
		found = item
		return false
	})
	return found
}

// next returns the point with the smallest `at` strictly greater than
// p.at, or nil if p is the last point.
func (t *timeTree) next(p *scheduledPoint) *scheduledPoint {
	var found *scheduledPoint
	t.bt.AscendGreaterOrEqual(p, func(item *scheduledPoint) bool {
		if item.at > p.at {
			found = item
			return false
		}
		return true
	})
	return found
}

// prev returns the point with the largest `at` strictly less than p.at,
// or nil if p is the first point.
func (t *timeTree) prev(p *scheduledPoint) *scheduledPoint {
	var found *scheduledPoint
	t.bt.DescendLessOrEqual(p, func(item *scheduledPoint) bool {
		if item.at < p.at {
			found = item
			return false
		}
		return true
	})
	return found
}

// insert attaches p in O(log n). It fails if a point at the same `at`
// already exists.
func (t *timeTree) insert(p *scheduledPoint) error {
	old, replaced := t.bt.ReplaceOrInsert(p)
	if replaced {
		// Undo: put back whatever used to occupy this key slot. This
		// path should be unreachable — callers only ever insert points
		// at times absent from the planner's point map — but defense-in-depth
		// matches spec.md §7's atomicity requirement.
		t.bt.ReplaceOrInsert(old)
		return wrapf(ErrInternalInvariantViolated, "time tree: point already exists at %d", p.at)
	}
	return nil
}

// remove detaches p. It does not free the point; ownership is the
// caller's (the span table and the planner's point map).
func (t *timeTree) remove(p *scheduledPoint) {
	t.bt.Delete(p)
}

// destroyAll drops every point reachable from the tree. Used only on
// planner teardown.
func (t *timeTree) destroyAll() {
	t.bt.Clear(false)
}

func (t *timeTree) len() int {
	return t.bt.Len()
}
