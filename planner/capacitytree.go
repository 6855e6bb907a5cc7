package planner

import "math"

// rbColor is the red-black coloring of a capacity-tree node.
type rbColor bool

const (
	red   rbColor = false
	black rbColor = true
)

// capNil is the shared sentinel leaf. Every "no child" / "no parent"
// linkage in the capacity tree points here instead of to Go's nil, so the
// rotation and fixup code below never has to special-case nil receivers —
// the classic CLRS sentinel trick. Its color is always black; its other
// fields are never read except transiently as fixup scratch space, which
// is safe because the planner is single-threaded and non-reentrant
// (spec.md §5).
var capNil = &scheduledPoint{capColor: black, capSubtreeMin: math.MaxInt64}

func init() {
	capNil.capLeft = capNil
	capNil.capRight = capNil
	capNil.capParent = capNil
}

// capacityTree is the capacity-keyed augmented tree (spec.md §4.2):
// a red-black tree ordered primarily by `remaining`, ties broken by `at`
// for deterministic iteration, augmented with a per-subtree minimum `at`
// (capSubtreeMin) that the two-pass mintime search relies on.
//
// This is hand-rolled rather than backed by a generic tree library: every
// rotation must recompute capSubtreeMin for the nodes it touches, which
// requires direct access to the rotation call sites (see DESIGN.md).
type capacityTree struct {
	root *scheduledPoint
}

func newCapacityTree() *capacityTree {
	return &capacityTree{root: capNil}
}

// capLess orders nodes by remaining, then by at for determinism (spec.md
// §9, resolving the "tie-breaking is unspecified" open question).
func capLess(a, b *scheduledPoint) bool {
	if a.remaining != b.remaining {
		return a.remaining < b.remaining
	}
	return a.at < b.at
}

// fixOne recomputes n's own capSubtreeMin from its current children. It
// does not propagate to ancestors; used after a rotation, where the
// node-set of any affected subtree is unchanged (only reshaped), so
// ancestors above the rotated pair always recompute to the same value
// they already held.
func fixOne(n *scheduledPoint) {
	min := n.at
	if n.capLeft != capNil && n.capLeft.capSubtreeMin < min {
		min = n.capLeft.capSubtreeMin
	}
	if n.capRight != capNil && n.capRight.capSubtreeMin < min {
		min = n.capRight.capSubtreeMin
	}
	n.capSubtreeMin = min
}

// fixAndPropagate recomputes n and walks upward, stopping as soon as a
// node's recomputed minimum matches what it already held. Used after a
// leaf insertion: adding a node can only lower minimums, so once a node
// is unchanged its ancestors are already correct too. Deletion does not
// use it (see remove).
func fixAndPropagate(n *scheduledPoint) {
	for n != capNil {
		min := n.at
		if n.capLeft != capNil && n.capLeft.capSubtreeMin < min {
			min = n.capLeft.capSubtreeMin
		}
		if n.capRight != capNil && n.capRight.capSubtreeMin < min {
			min = n.capRight.capSubtreeMin
		}
		if n.capSubtreeMin == min {
			return
		}
		n.capSubtreeMin = min
		n = n.capParent
	}
}

func (t *capacityTree) rotateLeft(x *scheduledPoint) {
	y := x.capRight
	x.capRight = y.capLeft
	if y.capLeft != capNil {
		y.capLeft.capParent = x
	}
	y.capParent = x.capParent
	if x.capParent == capNil {
		t.root = y
	} else if x == x.capParent.capLeft {
		x.capParent.capLeft = y
	} else {
		x.capParent.capRight = y
	}
	y.capLeft = x
	x.capParent = y

	fixOne(x)
	fixOne(y)
}

func (t *capacityTree) rotateRight(x *scheduledPoint) {
	y := x.capLeft
	x.capLeft = y.capRight
	if y.capRight != capNil {
		y.capRight.capParent = x
	}
	y.capParent = x.capParent
	if x.capParent == capNil {
		t.root = y
	} else if x == x.capParent.capRight {
		x.capParent.capRight = y
	} else {
		x.capParent.capLeft = y
	}
	y.capRight = x
	x.capParent = y

	fixOne(x)
	fixOne(y)
}

// insert sets p.capSubtreeMin, attaches p in O(log n), walks up repairing
// ancestors' capSubtreeMin, and marks p as in the capacity tree.
func (t *capacityTree) insert(p *scheduledPoint) {
	var parent *scheduledPoint = capNil
	node := t.root
	for node != capNil {
		parent = node
		if capLess(p, node) {
			node = node.capLeft
		} else {
			node = node.capRight
		}
	}

	p.capParent = parent
	p.capLeft = capNil
	p.capRight = capNil
	p.capColor = red
	p.capSubtreeMin = p.at

	if parent == capNil {
		t.root = p
	} else if capLess(p, parent) {
		parent.capLeft = p
	} else {
		parent.capRight = p
	}

	fixAndPropagate(parent)
	t.insertFixup(p)
	p.inCapacityTree = true
}

func (t *capacityTree) insertFixup(z *scheduledPoint) {
	for z.capParent.capColor == red {
		parent := z.capParent
		grandparent := parent.capParent
		if parent == grandparent.capLeft {
			uncle := grandparent.capRight
			if uncle.capColor == red {
				parent.capColor = black
				uncle.capColor = black
				grandparent.capColor = red
				z = grandparent
				continue
			}
			if z == parent.capRight {
				z = parent
				t.rotateLeft(z)
				parent = z.capParent
				grandparent = parent.capParent
			}
			parent.capColor = black
			grandparent.capColor = red
			t.rotateRight(grandparent)
		} else {
			uncle := grandparent.capLeft
			if uncle.capColor == red {
				parent.capColor = black
				uncle.capColor = black
				grandparent.capColor = red
				z = grandparent
				continue
			}
			if z == parent.capLeft {
				z = parent
				t.rotateRight(z)
				parent = z.capParent
				grandparent = parent.capParent
			}
			parent.capColor = black
			grandparent.capColor = red
			t.rotateLeft(grandparent)
		}
	}
	t.root.capColor = black
}

func (t *capacityTree) transplant(u, v *scheduledPoint) {
	if u.capParent == capNil {
		t.root = v
	} else if u == u.capParent.capLeft {
		u.capParent.capLeft = v
	} else {
		u.capParent.capRight = v
	}
	v.capParent = u.capParent
}

func treeMinimum(n *scheduledPoint) *scheduledPoint {
	for n.capLeft != capNil {
		n = n.capLeft
	}
	return n
}

// remove detaches p, repairing augmentation for the rotated/spliced
// neighborhood, and clears p's in-capacity-tree flag.
func (t *capacityTree) remove(z *scheduledPoint) {
	y := z
	yOriginalColor := y.capColor
	var x, xParent *scheduledPoint

	if z.capLeft == capNil {
		x = z.capRight
		xParent = z.capParent
		t.transplant(z, z.capRight)
	} else if z.capRight == capNil {
		x = z.capLeft
		xParent = z.capParent
		t.transplant(z, z.capLeft)
	} else {
		y = treeMinimum(z.capRight)
		yOriginalColor = y.capColor
		x = y.capRight
		if y.capParent == z {
			xParent = y
		} else {
			xParent = y.capParent
			t.transplant(y, y.capRight)
			y.capRight = z.capRight
			y.capRight.capParent = y
		}
		t.transplant(z, y)
		y.capLeft = z.capLeft
		y.capLeft.capParent = y
		y.capColor = z.capColor
	}

	// Repair augmentation for the post-splice, pre-rebalance shape. Every
	// node whose subtree changed lies on the path from xParent to the root
	// (a moved successor y sits on that path), so the whole path is
	// recomputed without stopping early: a moved successor can keep its
	// old value while an ancestor above it still holds z's removed `at`.
	for n := xParent; n != capNil; n = n.capParent {
		fixOne(n)
	}

	if yOriginalColor == black {
		t.removeFixup(x, xParent)
	}

	z.capLeft, z.capRight, z.capParent = capNil, capNil, capNil
	z.inCapacityTree = false
}

func (t *capacityTree) removeFixup(x, parent *scheduledPoint) {
	for x != t.root && x.capColor == black {
		if x == parent.capLeft {
			w := parent.capRight
			if w.capColor == red {
				w.capColor = black
				parent.capColor = red
				t.rotateLeft(parent)
				w = parent.capRight
			}
			if w.capLeft.capColor == black && w.capRight.capColor == black {
				w.capColor = red
				x = parent
				parent = x.capParent
				continue
			}
			if w.capRight.capColor == black {
				w.capLeft.capColor = black
				w.capColor = red
				t.rotateRight(w)
				w = parent.capRight
			}
			w.capColor = parent.capColor
			parent.capColor = black
			w.capRight.capColor = black
			t.rotateLeft(parent)
			x = t.root
		} else {
			w := parent.capLeft
			if w.capColor == red {
				w.capColor = black
				parent.capColor = red
				t.rotateRight(parent)
				w = parent.capLeft
			}
			if w.capRight.capColor == black && w.capLeft.capColor == black {
				w.capColor = red
				x = parent
				parent = x.capParent
				continue
			}
			if w.capLeft.capColor == black {
				w.capRight.capColor = black
				w.capColor = red
				t.rotateLeft(w)
				w = parent.capLeft
			}
			w.capColor = parent.capColor
			parent.capColor = black
			w.capLeft.capColor = black
			t.rotateRight(parent)
			x = t.root
		}
	}
	x.capColor = black
}

// rightBranchMintime returns min(n.at, subtree_min(n.right)): the
// smallest time attainable at n or anywhere in its right subtree.
func rightBranchMintime(n *scheduledPoint) int64 {
	minTime := int64(math.MaxInt64)
	if n.capRight != capNil {
		minTime = n.capRight.capSubtreeMin
	}
	return minInt64(n.at, minTime)
}

// findMintimeAnchor is pass one of mintime: walk from the root, tracking
// the best anchor whose node-or-right-subtree satisfies the capacity
// request with the smallest associated time.
func findMintimeAnchor(root *scheduledPoint, request int64) (anchor *scheduledPoint, minTime int64) {
	node := root
	minTime = math.MaxInt64
	for node != capNil {
		if request <= node.remaining {
			// This node and everything in its right subtree satisfy the
			// requirement (capLess orders by remaining ascending, so the
			// right subtree only has >= remaining). The smallest time
			// among them is rightBranchMintime(node).
			if rbt := rightBranchMintime(node); rbt < minTime {
				minTime = rbt
				anchor = node
			}
			// The left subtree may still hold a node with a smaller time
			// that also satisfies the requirement — some of it may not,
			// but nothing below a failing node to the left can, so we
			// must keep descending left to check.
			node = node.capLeft
		} else {
			// This node fails the requirement, and by ordering nothing
			// in its left subtree can satisfy it either.
			node = node.capRight
		}
	}
	return anchor, minTime
}

// findMintimePoint is pass two: from the anchor, descend guided by
// capSubtreeMin to materialize the point whose `at` equals minTime.
func findMintimePoint(anchor *scheduledPoint, minTime int64) *scheduledPoint {
	if anchor == nil || anchor == capNil {
		return nil
	}
	if anchor.at == minTime {
		return anchor
	}
	node := anchor.capRight
	for node != capNil {
		if node.at == minTime {
			return node
		}
		if node.capLeft != capNil && node.capLeft.capSubtreeMin == minTime {
			node = node.capLeft
		} else {
			node = node.capRight
		}
	}
	// An anchor was found satisfying the requirement at minTime, so a
	// point with that exact `at` must exist beneath it.
	return nil
}

// mintime finds a point with remaining >= request having the smallest
// at, in O(log n), or nil if none satisfies the request.
func (t *capacityTree) mintime(request int64) *scheduledPoint {
	anchor, minTime := findMintimeAnchor(t.root, request)
	return findMintimePoint(anchor, minTime)
}
