package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// snapshot captures every point's (at, scheduled, remaining) for the
// round-trip law: add_span then remove_span restores exact state.
func snapshot(t *testing.T, p *Planner) map[int64][2]int64 {
	t.Helper()
	out := make(map[int64][2]int64, len(p.points))
	for at, pt := range p.points {
		out[at] = [2]int64{pt.scheduled, pt.remaining}
	}
	return out
}

func TestScenario1_EmptyCapacity(t *testing.T) {
	p, err := New(0, 1000, 10, "core")
	require.NoError(t, err)

	r, err := p.ResourcesAt(0)
	require.NoError(t, err)
	require.Equal(t, int64(10), r)

	ok, err := p.AvailableDuring(0, 1000, 10)
	require.NoError(t, err)
	require.True(t, ok)

	at, err := p.AvailTimeFirst(0, 500, 10)
	require.NoError(t, err)
	require.Equal(t, int64(0), at)
}

func TestScenario2_SingleSpan(t *testing.T) {
	p, err := New(0, 1000, 10, "core")
	require.NoError(t, err)

	id1, err := p.AddSpan(100, 200, 6)
	require.NoError(t, err)

	mustResourcesAt := func(at int64, want int64) {
		t.Helper()
		r, err := p.ResourcesAt(at)
		require.NoError(t, err)
		require.Equalf(t, want, r, "resources_at(%d)", at)
	}
	mustResourcesAt(50, 10)
	mustResourcesAt(100, 4)
	mustResourcesAt(299, 4)
	mustResourcesAt(300, 10)

	ok, err := p.AvailableDuring(100, 200, 5)
	require.NoError(t, err)
	require.False(t, ok)

	at, err := p.AvailTimeFirst(0, 200, 7)
	require.NoError(t, err)
	require.Equal(t, int64(300), at)

	_ = id1
}

func TestScenario3And4_OverlapAndRemoveRestores(t *testing.T) {
	p, err := New(0, 1000, 10, "core")
	require.NoError(t, err)

	_, err = p.AddSpan(100, 200, 6)
	require.NoError(t, err)
	before := snapshot(t, p)

	id2, err := p.AddSpan(200, 200, 3)
	require.NoError(t, err)

	mustResourcesAt := func(at int64, want int64) {
		t.Helper()
		r, err := p.ResourcesAt(at)
		require.NoError(t, err)
		require.Equalf(t, want, r, "resources_at(%d)", at)
	}
	mustResourcesAt(200, 1)
	mustResourcesAt(299, 1)
	mustResourcesAt(300, 7)
	mustResourcesAt(399, 7)
	mustResourcesAt(400, 10)

	require.NoError(t, p.RemoveSpan(id2))
	mustResourcesAt(200, 4)

	after := snapshot(t, p)
	require.Equal(t, before, after)
}

func TestScenario5_EarliestFitIteration(t *testing.T) {
	p, err := New(0, 40, 4, "core")
	require.NoError(t, err)

	_, err = p.AddSpan(0, 4, 1)
	require.NoError(t, err)
	_, err = p.AddSpan(4, 4, 1)
	require.NoError(t, err)
	_, err = p.AddSpan(8, 4, 1)
	require.NoError(t, err)

	at, err := p.AvailTimeFirst(0, 3, 4)
	require.NoError(t, err)
	require.Equal(t, int64(12), at)

	// No second point currently sustains a request of 4, so Next should
	// report NotFound rather than an arbitrary time.
	_, err = p.AvailTimeNext()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScenario6_CapacityOverflowRejected(t *testing.T) {
	p, err := New(0, 100, 5, "core")
	require.NoError(t, err)

	_, err = p.AddSpan(0, 10, 6)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrInvalidArgument))

	r, err := p.ResourcesAt(0)
	require.NoError(t, err)
	require.Equal(t, int64(5), r, "planner must be unchanged after a rejected add")
	require.Equal(t, 0, p.SpanSize())
}

func TestAddThenRemove_IsNoopOnObservableState(t *testing.T) {
	p, err := New(0, 500, 20, "core")
	require.NoError(t, err)

	before := snapshot(t, p)
	id, err := p.AddSpan(50, 30, 7)
	require.NoError(t, err)
	require.NoError(t, p.RemoveSpan(id))
	after := snapshot(t, p)

	require.Equal(t, before, after)
	require.Equal(t, 0, p.SpanSize())
}

func TestReset_MatchesFreshPlanner(t *testing.T) {
	p, err := New(0, 500, 20, "core")
	require.NoError(t, err)
	_, err = p.AddSpan(10, 10, 5)
	require.NoError(t, err)

	require.NoError(t, p.Reset(100, 200))

	fresh, err := New(100, 200, 20, "core")
	require.NoError(t, err)

	require.Equal(t, fresh.BaseTime(), p.BaseTime())
	require.Equal(t, fresh.Duration(), p.Duration())
	require.Equal(t, fresh.ResourceTotal(), p.ResourceTotal())
	r1, _ := fresh.ResourcesAt(100)
	r2, _ := p.ResourcesAt(100)
	require.Equal(t, r1, r2)
	require.Equal(t, 0, p.SpanSize())
}

func TestDurationZeroIsInvalid(t *testing.T) {
	_, err := New(0, 0, 10, "core")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRequestZeroIsTriviallyAvailable(t *testing.T) {
	p, err := New(0, 100, 10, "core")
	require.NoError(t, err)
	_, err = p.AddSpan(0, 50, 10)
	require.NoError(t, err)

	ok, err := p.AvailableDuring(0, 50, 0)
	require.NoError(t, err)
	require.True(t, ok)

	at, err := p.AvailTimeFirst(0, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), at)
}

func TestRequestEqualsTotalOnEmptyPlanner(t *testing.T) {
	p, err := New(5, 100, 8, "core")
	require.NoError(t, err)
	at, err := p.AvailTimeFirst(5, 10, 8)
	require.NoError(t, err)
	require.Equal(t, int64(5), at)
}

func TestAddSpan_WholeWindow(t *testing.T) {
	p, err := New(0, 100, 4, "core")
	require.NoError(t, err)
	id, err := p.AddSpan(0, 100, 4)
	require.NoError(t, err)
	active, err := p.IsActiveSpan(id)
	require.NoError(t, err)
	require.True(t, active)

	ok, err := p.AvailableDuring(0, 100, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAvailTimeNext_WithoutFirstIsInvalid(t *testing.T) {
	p, err := New(0, 100, 4, "core")
	require.NoError(t, err)
	_, err = p.AvailTimeNext()
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRemoveSpan_UnknownID(t *testing.T) {
	p, err := New(0, 100, 4, "core")
	require.NoError(t, err)
	err = p.RemoveSpan(SpanID(999))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAvailableDuring_BeyondPlanEndIsOutOfRange(t *testing.T) {
	p, err := New(0, 100, 4, "core")
	require.NoError(t, err)
	_, err = p.AvailableDuring(50, 100, 1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestInvariant_ResourcesAtMatchesActiveSpanSum(t *testing.T) {
	p, err := New(0, 1000, 25, "core")
	require.NoError(t, err)

	type want struct {
		start, dur, count int64
	}
	specs := []want{{0, 100, 5}, {50, 100, 3}, {300, 50, 10}, {900, 50, 25}}
	for _, s := range specs {
		_, err := p.AddSpan(s.start, uint64(s.dur), uint64(s.count))
		require.NoError(t, err)
	}

	for at := int64(0); at < 1000; at += 17 {
		var used int64
		for _, s := range specs {
			if s.start <= at && at < s.start+s.dur {
				used += s.count
			}
		}
		got, err := p.ResourcesAt(at)
		require.NoError(t, err)
		require.Equalf(t, 25-used, got, "resources_at(%d)", at)
	}
}

func TestAvailTimeFirst_EqualsLeastFeasibleTime(t *testing.T) {
	p, err := New(0, 200, 6, "core")
	require.NoError(t, err)
	_, err = p.AddSpan(0, 50, 6)
	require.NoError(t, err)

	at, err := p.AvailTimeFirst(0, 10, 3)
	require.NoError(t, err)

	for t2 := int64(0); t2 < at; t2++ {
		ok, err := p.AvailableDuring(t2, 10, 3)
		if err != nil {
			continue
		}
		require.Falsef(t, ok, "time %d should not be feasible before reported first-fit %d", t2, at)
	}
	ok, err := p.AvailableDuring(at, 10, 3)
	require.NoError(t, err)
	require.True(t, ok)
}
