package planner

// SpanID is the caller-facing handle for a reservation returned by
// AddSpan. It is a value type: the underlying span record is never
// exposed, matching spec.md §5 ("Points are never exposed").
type SpanID int64

// span is a time-bounded reservation of a resource count over
// [start, last). Attributes mirror spec.md §3; startP/lastP are handles
// into the time-keyed tree, not owned by the span.
type span struct {
	id      SpanID
	start   int64
	last    int64 // exclusive end
	planned int64 // requested count, positive
	active  bool

	startP *scheduledPoint
	lastP  *scheduledPoint
}
