package planner

import "errors"

// Sentinel errors corresponding to the error taxonomy: callers discriminate
// failures with errors.Is against these, never by inspecting message text.
var (
	// ErrInvalidArgument covers malformed input: an inverted or
	// zero-length window, an unknown span id, or a next() call with no
	// active avail-time iteration. Methods do not check for a nil
	// *Planner receiver; calling one on nil panics.
	ErrInvalidArgument = errors.New("planner: invalid argument")

	// ErrOutOfRange covers capacity violations: a request exceeding total
	// resources, a window extending past plan_end, or scheduled/remaining
	// arithmetic that would leave a point outside [0, total].
	ErrOutOfRange = errors.New("planner: out of range")

	// ErrNotFound is returned by the avail-time iterator when no feasible
	// start time exists for the requested duration and count.
	ErrNotFound = errors.New("planner: no feasible time found")

	// ErrInternalInvariantViolated signals a tree or accounting invariant
	// failed after a structural repair. It indicates a logic bug, not a
	// caller error; the planner should be destroyed and recreated rather
	// than used further.
	ErrInternalInvariantViolated = errors.New("planner: internal invariant violated")
)
