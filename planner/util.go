package planner

import "fmt"

// wrapf wraps a sentinel error with additional context, the way every
// planner-level failure is reported: errors.Is(err, ErrXxx) keeps working
// for callers while the message carries the detail a human (or a log line
// in the collaborators above this package) needs.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
