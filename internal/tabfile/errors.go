// Error types surfaced by the persistence layer.

package tabfile

import "fmt"

// CorruptionError reports a table file that failed header or row validation.
// Callers are expected to salvage and reinitialize rather than abort.
type CorruptionError struct {
	Path string
	Line int // 1-based line number, 0 when the whole file is unreadable
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("table file %s corrupt at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("table file %s corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// ResourceError reports that the target directory cannot accept a write:
// insufficient free space or missing permission. It is fatal and
// operator-actionable, distinct from transient write failures.
type ResourceError struct {
	Dir string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("storage unavailable at %s: %v", e.Dir, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}
