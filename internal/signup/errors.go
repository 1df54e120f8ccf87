// Business outcomes that are expected, non-fatal results of a mutation.

package signup

import "fmt"

// ValidationError reports a record field that is missing or in an
// unacceptable shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DupField classifies which natural key an insert collided on.
type DupField string

const (
	DupNone  DupField = ""
	DupEmail DupField = "email"
	DupPhone DupField = "phone"
	DupBoth  DupField = "both"
)

// combine merges two duplicate classifications.
func (d DupField) combine(other DupField) DupField {
	switch {
	case d == DupNone:
		return other
	case other == DupNone, d == other:
		return d
	default:
		return DupBoth
	}
}

// DuplicateError reports an insert whose email or phone normalizes equal to
// an existing record's.
type DuplicateError struct {
	Field DupField
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate entry: %s already registered", e.Field)
}

// NotFoundError reports a delete or update whose target record is absent.
type NotFoundError struct {
	Email string
	Phone string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no record matching email=%q phone=%q", e.Email, e.Phone)
}
