// Package signup implements the customer record table for the promotional
// sign-up service: one ordered set of records, keyed by normalized email and
// phone number, with duplicate detection on both keys.
package signup

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/maruel/ksid"
)

// emailRe is deliberately loose: one @, no spaces, a dot in the domain.
// Real validation happens when the promo email is actually sent.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Record is one customer's submitted contact information.
type Record struct {
	ID    ksid.ID   `json:"id" jsonschema:"description=Unique record identifier"`
	Name  string    `json:"name" jsonschema:"description=Customer name as submitted"`
	Email string    `json:"email" jsonschema:"description=Contact email; unique after normalization"`
	Phone string    `json:"phone" jsonschema:"description=10-digit phone number; unique after normalization"`
	Date  time.Time `json:"date" jsonschema:"description=Submission timestamp"`
	Prize string    `json:"prize,omitempty" jsonschema:"description=Prize attached after the draw"`
}

// Clone returns a copy of the Record.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Validate checks that the record carries all required fields in an
// acceptable shape. Records failing validation are excluded from duplicate
// scans and are never written back to disk.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	email := NormalizeEmail(r.Email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !emailRe.MatchString(email) {
		return &ValidationError{Field: "email", Reason: fmt.Sprintf("invalid format %q", r.Email)}
	}
	phone := NormalizePhone(r.Phone)
	if phone == "" {
		return &ValidationError{Field: "phone", Reason: "required"}
	}
	if len(phone) != 10 {
		return &ValidationError{Field: "phone", Reason: fmt.Sprintf("must be exactly 10 digits, got %d", len(phone))}
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return &ValidationError{Field: "phone", Reason: fmt.Sprintf("contains non-digit %q", c)}
		}
	}
	return nil
}

// NormalizeEmail canonicalizes an email for equality comparison: trimmed and
// lowercased.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone canonicalizes a phone number for equality comparison:
// dashes and whitespace are stripped.
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '-', ' ', '\t':
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
