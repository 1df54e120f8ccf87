package signup

import (
	"log/slog"
	"time"

	"github.com/maruel/ksid"
)

// Table is an in-memory ordered set of records. It is created fresh from the
// persisted rows inside a coordinator critical section and discarded after
// the mutated rows are written back; it is not safe for concurrent use.
type Table struct {
	rows []*Record
}

// Load builds a table from persisted rows. Rows missing a required field are
// dropped with a warning so corrupt or partial rows never survive a rewrite.
func Load(rows []*Record) *Table {
	t := &Table{rows: make([]*Record, 0, len(rows))}
	for _, r := range rows {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			slog.Warn("Dropping malformed record", "id", r.ID, "err", err)
			continue
		}
		t.rows = append(t.rows, r)
	}
	return t
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.rows)
}

// Records returns clones of all records in insertion order.
func (t *Table) Records() []*Record {
	out := make([]*Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// FindDuplicate scans every record and classifies a collision against the
// given keys. The scan never short-circuits: a record matching only the email
// and a later record matching only the phone must still report DupBoth.
func (t *Table) FindDuplicate(email, phone string) DupField {
	e := NormalizeEmail(email)
	p := NormalizePhone(phone)
	res := DupNone
	for _, r := range t.rows {
		if e != "" && NormalizeEmail(r.Email) == e {
			res = res.combine(DupEmail)
		}
		if p != "" && NormalizePhone(r.Phone) == p {
			res = res.combine(DupPhone)
		}
	}
	return res
}

// Insert appends a record, assigning an ID and submission timestamp when
// unset, and returns the stored copy. Returns a *DuplicateError when either
// key is already present.
func (t *Table) Insert(r *Record) (*Record, error) {
	rec := r.Clone()
	if rec.ID.IsZero() {
		rec.ID = ksid.NewID()
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if f := t.FindDuplicate(rec.Email, rec.Phone); f != DupNone {
		return nil, &DuplicateError{Field: f}
	}
	t.rows = append(t.rows, rec)
	return rec.Clone(), nil
}

// DeleteByKey removes every record whose normalized email equals email or
// whose normalized phone equals phone. Empty keys match nothing. Reports
// whether any record was removed; the table is unchanged otherwise.
func (t *Table) DeleteByKey(email, phone string) bool {
	e := NormalizeEmail(email)
	p := NormalizePhone(phone)
	kept := make([]*Record, 0, len(t.rows))
	found := false
	for _, r := range t.rows {
		if (e != "" && NormalizeEmail(r.Email) == e) || (p != "" && NormalizePhone(r.Phone) == p) {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	return found
}

// SetPrize attaches a prize to the first record with a matching normalized
// email. Reports whether a record was found.
func (t *Table) SetPrize(email, prize string) bool {
	e := NormalizeEmail(email)
	for _, r := range t.rows {
		if NormalizeEmail(r.Email) == e {
			r.Prize = prize
			return true
		}
	}
	return false
}
