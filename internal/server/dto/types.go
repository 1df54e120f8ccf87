// Request and response types for the signup API.

package dto

import (
	"strings"
	"time"

	"github.com/maruel/ksid"
)

// Validatable is implemented by request types that can validate their fields.
type Validatable interface {
	Validate() error
}

// SubmitRequest is a new sign-up submission.
type SubmitRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Validate checks that all fields are present. Format checks (email shape,
// phone digits) belong to the record itself and surface as 400s through the
// error mapping.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return MissingField("name")
	}
	if strings.TrimSpace(r.Email) == "" {
		return MissingField("email")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return MissingField("phone")
	}
	return nil
}

// SubmitResponse reports a stored sign-up.
type SubmitResponse struct {
	ID ksid.ID `json:"id"`
	// SyncPending is true when the record was persisted locally but the
	// remote upload has not yet been confirmed.
	SyncPending bool `json:"sync_pending,omitempty"`
}

// DeleteRequest identifies records to remove by email and/or phone.
type DeleteRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Validate requires at least one key.
func (r *DeleteRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == "" {
		return MissingField("email or phone")
	}
	return nil
}

// DeleteResponse reports the outcome of a delete.
type DeleteResponse struct {
	Found       bool `json:"found"`
	SyncPending bool `json:"sync_pending,omitempty"`
}

// PrizeRequest attaches a prize to an existing record.
type PrizeRequest struct {
	Email string `json:"email"`
	Prize string `json:"prize"`
}

// Validate requires both fields.
func (r *PrizeRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return MissingField("email")
	}
	if r.Prize == "" {
		return MissingField("prize")
	}
	return nil
}

// PrizeResponse reports the outcome of a prize update.
type PrizeResponse struct {
	Found       bool `json:"found"`
	SyncPending bool `json:"sync_pending,omitempty"`
}

// RecordView is a record as exposed by the list endpoint.
type RecordView struct {
	ID    ksid.ID   `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`
	Date  time.Time `json:"date"`
	Prize string    `json:"prize,omitempty"`
}

// ListResponse is the operator view of the table.
type ListResponse struct {
	Records []RecordView `json:"records"`
	Count   int          `json:"count"`
}

// SyncRequest triggers a manual sync cycle.
type SyncRequest struct {
	// Force downloads the remote copy even when nothing is dirty.
	Force bool `json:"force,omitempty"`
}

// Validate implements Validatable; all field combinations are acceptable.
func (r *SyncRequest) Validate() error {
	return nil
}

// SyncResponse reports the coordinator's state after a manual sync.
type SyncResponse struct {
	Dirty bool   `json:"dirty"`
	State string `json:"state"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
