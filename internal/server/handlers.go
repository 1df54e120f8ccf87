// Typed handlers for the signup API; all table access goes through the
// coordinator's exclusive execution path.

package server

import (
	"context"
	"net/http"

	"github.com/maruel/promosign/internal/server/dto"
	"github.com/maruel/promosign/internal/syncsvc"
)

// Handlers holds the API's dependencies.
type Handlers struct {
	Coord   *syncsvc.Coordinator
	Version string
}

// Submit registers a new sign-up.
func (h *Handlers) Submit(ctx context.Context, in *dto.SubmitRequest) (*dto.SubmitResponse, error) {
	rec, syncPending, err := h.Coord.Submit(ctx, in.Name, in.Email, in.Phone)
	if err != nil {
		return nil, err
	}
	return &dto.SubmitResponse{ID: rec.ID, SyncPending: syncPending}, nil
}

// Delete removes records by email and/or phone.
func (h *Handlers) Delete(ctx context.Context, in *dto.DeleteRequest) (*dto.DeleteResponse, error) {
	found, syncPending, err := h.Coord.Delete(ctx, in.Email, in.Phone)
	if err != nil {
		return nil, err
	}
	return &dto.DeleteResponse{Found: found, SyncPending: syncPending}, nil
}

// Prize attaches a prize to an existing record.
func (h *Handlers) Prize(ctx context.Context, in *dto.PrizeRequest) (*dto.PrizeResponse, error) {
	found, syncPending, err := h.Coord.SetPrize(ctx, in.Email, in.Prize)
	if err != nil {
		return nil, err
	}
	return &dto.PrizeResponse{Found: found, SyncPending: syncPending}, nil
}

// List returns the current table contents.
func (h *Handlers) List(ctx context.Context) (*dto.ListResponse, error) {
	records, err := h.Coord.Records(ctx)
	if err != nil {
		return nil, err
	}
	out := &dto.ListResponse{Records: make([]dto.RecordView, len(records)), Count: len(records)}
	for i, r := range records {
		out.Records[i] = dto.RecordView{
			ID:    r.ID,
			Name:  r.Name,
			Email: r.Email,
			Phone: r.Phone,
			Date:  r.Date,
			Prize: r.Prize,
		}
	}
	return out, nil
}

// Sync triggers a manual sync cycle.
func (h *Handlers) Sync(ctx context.Context, in *dto.SyncRequest) (*dto.SyncResponse, error) {
	if err := h.Coord.Sync(ctx, in.Force); err != nil {
		return nil, err
	}
	return &dto.SyncResponse{Dirty: h.Coord.Dirty(), State: string(h.Coord.CurrentState())}, nil
}

// Health reports liveness.
func (h *Handlers) Health(_ context.Context) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{Status: "ok", Version: h.Version}, nil
}

// Export streams a consistent snapshot of the table file.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.Coord.Snapshot(r.Context())
	if err != nil {
		writeError(w, toAPIError(err))
		return
	}
	w.Header().Set("Content-Type", "application/jsonl")
	w.Header().Set("Content-Disposition", `attachment; filename="signups.jsonl"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
