// Provides middleware for standardizing HTTP handlers.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maruel/promosign/internal/remote"
	"github.com/maruel/promosign/internal/server/dto"
	"github.com/maruel/promosign/internal/signup"
	"github.com/maruel/promosign/internal/syncsvc"
	"github.com/maruel/promosign/internal/tabfile"
)

// maxBodyBytes bounds request bodies; every payload here is a handful of
// short fields.
const maxBodyBytes = 64 << 10

// Wrap adapts a typed handler into an http.Handler: decode the JSON body,
// validate, invoke, encode the response, map errors to status codes.
func Wrap[In any, Out any](fn func(ctx context.Context, in *In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in := new(In)
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(in); err != nil {
				writeError(w, dto.BadRequest("invalid JSON body: %v", err))
				return
			}
		}
		if v, ok := any(in).(dto.Validatable); ok {
			if err := v.Validate(); err != nil {
				writeError(w, toAPIError(err))
				return
			}
		}
		out, err := fn(r.Context(), in)
		if err != nil {
			writeError(w, toAPIError(err))
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// WrapGet adapts a typed handler that takes no request payload.
func WrapGet[Out any](fn func(ctx context.Context) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context())
		if err != nil {
			writeError(w, toAPIError(err))
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// toAPIError maps domain errors onto the API error taxonomy. Duplicate and
// not-found are expected business outcomes; resource and unhandled errors
// are logged as failures.
func toAPIError(err error) *dto.APIError {
	var apiErr *dto.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var ve *signup.ValidationError
	if errors.As(err, &ve) {
		return dto.BadRequest("%v", err).WithDetails("field", ve.Field)
	}
	var dup *signup.DuplicateError
	if errors.As(err, &dup) {
		return dto.Duplicate(string(dup.Field))
	}
	var nf *signup.NotFoundError
	if errors.As(err, &nf) {
		return dto.NotFound(nf.Error())
	}
	if errors.Is(err, syncsvc.ErrBusy) {
		return dto.Busy()
	}
	var re *tabfile.ResourceError
	if errors.As(err, &re) {
		slog.Error("Storage unavailable", "err", err)
		return dto.StorageError(re.Error())
	}
	var se *remote.SyncError
	if errors.As(err, &se) {
		return dto.SyncFailed(se.Error())
	}
	slog.Error("Unhandled handler error", "err", err)
	return dto.Internal("internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, apiErr *dto.APIError) {
	writeJSON(w, apiErr.StatusCode(), &dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: apiErr.Code(), Message: apiErr.Error()},
		Details: apiErr.Details(),
	})
}
