package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/runstore"
)

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	var (
		conflict *failure.ConcurrencyConflictError
		def      *failure.DefinitionError
	)
	switch {
	case errors.Is(err, coordinator.ErrUnknownPipeline), errors.Is(err, runstore.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict),
		errors.Is(err, coordinator.ErrRunFinished),
		errors.Is(err, coordinator.ErrRunExecuting),
		errors.Is(err, coordinator.ErrNotResolvable):
		return http.StatusConflict
	case errors.As(err, &def):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Error("Request failed.", "error", err)
	}
	resp := ErrorResponse{Error: err.Error()}
	var conflict *failure.ConcurrencyConflictError
	if errors.As(err, &conflict) {
		resp.RunID = conflict.RunID
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
