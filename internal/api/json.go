package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kangrianai89/catatan/internal/ai"
	"github.com/kangrianai89/catatan/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a JSON body of at most 10 MB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// writeError maps domain errors to status codes. Unknown errors are
// logged with op and reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrInvalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrFetchFailed), errors.Is(err, apperr.ErrSaveFailed):
		status = http.StatusBadGateway
	case errors.Is(err, apperr.ErrStorageUnavailable), errors.Is(err, ai.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}
