package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"slotkeeper/internal/domain"

	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error            string `json:"error"`
	Reason           string `json:"reason,omitempty"`
	Field            string `json:"field,omitempty"`
	ConflictingStart string `json:"conflictingStart,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// Unknown errors are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Reason: string(ve.Reason), Field: ve.Field})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:            "time slot is no longer available",
			ConflictingStart: formatInstant(ce.ConflictingStart),
		})
	case errors.Is(err, domain.ErrSlugTaken):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "slug already taken", Reason: "slug_taken", Field: "slug"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
