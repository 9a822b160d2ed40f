package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError sends {success:false, error}. Unclassified errors are logged
// and replaced with a generic message.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	WriteJSON(w, status, map[string]any{"success": false, "error": msg})
}

// DecodeJSON reads the request body into v, reporting bad input as
// ErrValidation.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.Invalidf("invalid request body: %v", err)
	}
	return nil
}
