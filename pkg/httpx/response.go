package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lumehq/identity/pkg/apperr"
)

// WriteJSON writes a JSON response with the given status code. Token
// responses must never be cached, so Cache-Control is always no-store.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a service error into a JSON error body. Errors
// outside the apperr taxonomy are masked as a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error":             "server_error",
			"error_description": "An internal error occurred.",
		})
		return
	}
	WriteJSON(w, e.HTTPStatus(), map[string]string{
		"error":             string(e.Code),
		"error_description": e.Message,
	})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
