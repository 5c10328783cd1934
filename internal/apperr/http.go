// internal/apperr/http.go
package apperr

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError renders err for the client. Expected outcomes keep their
// message; anything else is logged and sanitized.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := KindOf(err)
	message := err.Error()
	if kind == KindInternal {
		if logger != nil {
			logger.Error("internal error", "error", err)
		}
		message = "internal server error"
	}
	WriteJSON(w, HTTPStatus(err), map[string]string{
		"message": message,
		"kind":    string(kind),
	})
}
