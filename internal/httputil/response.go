// Package httputil holds the small response helpers shared by the debug
// HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/rangesweep/internal/monitoring"
)

// WriteJSON writes data as indented JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		monitoring.L().Warnw("failed to encode json response", "error", err)
	}
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// RequireMethod writes 405 and returns false unless r uses one of methods.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
