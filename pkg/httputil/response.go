// Package httputil holds the small JSON helpers shared by stubby's HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON shape of every error the stub server writes.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes data as JSON with the given status.
// A nil data writes only the status line and headers.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an ErrorBody with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: code, Message: message})
}

// WriteMethodNotAllowed writes a 405 and the Allow header.
func WriteMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "allowed methods: "+allowed)
}
