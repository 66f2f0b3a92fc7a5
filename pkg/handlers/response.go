package handlers

import (
	"encoding/json"
	"net/http"
)

// Every handler answers JSON. Error bodies carry a stable machine-readable
// code plus a human message, the shape the Fuse admin UI keys its error
// handling off.

// ErrorResponse writes {"error": code, "message": msg} with the given status.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON encodes data with the given status. For 200 the explicit
// WriteHeader is skipped so the encoder's first write sets it.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
