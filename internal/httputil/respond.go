// Package httputil writes JSON responses with consistent Content-Type and
// status codes.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const maxBodyBytes = 1 << 20

// JSON writes a JSON-encoded payload with the given HTTP status code.
// If encoding fails, it writes a plain 500 error instead.
func JSON(w http.ResponseWriter, code int, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("httputil: failed to marshal JSON response", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

// Error writes a JSON error body: {"error": "<message>"} with the given status code.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, map[string]string{"error": message})
}

// OK writes a 200 JSON response. Convenience wrapper for the common case.
func OK(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}

// Created writes a 201 JSON response.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, payload)
}

// Accepted writes 202. Use when work continues after the response.
func Accepted(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusAccepted, payload)
}

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NoContent writes 204 with no body. Use for DELETE and actions with no return value.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes 400 with a message. Use for invalid input.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized writes 401. Use when the bearer token is missing or wrong.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "unauthorized")
}

// MethodNotAllowed writes 405. The router uses it for known paths hit with the wrong method.
func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, "method not allowed")
}