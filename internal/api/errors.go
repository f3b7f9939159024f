// Package api provides HTTP API server implementation for the metabeak service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the plain {status, message} response shape the API uses for
// its error responses. Handler error paths funnel through WriteError instead
// of exposing an error string directly; the heartbeat reports its own
// status shape and the root path answers with a redirect.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteError writes a {status:"error", message} envelope with the given
// HTTP status code. It logs only a failure to encode the response; callers
// log the underlying cause themselves.
func WriteError(w http.ResponseWriter, logger *slog.Logger, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(Envelope{Status: "error", Message: message}); err != nil {
		logger.Error("failed to encode error response", slog.String("error", err.Error()))
	}
}

// WriteOK writes a {status:"ok", data:...} envelope, pretty-printed.
func WriteOK(w http.ResponseWriter, logger *slog.Logger, data any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(struct {
		Status string `json:"status"`
		Data   any    `json:"data"`
	}{Status: "ok", Data: data}); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
