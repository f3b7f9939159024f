// Package api provides HTTP API server implementation for the metabeak service.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pardalotus/metabeak/internal/api/middleware"
	"github.com/pardalotus/metabeak/internal/storage"
)

const (
	healthCheckTimeout = 2 * time.Second
	resultPageSize     = 1000
	maxUploadBytes     = 10 << 20 // 10 MiB ceiling for an uploaded handler source file
	docsURL            = "https://github.com/pardalotus/metabeak"
)

type (
	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with public-endpoint bypass support.
	Route struct {
		Path    string // The URL path for this route, e.g. "GET /heartbeat"
		Handler http.HandlerFunc
	}

	// heartbeatResponse is the body of GET /heartbeat.
	heartbeatResponse struct {
		Heartbeat bool   `json:"heartbeat"`
		Platform  string `json:"platform"`
		Version   string `json:"version"`
	}

	// handlerSummary is the {id, code, status} shape shared by the
	// /functions family of endpoints.
	handlerSummary struct {
		ID     int64  `json:"id"`
		Code   string `json:"code"`
		Status string `json:"status"`
	}

	// uploadResponse is returned from a successful POST /functions.
	uploadResponse struct {
		ID int64 `json:"id"`
	}

	// resultPage is the cursor-paginated body of /functions/:id/results and
	// /functions/:id/debug.
	resultPage struct {
		Results []resultEntry `json:"results"`
		Cursor  int64         `json:"cursor"`
	}

	resultEntry struct {
		ID         int64       `json:"id"`
		EventID    int64       `json:"event_id"` //nolint: tagliatelle
		Output     interface{} `json:"output,omitempty"`
		Error      *string     `json:"error,omitempty"`
		ExecutedAt string      `json:"executed_at"` //nolint: tagliatelle
	}
)

// setupRoutes registers every HTTP route for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /heartbeat", s.handleHeartbeat},
		Route{"GET /", s.handleRoot},
	)

	mux.HandleFunc("GET /functions", s.handleListFunctions)
	mux.HandleFunc("POST /functions", s.handleUploadFunction)
	mux.HandleFunc("GET /functions/{id}", s.handleGetFunction)
	mux.HandleFunc("GET /functions/{id}/code.js", s.handleGetFunctionCode)
	mux.HandleFunc("GET /functions/{id}/results", s.handleGetFunctionResults)
	mux.HandleFunc("GET /functions/{id}/debug", s.handleGetFunctionDebug)
}

// registerPublicRoutes registers routes that bypass authentication. They are
// still rate limited as unauthenticated requests. Only health/docs endpoints
// belong here; never business logic.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.HandleFunc(route.Path, route.Handler)

		path := route.Path
		if idx := strings.IndexByte(path, ' '); idx >= 0 {
			path = path[idx+1:]
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handleHeartbeat answers GET /heartbeat with a database liveness probe.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var ok int

	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&ok); err != nil {
		s.logger.Error("heartbeat query failed", "error", err.Error())
		s.writeJSON(w, http.StatusInternalServerError, heartbeatResponse{Platform: Platform, Version: Version})

		return
	}

	s.writeJSON(w, http.StatusOK, heartbeatResponse{Heartbeat: true, Platform: Platform, Version: Version})
}

// handleRoot redirects GET / to the project documentation.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, docsURL, http.StatusMovedPermanently)
}

// writeJSON writes v as pretty-printed JSON with the given status code,
// bypassing the {status,data} envelope used by WriteOK for endpoints (like
// /heartbeat) that have their own top-level response shape.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}

// handleListFunctions answers GET /functions with every enabled handler;
// disabled handlers are excluded from the listing.
func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	handlers, err := s.handlers.ListEnabled(r.Context())
	if err != nil {
		WriteError(w, s.logger, http.StatusInternalServerError, "failed to list functions")

		return
	}

	summaries := make([]handlerSummary, 0, len(handlers))
	for _, h := range handlers {
		summaries = append(summaries, handlerSummary{ID: h.ID, Code: h.Code, Status: h.Status.String()})
	}

	WriteOK(w, s.logger, summaries)
}

// handleUploadFunction answers POST /functions: a multipart upload with
// field name "data" carrying the handler's JS source. Identical source
// collapses to the existing handler (200) rather than creating a new one
// (201), matching HandlerStore.Insert's content-hash dedup.
func (s *Server) handleUploadFunction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, s.logger, http.StatusBadRequest, "invalid multipart upload")

		return
	}

	file, _, err := r.FormFile("data")
	if err != nil {
		WriteError(w, s.logger, http.StatusBadRequest, "missing \"data\" field")

		return
	}
	defer func() { _ = file.Close() }()

	source, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		WriteError(w, s.logger, http.StatusBadRequest, "failed to read upload")

		return
	}

	if len(source) == 0 {
		WriteError(w, s.logger, http.StatusBadRequest, "empty handler source")

		return
	}

	ownerID := "anonymous"
	if ownerCtx, ok := middleware.GetOwnerContext(r.Context()); ok {
		ownerID = ownerCtx.OwnerID
	}

	hash := sha256.Sum256(source)
	contentHash := hex.EncodeToString(hash[:])

	id, created, err := s.handlers.Insert(r.Context(), string(source), contentHash, ownerID)
	if err != nil {
		s.logger.Error("failed to store function", "error", err.Error())
		WriteError(w, s.logger, http.StatusInternalServerError, "failed to store function")

		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	body := struct {
		Status string         `json:"status"`
		Data   uploadResponse `json:"data"`
	}{Status: "ok", Data: uploadResponse{ID: id}}

	if err := enc.Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}

// handleGetFunction answers GET /functions/:id.
func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseFunctionID(w, r)
	if !ok {
		return
	}

	h, err := s.handlers.Get(r.Context(), id)
	if errors.Is(err, storage.ErrHandlerNotFound) {
		WriteError(w, s.logger, http.StatusNotFound, "function not found")

		return
	}

	if err != nil {
		WriteError(w, s.logger, http.StatusInternalServerError, "failed to fetch function")

		return
	}

	WriteOK(w, s.logger, handlerSummary{ID: h.ID, Code: h.Code, Status: h.Status.String()})
}

// handleGetFunctionCode answers GET /functions/:id/code.js with the raw JS source.
func (s *Server) handleGetFunctionCode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseFunctionID(w, r)
	if !ok {
		return
	}

	h, err := s.handlers.Get(r.Context(), id)
	if errors.Is(err, storage.ErrHandlerNotFound) {
		WriteError(w, s.logger, http.StatusNotFound, "function not found")

		return
	}

	if err != nil {
		WriteError(w, s.logger, http.StatusInternalServerError, "failed to fetch function")

		return
	}

	w.Header().Set("Content-Type", "text/javascript")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.Code))
}

// handleGetFunctionResults answers GET /functions/:id/results?cursor=, a
// page of successful result JSONs for the handler.
func (s *Server) handleGetFunctionResults(w http.ResponseWriter, r *http.Request) {
	s.handleResultPage(w, r, false)
}

// handleGetFunctionDebug answers GET /functions/:id/debug?cursor=, the same
// page shape but including errored executions alongside successes.
func (s *Server) handleGetFunctionDebug(w http.ResponseWriter, r *http.Request) {
	s.handleResultPage(w, r, true)
}

func (s *Server) handleResultPage(w http.ResponseWriter, r *http.Request, includeErrors bool) {
	id, ok := s.parseFunctionID(w, r)
	if !ok {
		return
	}

	cursor := int64(0)

	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			WriteError(w, s.logger, http.StatusBadRequest, "invalid cursor")

			return
		}

		cursor = parsed
	}

	results, err := s.results.ListByHandler(r.Context(), id, cursor, resultPageSize, includeErrors)
	if err != nil {
		WriteError(w, s.logger, http.StatusInternalServerError, "failed to fetch results")

		return
	}

	entries := make([]resultEntry, 0, len(results))
	nextCursor := cursor

	for _, res := range results {
		entry := resultEntry{
			ID:         res.ID,
			EventID:    res.EventID,
			Error:      res.Error,
			ExecutedAt: res.ExecutedAt.Format(time.RFC3339),
		}

		if len(res.Output) > 0 {
			entry.Output = json.RawMessage(res.Output)
		}

		entries = append(entries, entry)

		if res.ID > nextCursor {
			nextCursor = res.ID
		}
	}

	WriteOK(w, s.logger, resultPage{Results: entries, Cursor: nextCursor})
}

// parseFunctionID extracts and validates the :id path parameter, writing an
// error response and returning ok=false on failure.
func (s *Server) parseFunctionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteError(w, s.logger, http.StatusBadRequest, "invalid function id")

		return 0, false
	}

	return id, true
}
