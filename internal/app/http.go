package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"folio/api/internal/document"
	"folio/api/internal/history"
	"folio/api/internal/sections"
)

const maxBodyBytes = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/kinds" {
		writeData(w, http.StatusOK, s.service.Kinds())
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind := parts[1]

	switch len(parts) {
	case 2:
		s.handleCollection(w, r, kind)
		return
	case 3:
		if parts[2] == "search" && r.Method == http.MethodGet {
			s.handleSearch(w, r, kind)
			return
		}
		s.handleDocument(w, r, kind, parts[2])
		return
	case 4:
		id := parts[2]
		switch {
		case parts[3] == "toggle-active" && r.Method == http.MethodPatch:
			doc, err := s.service.ToggleActive(r.Context(), kind, id)
			s.respond(w, r, http.StatusOK, doc, err)
			return
		case parts[3] == "history" && r.Method == http.MethodGet:
			limit, err := queryLimit(r, 50)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
				return
			}
			commits, err := s.service.History(r.Context(), kind, id, limit)
			s.respond(w, r, http.StatusOK, commits, err)
			return
		}
	case 5:
		if parts[3] == "history" && r.Method == http.MethodGet {
			doc, err := s.service.Revision(r.Context(), kind, parts[2], parts[4])
			s.respond(w, r, http.StatusOK, doc, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// The cache is optional; a broken cache degrades but does not fail readiness.
	if configured, err := s.service.PingCache(ctx); configured {
		if err != nil {
			checks["cache"] = map[string]any{"status": "degraded", "error": err.Error()}
		} else {
			checks["cache"] = map[string]any{"status": "ok"}
		}
	}

	body := map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	}
	if statusCode != http.StatusOK {
		writeJSON(w, statusCode, map[string]any{
			"success": false,
			"code":    "NOT_READY",
			"message": "Service not ready",
			"details": body,
		})
		return
	}
	writeData(w, statusCode, body)
}

func (s *HTTPServer) handleCollection(w http.ResponseWriter, r *http.Request, kind string) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.service.List(r.Context(), kind)
		s.respond(w, r, http.StatusOK, docs, err)
	case http.MethodPost:
		var doc document.Document
		if err := decodeBody(r, &doc); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.Create(r.Context(), kind, doc)
		s.respond(w, r, http.StatusCreated, created, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, kind, id string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.service.Get(r.Context(), kind, id)
		s.respond(w, r, http.StatusOK, doc, err)
	case http.MethodPatch:
		var secs map[string]any
		if err := decodeBody(r, &secs); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.UpdatePartial(r.Context(), kind, id, secs)
		s.respond(w, r, http.StatusOK, doc, err)
	case http.MethodPut:
		var body document.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.UpdateFull(r.Context(), kind, id, body)
		s.respond(w, r, http.StatusOK, doc, err)
	case http.MethodDelete:
		err := s.service.Delete(r.Context(), kind, id)
		s.respond(w, r, http.StatusOK, map[string]any{"id": id}, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, kind string) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	resp, err := s.service.Search(r.Context(), kind, r.URL.Query().Get("q"), limit)
	s.respond(w, r, http.StatusOK, resp, err)
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		}
		writeError(w, code, errCode, message, details)
		return
	}
	writeData(w, status, data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return limit, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Document not found", nil
	}
	if errors.Is(err, sections.ErrUnknownKind) {
		return http.StatusNotFound, "UNKNOWN_KIND", "Unknown document kind", nil
	}
	if errors.Is(err, history.ErrNoHistory) {
		return http.StatusNotFound, "NO_HISTORY", "Document has no history", nil
	}
	if errors.Is(err, history.ErrNoRevision) {
		return http.StatusNotFound, "NO_REVISION", "Unknown revision", nil
	}
	if errors.Is(err, history.ErrInvalidID) {
		return http.StatusBadRequest, "INVALID_ID", "Invalid document id", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
