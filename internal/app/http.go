package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roomhistory/internal/auth"
	"roomhistory/internal/snapshot"
	"roomhistory/internal/util"
)

const syncTokenHeader = "X-History-Sync-Token"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNoContent, map[string]any{})
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)

	r.Route("/api/rooms/{roomID}", func(r chi.Router) {
		r.Get("/versions", s.requireSession(s.handleListVersions))
		r.Post("/versions", s.requireSessionOrSync(s.handleSaveVersion))
		r.Get("/versions/{versionID}", s.requireSession(s.handleGetVersion))
		r.Delete("/versions/{versionID}", s.requireSession(s.handleDeleteVersion))
		r.Get("/versions/{versionID}/snapshot", s.requireSession(s.handleSnapshot))
		r.Post("/prune", s.requireSession(s.handlePrune))
		r.Get("/failures", s.requireSession(s.handleFailures))
	})
	r.Post("/api/admin/reconcile", s.requireSession(s.handleReconcile))

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, session Session) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	versions, err := s.service.ListVersions(r.Context(), session, chi.URLParam(r, "roomID"), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleGetVersion(w http.ResponseWriter, r *http.Request, session Session) {
	version, err := s.service.GetVersion(r.Context(), session, chi.URLParam(r, "roomID"), chi.URLParam(r, "versionID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

// handleSnapshot returns the decoded snapshot, or the stored payload as-is
// when called with ?format=gzip.
func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request, session Session) {
	roomID, versionID := chi.URLParam(r, "roomID"), chi.URLParam(r, "versionID")
	if r.URL.Query().Get("format") == "gzip" {
		_, payload, err := s.service.GetPayload(r.Context(), session, roomID, versionID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", snapshot.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", versionID+".json.gz"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	result, err := s.service.GetSnapshot(r.Context(), session, roomID, versionID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSaveVersion(w http.ResponseWriter, r *http.Request, session Session) {
	if limit := s.service.cfg.SnapshotMaxBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	var input SaveVersionInput
	if err := decodeBody(r, &input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Snapshot exceeds the size limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SaveVersion(r.Context(), session, chi.URLParam(r, "roomID"), input)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleDeleteVersion(w http.ResponseWriter, r *http.Request, session Session) {
	versionID := chi.URLParam(r, "versionID")
	if err := s.service.DeleteVersion(r.Context(), session, chi.URLParam(r, "roomID"), versionID); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "versionId": versionID})
}

func (s *HTTPServer) handlePrune(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		KeepLast int `json:"keepLast"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Prune(r.Context(), session, chi.URLParam(r, "roomID"), body.KeepLast)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFailures(w http.ResponseWriter, r *http.Request, session Session) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	failures, err := s.service.Failures(r.Context(), session, chi.URLParam(r, "roomID"), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.Reconcile(r.Context(), session)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		next(w, r, session)
	}
}

// requireSessionOrSync also admits the sync gateway's shared token.
func (s *HTTPServer) requireSessionOrSync(next sessionHandler) http.HandlerFunc {
	withSession := s.requireSession(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if token := strings.TrimSpace(r.Header.Get(syncTokenHeader)); token != "" {
			session, ok := s.service.SessionFromSyncToken(token)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			next(w, r, session)
			return
		}
		withSession(w, r)
	}
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"room", chi.URLParam(r, "roomID"),
			"version", chi.URLParam(r, "versionID"),
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+syncTokenHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
