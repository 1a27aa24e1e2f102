package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"creator-sync/shared/authx"
	"creator-sync/shared/httpx"
	"creator-sync/shared/logx"
)

// AuditMiddleware writes one admin_action line per mutating request and per
// rejected credential.
type AuditMiddleware struct {
	Enabled bool
	Logger  logx.Logger
	Skip   func(*http.Request) bool
}

func (m AuditMiddleware) Wrap(next http.Handler) http.Handler {
	if !m.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lrw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		if !shouldAudit(r, lrw.statusCode) {
			return
		}
		resource, id := resourceFromPath(r.URL.Path)
		attrs := []slog.Attr{
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.String("action", actionForRequest(r, lrw.statusCode)),
			slog.String("resource", resource),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status_code", lrw.statusCode),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", clientIP(r)),
		}
		if id != "" {
			attrs = append(attrs, slog.String("resource_id", id))
		}
		if p, ok := authx.FromContext(r.Context()); ok {
			attrs = append(attrs, slog.String("subject", p.Subject))
		}
		m.Logger.Info(r.Context(), "admin_action", "admin action", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func shouldAudit(r *http.Request, statusCode int) bool {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true
	}
	return r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch || r.Method == http.MethodDelete
}

func actionForRequest(r *http.Request, statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "auth_failed"
	case http.StatusForbidden:
		return "forbidden"
	}
	path := strings.Trim(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodDelete && strings.HasSuffix(path, "/purge"):
		return "purge"
	case r.Method == http.MethodDelete:
		return "delete"
	case strings.HasSuffix(path, "retry") || strings.HasSuffix(path, "retry-all") || strings.HasSuffix(path, "retry-failed"):
		return "retry"
	case strings.HasSuffix(path, "/repair"):
		return "repair"
	case strings.HasSuffix(path, "/check"):
		return "check"
	case r.Method == http.MethodGet:
		return "read"
	}
	return "update"
}

// resourceFromPath maps /dlq/messages/{id}/... to ("dlq", id) and
// /consistency/... to ("consistency", "").
func resourceFromPath(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	resource := parts[0]
	if resource == "dlq" && len(parts) >= 3 && parts[1] == "messages" {
		return resource, strings.TrimSpace(parts[2])
	}
	return resource, ""
}
