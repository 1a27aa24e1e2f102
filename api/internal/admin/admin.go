// Package admin exposes the operator endpoints for the consistency and
// dead-letter subsystems.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/deadletter"
	"creator-sync/api/internal/mirror"
	"creator-sync/shared/httpx"
	"creator-sync/shared/influxx"
	"creator-sync/shared/logx"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxHistory      = 7 * 24 * time.Hour
)

type Consistency interface {
	RunConsistencyCheck(ctx context.Context) (consistency.Report, error)
	AutoRepair(ctx context.Context) (consistency.RepairResult, error)
	RetryPendingWrites(ctx context.Context) (consistency.RetryResult, error)
	FailedWriteStats(ctx context.Context) (consistency.FailedWriteStats, error)
	MonitoringMetrics(ctx context.Context) (consistency.MonitoringMetrics, error)
}

type DeadLetters interface {
	List(ctx context.Context, limit int, offset int) ([]deadletter.Message, error)
	Get(ctx context.Context, id string) (deadletter.Message, bool, error)
	Retry(ctx context.Context, id string) (bool, error)
	RetryAll(ctx context.Context) (deadletter.RetryAllResult, error)
	Delete(ctx context.Context, id string) (bool, error)
	Purge(ctx context.Context) (int, error)
	Stats(ctx context.Context) (deadletter.Stats, error)
}

// History is optional; without it /consistency/history answers 503.
type History interface {
	MismatchHistory(ctx context.Context, entityType string, window time.Duration) ([]influxx.Sample, error)
}

type Handler struct {
	consistency Consistency
	dlq         DeadLetters
	history     History
	logger      logx.Logger
}

func New(c Consistency, dlq DeadLetters, history History, logger logx.Logger) *Handler {
	return &Handler{consistency: c, dlq: dlq, history: history, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /consistency/check", h.check)
	mux.HandleFunc("POST /consistency/repair", h.repair)
	mux.HandleFunc("POST /consistency/retry-failed", h.retryFailed)
	mux.HandleFunc("GET /consistency/failed-writes", h.failedWrites)
	mux.HandleFunc("GET /consistency/metrics", h.metrics)
	mux.HandleFunc("GET /consistency/history", h.mismatchHistory)

	mux.HandleFunc("GET /dlq/messages", h.listMessages)
	mux.HandleFunc("GET /dlq/messages/{id}", h.getMessage)
	mux.HandleFunc("POST /dlq/messages/{id}/retry", h.retryMessage)
	mux.HandleFunc("DELETE /dlq/messages/{id}", h.deleteMessage)
	mux.HandleFunc("POST /dlq/retry-all", h.retryAll)
	mux.HandleFunc("DELETE /dlq/purge", h.purge)
	mux.HandleFunc("GET /dlq/stats", h.stats)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	report, err := h.consistency.RunConsistencyCheck(r.Context())
	if err != nil {
		h.internal(w, r, "consistency_check_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	res, err := h.consistency.AutoRepair(r.Context())
	if err != nil {
		h.internal(w, r, "consistency_repair_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	res, err := h.consistency.RetryPendingWrites(r.Context())
	if err != nil {
		h.internal(w, r, "failed_write_retry_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) failedWrites(w http.ResponseWriter, r *http.Request) {
	stats, err := h.consistency.FailedWriteStats(r.Context())
	if err != nil {
		h.internal(w, r, "failed_write_stats_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.consistency.MonitoringMetrics(r.Context())
	if err != nil {
		h.internal(w, r, "monitoring_metrics_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

type historyPoint struct {
	At         time.Time `json:"at"`
	Mismatches int64     `json:"mismatches"`
}

func (h *Handler) mismatchHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "report history not configured", nil)
		return
	}
	entity := strings.TrimSpace(r.URL.Query().Get("entity"))
	if entity == "" {
		entity = mirror.EntityPost
	}
	if entity != mirror.EntityUser && entity != mirror.EntityPost {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "entity must be user or post", nil)
		return
	}
	window := 24 * time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "window must be a positive duration", nil)
			return
		}
		window = min(d, maxHistory)
	}

	samples, err := h.history.MismatchHistory(r.Context(), entity, window)
	if err != nil {
		h.internal(w, r, "history_query_failed", err)
		return
	}
	points := make([]historyPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, historyPoint{At: s.At, Mismatches: s.Value})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entity": entity,
		"window": window.String(),
		"points": points,
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := httpx.QueryInt(r, "limit", defaultPageSize, maxPageSize)
	if limit == 0 {
		limit = defaultPageSize
	}
	offset := httpx.QueryInt(r, "offset", 0, 0)
	msgs, err := h.dlq.List(r.Context(), limit, offset)
	if err != nil {
		h.internal(w, r, "dead_letter_list_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok, err := h.dlq.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.internal(w, r, "dead_letter_get_failed", err)
		return
	}
	if !ok {
		notFound(w, r)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handler) retryMessage(w http.ResponseWriter, r *http.Request) {
	ok, err := h.dlq.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.internal(w, r, "dead_letter_retry_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	ok, err := h.dlq.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		h.internal(w, r, "dead_letter_delete_failed", err)
		return
	}
	if !ok {
		notFound(w, r)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) retryAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.dlq.RetryAll(r.Context())
	if err != nil {
		h.internal(w, r, "dead_letter_retry_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.dlq.Purge(r.Context())
	if err != nil {
		h.internal(w, r, "dead_letter_purge_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.dlq.Stats(r.Context())
	if err != nil {
		h.internal(w, r, "dead_letter_stats_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "message not found", nil)
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, event string, err error) {
	h.logger.Error(r.Context(), event, "admin request failed",
		slog.String("error_code", "INTERNAL_ERROR"),
		slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}
