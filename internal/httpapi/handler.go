package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/monitor"
)

// MonitorSource is the slice of the monitor the HTTP surface needs.
// *monitor.Monitor satisfies this.
type MonitorSource interface {
	LastReport() (monitor.Report, bool)
	TriggerRun() bool
}

type Handler struct {
	log     zerolog.Logger
	pool    *db.Pool
	metrics *metrics.Metrics
	monitor MonitorSource
}

func NewHandler(log zerolog.Logger, pool *db.Pool, m *metrics.Metrics, mon MonitorSource) *Handler {
	return &Handler{log: log, pool: pool, metrics: m, monitor: mon}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)

	// Prometheus
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/report", h.handleReport)

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", h.handleListRuns)
				r.Get("/{id}", h.handleGetRun)
			})

			r.Route("/monitor", func(r chi.Router) {
				r.Post("/run", h.handleTriggerRun)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	// The archive is optional; without one the service is ready as soon as
	// it is serving.
	if h.pool == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.writeError(w, http.StatusServiceUnavailable, "monitor_unavailable", "monitor not configured", nil)
		return
	}
	report, ok := h.monitor.LastReport()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no_report", "no monitoring run has completed yet", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		h.writeError(w, http.StatusServiceUnavailable, "monitor_unavailable", "monitor not configured", nil)
		return
	}
	if !h.monitor.TriggerRun() {
		h.writeJSON(w, http.StatusConflict, map[string]any{"status": "already_queued"})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (h *Handler) ensureArchive(w http.ResponseWriter) bool {
	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

type runSummary struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	OKCount         int       `json:"ok_count"`
	NOKCount        int       `json:"nok_count"`
	WokenAttempted  int       `json:"woken_attempted"`
	WokenSucceeded  int       `json:"woken_succeeded"`
	LowBatteryCount int       `json:"low_battery_count"`
	AnyFailing      bool      `json:"any_failing"`
	Error           *string   `json:"error,omitempty"`
}

func toRunSummary(rec db.RunRecord) runSummary {
	return runSummary{
		ID:              rec.ID,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		OKCount:         rec.OKCount,
		NOKCount:        rec.NOKCount,
		WokenAttempted:  rec.WokenAttempted,
		WokenSucceeded:  rec.WokenSucceeded,
		LowBatteryCount: rec.LowBatteryCount,
		AnyFailing:      rec.AnyFailing,
		Error:           rec.Error,
	}
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.ensureArchive(w) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := h.pool.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list runs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list runs", nil)
		return
	}

	resp := make([]runSummary, 0, len(rows))
	for _, rec := range rows {
		resp = append(resp, toRunSummary(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureArchive(w) {
		return
	}

	rec, err := h.pool.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "not_found", "run not found", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("get run failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch run", nil)
		return
	}

	// The stored report is already JSON; hand it back verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Report)
}
