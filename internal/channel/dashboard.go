package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolcomm/internal/domain"
	"schoolcomm/internal/store"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// DashboardStore is the read side of the store the dashboard needs.
type DashboardStore interface {
	Ping(ctx context.Context) error
	RecentNotifications(ctx context.Context, limit int) ([]domain.NotificationRecord, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// TransportStatus describes one configured channel for /health.
type TransportStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Outbound   bool   `json:"outbound"` // used by the dispatcher
}

// Dashboard serves read-only operational endpoints.
type Dashboard struct {
	store      DashboardStore
	transports []TransportStatus
	gatherer   prometheus.Gatherer
	metricsURL string
	version    string
	started    time.Time
	logger     *slog.Logger
}

type DashboardConfig struct {
	Store       DashboardStore
	Transports  []TransportStatus
	Metrics     prometheus.Gatherer // nil disables /metrics
	MetricsPath string
	Version     string
	Logger      *slog.Logger
}

func NewDashboard(cfg DashboardConfig) *Dashboard {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Dashboard{
		store:      cfg.Store,
		transports: cfg.Transports,
		gatherer:   cfg.Metrics,
		metricsURL: cfg.MetricsPath,
		version:    cfg.Version,
		started:    time.Now(),
		logger:     cfg.Logger,
	}
}

// Register mounts the dashboard endpoints on mux.
func (d *Dashboard) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /api/messages", d.handleMessages)
	mux.HandleFunc("GET /api/stats", d.handleStats)
	if d.gatherer != nil {
		mux.Handle("GET "+d.metricsURL, promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	}
}

func (d *Dashboard) handleHealth(rw http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	database := "ready"
	if err := d.store.Ping(r.Context()); err != nil {
		d.logger.Warn("health check: database unavailable", "err", err)
		status, code, database = "degraded", http.StatusServiceUnavailable, "unavailable"
	}

	body := map[string]any{
		"status":         status,
		"version":        d.version,
		"time":           time.Now().UTC().Format(time.RFC3339),
		"database":       database,
		"transports":     d.transports,
		"uptime_seconds": int64(time.Since(d.started).Seconds()),
	}
	writeJSON(rw, code, body)
}

func (d *Dashboard) handleMessages(rw http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := d.store.RecentNotifications(r.Context(), limit)
	if err != nil {
		d.logger.Error("recent notifications", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot load messages"})
		return
	}
	if records == nil {
		records = []domain.NotificationRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"messages":  records,
		"count":     len(records),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (d *Dashboard) handleStats(rw http.ResponseWriter, r *http.Request) {
	st, err := d.store.Stats(r.Context())
	if err != nil {
		d.logger.Error("store stats", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "cannot load stats"})
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}
