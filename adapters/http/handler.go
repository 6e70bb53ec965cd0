// Package http provides the HTTP surface: the usage report endpoint, the
// liveness endpoint, and the access-gate middleware chain.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bracketai/usagegate/adapters/metrics"
	"github.com/bracketai/usagegate/app"
	"github.com/bracketai/usagegate/domain/source"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrorResponseBody is the JSON error envelope.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// UsageResponse serializes an aggregation report.
type UsageResponse struct {
	WindowStart    time.Time           `json:"window_start"`
	WindowEnd      time.Time           `json:"window_end"`
	GeneratedAt    time.Time           `json:"generated_at"`
	SkippedRecords int64               `json:"skipped_records"`
	Clients        []usage.ClientStats `json:"clients"`
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Reports  *app.ReportService
	Verifier ports.Verifier
	IDs      ports.IDGenerator
	Logger   zerolog.Logger
	Metrics  *metrics.Collector

	// AccessEnabled gates verification; SkipPaths bypass it by policy.
	AccessEnabled bool
	SkipPaths     []string

	// RateLimit, when non-nil, throttles the whole surface.
	RateLimit *rate.Limiter

	// MetricsPath, when non-empty, exposes the Prometheus endpoint.
	MetricsPath string
}

// Handler serves the report API.
type Handler struct {
	reports *app.ReportService
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewRouter builds the full router with the middleware chain applied.
func NewRouter(deps Deps) http.Handler {
	h := &Handler{
		reports: deps.Reports,
		logger:  deps.Logger,
		metrics: deps.Metrics,
	}

	gate := &accessGate{
		verifier:  deps.Verifier,
		enabled:   deps.AccessEnabled,
		skipPaths: buildSkipSet(deps.SkipPaths, deps.MetricsPath),
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(requestID(deps.IDs))
	r.Use(requestLogger(deps.Logger, deps.Metrics))
	if deps.RateLimit != nil {
		r.Use(rateLimit(deps.RateLimit))
	}
	r.Use(gate.middleware)

	r.Get("/health", h.Health)
	r.Get("/usage", h.Usage)
	if deps.MetricsPath != "" {
		r.Method(http.MethodGet, deps.MetricsPath, promhttp.Handler())
	}

	return r
}

func buildSkipSet(paths []string, metricsPath string) map[string]struct{} {
	skip := make(map[string]struct{}, len(paths)+1)
	for _, p := range paths {
		skip[p] = struct{}{}
	}
	if metricsPath != "" {
		skip[metricsPath] = struct{}{}
	}
	return skip
}

// Health reports process liveness. It bypasses the access gate by
// configured policy and never triggers aggregation.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Usage serves the aggregated usage report for the requested window.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	windowHours := 0
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request",
				"window_hours must be a positive integer")
			return
		}
		windowHours = parsed
	}

	report, err := h.reports.Usage(r.Context(), windowHours)
	if err != nil {
		h.writeReportError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		WindowStart:    report.Window.Start,
		WindowEnd:      report.Window.End,
		GeneratedAt:    report.GeneratedAt,
		SkippedRecords: report.SkippedRecords,
		Clients:        report.Clients,
	})
}

func (h *Handler) writeReportError(w http.ResponseWriter, r *http.Request, err error) {
	var srcErr *source.Error
	if errors.As(err, &srcErr) {
		h.logger.Error().Err(err).Str("kind", string(srcErr.Kind)).Msg("log store fetch failed")
		writeError(w, http.StatusBadGateway, "log_store_unavailable",
			"The log store could not be queried. Retry later.")
		return
	}

	h.logger.Error().Err(err).Msg("usage report failed")
	writeError(w, http.StatusInternalServerError, "internal_error",
		"Failed to produce the usage report.")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponseBody{Error: ErrorDetail{Code: code, Message: message}})
}
