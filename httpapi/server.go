// Package httpapi exposes the admission engine over HTTP: the scan endpoint,
// tenant quota/forecast status, and the alert feed.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicware/scangate"
	"github.com/clinicware/scangate/alert"
)

// API wires the engine components behind HTTP handlers.
type API struct {
	Controller *scangate.Controller
	Ledger     scangate.Ledger
	Recorder   scangate.UsageRecorder
	Alerts     *alert.Manager
	Plans      []scangate.Plan
	Forecast   scangate.ForecastOptions
	Health     *scangate.HealthTracker
	CacheStats scangate.StatsReporter
	Metrics    http.Handler
	Logger     *slog.Logger

	now func() time.Time
}

// New creates the API. Controller and Ledger are required; the rest degrade
// gracefully when nil.
func New(ctrl *scangate.Controller, ledger scangate.Ledger) *API {
	return &API{
		Controller: ctrl,
		Ledger:     ledger,
		Logger:     slog.Default(),
		now:        time.Now,
	}
}

// Router builds the chi route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/scans", a.CreateScan)
	r.Get("/tenants/{id}/quota", a.TenantQuota)
	r.Get("/tenants/{id}/usage", a.TenantUsage)
	r.Get("/tenants/{id}/alerts", a.TenantAlerts)
	r.Post("/alerts/{id}/ack", a.AcknowledgeAlert)
	r.Get("/plans", a.ListPlans)
	r.Get("/cache/stats", a.CacheStatsReport)
	r.Get("/healthz", a.Healthz)

	if a.Metrics != nil {
		r.Get("/metrics", a.Metrics.ServeHTTP)
	}

	return r
}

type scanResponse struct {
	Allowed         bool                `json:"allowed"`
	ServedFromCache bool                `json:"servedFromCache"`
	Result          scangate.ScanResult `json:"result"`
	Remaining       float64             `json:"remaining"`
	EstimatedCost   float64             `json:"estimatedCost"`
	WillOverage     bool                `json:"willIncurCharge"`
}

type denialResponse struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Remaining float64   `json:"remaining"`
	ResetDate time.Time `json:"resetDate"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// CreateScan runs a scan request through admission control.
func (a *API) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req scangate.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	decision, err := a.Controller.Admit(r.Context(), req)
	if err != nil {
		a.writeAdmitError(w, req, err)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Allowed:         decision.Allowed,
		ServedFromCache: decision.ServedFromCache,
		Result:          decision.Result,
		Remaining:       decision.Remaining,
		EstimatedCost:   decision.EstimatedCost,
		WillOverage:     decision.WillOverage,
	})
}

func (a *API) writeAdmitError(w http.ResponseWriter, req scangate.ScanRequest, err error) {
	var qe *scangate.QuotaError
	if errors.As(err, &qe) {
		writeJSON(w, http.StatusTooManyRequests, denialResponse{
			Reason:    "quota_exhausted",
			Remaining: qe.Remaining,
			ResetDate: qe.ResetAt,
		})
		return
	}

	switch {
	case errors.Is(err, scangate.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, scangate.ErrTenantNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown tenant"})
	case errors.Is(err, scangate.ErrLedgerUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "quota ledger unavailable", Retryable: true})
	case errors.Is(err, scangate.ErrInferenceTimeout), errors.Is(err, scangate.ErrInferenceFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "inference failed", Retryable: scangate.IsRetryable(err)})
	default:
		a.Logger.Error("scan admission failed", "tenant", req.TenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// quotaResponse is the dashboard projection: everything a client needs to
// render quota state in one payload.
type quotaResponse struct {
	TenantID           string     `json:"tenantId"`
	PlanTier           string     `json:"planTier,omitempty"`
	Current            float64    `json:"current"`
	Monthly            float64    `json:"monthly"`
	Remaining          float64    `json:"remaining"`
	UtilizationPercent float64    `json:"utilizationPercent"`
	WillIncurCharge    bool       `json:"willIncurCharge"`
	DaysUntilDepletion *float64   `json:"daysUntilDepletion"`
	RiskLevel          string     `json:"riskLevel"`
	ForecastStatus     string     `json:"forecastStatus"`
	ResetDate          time.Time  `json:"resetDate"`
	PeakDay            *time.Time `json:"peakDay,omitempty"`
}

// TenantQuota returns a tenant's quota status with the burn-rate forecast
// folded in.
func (a *API) TenantQuota(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	status, err := a.Ledger.Status(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, scangate.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown tenant"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "quota ledger unavailable", Retryable: true})
		return
	}

	resp := quotaResponse{
		TenantID:           status.TenantID,
		PlanTier:           status.PlanTier,
		Current:            status.CurrentUsage,
		Monthly:            status.MonthlyQuota,
		Remaining:          status.Remaining,
		UtilizationPercent: status.UtilizationPercent(),
		WillIncurCharge:    status.OveragePolicy == scangate.OverageBill && status.Remaining <= 0,
		RiskLevel:          string(scangate.RiskLow),
		ForecastStatus:     string(scangate.ForecastInsufficient),
		ResetDate:          status.CycleEnd,
	}

	if a.Recorder != nil {
		now := a.now()
		samples, err := a.Recorder.Samples(r.Context(), tenantID, status.CycleStart, now)
		if err == nil {
			fc := scangate.ForecastDepletion(samples, status, now, a.Forecast)
			resp.ForecastStatus = string(fc.Status)
			resp.RiskLevel = string(fc.Risk)
			resp.DaysUntilDepletion = fc.DaysUntilDepletion
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type usageResponse struct {
	TenantID string                 `json:"tenantId"`
	Stats    scangate.UsageStats    `json:"stats"`
	Samples  []scangate.UsageSample `json:"samples"`

	Recommendation *scangate.Recommendation `json:"recommendation,omitempty"`
}

// TenantUsage returns a tenant's daily samples, aggregate stats, and a plan
// recommendation when a plan catalogue is configured.
func (a *API) TenantUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	if a.Recorder == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "usage tracking is not enabled"})
		return
	}

	status, err := a.Ledger.Status(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, scangate.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown tenant"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "quota ledger unavailable", Retryable: true})
		return
	}

	samples, err := a.Recorder.Samples(r.Context(), tenantID, status.CycleStart, a.now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "usage log unavailable"})
		return
	}

	resp := usageResponse{TenantID: tenantID, Samples: samples}
	var peak float64
	for _, s := range samples {
		resp.Stats.TotalUnits += s.Units
		resp.Stats.Days++
		if s.Units > peak {
			peak = s.Units
			resp.Stats.PeakDay = s.Date
		}
	}
	if resp.Stats.Days > 0 {
		resp.Stats.DailyAverage = resp.Stats.TotalUnits / float64(resp.Stats.Days)
	}

	if len(a.Plans) > 0 {
		rec := scangate.RecommendPlan(a.Plans, status, resp.Stats, 0)
		resp.Recommendation = &rec
	}

	writeJSON(w, http.StatusOK, resp)
}

// TenantAlerts returns a tenant's alert feed, optionally filtered by
// severity.
func (a *API) TenantAlerts(w http.ResponseWriter, r *http.Request) {
	if a.Alerts == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "alerting is not enabled"})
		return
	}

	tenantID := chi.URLParam(r, "id")
	opts := alert.ListOptions{
		Severity:        alert.Severity(r.URL.Query().Get("severity")),
		IncludeArchived: r.URL.Query().Get("archived") == "true",
	}

	alerts := a.Alerts.List(r.Context(), tenantID, opts)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// AcknowledgeAlert marks an alert acknowledged. The only alert mutation
// exposed externally.
func (a *API) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if a.Alerts == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "alerting is not enabled"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.Alerts.Acknowledge(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown alert"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPlans returns the plan catalogue.
func (a *API) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := a.Plans
	if plans == nil {
		plans = scangate.DefaultPlans()
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// CacheStatsReport reports result cache effectiveness counters.
func (a *API) CacheStatsReport(w http.ResponseWriter, r *http.Request) {
	if a.CacheStats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "cache statistics not available"})
		return
	}

	stats, err := a.CacheStats.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "cache unavailable", Retryable: true})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    stats.Entries,
		"hits":       stats.Hits,
		"misses":     stats.Misses,
		"hitRate":    stats.HitRate(),
		"unitsSaved": stats.UnitsSaved,
	})
}

// Healthz reports liveness and, when a tracker is wired, per-provider
// inference health.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.Health != nil {
		resp["providers"] = a.Health.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
