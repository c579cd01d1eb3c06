package meter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicware/scangate"
)

// PromMeter exports admission and inference metrics to Prometheus.
type PromMeter struct {
	admissions *prometheus.CounterVec
	quotaLeft  *prometheus.GaugeVec
	inferences *prometheus.CounterVec
	refunds    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ scangate.Meter = (*PromMeter)(nil)

// NewPromMeter creates the meter and registers its collectors with reg.
// If reg is nil, the default registerer is used.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PromMeter{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_admissions_total",
				Help: "Admission decisions by tenant, tier and outcome",
			},
			[]string{"tenant", "tier", "outcome"},
		),
		quotaLeft: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scangate_quota_remaining_units",
				Help: "Remaining quota units per tenant as of the last admission",
			},
			[]string{"tenant"},
		),
		inferences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_inferences_total",
				Help: "Inference calls by tenant, tier and status",
			},
			[]string{"tenant", "tier", "status"},
		),
		refunds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_refunds_total",
				Help: "Quota credits issued after failed inferences",
			},
			[]string{"tenant"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scangate_inference_duration_seconds",
				Help:    "Inference latency by provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}

	reg.MustRegister(m.admissions, m.quotaLeft, m.inferences, m.refunds, m.duration)
	return m
}

func (m *PromMeter) OnAdmit(e scangate.AdmitEvent) {
	m.admissions.WithLabelValues(e.TenantID, string(e.Tier), string(e.Outcome)).Inc()
	m.quotaLeft.WithLabelValues(e.TenantID).Set(e.Remaining)
}

func (m *PromMeter) OnResult(e scangate.ResultEvent) {
	status := "ok"
	if !e.Success {
		status = "error"
	}
	m.inferences.WithLabelValues(e.TenantID, string(e.Tier), status).Inc()
	m.duration.WithLabelValues(e.Provider).Observe(e.Duration.Seconds())
	if e.Refunded {
		m.refunds.WithLabelValues(e.TenantID).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
