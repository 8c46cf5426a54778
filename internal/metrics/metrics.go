package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim outcomes recorded on coupon_claims_total.
const (
	OutcomeSuccess       = "success"
	OutcomeNotAvailable  = "not_available"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeOutOfStock    = "out_of_stock"
	OutcomeTransient     = "transient"
)

// Reasons recorded on coupon_instances_generated_total.
const (
	ReasonBulk       = "bulk"
	ReasonOnDemand   = "on_demand"
	ReasonContention = "contention"
)

type Metrics struct {
	Claims        *prometheus.CounterVec
	LostRaces     prometheus.Counter
	Generated     *prometheus.CounterVec
	ClaimDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the coupon collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coupon_claims_total",
			Help: "Claim attempts by outcome.",
		}, []string{"outcome"}),
		LostRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coupon_claim_lost_races_total",
			Help: "Conditional assignments that found the instance already taken.",
		}),
		Generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coupon_instances_generated_total",
			Help: "Coupon instances inserted, by reason.",
		}, []string{"reason"}),
		ClaimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coupon_claim_duration_seconds",
			Help:    "Wall time of claim requests.",
			Buckets: prometheus.DefBuckets,
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Claims, m.LostRaces, m.Generated, m.ClaimDuration)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// ObserveClaim is safe on a nil *Metrics.
func (m *Metrics) ObserveClaim(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(outcome).Inc()
	m.ClaimDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) LostRace() {
	if m == nil {
		return
	}
	m.LostRaces.Inc()
}

func (m *Metrics) InstancesGenerated(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Generated.WithLabelValues(reason).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
