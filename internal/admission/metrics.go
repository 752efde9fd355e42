package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts admission outcomes. Policy violations are expected
// traffic, so they are counted here rather than error-logged.
type Metrics struct {
	allowed       *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	quotaBlocked  *prometheus.CounterVec
	bypassed      *prometheus.CounterVec
	storeFailOpen prometheus.Counter
	quotaErrors   prometheus.Counter
}

// NewMetrics registers the admission collectors on reg. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		allowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandforge_admission_allowed_total",
				Help: "Requests admitted, by route category",
			},
			[]string{"category"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandforge_admission_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by route category",
			},
			[]string{"category"},
		),
		quotaBlocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandforge_admission_quota_blocked_total",
				Help: "Requests rejected by the quota enforcer, by metric",
			},
			[]string{"metric"},
		),
		bypassed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brandforge_admission_bypassed_total",
				Help: "Requests that skipped limiting via a bypass predicate",
			},
			[]string{"category"},
		),
		storeFailOpen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "brandforge_admission_store_fail_open_total",
				Help: "Window store failures where the limiter failed open",
			},
		),
		quotaErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "brandforge_admission_quota_errors_total",
				Help: "Quota checks that failed closed on infrastructure or config errors",
			},
		),
	}
}
