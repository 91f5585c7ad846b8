// Package metrics holds the prometheus collectors of the reconciliation path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultApplied   = "applied"
	ResultUnchanged = "unchanged"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

type Entitlements struct {
	Updates           *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	StreamRestarts    prometheus.Counter
}

// NewEntitlements registers the collectors on reg. A nil reg uses a private
// registry, which keeps tests from colliding on the default one.
func NewEntitlements(reg prometheus.Registerer) *Entitlements {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Entitlements{
		Updates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_updates_total",
				Help: "Transaction updates and reconciliations by result",
			},
			[]string{"result"},
		),
		ReconcileDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitlement_reconcile_duration_seconds",
				Help:    "Duration of serialized profile reconciliations",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		StreamRestarts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlement_stream_restarts_total",
				Help: "Times the transaction listener re-opened the update stream",
			},
		),
	}
}

func (m *Entitlements) Observe(result string) {
	m.Updates.WithLabelValues(result).Inc()
}
