package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ico_purchases_total",
		Help: "Purchase workflow outcomes by final state.",
	}, []string{"state"})

	PurchaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ico_purchase_errors_total",
		Help: "Failed purchases by error code.",
	}, []string{"code"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ico_settlements_total",
		Help: "Settlements by landing path (direct, deferred, duplicate).",
	}, []string{"path"})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ico_outbox_pending",
		Help: "Settlement outbox entries awaiting retry.",
	})

	PurchaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ico_purchase_duration_seconds",
		Help:    "End-to-end purchase workflow duration.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// NewPurchaseTimer times one workflow run against PurchaseDuration.
func NewPurchaseTimer() *prometheus.Timer {
	return prometheus.NewTimer(PurchaseDuration)
}

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
