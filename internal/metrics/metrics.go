package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransactionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "banking",
		Name:      "transactions_submitted_total",
		Help:      "Ledger submissions by transaction type and outcome.",
	}, []string{"type", "outcome"})

	RiskScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "banking",
		Name:      "risk_score",
		Help:      "Distribution of computed transaction risk scores.",
		Buckets:   []float64{0, 10, 25, 40, 55, 65, 75, 85, 100},
	})

	ScoringFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "banking",
		Name:      "risk_scoring_failures_total",
		Help:      "Transactions whose post-commit scoring or alerting failed.",
	})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "banking",
		Name:      "fraud_alerts_created_total",
		Help:      "Fraud alerts created by source.",
	}, []string{"source"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "banking",
		Name:      "fraud_alert_transitions_total",
		Help:      "Fraud alert status transitions by target status.",
	}, []string{"to"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "banking",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
