package monitoring

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intent_requests_total",
			Help: "Payment intent creation requests by result",
		},
		[]string{"result"},
	)

	confirmPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirm_polls_total",
			Help: "Confirmation poll requests by result",
		},
		[]string{"result"},
	)

	attemptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempt_outcomes_total",
			Help: "Terminal outcomes of confirmation attempts",
		},
		[]string{"outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_api_request_duration_seconds",
			Help:    "Duration of backend payment API calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"endpoint"},
	)
)

// TrackIntentRequest records one intent creation result: ok, rate_limited,
// error.
func TrackIntentRequest(result string) {
	intentRequests.WithLabelValues(result).Inc()
}

// TrackConfirmPoll records one poll result: success, pending, error.
func TrackConfirmPoll(result string) {
	confirmPolls.WithLabelValues(result).Inc()
}

// TrackAttemptOutcome records how a confirmation attempt ended: succeeded,
// timed_out, expired, cancelled.
func TrackAttemptOutcome(outcome string) {
	attemptOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveRequest records the duration of one backend call.
func ObserveRequest(endpoint string, d time.Duration) {
	requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// StartMetricsServer exposes /metrics on the given port.
func StartMetricsServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
}
