package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "babybaton",
		Subsystem: "pipeline",
		Name:      "transitions_total",
		Help:      "Pipeline state transitions, labeled by target state and reason.",
	}, []string{"state", "reason"})

	staleResultsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "babybaton",
		Subsystem: "pipeline",
		Name:      "stale_results_total",
		Help:      "Asynchronous results dropped because their attempt was superseded.",
	}, []string{"step"})

	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "babybaton",
		Subsystem: "pipeline",
		Name:      "failures_total",
		Help:      "Caregiver-visible failures, labeled by error code.",
	}, []string{"code"})

	backendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "babybaton",
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Latency of backend calls, labeled by operation and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11),
	}, []string{"operation", "outcome"})

	committedActivities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "babybaton",
		Subsystem: "commit",
		Name:      "activities_total",
		Help:      "Activities committed to the backend, labeled by activity type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(transitionsCounter, staleResultsCounter, failuresCounter, backendDuration, committedActivities)
}

// RecordTransition counts a pipeline state transition.
func RecordTransition(state, reason string) {
	transitionsCounter.WithLabelValues(state, reason).Inc()
}

// RecordStaleResult counts a dropped result of a superseded attempt.
func RecordStaleResult(step string) {
	staleResultsCounter.WithLabelValues(step).Inc()
}

// RecordFailure counts a caregiver-visible failure.
func RecordFailure(code string) {
	failuresCounter.WithLabelValues(code).Inc()
}

// ObserveBackendCall records the latency of one backend call.
func ObserveBackendCall(operation string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	backendDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// RecordCommitted counts one committed activity of the given type.
func RecordCommitted(activityType string) {
	committedActivities.WithLabelValues(activityType).Inc()
}

// MetricsServer exposes /metrics on addr until ctx is done. An empty addr
// disables it.
func MetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
