package rewriter

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

var (
	// Generation request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_requests_total",
			Help: "Total number of generation requests",
		},
		[]string{"status", "model"},
	)

	apiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answer_rewriter_api_call_duration_seconds",
			Help:    "Duration of calls to the inference endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	apiTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_api_tokens_used_total",
			Help: "Total number of tokens used in API calls",
		},
		[]string{"type"}, // prompt, completion, total
	)

	promptsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answer_rewriter_prompts_truncated_total",
			Help: "Total number of prompts cut to fit the context window",
		},
	)

	// Batch metrics
	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answer_rewriter_batches_total",
			Help: "Total number of batches dispatched",
		},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_rewriter_batch_size",
			Help:    "Number of prompts per batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_rewriter_batch_duration_seconds",
			Help:    "Duration of a full batch including post-processing",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rewrite outcome metrics
	rewritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_rewrites_total",
			Help: "Total number of processed answers by outcome",
		},
		[]string{"outcome"}, // accepted, fallback_word_limit, fallback_empty
	)

	rewriteWords = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_rewriter_rewrite_words",
			Help:    "Word count of accepted rewrites",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8},
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "answer_rewriter_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// Retry metrics
	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_rewriter_retry_attempts",
			Help:    "Number of attempts per request",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_rewriter_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)
)

// MetricsRecorder provides methods to record metrics
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

// RecordRequest records a generation request
func (m *MetricsRecorder) RecordRequest(status string, model string) {
	if !m.enabled {
		return
	}
	requestsTotal.WithLabelValues(status, model).Inc()
}

// RecordAPICall records an API call duration
func (m *MetricsRecorder) RecordAPICall(endpoint string, status string, seconds float64) {
	if !m.enabled {
		return
	}
	apiCallDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// RecordTokensUsed records tokens used
func (m *MetricsRecorder) RecordTokensUsed(tokenType string, count int) {
	if !m.enabled {
		return
	}
	apiTokensUsed.WithLabelValues(tokenType).Add(float64(count))
}

// RecordTruncation records a prompt cut to fit the context window
func (m *MetricsRecorder) RecordTruncation() {
	if !m.enabled {
		return
	}
	promptsTruncated.Inc()
}

// RecordBatch records a dispatched batch and its size
func (m *MetricsRecorder) RecordBatch(size int) {
	if !m.enabled {
		return
	}
	batchesTotal.Inc()
	batchSize.Observe(float64(size))
}

// RecordBatchDuration records how long a batch took
func (m *MetricsRecorder) RecordBatchDuration(seconds float64) {
	if !m.enabled {
		return
	}
	batchDuration.Observe(seconds)
}

// RecordRewrite records the outcome of one processed answer
func (m *MetricsRecorder) RecordRewrite(outcome string) {
	if !m.enabled {
		return
	}
	rewritesTotal.WithLabelValues(outcome).Inc()
}

// RecordRewriteWords records the word count of an accepted rewrite
func (m *MetricsRecorder) RecordRewriteWords(words int) {
	if !m.enabled {
		return
	}
	rewriteWords.Observe(float64(words))
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.enabled {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.enabled {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.enabled {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetryAttempt records attempts made for one request
func (m *MetricsRecorder) RecordRetryAttempt(attempts int) {
	if !m.enabled {
		return
	}
	retryAttempts.Observe(float64(attempts))
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.enabled {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	if status, ok := httpStatus(err); ok {
		switch {
		case status == 429:
			return "rate_limit"
		case status >= 500:
			return "server_error"
		case status >= 400:
			return "client_error"
		default:
			return "api_error"
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "circuit_open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_half_open"
	case errors.Is(err, ErrResultCountMismatch):
		return "count_mismatch"
	case errors.Is(err, ErrMalformedGeneration), errors.Is(err, ErrEmptyGeneration):
		return "malformed_output"
	}

	return "unknown"
}
