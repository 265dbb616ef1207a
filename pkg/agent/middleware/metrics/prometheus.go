package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal     *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	throttleTotal     *prometheus.CounterVec
	queueWaitTime     *prometheus.HistogramVec
	serializerWait    prometheus.Histogram
	fallbackTotal     *prometheus.CounterVec
	correctionTotal   *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	workerFailures    prometheus.Counter
}

// NewPrometheusRecorder creates a recorder whose collectors are registered on reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler().
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	waitBuckets := []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_llm_requests_total",
				Help: "Total number of reasoning requests by model, worker, and status",
			},
			[]string{"model", "worker_id", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_llm_tokens_total",
				Help: "Total number of tokens reported by the backend",
			},
			[]string{"model", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewsim_llm_request_duration_seconds",
				Help:    "Duration of reasoning requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_llm_throttle_total",
				Help: "Total number of admissions delayed by the rate limiter",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewsim_llm_admission_wait_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: waitBuckets,
			},
			[]string{"model"},
		),
		serializerWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewsim_serializer_wait_seconds",
				Help:    "Time spent queued for the exclusive reasoning gate",
				Buckets: waitBuckets,
			},
		),
		fallbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_fallback_decisions_total",
				Help: "Heuristic fallback decisions by cause",
			},
			[]string{"reason"},
		),
		correctionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_sanitizer_corrections_total",
				Help: "Decisions rewritten by the sanitizer, by rule",
			},
			[]string{"rule"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsim_decision_cache_lookups_total",
				Help: "Decision cache lookups by result",
			},
			[]string{"result"},
		),
		workerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crewsim_worker_failures_total",
				Help: "Per-worker failures isolated by the scheduler",
			},
		),
	}
}

// ObserveRequest records metrics for a completed transport request.
func (p *PrometheusRecorder) ObserveRequest(
	model, workerID string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(model, workerID, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveSerializerWait records time spent queued for the reasoning gate.
func (p *PrometheusRecorder) ObserveSerializerWait(duration time.Duration) {
	p.serializerWait.Observe(duration.Seconds())
}

// IncFallback counts fallback decisions.
func (p *PrometheusRecorder) IncFallback(reason string) {
	p.fallbackTotal.WithLabelValues(reason).Inc()
}

// IncCorrection counts sanitizer rewrites.
func (p *PrometheusRecorder) IncCorrection(rule string) {
	p.correctionTotal.WithLabelValues(rule).Inc()
}

// IncCacheLookup counts cache hits and misses.
func (p *PrometheusRecorder) IncCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncWorkerFailure counts isolated worker failures.
func (p *PrometheusRecorder) IncWorkerFailure() {
	p.workerFailures.Inc()
}
