// Package metrics provides metrics recording for reasoning calls and the decision pipeline.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording decision pipeline metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed transport request.
	ObserveRequest(
		model, workerID string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)

	// ObserveSerializerWait records time spent queued for the exclusive reasoning gate.
	ObserveSerializerWait(duration time.Duration)

	// IncFallback counts heuristic fallback decisions by cause.
	IncFallback(reason string)

	// IncCorrection counts sanitizer rewrites by rule.
	IncCorrection(rule string)

	// IncCacheLookup counts decision cache hits and misses.
	IncCacheLookup(hit bool)

	// IncWorkerFailure counts per-worker failures isolated by the scheduler.
	IncWorkerFailure()
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// ObserveSerializerWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveSerializerWait(_ time.Duration) {}

// IncFallback does nothing in the no-op recorder.
func (n *NoopRecorder) IncFallback(_ string) {}

// IncCorrection does nothing in the no-op recorder.
func (n *NoopRecorder) IncCorrection(_ string) {}

// IncCacheLookup does nothing in the no-op recorder.
func (n *NoopRecorder) IncCacheLookup(_ bool) {}

// IncWorkerFailure does nothing in the no-op recorder.
func (n *NoopRecorder) IncWorkerFailure() {}
