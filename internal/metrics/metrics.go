// Package metrics is the integration core's Prometheus collector set,
// generalized from the teacher's infrastructure/metrics.Metrics (ambient
// HTTP/error/database gauges) and pkg/metrics subsystem-vector convention
// (business counters/histograms scoped by subsystem), applied to the
// four engines instead of blockchain/automation/oracle domains.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "integration_core"

var (
	// Registry holds every collector registered below; exposed on GET
	// /metrics by both the gateway and the unified API surface.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"service", "method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"service", "method", "path"})

	// Unified Dispatcher (§4.3).
	dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "requests_total",
		Help:      "Total unified_send calls by platform, action kind and outcome.",
	}, []string{"platform", "kind", "outcome"})

	dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "duration_seconds",
		Help:      "Duration of unified_send calls, end to end including the upstream round trip.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"platform", "kind"})

	// Event Pipeline Engine (§4.5).
	pipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of a pipeline engine stage (root, pipeline, extractor).",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage", "status"})

	pipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "outcomes_total",
		Help:      "Terminal pipeline run outcomes.",
	}, []string{"stage", "status"})

	// Event Stream Processor (§4.6).
	streamProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "records_processed_total",
		Help:      "Total stream records processed, by topic and result.",
	}, []string{"topic", "result"})

	streamProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "process_duration_seconds",
		Help:      "Duration of a single Processor.Process call.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"topic"})

	// Watchdog (§4.7).
	watchdogRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "requeued_total",
		Help:      "Total stuck events requeued by the watchdog poll loop.",
	}, []string{"result"})

	watchdogPollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "poll_duration_seconds",
		Help:      "Duration of one watchdog scan-select-stitch-requeue pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	watchdogStuckFound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "stuck_events_found",
		Help:      "Number of stuck event keys found on the most recent poll.",
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		dispatchTotal,
		dispatchDuration,
		pipelineStageDuration,
		pipelineOutcomes,
		streamProcessed,
		streamProcessDuration,
		watchdogRequeued,
		watchdogPollDuration,
		watchdogStuckFound,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(service, method, path, status).Inc()
	httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// InFlightInc/InFlightDec track concurrently-executing HTTP requests.
func InFlightInc() { httpInFlight.Inc() }
func InFlightDec() { httpInFlight.Dec() }

// RecordDispatch records one unified_send call (§4.3).
func RecordDispatch(platform, kind, outcome string, duration time.Duration) {
	dispatchTotal.WithLabelValues(platform, kind, outcome).Inc()
	dispatchDuration.WithLabelValues(platform, kind).Observe(duration.Seconds())
}

// RecordPipelineStage records one pipeline engine stage transition (§4.5.4).
func RecordPipelineStage(stage, status string, duration time.Duration) {
	pipelineStageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// RecordPipelineOutcome records a terminal pipeline/root/extractor outcome.
func RecordPipelineOutcome(stage, status string) {
	pipelineOutcomes.WithLabelValues(stage, status).Inc()
}

// RecordStreamProcess records one Processor.Process call (§4.6).
func RecordStreamProcess(topic, result string, duration time.Duration) {
	streamProcessed.WithLabelValues(topic, result).Inc()
	streamProcessDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordWatchdogPoll records one watchdog scan pass (§4.7).
func RecordWatchdogPoll(duration time.Duration, stuckFound, requeued, skipped int) {
	watchdogPollDuration.Observe(duration.Seconds())
	watchdogStuckFound.Set(float64(stuckFound))
	if requeued > 0 {
		watchdogRequeued.WithLabelValues("requeued").Add(float64(requeued))
	}
	if skipped > 0 {
		watchdogRequeued.WithLabelValues("skipped").Add(float64(skipped))
	}
}
