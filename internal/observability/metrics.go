package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the consultation
// service. Recording helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Engine metrics
	WorkflowsCreatedTotal     *prometheus.CounterVec
	EngineMutationsTotal      *prometheus.CounterVec
	EngineMutationDuration    *prometheus.HistogramVec
	MilestoneAdvancesTotal    *prometheus.CounterVec
	ConsentsRecordedTotal     *prometheus.CounterVec
	ConsentFinalizationsTotal prometheus.Counter
	AuditFailuresTotal        prometheus.Counter
	ListenerPanicsTotal       *prometheus.CounterVec

	// Tracking metrics
	TrackedWorkflows        prometheus.Gauge
	SnapshotsTotal          prometheus.Counter
	EvaluationDuration      prometheus.Histogram
	EvaluationFailuresTotal prometheus.Counter
	AlertsRaisedTotal       *prometheus.CounterVec
	ReportsGeneratedTotal   *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	IdempotencyReplaysTotal    prometheus.Counter

	// System metrics
	TemplateReloadTotal *prometheus.CounterVec
	TemplatesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Engine
		WorkflowsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_workflows_created_total",
			Help: "Total number of consultation workflows created.",
		}, []string{"type"}),
		EngineMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_engine_mutations_total",
			Help: "Total number of engine mutations by operation and result code.",
		}, []string{"operation", "result"}),
		EngineMutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_engine_mutation_duration_seconds",
			Help:    "Engine mutation duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"operation"}),
		MilestoneAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_milestone_advances_total",
			Help: "Total number of milestone advance attempts by result.",
		}, []string{"result"}),
		ConsentsRecordedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_consents_recorded_total",
			Help: "Total number of party consents recorded by resulting verdict.",
		}, []string{"overall_consent"}),
		ConsentFinalizationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_consent_finalizations_total",
			Help: "Total number of explicit consent finalizations.",
		}),
		AuditFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_audit_failures_total",
			Help: "Total number of audit entries the sink failed to persist.",
		}),
		ListenerPanicsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_listener_panics_total",
			Help: "Total number of recovered event listener panics.",
		}, []string{"event_type"}),

		// Tracking
		TrackedWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consult_tracked_workflows",
			Help: "Number of workflows with an active tracking schedule.",
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_progress_snapshots_total",
			Help: "Total number of progress snapshots taken.",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_progress_evaluation_duration_seconds",
			Help:    "Duration of one snapshot and alert evaluation.",
			Buckets: engineDurationBuckets,
		}),
		EvaluationFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_progress_evaluation_failures_total",
			Help: "Total number of scheduled evaluations that failed.",
		}),
		AlertsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_alerts_raised_total",
			Help: "Total number of alerts raised.",
		}, []string{"level", "category"}),
		ReportsGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_reports_generated_total",
			Help: "Total number of progress reports generated.",
		}, []string{"report_type"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consult_idempotency_replays_total",
			Help: "Total number of responses replayed from the idempotency store.",
		}),

		// System
		TemplateReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_template_reload_total",
			Help: "Total milestone template reloads.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consult_templates_loaded",
			Help: "Number of loaded milestone templates.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Engine
		m.WorkflowsCreatedTotal,
		m.EngineMutationsTotal,
		m.EngineMutationDuration,
		m.MilestoneAdvancesTotal,
		m.ConsentsRecordedTotal,
		m.ConsentFinalizationsTotal,
		m.AuditFailuresTotal,
		m.ListenerPanicsTotal,
		// Tracking
		m.TrackedWorkflows,
		m.SnapshotsTotal,
		m.EvaluationDuration,
		m.EvaluationFailuresTotal,
		m.AlertsRaisedTotal,
		m.ReportsGeneratedTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.IdempotencyReplaysTotal,
		// System
		m.TemplateReloadTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowCreated records a created workflow.
func (m *Metrics) RecordWorkflowCreated(consultationType string) {
	if m == nil {
		return
	}
	m.WorkflowsCreatedTotal.WithLabelValues(consultationType).Inc()
}

// RecordMutation records the outcome and duration of an engine mutation.
// result is "ok" or the error code that failed it.
func (m *Metrics) RecordMutation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EngineMutationsTotal.WithLabelValues(operation, result).Inc()
	m.EngineMutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMilestoneAdvance records a milestone advance attempt.
func (m *Metrics) RecordMilestoneAdvance(result string) {
	if m == nil {
		return
	}
	m.MilestoneAdvancesTotal.WithLabelValues(result).Inc()
}

// RecordConsent records a party consent and the verdict it produced.
func (m *Metrics) RecordConsent(overall string) {
	if m == nil {
		return
	}
	m.ConsentsRecordedTotal.WithLabelValues(overall).Inc()
}

// RecordConsentFinalized records an explicit finalization.
func (m *Metrics) RecordConsentFinalized() {
	if m == nil {
		return
	}
	m.ConsentFinalizationsTotal.Inc()
}

// AuditFailures returns the audit failure counter, or nil.
func (m *Metrics) AuditFailures() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.AuditFailuresTotal
}

// RecordListenerPanic records a recovered listener panic.
func (m *Metrics) RecordListenerPanic(eventType string) {
	if m == nil {
		return
	}
	m.ListenerPanicsTotal.WithLabelValues(eventType).Inc()
}

// SetTrackedWorkflows sets the number of tracked workflows.
func (m *Metrics) SetTrackedWorkflows(count int) {
	if m == nil {
		return
	}
	m.TrackedWorkflows.Set(float64(count))
}

// RecordEvaluation records one snapshot and alert evaluation.
func (m *Metrics) RecordEvaluation(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(duration.Seconds())
	if err != nil {
		m.EvaluationFailuresTotal.Inc()
		return
	}
	m.SnapshotsTotal.Inc()
}

// RecordAlert records a raised alert.
func (m *Metrics) RecordAlert(level, category string) {
	if m == nil {
		return
	}
	m.AlertsRaisedTotal.WithLabelValues(level, category).Inc()
}

// RecordReport records a generated report.
func (m *Metrics) RecordReport(reportType string) {
	if m == nil {
		return
	}
	m.ReportsGeneratedTotal.WithLabelValues(reportType).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordIdempotencyReplay records a replayed response.
func (m *Metrics) RecordIdempotencyReplay() {
	if m == nil {
		return
	}
	m.IdempotencyReplaysTotal.Inc()
}

// RecordTemplateReload records a template reload.
func (m *Metrics) RecordTemplateReload(status string) {
	if m == nil {
		return
	}
	m.TemplateReloadTotal.WithLabelValues(status).Inc()
}

// SetTemplatesLoaded sets the number of loaded templates.
func (m *Metrics) SetTemplatesLoaded(count int) {
	if m == nil {
		return
	}
	m.TemplatesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler serves the metrics of g for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the metrics middleware.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
