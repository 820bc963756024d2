package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	DocumentsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_documents_received_total",
			Help: "Total number of documents ingested, by tenant",
		},
		[]string{"tenant_id"},
	)

	DocumentsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_documents_completed_total",
			Help: "Total number of documents completed, by tier and classification",
		},
		[]string{"tier", "classification"},
	)

	DocumentsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_documents_failed_total",
			Help: "Total number of documents that ended FAILED, by reason",
		},
		[]string{"reason"},
	)

	DuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_duplicates_total",
			Help: "Total number of ingests resolved as duplicates",
		},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuflow_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	OverallConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docuflow_overall_confidence",
			Help:    "Distribution of overall_confidence across completed records",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 1.0},
		},
	)

	// OCR / Extractor external-call metrics
	OCRCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docuflow_ocr_call_duration_seconds",
			Help:    "Time taken by OCR provider calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	OCRRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_ocr_retries_total",
			Help: "Total number of OCR_TRANSIENT retries attempted",
		},
	)

	ExtractorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuflow_extractor_call_duration_seconds",
			Help:    "Time taken by extractor calls, by mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	ExtractFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_extract_fallbacks_total",
			Help: "Total number of EXTRACT_FAIL fallbacks to empty kv_pairs",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docuflow_circuit_breaker_state",
			Help: "Circuit breaker state by name (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Job queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docuflow_queue_depth",
			Help: "Current depth of the job queue, by kind",
		},
		[]string{"kind"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by kind",
		},
		[]string{"kind"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_jobs_completed_total",
			Help: "Total number of jobs completed, by kind and state",
		},
		[]string{"kind", "state"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuflow_job_duration_seconds",
			Help:    "Time taken for a job to reach a terminal state",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 240, 600},
		},
		[]string{"kind"},
	)

	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_sweep_cycles_total",
			Help: "Total number of bulk sweep cycles completed",
		},
	)

	SweepDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_sweep_discovered_total",
			Help: "Total number of new objects discovered by the sweep and enqueued",
		},
	)

	// Correction / re-analysis metrics
	CorrectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_corrections_total",
			Help: "Total number of correction API updates applied",
		},
	)

	RelocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_relocations_total",
			Help: "Total number of tier relocations, by direction",
		},
		[]string{"direction"},
	)

	ReanalysisRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuflow_reanalysis_requests_total",
			Help: "Total number of low-confidence re-analysis requests",
		},
	)

	// Null-field telemetry
	NullFieldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuflow_null_fields_total",
			Help: "Total count of missing required fields observed, by field name",
		},
		[]string{"field"},
	)
)

func init() {
	prometheus.MustRegister(DocumentsReceivedTotal)
	prometheus.MustRegister(DocumentsCompletedTotal)
	prometheus.MustRegister(DocumentsFailedTotal)
	prometheus.MustRegister(DuplicatesTotal)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(OverallConfidence)

	prometheus.MustRegister(OCRCallDuration)
	prometheus.MustRegister(OCRRetriesTotal)
	prometheus.MustRegister(ExtractorCallDuration)
	prometheus.MustRegister(ExtractFallbacksTotal)
	prometheus.MustRegister(CircuitBreakerState)

	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(SweepDiscoveredTotal)

	prometheus.MustRegister(CorrectionsTotal)
	prometheus.MustRegister(RelocationsTotal)
	prometheus.MustRegister(ReanalysisRequestsTotal)
	prometheus.MustRegister(NullFieldsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
