// Package docmodel defines the core data structures shared across the
// document processing pipeline: the ephemeral Document, the persistent
// ProcessedRecord, Templates, Jobs, and the telemetry records derived
// from them.
package docmodel

import "time"

// Tier is the two-valued storage placement decision driven by confidence.
type Tier string

const (
	TierHigh   Tier = "Above-95%"
	TierReview Tier = "needs-review"
)

// Classification is the fixed set of document categories the extractor
// assigns during free-form extraction.
type Classification string

const (
	ClassificationMedical   Classification = "Medical"
	ClassificationInvoice   Classification = "Invoice"
	ClassificationInsurance Classification = "Insurance"
	ClassificationReferral  Classification = "Referral"
	ClassificationOther     Classification = "Other"
)

// Document is the ephemeral, request-scoped representation of an upload.
// It is discarded once the source write and enqueue have happened; only
// ContentHash survives into the ProcessedRecord.
type Document struct {
	RawBytes    []byte
	Filename    string
	MimeType    string
	SizeBytes   int64
	ContentHash string
	TenantID    string
}

// OCRLine is a single line of recognized text with its bounding box and
// per-line confidence, as returned by an OCR provider.
type OCRLine struct {
	Text       string
	BBox       [4]float64
	Confidence float64
}

// OCRWord mirrors OCRLine at word granularity, used to intersect a field's
// bounding span for per-pair confidence estimation.
type OCRWord struct {
	Text       string
	BBox       [4]float64
	Confidence float64
}

// OCRResult is the abstract output of an OCR provider.
type OCRResult struct {
	Pages      int
	Lines      []OCRLine
	Words      []OCRWord
	Confidence float64 // mean of OCRLine confidences over non-empty lines
}

// TemplateField describes one canonical field of a Template.
type TemplateField struct {
	CanonicalName string
	Aliases       []string
	Required      bool
}

// Template is an uploaded, tenant-owned field schema. Immutable after
// creation; deletion tombstones it without touching existing records.
type Template struct {
	TemplateID string
	TenantID   string
	Name       string
	Fields     []TemplateField
	Deleted    bool
	CreatedAt  time.Time
}

// TemplateMapping is the result of reconciling extracted keys against a
// Template's canonical fields.
type TemplateMapping struct {
	TemplateID            string
	MappedValues          map[string]string
	FieldConfidences      map[string]float64
	UnmappedExtractedKeys []string
	ProcessedAt           time.Time
}

// ProcessedRecord is the persistent, primary entity produced by the
// pipeline. ContentHash is globally unique; ProcessingID is an opaque
// identifier derived from the content hash and the epoch millisecond at
// which that processing run started.
type ProcessedRecord struct {
	ContentHash   string
	ProcessingID  string
	TenantID      string
	Filename      string
	SourcePath    string
	ProcessedPath string

	KVPairs           map[string]string
	KVConfidences     map[string]float64
	OCRConfidence     float64
	OverallConfidence float64
	Classification    Classification

	RawText         string
	PositioningData []byte

	TemplateID      string
	TemplateMapping *TemplateMapping

	HasCorrections  bool
	LastCorrectedBy string
	LastCorrectedAt time.Time
	ExtractFallback bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OverallConfidence computes a record's overall confidence per the
// documented formula: 0.5*ocr_confidence + 0.5*mean(kv_confidences), or
// ocr_confidence alone when there are no kv pairs.
func OverallConfidence(ocrConfidence float64, kvConfidences map[string]float64) float64 {
	if len(kvConfidences) == 0 {
		return ocrConfidence
	}
	var sum float64
	for _, c := range kvConfidences {
		sum += c
	}
	mean := sum / float64(len(kvConfidences))
	return 0.5*ocrConfidence + 0.5*mean
}

// RequiredFields is the fixed set of canonical field names the null-field
// tracker always checks for, regardless of template.
var RequiredFields = []string{"Name", "Date of Birth", "Member ID", "Address", "Gender", "Insurance ID"}

// NullFieldRecord enumerates which required fields were missing or empty
// on a completed ProcessedRecord. Produced exactly once per completion.
type NullFieldRecord struct {
	ProcessingID       string
	TenantID           string
	Filename           string
	NullFieldNames     []string
	AllExtractedFields map[string]string
	CreatedAt          time.Time
}

// JobKind distinguishes single-document jobs from batch parents and the
// periodic bulk sweep.
type JobKind string

const (
	JobKindSingle JobKind = "single"
	JobKindBatch  JobKind = "batch"
	JobKindSweep  JobKind = "bulk_sweep"
)

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobStateQueued  JobState = "queued"
	JobStateRunning JobState = "running"
	JobStateSuccess JobState = "success"
	JobStateFailed  JobState = "failed"
)

// Job is a durable unit of queued work. TenantID/Filename/MimeType/
// SourceBytes/SourcePath/TemplateID describe the document to process;
// SourcePath is set instead of SourceBytes when the job was discovered by
// the bulk sweep rather than submitted with an inline upload.
type Job struct {
	JobID         string
	Kind          JobKind
	State         JobState
	Progress      int
	Result        *ProcessedRecord
	Error         string
	ParentBatchID string
	ContentHash   string
	InFlightUntil time.Time

	TenantID    string
	Filename    string
	MimeType    string
	SourceBytes []byte
	SourcePath  string
	TemplateID  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchStatus aggregates the state of every child job of a batch.
type BatchStatus struct {
	BatchID           string
	Children          []*Job
	AggregateProgress float64
	Completed         int
	Failed            int
}

// LowConfidenceField names a kv pair whose per-pair confidence fell below
// the configured threshold (default 0.95), surfaced on COMPLETED and
// consumed by the on-demand re-analysis stage.
type LowConfidenceField struct {
	Name       string
	Value      string
	Confidence float64
}

// ReanalysisStatus is the verdict the vision-aware re-analyzer assigns to
// a single low-confidence field.
type ReanalysisStatus string

const (
	ReanalysisCorrect    ReanalysisStatus = "correct"
	ReanalysisIncorrect  ReanalysisStatus = "incorrect"
	ReanalysisIncomplete ReanalysisStatus = "incomplete"
	ReanalysisMissing    ReanalysisStatus = "missing"
)

// ReanalysisResult is the per-field output of C12.
type ReanalysisResult struct {
	FieldName      string
	Status         ReanalysisStatus
	SuggestedValue string
	Issues         []string
	Explanation    string
}
