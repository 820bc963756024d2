// Package orchestrator implements the Pipeline Orchestrator (C7): the
// per-document state machine that drives a raw upload through OCR,
// extraction, optional template mapping, bucket placement, and record
// persistence.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/bucket"
	"github.com/cuemby/docuflow/pkg/dedup"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/events"
	"github.com/cuemby/docuflow/pkg/extractor"
	"github.com/cuemby/docuflow/pkg/fhir"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/nullfield"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/ocrprovider"
	"github.com/cuemby/docuflow/pkg/queue"
	"github.com/cuemby/docuflow/pkg/recordstore"
	"github.com/cuemby/docuflow/pkg/template"
)

// writeRetries bounds the processed-JSON re-write attempts after the
// source has already been relocated to its final tier (spec write-order
// invariant: either both objects exist or the record is not committed).
const writeRetries = 3

// lowConfidenceThreshold is the per-pair cutoff below which a field is
// surfaced on COMPLETED as a candidate for re-analysis (C12).
const lowConfidenceThreshold = 0.95

// Pipeline wires every upstream component (C1-C6, C9-C10) into the
// state machine and is the Processor the queue's worker pool invokes.
type Pipeline struct {
	Objects   objectstore.Store
	Records   recordstore.Store
	OCR       ocrprovider.Provider
	Extractor extractor.Extractor
	BucketCfg bucket.Policy
	Relocator *bucket.Relocator
	FHIR      fhir.Publisher
	Events    *events.Broker
	logger    zerolog.Logger
}

// NewPipeline builds a Pipeline over its collaborators.
func NewPipeline(objects objectstore.Store, records recordstore.Store, ocr ocrprovider.Provider, ext extractor.Extractor, bucketCfg bucket.Policy, broker *events.Broker, publisher fhir.Publisher) *Pipeline {
	return &Pipeline{
		Objects:   objects,
		Records:   records,
		OCR:       ocr,
		Extractor: ext,
		BucketCfg: bucketCfg,
		Relocator: bucket.NewRelocator(objects),
		FHIR:      publisher,
		Events:    broker,
		logger:    log.WithComponent("orchestrator"),
	}
}

// Run drives one document through RECEIVED -> ... -> COMPLETED/FAILED and
// matches queue.Processor's signature.
func (p *Pipeline) Run(ctx context.Context, payload queue.Payload, progress func(int)) (*docmodel.ProcessedRecord, error) {
	rawBytes := payload.SourceBytes
	var err error
	if rawBytes == nil && payload.SourcePath != "" {
		rawBytes, err = p.Objects.Get(ctx, payload.SourcePath)
		if err != nil {
			return nil, apierrors.New(apierrors.StoreTransient, "failed to fetch sweep-discovered object", err)
		}
	}

	contentHash := payload.ContentHash
	if contentHash == "" {
		contentHash = dedup.ContentHash(rawBytes)
	}

	// RECEIVED -> (DUP? -> RETURN_EXISTING)
	gate := dedup.NewGate(p.Records)
	dupResult, err := gate.Check(ctx, contentHash, payload.TenantID)
	if err != nil {
		return nil, apierrors.New(apierrors.StoreTransient, "dedup check failed", err)
	}
	if dupResult.Duplicate {
		p.logger.Info().Str("content_hash", contentHash).Msg("duplicate, returning existing record")
		p.publish(events.EventDocumentDuplicate, processingIDOrEmpty(dupResult), payload.TenantID)
		return dupResult.ExistingRecord, nil
	}

	epochMs := time.Now().UnixMilli()
	processingID := ProcessingID(contentHash, epochMs)
	logger := p.logger.With().Str("processing_id", processingID).Str("tenant_id", payload.TenantID).Logger()

	metrics.DocumentsReceivedTotal.WithLabelValues(payload.TenantID).Inc()
	p.publish(events.EventDocumentReceived, processingID, payload.TenantID)

	// UPLOADED_SOURCE: stage the source under the review tier; its
	// final tier is only known after OCR, so every new upload lands
	// under needs-review and is relocated once confidence is known.
	provisionalTier := docmodel.TierReview
	sourcePath := objectstore.SourcePath(provisionalTier, payload.TenantID, processingID, payload.Filename, epochMs)
	if err := p.Objects.Put(ctx, sourcePath, rawBytes, payload.MimeType); err != nil {
		return nil, p.fail(processingID, payload.TenantID, apierrors.New(apierrors.StoreTransient, "failed to write source object", err))
	}

	// OCR_DONE
	ocrResult, err := p.OCR.Extract(ctx, rawBytes, payload.MimeType)
	if err != nil {
		return nil, p.fail(processingID, payload.TenantID, err)
	}
	logger.Debug().Float64("ocr_confidence", ocrResult.Confidence).Msg("OCR complete")

	// EXTRACTED
	var kvPairs map[string]string
	var kvConfidences map[string]float64
	var classification docmodel.Classification
	var tmpl *docmodel.Template
	var unmappedKeys []string

	if payload.TemplateID != "" {
		tmpl, err = p.Records.GetTemplate(ctx, payload.TemplateID)
		if err != nil {
			return nil, p.fail(processingID, payload.TenantID, apierrors.New(apierrors.StoreTransient, "failed to load template", err))
		}
	}

	if tmpl != nil {
		kvPairs, kvConfidences, unmappedKeys, err = p.Extractor.ExtractTemplateGuided(ctx, ocrResult, tmpl)
	} else {
		var free *extractor.FreeFormResult
		free, err = p.Extractor.ExtractFreeForm(ctx, ocrResult)
		if free != nil {
			kvPairs = free.KVPairs
			kvConfidences = free.KVConfidences
			classification = free.Classification
		}
	}
	extractFallback := false
	if err != nil && apierrors.Is(err, apierrors.ExtractFail) {
		// EXTRACT_FAIL: continue with empty kv_pairs and classification
		// Other, so overall_confidence falls back to ocr_confidence.
		logger.Warn().Err(err).Msg("extraction failed, falling back to empty kv_pairs")
		kvPairs, kvConfidences, unmappedKeys = map[string]string{}, map[string]float64{}, nil
		classification = docmodel.ClassificationOther
		extractFallback = true
		err = nil
	}
	if err != nil {
		return nil, p.fail(processingID, payload.TenantID, err)
	}

	record := &docmodel.ProcessedRecord{
		ContentHash:    contentHash,
		ProcessingID:   processingID,
		TenantID:       payload.TenantID,
		Filename:       payload.Filename,
		SourcePath:     sourcePath,
		KVPairs:        kvPairs,
		KVConfidences:  kvConfidences,
		OCRConfidence:  ocrResult.Confidence,
		Classification: classification,
		RawText:        joinLines(ocrResult),
		TemplateID:     payload.TemplateID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	record.OverallConfidence = docmodel.OverallConfidence(record.OCRConfidence, record.KVConfidences)
	record.ExtractFallback = extractFallback

	// (template? -> MAPPED)
	if tmpl != nil {
		mapping := template.Apply(tmpl, kvPairs, kvConfidences)
		mapping.UnmappedExtractedKeys = append(mapping.UnmappedExtractedKeys, unmappedKeys...)
		record.TemplateMapping = mapping
	}

	// PLACED: bucket decided, source moved, JSON written.
	tier := p.BucketCfg.Tier(record.OverallConfidence)
	if tier != provisionalTier {
		newSourcePath := objectstore.RetierPath(sourcePath, provisionalTier, tier)
		if err := p.Objects.Move(ctx, sourcePath, newSourcePath); err != nil {
			return nil, p.fail(processingID, payload.TenantID, apierrors.New(apierrors.StoreTransient, "failed to relocate source to final tier", err))
		}
		record.SourcePath = newSourcePath
		sourcePath = newSourcePath
	}

	processedPath := objectstore.ProcessedPath(tier, payload.TenantID, processingID, payload.Filename, epochMs)
	payloadJSON := recordJSON(record)
	var writeErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		writeErr = p.Objects.Put(ctx, processedPath, payloadJSON, "application/json")
		if writeErr == nil {
			break
		}
	}
	if writeErr != nil {
		// Source is already in its final tier location; leave it for
		// the sweeper rather than attempting a rollback move.
		return nil, p.fail(processingID, payload.TenantID, apierrors.New(apierrors.StoreTransient, "failed to write processed JSON after exhausting retries", writeErr))
	}
	record.ProcessedPath = processedPath
	progress(50)

	// RECORDED: row in C2, null-field row in C10.
	if err := p.Records.Insert(ctx, record); err != nil {
		return nil, p.fail(processingID, payload.TenantID, apierrors.New(apierrors.StoreTransient, "failed to insert record", err))
	}

	nullRecord := nullfield.Track(record)
	if err := p.Records.InsertNullFieldRecord(ctx, nullRecord); err != nil {
		logger.Warn().Err(err).Msg("null-field tracking failed, record still completed")
	}

	// COMPLETED
	if p.FHIR != nil {
		if err := p.FHIR.Publish(ctx, record); err != nil {
			logger.Warn().Err(err).Msg("FHIR publish failed, record still completed")
		}
	}
	metrics.DocumentsCompletedTotal.WithLabelValues(string(tier), string(record.Classification)).Inc()
	metrics.OverallConfidence.Observe(record.OverallConfidence)
	p.publish(events.EventDocumentCompleted, processingID, payload.TenantID)
	progress(100)

	return record, nil
}

func (p *Pipeline) fail(processingID, tenantID string, cause error) error {
	metrics.DocumentsFailedTotal.WithLabelValues(string(apierrors.KindOf(cause))).Inc()
	p.publish(events.EventDocumentFailed, processingID, tenantID)
	return cause
}

func (p *Pipeline) publish(eventType events.EventType, processingID, tenantID string) {
	if p.Events == nil {
		return
	}
	p.Events.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"processing_id": processingID,
			"tenant_id":     tenantID,
		},
	})
}

func processingIDOrEmpty(result dedup.Result) string {
	if result.ExistingRecord == nil {
		return ""
	}
	return result.ExistingRecord.ProcessingID
}

// ProcessingID derives a deterministic, filename-independent identifier
// from a content hash and the millisecond epoch of first processing.
func ProcessingID(contentHash string, epochMs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", contentHash, epochMs)))
	return hex.EncodeToString(sum[:])[:32]
}

func joinLines(result *docmodel.OCRResult) string {
	var text string
	for _, line := range result.Lines {
		text += line.Text + "\n"
	}
	return text
}

// LowConfidenceFields returns the kv pairs whose per-pair confidence fell
// below the threshold, for the COMPLETED output and C12's input.
func LowConfidenceFields(record *docmodel.ProcessedRecord) []docmodel.LowConfidenceField {
	var fields []docmodel.LowConfidenceField
	for key, confidence := range record.KVConfidences {
		if confidence < lowConfidenceThreshold {
			fields = append(fields, docmodel.LowConfidenceField{
				Name:       key,
				Value:      record.KVPairs[key],
				Confidence: confidence,
			})
		}
	}
	return fields
}
