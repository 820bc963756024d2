// Package correction implements human/API re-writes of extracted
// key-values with audit trail, confidence recomputation, and
// threshold-crossing relocation.
package correction

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/bucket"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/events"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

// editedConfidence is the confidence assigned to any key a correction
// touches: a human/API edit is treated as ground truth.
const editedConfidence = 1.0

// Service applies corrections to a ProcessedRecord's kv_pairs, recomputes
// overall_confidence, and relocates storage objects when the bucket
// decision changes.
type Service struct {
	Records   recordstore.Store
	Relocator *bucket.Relocator
	BucketCfg bucket.Policy
	Events    *events.Broker
	logger    zerolog.Logger
}

// NewService constructs a correction Service over its collaborators.
func NewService(records recordstore.Store, relocator *bucket.Relocator, bucketCfg bucket.Policy, broker *events.Broker) *Service {
	return &Service{
		Records:   records,
		Relocator: relocator,
		BucketCfg: bucketCfg,
		Events:    broker,
		logger:    log.WithComponent("correction"),
	}
}

// Update validates newKV against the record's current editable key space,
// writes the corrected values, recomputes overall_confidence, and, if the
// bucket would change, relocates both the source and processed-JSON
// objects atomically (move-then-patch-record). If relocation fails the
// correction is rolled back and the record is left unchanged.
func (s *Service) Update(ctx context.Context, processingID string, newKV map[string]string, actor string) (*docmodel.ProcessedRecord, error) {
	record, err := s.Records.Get(ctx, processingID)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to load record for correction", err)
	}
	if record == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("no record for processing_id %s", processingID), nil)
	}

	if err := validateKeys(record, newKV); err != nil {
		return nil, err
	}

	oldTier := s.BucketCfg.Tier(record.OverallConfidence)

	mergedKV := make(map[string]string, len(record.KVPairs))
	for k, v := range record.KVPairs {
		mergedKV[k] = v
	}
	mergedConfs := make(map[string]float64, len(record.KVConfidences))
	for k, v := range record.KVConfidences {
		mergedConfs[k] = v
	}
	for k, v := range newKV {
		mergedKV[k] = v
		mergedConfs[k] = editedConfidence
	}

	updated, err := s.Records.UpdateKV(ctx, processingID, mergedKV, mergedConfs, actor)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to persist correction", err)
	}

	newTier := s.BucketCfg.Tier(updated.OverallConfidence)
	if newTier != oldTier {
		newSourcePath, newProcessedPath, err := s.Relocator.Relocate(ctx, updated, oldTier, newTier)
		if err != nil {
			// roll back the kv/confidence write so the record matches
			// the still-in-place objects.
			if _, rollbackErr := s.Records.UpdateKV(ctx, processingID, record.KVPairs, record.KVConfidences, record.LastCorrectedBy); rollbackErr != nil {
				s.logger.Error().Err(rollbackErr).Str("processing_id", processingID).Msg("failed to roll back correction after relocation failure")
			}
			return nil, err
		}
		if err := s.Records.UpdatePaths(ctx, processingID, newSourcePath, newProcessedPath); err != nil {
			return nil, apierrors.New(apierrors.RelocFail, "relocated objects but failed to persist new paths", err)
		}
		updated.SourcePath = newSourcePath
		updated.ProcessedPath = newProcessedPath
		s.publish(events.EventRecordRelocated, processingID, updated.TenantID)
		metrics.RelocationsTotal.WithLabelValues(fmt.Sprintf("%s->%s", oldTier, newTier)).Inc()
	}

	metrics.CorrectionsTotal.Inc()
	s.publish(events.EventRecordCorrected, processingID, updated.TenantID)
	return updated, nil
}

// validateKeys ensures every key being corrected is a subset of the
// record's current kv_pairs or, when a template mapping is attached, the
// canonical fields present in its mapped_values. A template canonical
// field that the mapping did not resolve is not accepted.
func validateKeys(record *docmodel.ProcessedRecord, newKV map[string]string) error {
	allowed := make(map[string]bool, len(record.KVPairs))
	for k := range record.KVPairs {
		allowed[strings.ToLower(k)] = true
	}
	if record.TemplateMapping != nil {
		for k := range record.TemplateMapping.MappedValues {
			allowed[strings.ToLower(k)] = true
		}
	}

	var rejected []string
	for k := range newKV {
		if !allowed[strings.ToLower(k)] {
			rejected = append(rejected, k)
		}
	}
	if len(rejected) > 0 {
		return apierrors.New(apierrors.Validation, fmt.Sprintf("keys not present on record: %s", strings.Join(rejected, ", ")), nil)
	}
	return nil
}

func (s *Service) publish(eventType events.EventType, processingID, tenantID string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(&events.Event{
		Type: eventType,
		Metadata: map[string]string{
			"processing_id": processingID,
			"tenant_id":     tenantID,
		},
	})
}
