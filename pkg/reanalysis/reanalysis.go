// Package reanalysis implements an explicit, on-demand second pass that
// re-runs a vision-aware extractor against only a completed record's
// low-confidence fields. It is never invoked automatically from the main
// pipeline.
package reanalysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/correction"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/extractor"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

// SourceCacheTTL is the expiry set on a cached source-bytes entry. The
// cache is primed by Reanalyze on its first object-store fetch for a
// record; the pipeline does not write it when a record completes.
const SourceCacheTTL = 10 * time.Minute

// lowConfidenceThreshold mirrors orchestrator.lowConfidenceThreshold;
// duplicated here (rather than imported) to keep this package free of an
// orchestrator dependency, matching the Processor-style decoupling
// pkg/queue uses between itself and the orchestrator.
const lowConfidenceThreshold = 0.95

func sourceCacheKey(processingID string) string {
	return fmt.Sprintf("reanalysis:src:%s", processingID)
}

// CacheSource stores a completed record's raw source bytes under a TTL
// key, so a subsequent on-demand re-analysis request does not need to
// refetch from the object store within the cache window.
func CacheSource(ctx context.Context, client *redis.Client, processingID string, sourceBytes []byte) error {
	if client == nil {
		return nil
	}
	return client.Set(ctx, sourceCacheKey(processingID), sourceBytes, SourceCacheTTL).Err()
}

// Service runs the on-demand vision re-analysis stage, optionally
// applying suggested corrections through the Correction API.
type Service struct {
	Objects    objectstore.Store
	Records    recordstore.Store
	Extractor  extractor.Extractor
	Redis      *redis.Client
	Correction *correction.Service
}

// NewService constructs a reanalysis Service over its collaborators.
// corrector may be nil if automatic application of suggestions is not
// desired; Reanalyze then only reports findings.
func NewService(objects objectstore.Store, records recordstore.Store, ext extractor.Extractor, redisClient *redis.Client, corrector *correction.Service) *Service {
	return &Service{
		Objects:    objects,
		Records:    records,
		Extractor:  ext,
		Redis:      redisClient,
		Correction: corrector,
	}
}

// Reanalyze fetches the cached (or object-store) source bytes for a
// completed record, re-runs the vision-aware extractor against only its
// low-confidence fields, and returns the per-field verdicts. When a
// result carries status "incorrect" with a suggested_value and a
// Correction service is configured, the suggestion is applied via C11.
func (s *Service) Reanalyze(ctx context.Context, processingID string) ([]docmodel.ReanalysisResult, error) {
	record, err := s.Records.Get(ctx, processingID)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to load record for re-analysis", err)
	}
	if record == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("no record for processing_id %s", processingID), nil)
	}

	fields := lowConfidenceFields(record)
	if len(fields) == 0 {
		return nil, nil
	}

	sourceBytes, mimeType, err := s.sourceBytes(ctx, record)
	if err != nil {
		return nil, err
	}

	metrics.ReanalysisRequestsTotal.Inc()
	results, err := s.Extractor.Reanalyze(ctx, sourceBytes, mimeType, fields)
	if err != nil {
		return nil, err
	}

	if s.Correction != nil {
		if err := s.applySuggestions(ctx, processingID, results); err != nil {
			return results, err
		}
	}

	return results, nil
}

// sourceBytes returns the cached source bytes if present and unexpired,
// falling back to the object store (and re-priming the cache) otherwise.
func (s *Service) sourceBytes(ctx context.Context, record *docmodel.ProcessedRecord) ([]byte, string, error) {
	if s.Redis != nil {
		cached, err := s.Redis.Get(ctx, sourceCacheKey(record.ProcessingID)).Bytes()
		if err == nil {
			return cached, mimeFromFilename(record.Filename), nil
		}
	}

	data, err := s.Objects.Get(ctx, record.SourcePath)
	if err != nil {
		return nil, "", apierrors.New(apierrors.StoreTransient, "failed to fetch source bytes for re-analysis", err)
	}
	if s.Redis != nil {
		_ = CacheSource(ctx, s.Redis, record.ProcessingID, data)
	}
	return data, mimeFromFilename(record.Filename), nil
}

// applySuggestions writes back any "incorrect" verdict carrying a
// suggested value via the Correction API, so a caller that wants
// auto-apply semantics gets them for free; verdicts left untouched by
// the caller (status correct/incomplete/missing, or incorrect without a
// suggestion) are left for a human reviewer.
func (s *Service) applySuggestions(ctx context.Context, processingID string, results []docmodel.ReanalysisResult) error {
	updates := map[string]string{}
	for _, r := range results {
		if r.Status == docmodel.ReanalysisIncorrect && r.SuggestedValue != "" {
			updates[r.FieldName] = r.SuggestedValue
		}
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := s.Correction.Update(ctx, processingID, updates, "reanalysis")
	return err
}

func lowConfidenceFields(record *docmodel.ProcessedRecord) []docmodel.LowConfidenceField {
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

func mimeFromFilename(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		return "image/tiff"
	default:
		return "application/pdf"
	}
}
