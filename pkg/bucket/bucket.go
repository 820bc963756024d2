// Package bucket implements the confidence-based storage tier decision
// (C9) and the relocation driver that moves both the source and the
// processed-JSON object when a record's tier changes.
package bucket

import (
	"context"
	"fmt"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/objectstore"
)

// DefaultThreshold is the confidence at or above which a record is placed
// in the high tier.
const DefaultThreshold = 0.95

// Policy decides tier placement from a confidence score.
type Policy struct {
	Threshold float64
}

// NewPolicy constructs a Policy. A zero or negative threshold falls back
// to DefaultThreshold.
func NewPolicy(threshold float64) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// Tier returns the placement decision for a confidence value.
func (p Policy) Tier(confidence float64) docmodel.Tier {
	if confidence >= p.Threshold {
		return docmodel.TierHigh
	}
	return docmodel.TierReview
}

// Relocator moves a record's source and processed objects between tiers
// when the bucket policy's decision changes, preserving processing_id and
// epoch_ms in the rebuilt path.
type Relocator struct {
	Store objectstore.Store
}

// NewRelocator constructs a Relocator over the given object store.
func NewRelocator(store objectstore.Store) *Relocator {
	return &Relocator{Store: store}
}

// Relocate moves the source and processed objects of a record from
// oldTier to newTier. It is a no-op if the tiers match. On failure the
// caller must treat the correction/relocation as rolled back
// (apierrors.RelocFail); objects may transiently exist under both tiers.
func (r *Relocator) Relocate(ctx context.Context, record *docmodel.ProcessedRecord, oldTier, newTier docmodel.Tier) (newSourcePath, newProcessedPath string, err error) {
	if oldTier == newTier {
		return record.SourcePath, record.ProcessedPath, nil
	}

	newSourcePath = objectstore.RetierPath(record.SourcePath, oldTier, newTier)
	newProcessedPath = objectstore.RetierPath(record.ProcessedPath, oldTier, newTier)

	if err := r.Store.Move(ctx, record.SourcePath, newSourcePath); err != nil {
		return "", "", apierrors.New(apierrors.RelocFail, fmt.Sprintf("move source %s -> %s", record.SourcePath, newSourcePath), err)
	}
	if err := r.Store.Move(ctx, record.ProcessedPath, newProcessedPath); err != nil {
		// best-effort rollback of the source move so the record is left in a
		// consistent single-tier state
		_ = r.Store.Move(ctx, newSourcePath, record.SourcePath)
		return "", "", apierrors.New(apierrors.RelocFail, fmt.Sprintf("move processed %s -> %s", record.ProcessedPath, newProcessedPath), err)
	}

	return newSourcePath, newProcessedPath, nil
}
