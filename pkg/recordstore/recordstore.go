// Package recordstore implements the Record Store (C2): the durable
// relational store of ProcessedRecord rows, keyed uniquely by
// content_hash, plus null-field telemetry rows.
package recordstore

import (
	"context"
	"time"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

// ListFilters narrows ListByTenant results.
type ListFilters struct {
	Classification docmodel.Classification
	Tier           docmodel.Tier
	HasCorrections *bool
	Limit          int
	Offset         int
}

// Store is the contract the orchestrator, correction API, and
// reanalysis stage use to persist and query ProcessedRecords. A single
// tenant's listing is only guaranteed consistent with object-store
// reality within one sweep cycle; the Store is authoritative for
// metadata, not bytes.
type Store interface {
	// FindByHash returns the record for a content hash, or nil, nil if
	// none exists.
	FindByHash(ctx context.Context, contentHash string) (*docmodel.ProcessedRecord, error)

	// Insert creates a new record. It returns an *apierrors.Error with
	// Kind Duplicate if content_hash already exists; callers must call
	// FindByHash first, but a race resolves to whichever insert won.
	Insert(ctx context.Context, record *docmodel.ProcessedRecord) error

	// Get returns a record by processing_id, or nil, nil if not found.
	Get(ctx context.Context, processingID string) (*docmodel.ProcessedRecord, error)

	// UpdateKV stamps has_corrections/last_corrected_by/last_corrected_at,
	// recomputes overall_confidence from newConfs, and persists the new
	// kv_pairs/kv_confidences. It does not relocate objects; the caller
	// (pkg/correction) does that via pkg/bucket and then calls
	// UpdatePaths.
	UpdateKV(ctx context.Context, processingID string, newKV map[string]string, newConfs map[string]float64, actor string) (*docmodel.ProcessedRecord, error)

	// UpdatePaths persists a record's source/processed paths after a
	// relocation.
	UpdatePaths(ctx context.Context, processingID, sourcePath, processedPath string) error

	// ListByTenant returns records for tenantID matching filters.
	ListByTenant(ctx context.Context, tenantID string, filters ListFilters) ([]*docmodel.ProcessedRecord, error)

	// InsertNullFieldRecord persists a NullFieldRecord; callers should
	// log and continue on failure (NULL_TRACK_FAIL never blocks
	// completion).
	InsertNullFieldRecord(ctx context.Context, record *docmodel.NullFieldRecord) error

	// CreateTemplate persists a new Template.
	CreateTemplate(ctx context.Context, tmpl *docmodel.Template) error

	// GetTemplate returns a template by id, or nil, nil if not found
	// (including tombstoned templates, which the caller must handle).
	GetTemplate(ctx context.Context, templateID string) (*docmodel.Template, error)

	// ListTemplates returns non-deleted templates for a tenant.
	ListTemplates(ctx context.Context, tenantID string) ([]*docmodel.Template, error)

	// DeleteTemplate tombstones a template without touching any
	// ProcessedRecord that references it.
	DeleteTemplate(ctx context.Context, templateID string) error

	Close() error
}

var nowFunc = time.Now
