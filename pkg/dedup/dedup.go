// Package dedup implements the Deduplication Gate (C6): a thin,
// advisory check over the Record Store's content-hash index, consulted
// before any object-store write. The Record Store's unique index is the
// final atomicity guard; a FRESH result here can still race.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

// Result is the outcome of a dedup Check.
type Result struct {
	Duplicate      bool
	ExistingRecord *docmodel.ProcessedRecord
}

// Gate checks whether a document's bytes have already been processed.
type Gate struct {
	Records recordstore.Store
}

// NewGate constructs a Gate over the given record store.
func NewGate(records recordstore.Store) *Gate {
	return &Gate{Records: records}
}

// ContentHash computes the SHA-256 content hash of raw bytes, the sole
// deduplication key.
func ContentHash(rawBytes []byte) string {
	sum := sha256.Sum256(rawBytes)
	return hex.EncodeToString(sum[:])
}

// Check looks up contentHash in the record store. Deduplication is
// tenant-scoped: the caller passes the content hash together with its
// tenant_id, and a record under that hash owned by another tenant is not
// reported as a duplicate (dedup is cross-filename, but the same bytes
// across tenants do not dedupe).
func (g *Gate) Check(ctx context.Context, contentHash, tenantID string) (Result, error) {
	record, err := g.Records.FindByHash(ctx, contentHash)
	if err != nil {
		return Result{}, fmt.Errorf("dedup check failed: %w", err)
	}
	if record == nil || record.TenantID != tenantID {
		return Result{Duplicate: false}, nil
	}
	return Result{Duplicate: true, ExistingRecord: record}, nil
}
