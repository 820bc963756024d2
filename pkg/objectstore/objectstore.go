// Package objectstore implements the Object Store Adapter (C1): a
// two-tier blob layout keyed by tenant and confidence bucket, with local
// filesystem (FSStore) and S3 (S3Store) backends sharing the same Store
// contract and path grammar.
package objectstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Store is the contract every object-store backend implements. Put is
// idempotent by path (last writer wins) and atomic at the object
// granularity. Move is copy-then-delete and must tolerate the source and
// destination transiently coexisting on failure.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Move(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[/\\\x00-\x1f]`)

// SafeFilename strips path separators and control characters from a
// caller-supplied filename so it can appear in an object-store path
// segment.
func SafeFilename(filename string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(filename, "_")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}

// SourcePath builds the bit-exact path for a source upload:
// {tier}/source/{tenant_id}/{processing_id}/{safe_filename}_{epoch_ms}
func SourcePath(tier docmodel.Tier, tenantID, processingID, filename string, epochMs int64) string {
	return fmt.Sprintf("%s/source/%s/%s/%s_%d", tier, tenantID, processingID, SafeFilename(filename), epochMs)
}

// ProcessedPath builds the bit-exact path for the processed JSON payload:
// {tier}/processed/{tenant_id}/{processing_id}/{epoch_ms}_{safe_filename}_extracted_data.json
func ProcessedPath(tier docmodel.Tier, tenantID, processingID, filename string, epochMs int64) string {
	return fmt.Sprintf("%s/processed/%s/%s/%d_%s_extracted_data.json", tier, tenantID, processingID, epochMs, SafeFilename(filename))
}

// TemplatePath builds the path for an uploaded template workbook:
// templates/{tenant_id}/{template_id}/template.xlsx
func TemplatePath(tenantID, templateID string) string {
	return fmt.Sprintf("templates/%s/%s/template.xlsx", tenantID, templateID)
}

var tierSegment = regexp.MustCompile(`^[^/]+`)

// RetierPath rewrites the leading tier segment of an existing path from
// oldTier to newTier, leaving the rest of the path (which already embeds
// processing_id and epoch_ms) untouched.
func RetierPath(path string, oldTier, newTier docmodel.Tier) string {
	if !strings.HasPrefix(path, string(oldTier)+"/") {
		return path
	}
	return string(newTier) + strings.TrimPrefix(path, string(oldTier))
}
