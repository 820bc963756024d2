package bucket

import (
	"context"
	"testing"

	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/objectstore"
)

func TestPolicy_Tier(t *testing.T) {
	p := NewPolicy(0.95)

	tests := []struct {
		name       string
		confidence float64
		want       docmodel.Tier
	}{
		{"above threshold", 0.98, docmodel.TierHigh},
		{"exactly threshold", 0.95, docmodel.TierHigh},
		{"below threshold", 0.585, docmodel.TierReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Tier(tt.confidence); got != tt.want {
				t.Errorf("Tier(%v) = %v, want %v", tt.confidence, got, tt.want)
			}
		})
	}
}

func TestNewPolicy_DefaultsOnInvalidThreshold(t *testing.T) {
	p := NewPolicy(0)
	if p.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", p.Threshold, DefaultThreshold)
	}
}

func TestRelocator_Relocate(t *testing.T) {
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	record := &docmodel.ProcessedRecord{
		SourcePath:    objectstore.SourcePath(docmodel.TierReview, "t1", "proc-1", "file.pdf", 123),
		ProcessedPath: objectstore.ProcessedPath(docmodel.TierReview, "t1", "proc-1", "file.pdf", 123),
	}
	_ = store.Put(ctx, record.SourcePath, []byte("src"), "")
	_ = store.Put(ctx, record.ProcessedPath, []byte("{}"), "application/json")

	rel := NewRelocator(store)
	newSrc, newProc, err := rel.Relocate(ctx, record, docmodel.TierReview, docmodel.TierHigh)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	if exists, _ := store.Exists(ctx, record.SourcePath); exists {
		t.Error("old source path should no longer exist")
	}
	if exists, _ := store.Exists(ctx, newSrc); !exists {
		t.Error("new source path should exist")
	}
	if exists, _ := store.Exists(ctx, newProc); !exists {
		t.Error("new processed path should exist")
	}
}

func TestRelocator_Relocate_SameTierIsNoOp(t *testing.T) {
	store, _ := objectstore.NewFSStore(t.TempDir())
	record := &docmodel.ProcessedRecord{
		SourcePath:    "Above-95%/source/t1/proc-1/file.pdf_123",
		ProcessedPath: "Above-95%/processed/t1/proc-1/123_file.pdf_extracted_data.json",
	}
	rel := NewRelocator(store)
	newSrc, newProc, err := rel.Relocate(context.Background(), record, docmodel.TierHigh, docmodel.TierHigh)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if newSrc != record.SourcePath || newProc != record.ProcessedPath {
		t.Error("same-tier relocation should be a no-op")
	}
}
