package correction

import (
	"context"
	"testing"

	"github.com/cuemby/docuflow/pkg/bucket"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

// fakeStore mirrors PostgresStore.UpdateKV's merge-and-recompute
// semantics over an in-memory map, keyed by processing_id.
type fakeStore struct {
	byID map[string]*docmodel.ProcessedRecord
}

func newFakeStore(records ...*docmodel.ProcessedRecord) *fakeStore {
	s := &fakeStore{byID: map[string]*docmodel.ProcessedRecord{}}
	for _, r := range records {
		s.byID[r.ProcessingID] = r
	}
	return s
}

func (f *fakeStore) FindByHash(context.Context, string) (*docmodel.ProcessedRecord, error) {
	return nil, nil
}
func (f *fakeStore) Insert(context.Context, *docmodel.ProcessedRecord) error { return nil }
func (f *fakeStore) Get(_ context.Context, processingID string) (*docmodel.ProcessedRecord, error) {
	return f.byID[processingID], nil
}
func (f *fakeStore) UpdateKV(_ context.Context, processingID string, newKV map[string]string, newConfs map[string]float64, actor string) (*docmodel.ProcessedRecord, error) {
	record := f.byID[processingID]
	for k, v := range newKV {
		record.KVPairs[k] = v
	}
	for k, c := range newConfs {
		record.KVConfidences[k] = c
	}
	record.OverallConfidence = docmodel.OverallConfidence(record.OCRConfidence, record.KVConfidences)
	record.HasCorrections = true
	record.LastCorrectedBy = actor
	return record, nil
}
func (f *fakeStore) UpdatePaths(_ context.Context, processingID, sourcePath, processedPath string) error {
	record := f.byID[processingID]
	record.SourcePath = sourcePath
	record.ProcessedPath = processedPath
	return nil
}
func (f *fakeStore) ListByTenant(context.Context, string, recordstore.ListFilters) ([]*docmodel.ProcessedRecord, error) {
	return nil, nil
}
func (f *fakeStore) InsertNullFieldRecord(context.Context, *docmodel.NullFieldRecord) error {
	return nil
}
func (f *fakeStore) CreateTemplate(context.Context, *docmodel.Template) error { return nil }
func (f *fakeStore) GetTemplate(context.Context, string) (*docmodel.Template, error) {
	return nil, nil
}
func (f *fakeStore) ListTemplates(context.Context, string) ([]*docmodel.Template, error) {
	return nil, nil
}
func (f *fakeStore) DeleteTemplate(context.Context, string) error { return nil }
func (f *fakeStore) Close() error                                { return nil }

func TestUpdate_RejectsUnknownKey(t *testing.T) {
	store := newFakeStore(&docmodel.ProcessedRecord{
		ProcessingID:  "proc-1",
		KVPairs:       map[string]string{"Name": "Jane Doe"},
		KVConfidences: map[string]float64{"Name": 0.9},
	})
	svc := NewService(store, bucket.NewRelocator(mustFSStore(t)), bucket.NewPolicy(0.95), nil)

	_, err := svc.Update(context.Background(), "proc-1", map[string]string{"Not A Field": "x"}, "alice")
	if err == nil {
		t.Fatal("expected validation error for unknown key")
	}
}

func TestUpdate_RecomputesConfidenceWithoutRelocation(t *testing.T) {
	store := newFakeStore(&docmodel.ProcessedRecord{
		ProcessingID:      "proc-1",
		TenantID:          "t1",
		OCRConfidence:     1.0,
		KVPairs:           map[string]string{"Name": "Jane Doe"},
		KVConfidences:     map[string]float64{"Name": 0.96},
		OverallConfidence: 0.98,
		SourcePath:        string(docmodel.TierHigh) + "/source/t1/proc-1/file.pdf_1",
		ProcessedPath:     string(docmodel.TierHigh) + "/processed/t1/proc-1/1_file.pdf_extracted_data.json",
	})
	svc := NewService(store, bucket.NewRelocator(mustFSStore(t)), bucket.NewPolicy(0.95), nil)

	updated, err := svc.Update(context.Background(), "proc-1", map[string]string{"Name": "John Doe"}, "alice")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.KVPairs["Name"] != "John Doe" {
		t.Errorf("KVPairs[Name] = %q, want John Doe", updated.KVPairs["Name"])
	}
	if updated.KVConfidences["Name"] != editedConfidence {
		t.Errorf("KVConfidences[Name] = %v, want %v", updated.KVConfidences["Name"], editedConfidence)
	}
	if !updated.HasCorrections {
		t.Error("expected HasCorrections = true")
	}
	if updated.SourcePath != string(docmodel.TierHigh)+"/source/t1/proc-1/file.pdf_1" {
		t.Error("path should not change when the tier doesn't cross")
	}
}

func TestUpdate_RelocatesOnTierCross(t *testing.T) {
	objects := mustFSStore(t)
	ctx := context.Background()
	srcPath := objectstore.SourcePath(docmodel.TierReview, "t1", "proc-1", "file.pdf", 1)
	procPath := objectstore.ProcessedPath(docmodel.TierReview, "t1", "proc-1", "file.pdf", 1)
	if err := objects.Put(ctx, srcPath, []byte("src"), ""); err != nil {
		t.Fatalf("Put source: %v", err)
	}
	if err := objects.Put(ctx, procPath, []byte("{}"), "application/json"); err != nil {
		t.Fatalf("Put processed: %v", err)
	}

	store := newFakeStore(&docmodel.ProcessedRecord{
		ProcessingID:      "proc-1",
		TenantID:          "t1",
		OCRConfidence:     0.9,
		KVPairs:           map[string]string{"Name": "Jane Doe"},
		KVConfidences:     map[string]float64{"Name": 0.4},
		OverallConfidence: 0.65,
		SourcePath:        srcPath,
		ProcessedPath:     procPath,
	})
	svc := NewService(store, bucket.NewRelocator(objects), bucket.NewPolicy(0.95), nil)

	updated, err := svc.Update(context.Background(), "proc-1", map[string]string{"Name": "John Doe"}, "alice")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if exists, _ := objects.Exists(ctx, srcPath); exists {
		t.Error("old source path should no longer exist after relocation")
	}
	if exists, _ := objects.Exists(ctx, updated.SourcePath); !exists {
		t.Error("new source path should exist after relocation")
	}
}

func mustFSStore(t *testing.T) *objectstore.FSStore {
	t.Helper()
	store, err := objectstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return store
}
