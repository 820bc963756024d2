package dedup

import (
	"context"
	"testing"

	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

type fakeStore struct {
	byHash map[string]*docmodel.ProcessedRecord
}

func (f *fakeStore) FindByHash(_ context.Context, contentHash string) (*docmodel.ProcessedRecord, error) {
	return f.byHash[contentHash], nil
}
func (f *fakeStore) Insert(context.Context, *docmodel.ProcessedRecord) error { return nil }
func (f *fakeStore) Get(context.Context, string) (*docmodel.ProcessedRecord, error) {
	return nil, nil
}
func (f *fakeStore) UpdateKV(context.Context, string, map[string]string, map[string]float64, string) (*docmodel.ProcessedRecord, error) {
	return nil, nil
}
func (f *fakeStore) UpdatePaths(context.Context, string, string, string) error { return nil }
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

func TestContentHash_IsDeterministic(t *testing.T) {
	a := ContentHash([]byte("hello world"))
	b := ContentHash([]byte("hello world"))
	if a != b {
		t.Errorf("ContentHash is not deterministic: %q != %q", a, b)
	}
	if a == ContentHash([]byte("different bytes")) {
		t.Error("ContentHash collided for different inputs")
	}
}

func TestGate_Check_FreshWhenNoRecord(t *testing.T) {
	gate := NewGate(&fakeStore{byHash: map[string]*docmodel.ProcessedRecord{}})
	result, err := gate.Check(context.Background(), "hash-1", "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Duplicate {
		t.Error("expected fresh result, got duplicate")
	}
}

func TestGate_Check_DuplicateWithinSameTenant(t *testing.T) {
	existing := &docmodel.ProcessedRecord{ContentHash: "hash-1", TenantID: "t1", ProcessingID: "proc-1"}
	gate := NewGate(&fakeStore{byHash: map[string]*docmodel.ProcessedRecord{"hash-1": existing}})

	result, err := gate.Check(context.Background(), "hash-1", "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Duplicate || result.ExistingRecord.ProcessingID != "proc-1" {
		t.Errorf("expected duplicate pointing to proc-1, got %+v", result)
	}
}

func TestGate_Check_SameBytesDifferentTenantIsNotDuplicate(t *testing.T) {
	existing := &docmodel.ProcessedRecord{ContentHash: "hash-1", TenantID: "t1", ProcessingID: "proc-1"}
	gate := NewGate(&fakeStore{byHash: map[string]*docmodel.ProcessedRecord{"hash-1": existing}})

	result, err := gate.Check(context.Background(), "hash-1", "t2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Duplicate {
		t.Error("same bytes under a different tenant must not dedupe")
	}
}
