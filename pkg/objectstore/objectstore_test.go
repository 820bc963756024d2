package objectstore

import (
	"context"
	"testing"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "referral.pdf", want: "referral.pdf"},
		{name: "path separators", input: "../../etc/passwd", want: ".._.._etc_passwd"},
		{name: "control chars", input: "a\x00b\x01c", want: "a_b_c"},
		{name: "empty", input: "", want: "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeFilename(tt.input)
			if got != tt.want {
				t.Errorf("SafeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSourceAndProcessedPath(t *testing.T) {
	src := SourcePath(docmodel.TierHigh, "t1", "proc-1", "referral.pdf", 1700000000000)
	want := "Above-95%/source/t1/proc-1/referral.pdf_1700000000000"
	if src != want {
		t.Errorf("SourcePath = %q, want %q", src, want)
	}

	processed := ProcessedPath(docmodel.TierReview, "t1", "proc-1", "referral.pdf", 1700000000000)
	wantProcessed := "needs-review/processed/t1/proc-1/1700000000000_referral.pdf_extracted_data.json"
	if processed != wantProcessed {
		t.Errorf("ProcessedPath = %q, want %q", processed, wantProcessed)
	}
}

func TestRetierPath(t *testing.T) {
	path := "needs-review/source/t1/proc-1/referral.pdf_123"
	got := RetierPath(path, docmodel.TierReview, docmodel.TierHigh)
	want := "Above-95%/source/t1/proc-1/referral.pdf_123"
	if got != want {
		t.Errorf("RetierPath = %q, want %q", got, want)
	}
}

func TestFSStore_PutGetExistsDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	path := "Above-95%/source/t1/proc-1/file.pdf_123"
	if err := store.Put(ctx, path, []byte("hello"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v, want true, nil", exists, err)
	}

	data, err := store.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Get = %q, want %q", data, "hello")
	}

	if err := store.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, err = store.Exists(ctx, path)
	if err != nil || exists {
		t.Fatalf("Exists after delete = %v, %v, want false, nil", exists, err)
	}
}

func TestFSStore_Move(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	src := "needs-review/source/t1/proc-1/file.pdf_123"
	dst := "Above-95%/source/t1/proc-1/file.pdf_123"

	if err := store.Put(ctx, src, []byte("payload"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Move(ctx, src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}

	if exists, _ := store.Exists(ctx, src); exists {
		t.Error("source should no longer exist after Move")
	}
	data, err := store.Get(ctx, dst)
	if err != nil {
		t.Fatalf("Get dst: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Get dst = %q, want %q", data, "payload")
	}
}

func TestFSStore_MoveNoOpSamePath(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	path := "Above-95%/source/t1/proc-1/file.pdf_123"
	if err := store.Put(ctx, path, []byte("x"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Move(ctx, path, path); err != nil {
		t.Fatalf("Move same path should be a no-op: %v", err)
	}
}

func TestFSStore_List(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	_ = store.Put(ctx, "needs-review/source/t1/a/x_1", []byte("a"), "")
	_ = store.Put(ctx, "needs-review/source/t1/b/y_2", []byte("b"), "")
	_ = store.Put(ctx, "Above-95%/source/t1/c/z_3", []byte("c"), "")

	objs, err := store.List(ctx, "needs-review/source")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("List returned %d objects, want 2", len(objs))
	}
}
