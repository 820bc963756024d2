package queue

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueSingle_PersistsQueuedJob(t *testing.T) {
	store := newTestStore(t)
	job, err := EnqueueSingle(context.Background(), store, nil, Payload{TenantID: "t1", Filename: "a.pdf"})
	if err != nil {
		t.Fatalf("EnqueueSingle: %v", err)
	}
	if job.State != docmodel.JobStateQueued {
		t.Errorf("State = %q, want queued", job.State)
	}

	got, err := store.Get(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TenantID != "t1" || got.Filename != "a.pdf" {
		t.Errorf("Get() = %+v, want tenant t1 filename a.pdf", got)
	}
}

func TestEnqueueBatch_CreatesChildrenUnderSharedBatchID(t *testing.T) {
	store := newTestStore(t)
	payloads := []Payload{{Filename: "1.pdf"}, {Filename: "2.pdf"}, {Filename: "3.pdf"}}
	batchID, children, err := EnqueueBatch(context.Background(), store, nil, payloads)
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("len(children) = %d, want 3", len(children))
	}
	for _, child := range children {
		if child.ParentBatchID != batchID {
			t.Errorf("ParentBatchID = %q, want %q", child.ParentBatchID, batchID)
		}
	}

	status, err := GetBatch(context.Background(), store, batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(status.Children) != 3 {
		t.Errorf("len(status.Children) = %d, want 3", len(status.Children))
	}
}

func TestGetBatch_AggregatesProgressAndOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, children, err := EnqueueBatch(ctx, store, nil, []Payload{{Filename: "1.pdf"}, {Filename: "2.pdf"}})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	batchID := children[0].ParentBatchID

	children[0].State = docmodel.JobStateSuccess
	children[0].Progress = 100
	if err := store.Update(ctx, children[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}
	children[1].State = docmodel.JobStateFailed
	children[1].Progress = 40
	if err := store.Update(ctx, children[1]); err != nil {
		t.Fatalf("Update: %v", err)
	}

	status, err := GetBatch(ctx, store, batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if status.Completed != 1 || status.Failed != 1 {
		t.Errorf("Completed=%d Failed=%d, want 1 and 1", status.Completed, status.Failed)
	}
	if status.AggregateProgress != 70 {
		t.Errorf("AggregateProgress = %v, want 70", status.AggregateProgress)
	}
}

func TestBoltStore_ListInFlight_OnlyReturnsUnexpiredLeases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := &docmodel.Job{JobID: "active", InFlightUntil: time.Now().Add(time.Hour)}
	expired := &docmodel.Job{JobID: "expired", InFlightUntil: time.Now().Add(-time.Hour)}
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("Create: %v", err)
	}

	inFlight, err := store.ListInFlight(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListInFlight: %v", err)
	}
	if len(inFlight) != 1 || inFlight[0].JobID != "active" {
		t.Errorf("ListInFlight = %+v, want only %q", inFlight, "active")
	}
}

func TestBoltStore_ListRecoverable_IncludesQueuedAndStuckRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queued := &docmodel.Job{JobID: "queued", State: docmodel.JobStateQueued}
	stuck := &docmodel.Job{JobID: "stuck", State: docmodel.JobStateRunning, InFlightUntil: time.Now().Add(-time.Minute)}
	running := &docmodel.Job{JobID: "running", State: docmodel.JobStateRunning, InFlightUntil: time.Now().Add(time.Hour)}
	for _, j := range []*docmodel.Job{queued, stuck, running} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	recoverable, err := store.ListRecoverable(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListRecoverable: %v", err)
	}
	ids := map[string]bool{}
	for _, j := range recoverable {
		ids[j.JobID] = true
	}
	if !ids["queued"] || !ids["stuck"] || ids["running"] {
		t.Errorf("ListRecoverable = %+v, want queued+stuck but not running", recoverable)
	}
}
