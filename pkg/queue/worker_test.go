package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/docuflow/pkg/docmodel"
)

var errBoom = errors.New("boom")

func TestPool_RunsSubmittedJobToSuccess(t *testing.T) {
	store := newTestStore(t)
	var mu sync.Mutex
	var processed []string

	process := func(_ context.Context, payload Payload, progress func(int)) (*docmodel.ProcessedRecord, error) {
		progress(50)
		mu.Lock()
		processed = append(processed, payload.Filename)
		mu.Unlock()
		return &docmodel.ProcessedRecord{Filename: payload.Filename}, nil
	}

	pool := NewPool(store, process, nil, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	job, err := EnqueueSingle(ctx, store, pool, Payload{Filename: "doc.pdf"})
	if err != nil {
		t.Fatalf("EnqueueSingle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(ctx, job.JobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == docmodel.JobStateSuccess {
			if got.Result == nil || got.Result.Filename != "doc.pdf" {
				t.Errorf("Result = %+v, want filename doc.pdf", got.Result)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach success state in time")
}

func TestPool_FailedProcessorMarksJobFailed(t *testing.T) {
	store := newTestStore(t)
	process := func(_ context.Context, _ Payload, _ func(int)) (*docmodel.ProcessedRecord, error) {
		return nil, errBoom
	}

	pool := NewPool(store, process, nil, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	job, err := EnqueueSingle(ctx, store, pool, Payload{Filename: "bad.pdf"})
	if err != nil {
		t.Fatalf("EnqueueSingle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.Get(ctx, job.JobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State == docmodel.JobStateFailed {
			if got.Error == "" {
				t.Error("Error is empty, want failure message recorded")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach failed state in time")
}
