// Package queue implements the Job Queue (C8): a bbolt-backed durable
// job index, a goroutine worker pool executing the pipeline orchestrator,
// redis-backed progress pub/sub, and the periodic bulk-sweep job.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/metrics"
)

// Store is the durable job index contract.
type Store interface {
	Create(ctx context.Context, job *docmodel.Job) error
	Get(ctx context.Context, jobID string) (*docmodel.Job, error)
	Update(ctx context.Context, job *docmodel.Job) error
	ListByBatch(ctx context.Context, batchID string) ([]*docmodel.Job, error)
	// ListInFlight returns jobs whose in_flight_until lease has not
	// expired, so the sweep can skip hashes still being worked.
	ListInFlight(ctx context.Context, now time.Time) ([]*docmodel.Job, error)
	// ListRecoverable returns jobs never picked up (state queued) or
	// abandoned by a crashed worker (state running with an expired
	// lease), so the pool's dispatch loop can resubmit them.
	ListRecoverable(ctx context.Context, now time.Time) ([]*docmodel.Job, error)
	Close() error
}

// Payload is the enqueued unit of work: either a single document
// (SourceBytes set) or a reference to an object the sweep discovered
// (SourcePath set, SourceBytes nil — the worker fetches it).
type Payload struct {
	TenantID    string
	Filename    string
	MimeType    string
	SourceBytes []byte
	SourcePath  string
	TemplateID  string
	ContentHash string
}

// Processor runs one document through the pipeline orchestrator and
// returns the resulting record. It is supplied by the caller (cmd/docuflow
// wires it to pkg/orchestrator) so this package has no orchestrator
// dependency and stays a pure scheduling concern.
type Processor func(ctx context.Context, payload Payload, progress func(int)) (*docmodel.ProcessedRecord, error)

func newJob(kind docmodel.JobKind, parentBatchID string, payload Payload) *docmodel.Job {
	now := time.Now()
	return &docmodel.Job{
		JobID:         uuid.NewString(),
		Kind:          kind,
		State:         docmodel.JobStateQueued,
		ParentBatchID: parentBatchID,
		ContentHash:   payload.ContentHash,
		TenantID:      payload.TenantID,
		Filename:      payload.Filename,
		MimeType:      payload.MimeType,
		SourceBytes:   payload.SourceBytes,
		SourcePath:    payload.SourcePath,
		TemplateID:    payload.TemplateID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// EnqueueSingle creates and persists a queued job for one document, and
// hands it to the pool for immediate dispatch.
func EnqueueSingle(ctx context.Context, store Store, pool *Pool, payload Payload) (*docmodel.Job, error) {
	job := newJob(docmodel.JobKindSingle, "", payload)
	if err := store.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Kind)).Inc()
	if pool != nil {
		pool.Submit(job)
	}
	return job, nil
}

// EnqueueBatch creates a set of child jobs sharing a generated batch id,
// one per payload, and submits each to the pool.
func EnqueueBatch(ctx context.Context, store Store, pool *Pool, payloads []Payload) (batchID string, children []*docmodel.Job, err error) {
	batchID = uuid.NewString()
	for _, payload := range payloads {
		job := newJob(docmodel.JobKindBatch, batchID, payload)
		if err := store.Create(ctx, job); err != nil {
			return "", nil, err
		}
		metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Kind)).Inc()
		if pool != nil {
			pool.Submit(job)
		}
		children = append(children, job)
	}
	return batchID, children, nil
}

// GetBatch aggregates the state of every child job of a batch.
func GetBatch(ctx context.Context, store Store, batchID string) (*docmodel.BatchStatus, error) {
	children, err := store.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	status := &docmodel.BatchStatus{BatchID: batchID, Children: children}
	var progressSum float64
	for _, child := range children {
		progressSum += float64(child.Progress)
		switch child.State {
		case docmodel.JobStateSuccess:
			status.Completed++
		case docmodel.JobStateFailed:
			status.Failed++
		}
	}
	if len(children) > 0 {
		status.AggregateProgress = progressSum / float64(len(children))
	}
	return status, nil
}
