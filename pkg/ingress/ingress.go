// Package ingress is the operation surface an HTTP/auth layer drives:
// submit, query, correct, and re-analyze documents. Service wires the
// pipeline's collaborators together; authentication, sessions, and users
// remain an external collaborator, reached only through TenantResolver.
package ingress

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/correction"
	"github.com/cuemby/docuflow/pkg/dedup"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/orchestrator"
	"github.com/cuemby/docuflow/pkg/queue"
	"github.com/cuemby/docuflow/pkg/reanalysis"
	"github.com/cuemby/docuflow/pkg/recordstore"
	"github.com/cuemby/docuflow/pkg/template"
)

// TenantResolver is the auth collaborator seam: given a request-scoped
// token, it yields a stable tenant_id and user_id. The core never
// implements authentication itself.
type TenantResolver interface {
	Resolve(ctx context.Context, token string) (tenantID, userID string, err error)
}

// StaticResolver is a development stand-in for a real auth collaborator:
// it treats the bearer token itself as "tenant_id:user_id", with no
// verification. Wiring a real identity provider means swapping this
// implementation out, not touching any ingress operation.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, token string) (tenantID, userID string, err error) {
	tenantID, userID, ok := strings.Cut(token, ":")
	if !ok || tenantID == "" {
		return "", "", apierrors.New(apierrors.Validation, "malformed bearer token, expected tenant_id:user_id", nil)
	}
	return tenantID, userID, nil
}

// Options carries per-request processing knobs (currently just an
// optional template to guide extraction).
type Options struct {
	TemplateID string
}

// SingleResult is the outcome of ProcessSingle: either a queued job (the
// caller should poll GetJob) or a synchronously completed record.
type SingleResult struct {
	ProcessingID string
	Status       string // "completed" or "queued"
	Duplicate    bool
	Record       *docmodel.ProcessedRecord
	JobID        string
}

// Limits bounds ingest validation: max upload size and accepted MIME
// types, sourced from configuration.
type Limits struct {
	MaxFileSizeBytes int64
	SupportedMime    map[string]bool
}

// NewLimits builds a Limits from the configured max size in MB and the
// list of supported MIME types.
func NewLimits(maxFileSizeMB int, supportedMime []string) Limits {
	mimeSet := make(map[string]bool, len(supportedMime))
	for _, m := range supportedMime {
		mimeSet[m] = true
	}
	return Limits{
		MaxFileSizeBytes: int64(maxFileSizeMB) * 1024 * 1024,
		SupportedMime:    mimeSet,
	}
}

// Service wires every ingress-facing operation over the pipeline's
// collaborators.
type Service struct {
	Objects    objectstore.Store
	Records    recordstore.Store
	Queue      queue.Store
	Pool       *queue.Pool
	Pipeline   *orchestrator.Pipeline
	Correction *correction.Service
	Reanalysis *reanalysis.Service
	Limits     Limits

	QueueHighWater int
	QueueLowWater  int

	// SingleTimeout bounds the synchronous fast path's inline pipeline
	// run (spec.md §4.8's single_timeout_s); zero disables the deadline.
	SingleTimeout time.Duration
}

func (s *Service) validate(mimeType string, sizeBytes int64) error {
	if sizeBytes > s.Limits.MaxFileSizeBytes {
		return apierrors.New(apierrors.TooLarge, fmt.Sprintf("file size %d exceeds limit %d", sizeBytes, s.Limits.MaxFileSizeBytes), nil)
	}
	if len(s.Limits.SupportedMime) > 0 && !s.Limits.SupportedMime[mimeType] {
		return apierrors.New(apierrors.UnsupportedMime, fmt.Sprintf("unsupported mime type %q", mimeType), nil)
	}
	return nil
}

// busy reports whether the queue has crossed its high-water mark, in
// which case new synchronous submissions are rejected with BUSY.
func (s *Service) busy() bool {
	if s.Pool == nil || s.QueueHighWater <= 0 {
		return false
	}
	return s.Pool.Depth() >= s.QueueHighWater
}

// ProcessSingle runs the synchronous fast path: the same state machine
// as the queued path, but executed inline in the caller's context. It
// short-circuits to the existing record (duplicate=true) within
// milliseconds when the content hash has already been processed.
func (s *Service) ProcessSingle(ctx context.Context, fileBytes []byte, mimeType, filename, tenantID string, opts Options) (*SingleResult, error) {
	if err := s.validate(mimeType, int64(len(fileBytes))); err != nil {
		return nil, err
	}

	contentHash := dedup.ContentHash(fileBytes)
	dup, err := dedup.NewGate(s.Records).Check(ctx, contentHash, tenantID)
	if err != nil {
		return nil, err
	}
	if dup.Duplicate {
		return &SingleResult{
			ProcessingID: dup.ExistingRecord.ProcessingID,
			Status:       "completed",
			Duplicate:    true,
			Record:       dup.ExistingRecord,
		}, nil
	}

	if s.busy() {
		return nil, apierrors.New(apierrors.Busy, "queue depth exceeds high-water mark", nil)
	}

	payload := queue.Payload{
		TenantID:    tenantID,
		Filename:    filename,
		MimeType:    mimeType,
		SourceBytes: fileBytes,
		TemplateID:  opts.TemplateID,
		ContentHash: contentHash,
	}

	runCtx := ctx
	if s.SingleTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.SingleTimeout)
		defer cancel()
	}

	record, err := s.Pipeline.Run(runCtx, payload, func(int) {})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = apierrors.New(apierrors.Timeout, "pipeline run exceeded its soft deadline", err)
		}
		return nil, err
	}

	return &SingleResult{
		ProcessingID: record.ProcessingID,
		Status:       "completed",
		Record:       record,
	}, nil
}

// ProcessAsync validates and enqueues a single document, returning
// immediately with a job the caller polls via GetJob.
func (s *Service) ProcessAsync(ctx context.Context, fileBytes []byte, mimeType, filename, tenantID string, opts Options) (*docmodel.Job, error) {
	if err := s.validate(mimeType, int64(len(fileBytes))); err != nil {
		return nil, err
	}
	if s.busy() {
		return nil, apierrors.New(apierrors.Busy, "queue depth exceeds high-water mark", nil)
	}

	payload := queue.Payload{
		TenantID:    tenantID,
		Filename:    filename,
		MimeType:    mimeType,
		SourceBytes: fileBytes,
		TemplateID:  opts.TemplateID,
	}
	return queue.EnqueueSingle(ctx, s.Queue, s.Pool, payload)
}

// FileInput is one member of a batch submission.
type FileInput struct {
	Bytes    []byte
	MimeType string
	Filename string
}

// ProcessBatch validates and enqueues every file as a child job under a
// shared batch id.
func (s *Service) ProcessBatch(ctx context.Context, files []FileInput, tenantID string, opts Options) (batchID string, children []*docmodel.Job, err error) {
	payloads := make([]queue.Payload, 0, len(files))
	for _, f := range files {
		if err := s.validate(f.MimeType, int64(len(f.Bytes))); err != nil {
			return "", nil, err
		}
		payloads = append(payloads, queue.Payload{
			TenantID:    tenantID,
			Filename:    f.Filename,
			MimeType:    f.MimeType,
			SourceBytes: f.Bytes,
			TemplateID:  opts.TemplateID,
		})
	}
	return queue.EnqueueBatch(ctx, s.Queue, s.Pool, payloads)
}

// GetJob returns a single job's current state.
func (s *Service) GetJob(ctx context.Context, jobID string) (*docmodel.Job, error) {
	job, err := s.Queue.Get(ctx, jobID)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to load job", err)
	}
	if job == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("no job %s", jobID), nil)
	}
	return job, nil
}

// GetBatch aggregates the state of the given set of child job ids.
func (s *Service) GetBatch(ctx context.Context, childJobIDs []string) (*docmodel.BatchStatus, error) {
	status := &docmodel.BatchStatus{}
	var progressSum float64
	for _, id := range childJobIDs {
		job, err := s.Queue.Get(ctx, id)
		if err != nil {
			return nil, apierrors.New(apierrors.Internal, "failed to load batch child", err)
		}
		if job == nil {
			continue
		}
		if status.BatchID == "" {
			status.BatchID = job.ParentBatchID
		}
		status.Children = append(status.Children, job)
		progressSum += float64(job.Progress)
		switch job.State {
		case docmodel.JobStateSuccess:
			status.Completed++
		case docmodel.JobStateFailed:
			status.Failed++
		}
	}
	if len(status.Children) > 0 {
		status.AggregateProgress = progressSum / float64(len(status.Children))
	}
	return status, nil
}

// ListRecords lists a tenant's records under the given filters.
func (s *Service) ListRecords(ctx context.Context, tenantID string, filters recordstore.ListFilters) ([]*docmodel.ProcessedRecord, error) {
	return s.Records.ListByTenant(ctx, tenantID, filters)
}

// GetRecord returns a single record by processing id.
func (s *Service) GetRecord(ctx context.Context, processingID string) (*docmodel.ProcessedRecord, error) {
	record, err := s.Records.Get(ctx, processingID)
	if err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to load record", err)
	}
	if record == nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("no record %s", processingID), nil)
	}
	return record, nil
}

// DownloadObject fetches raw bytes for an object-store path (a source
// upload or a processed JSON payload).
func (s *Service) DownloadObject(ctx context.Context, path string) ([]byte, error) {
	data, err := s.Objects.Get(ctx, path)
	if err != nil {
		return nil, apierrors.New(apierrors.NotFound, fmt.Sprintf("object %s not found", path), err)
	}
	return data, nil
}

// UpdateRecordKV applies a correction through the Correction API (C11).
func (s *Service) UpdateRecordKV(ctx context.Context, processingID string, newKV map[string]string, actor string) (*docmodel.ProcessedRecord, error) {
	return s.Correction.Update(ctx, processingID, newKV, actor)
}

// ReanalyzeLowConfidence runs the on-demand vision re-analysis stage
// (C12) over a completed record's low-confidence fields.
func (s *Service) ReanalyzeLowConfidence(ctx context.Context, processingID string) ([]docmodel.ReanalysisResult, error) {
	return s.Reanalysis.Reanalyze(ctx, processingID)
}

// UploadTemplate parses a tenant-uploaded tabular template, persists its
// field schema, and writes the source workbook to the object store.
func (s *Service) UploadTemplate(ctx context.Context, data []byte, tenantID, name string) (*docmodel.Template, error) {
	tmpl, err := template.Parse(bytes.NewReader(data), tenantID, name)
	if err != nil {
		return nil, apierrors.New(apierrors.Validation, "failed to parse template", err)
	}
	if err := s.Records.CreateTemplate(ctx, tmpl); err != nil {
		return nil, apierrors.New(apierrors.Internal, "failed to persist template", err)
	}
	path := objectstore.TemplatePath(tenantID, tmpl.TemplateID)
	if err := s.Objects.Put(ctx, path, data, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return nil, apierrors.New(apierrors.StoreTransient, "failed to write template workbook", err)
	}
	return tmpl, nil
}

// ListTemplates returns a tenant's non-deleted templates.
func (s *Service) ListTemplates(ctx context.Context, tenantID string) ([]*docmodel.Template, error) {
	return s.Records.ListTemplates(ctx, tenantID)
}

// DeleteTemplate tombstones a template, preserving any ProcessedRecord
// references to it.
func (s *Service) DeleteTemplate(ctx context.Context, templateID string) error {
	return s.Records.DeleteTemplate(ctx, templateID)
}
