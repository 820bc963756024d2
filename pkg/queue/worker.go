package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/docuflow/pkg/apierrors"
	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/notify"
)

// leaseDuration is how long a worker holds in_flight_until while a job
// runs, so the sweep can tell a job genuinely in progress from an
// abandoned one after a crash.
const leaseDuration = 10 * time.Minute

// Default soft deadlines per spec.md §4.8: a single-document job gets
// 120s, a batch child gets 240s. cmd/docuflow overrides these from
// config (single_timeout_s / batch_child_timeout_s) after NewPool.
const (
	defaultSingleTimeout     = 120 * time.Second
	defaultBatchChildTimeout = 240 * time.Second
)

// Pool is a fixed-size goroutine pool draining jobs from a durable Store
// and running them through a Processor. Unlike a raw channel queue,
// work survives a restart: Start re-enqueues any job left queued or
// whose lease expired before the process exited.
type Pool struct {
	store     Store
	process   Processor
	progress  *Progress
	notifier  notify.Notifier
	workQueue chan *docmodel.Job
	workers   int
	logger    zerolog.Logger

	// SingleTimeout/BatchChildTimeout bound how long a worker waits on
	// the orchestrator per job.Kind before the job is marked
	// FAILED(TIMEOUT); a stuck OCR/extractor call can never block a
	// worker past this deadline. Exported so cmd/docuflow can apply the
	// configured single_timeout_s/batch_child_timeout_s after NewPool.
	SingleTimeout     time.Duration
	BatchChildTimeout time.Duration

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPool builds a worker pool of the given size. notifier may be
// notify.NoopNotifier{} when no alerting channel is configured.
func NewPool(store Store, process Processor, progress *Progress, notifier notify.Notifier, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Pool{
		store:             store,
		process:           process,
		progress:          progress,
		notifier:          notifier,
		workQueue:         make(chan *docmodel.Job, workers*4),
		workers:           workers,
		logger:            log.WithComponent("queue"),
		stopCh:            make(chan struct{}),
		SingleTimeout:     defaultSingleTimeout,
		BatchChildTimeout: defaultBatchChildTimeout,
	}
}

// Start launches the worker goroutines and the dispatch loop that feeds
// them from the durable store.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
	p.wg.Add(1)
	go p.dispatch(ctx)
}

// Stop signals every goroutine to exit and waits for them to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit hands a freshly-enqueued job directly to a worker without
// waiting for the next dispatch tick.
func (p *Pool) Submit(job *docmodel.Job) {
	select {
	case p.workQueue <- job:
	case <-p.stopCh:
	}
}

// Depth reports the number of jobs currently buffered ahead of a free
// worker, for the ingress layer's high/low water mark backpressure check.
func (p *Pool) Depth() int {
	return len(p.workQueue)
}

// dispatch periodically re-scans the store for queued jobs the caller
// didn't Submit directly (recovered after a restart, or left behind by
// a crashed worker whose lease expired).
func (p *Pool) dispatch(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.QueueDepth.WithLabelValues("pending").Set(float64(p.Depth()))
			p.recoverStale(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) recoverStale(ctx context.Context) {
	recoverable, err := p.store.ListRecoverable(ctx, time.Now())
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list recoverable jobs")
		return
	}
	for _, job := range recoverable {
		p.logger.Warn().Str("job_id", job.JobID).Msg("recovering abandoned or unpicked job")
		p.Submit(job)
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.workQueue:
			p.run(ctx, job)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deadline returns the soft deadline for a job's pipeline run: a bulk
// sweep discovery reuses the single-document budget since it runs the
// same one-document pipeline, not a batch fan-out.
func (p *Pool) deadline(kind docmodel.JobKind) time.Duration {
	if kind == docmodel.JobKindBatch {
		return p.BatchChildTimeout
	}
	return p.SingleTimeout
}

func (p *Pool) run(ctx context.Context, job *docmodel.Job) {
	logger := p.logger.With().Str("job_id", job.JobID).Str("kind", string(job.Kind)).Logger()

	job.State = docmodel.JobStateRunning
	job.InFlightUntil = time.Now().Add(leaseDuration)
	if err := p.store.Update(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to mark job running")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.deadline(job.Kind))
	defer cancel()

	timer := metrics.NewTimer()
	payload := Payload{
		TenantID:    job.TenantID,
		Filename:    job.Filename,
		MimeType:    job.MimeType,
		SourceBytes: job.SourceBytes,
		SourcePath:  job.SourcePath,
		TemplateID:  job.TemplateID,
		ContentHash: job.ContentHash,
	}
	result, err := p.process(runCtx, payload, func(pct int) {
		job.Progress = pct
		_ = p.store.Update(ctx, job)
		if p.progress != nil {
			p.progress.Publish(ctx, job.JobID, pct)
		}
	})
	if err != nil && runCtx.Err() == context.DeadlineExceeded {
		// Soft deadline exceeded (spec.md §4.8/§7): leave any partially
		// written object-store artifacts for the sweeper rather than
		// attempting a rollback.
		err = apierrors.New(apierrors.Timeout, "pipeline run exceeded its soft deadline", err)
	}
	timer.ObserveDurationVec(metrics.JobDuration, string(job.Kind))

	job.InFlightUntil = time.Time{}
	if err != nil {
		job.State = docmodel.JobStateFailed
		job.Error = err.Error()
		logger.Error().Err(err).Msg("job failed")
		metrics.JobsCompletedTotal.WithLabelValues(string(job.Kind), "failed").Inc()
		if notifyErr := p.notifier.NotifyJobFailed(ctx, job.JobID, job.TenantID, err.Error()); notifyErr != nil {
			logger.Warn().Err(notifyErr).Msg("failed to send job-failure notification")
		}
	} else {
		job.State = docmodel.JobStateSuccess
		job.Result = result
		job.Progress = 100
		metrics.JobsCompletedTotal.WithLabelValues(string(job.Kind), "success").Inc()
	}

	if err := p.store.Update(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to persist job completion")
	}
	if p.progress != nil {
		p.progress.Publish(ctx, job.JobID, job.Progress)
	}
}
