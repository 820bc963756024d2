package queue

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/docuflow/pkg/dedup"
	"github.com/cuemby/docuflow/pkg/log"
	"github.com/cuemby/docuflow/pkg/metrics"
	"github.com/cuemby/docuflow/pkg/objectstore"
	"github.com/cuemby/docuflow/pkg/recordstore"
)

// defaultSweepInterval is the bulk-sweep period (spec.md §6's
// sweep_interval_s default): objects landing in the source prefix
// outside the ingress API (a direct bucket drop) are picked up and run
// through the same pipeline within this window. cmd/docuflow overrides
// Sweeper.Interval from config after NewSweeper.
const defaultSweepInterval = 5 * time.Minute

// defaultSweepPrefixes are the source roots scanned every cycle, one per
// tier, since a directly-dropped object carries no prior confidence
// score to pick a tier from. cmd/docuflow overrides Sweeper.Prefixes
// from config (sweep_prefix) after NewSweeper when an operator wants a
// single non-tiered prefix swept instead.
var defaultSweepPrefixes = []string{"Above-95%/source/", "needs-review/source/"}

// Sweeper periodically scans the object store for documents that were
// never enqueued through the ingress API, deduplicates them against the
// record store, and enqueues a job for anything new.
type Sweeper struct {
	objects objectstore.Store
	records recordstore.Store
	store   Store
	pool    *Pool
	logger  zerolog.Logger

	// HighWater/LowWater gate the sweep against the same backpressure
	// signal the ingress layer uses for synchronous submissions: once
	// the pool's buffered depth reaches HighWater the sweep pauses
	// between iterations (never mid-iteration) until depth drops back
	// under LowWater. Zero disables the gate.
	HighWater int
	LowWater  int
	paused    bool

	// Interval and Prefixes default to defaultSweepInterval and
	// defaultSweepPrefixes; cmd/docuflow applies the configured
	// sweep_interval_s/sweep_prefix after NewSweeper.
	Interval time.Duration
	Prefixes []string

	stopCh chan struct{}
}

// NewSweeper builds a Sweeper over the given stores and worker pool.
func NewSweeper(objects objectstore.Store, records recordstore.Store, store Store, pool *Pool) *Sweeper {
	return &Sweeper{
		objects:  objects,
		records:  records,
		store:    store,
		pool:     pool,
		logger:   log.WithComponent("sweeper"),
		stopCh:   make(chan struct{}),
		Interval: defaultSweepInterval,
		Prefixes: defaultSweepPrefixes,
	}
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop ends the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info().Msg("bulk sweep started")
	for {
		select {
		case <-ticker.C:
			if s.gated() {
				s.logger.Warn().Msg("sweep paused, queue depth above high-water mark")
				continue
			}
			if err := s.sweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep cycle failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("bulk sweep stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// gated reports whether the sweep should sit out this tick. It enters
// the paused state at HighWater and only leaves it once depth has
// fallen to LowWater, so a sweep hovering right at the threshold
// doesn't flap every tick.
func (s *Sweeper) gated() bool {
	if s.HighWater <= 0 || s.pool == nil {
		return false
	}
	depth := s.pool.Depth()
	if s.paused {
		if depth < s.LowWater {
			s.paused = false
		}
		return s.paused
	}
	if depth >= s.HighWater {
		s.paused = true
		return true
	}
	return false
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.PipelineStageDuration, "sweep")
		metrics.SweepCyclesTotal.Inc()
	}()

	inFlight, err := s.store.ListInFlight(ctx, time.Now())
	if err != nil {
		return err
	}
	inFlightHashes := make(map[string]bool, len(inFlight))
	for _, job := range inFlight {
		inFlightHashes[job.ContentHash] = true
	}

	for _, prefix := range s.Prefixes {
		objs, err := s.objects.List(ctx, prefix)
		if err != nil {
			s.logger.Error().Err(err).Str("prefix", prefix).Msg("failed to list sweep prefix")
			continue
		}
		for _, obj := range objs {
			if err := s.considerObject(ctx, obj, inFlightHashes); err != nil {
				s.logger.Error().Err(err).Str("path", obj.Path).Msg("failed to process discovered object")
			}
		}
	}
	return nil
}

func (s *Sweeper) considerObject(ctx context.Context, obj objectstore.ObjectInfo, inFlightHashes map[string]bool) error {
	data, err := s.objects.Get(ctx, obj.Path)
	if err != nil {
		return err
	}

	contentHash := dedup.ContentHash(data)
	if inFlightHashes[contentHash] {
		return nil
	}

	gate := dedup.NewGate(s.records)
	tenantID := tenantFromSourcePath(obj.Path)
	result, err := gate.Check(ctx, contentHash, tenantID)
	if err != nil {
		return err
	}
	if result.Duplicate {
		return nil
	}

	payload := Payload{
		TenantID:    tenantID,
		Filename:    obj.Path,
		SourcePath:  obj.Path,
		ContentHash: contentHash,
	}
	if _, err := EnqueueSingle(ctx, s.store, s.pool, payload); err != nil {
		return err
	}
	metrics.SweepDiscoveredTotal.Inc()
	return nil
}

// tenantFromSourcePath recovers the tenant_id path segment from a bit-exact
// source path: {tier}/source/{tenant_id}/{processing_id}/{filename}.
func tenantFromSourcePath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
