// Package fhir defines the downstream FHIR delivery seam the orchestrator
// calls on every COMPLETED record. No real FHIR server integration is
// implemented here; this package only owns the boundary a real publisher
// would plug into.
package fhir

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/docuflow/pkg/docmodel"
	"github.com/cuemby/docuflow/pkg/log"
)

// Publisher delivers a completed record downstream. A failing Publish
// never fails the pipeline; the orchestrator logs and continues.
type Publisher interface {
	Publish(ctx context.Context, record *docmodel.ProcessedRecord) error
}

// LoggingPublisher is the default Publisher: it records that a record
// would have been delivered, without making a network call. It stands in
// for a real FHIR client until one is configured.
type LoggingPublisher struct {
	logger zerolog.Logger
}

// NewLoggingPublisher constructs a LoggingPublisher.
func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{logger: log.WithComponent("fhir")}
}

// Publish logs the record that would be delivered and returns nil.
func (p *LoggingPublisher) Publish(_ context.Context, record *docmodel.ProcessedRecord) error {
	p.logger.Info().
		Str("processing_id", record.ProcessingID).
		Str("tenant_id", record.TenantID).
		Str("classification", string(record.Classification)).
		Msg("record ready for FHIR delivery")
	return nil
}

// NoopPublisher discards every record; used in tests and deployments
// with FHIR delivery disabled entirely.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *docmodel.ProcessedRecord) error { return nil }
