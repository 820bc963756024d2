// Package events provides an in-memory event broker used to publish
// pipeline lifecycle events (document received/completed/failed, job
// progress, corrections, relocations) to subscribers registered through
// Broker.Subscribe. cmd/docuflow serve runs one broker for the pipeline
// and the correction service and registers no subscriber of its own.
package events
