// Package metrics defines and registers all Prometheus metrics emitted by
// docuflow, and a small Timer helper for observing durations into
// histograms. Metrics are exposed for scraping via Handler().
package metrics
