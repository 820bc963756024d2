// Package health provides health check mechanisms for monitoring the
// pipeline's external dependencies: Postgres, Redis, the OCR provider,
// and the extractor endpoint.
//
// Three checker strategies are implemented: HTTPChecker (for
// HTTP-reachable providers such as the OCR and extractor endpoints),
// TCPChecker (for a raw address reachability probe), and FuncChecker
// (for dependencies reached through a client library's own ping call,
// such as sqlx's PingContext or go-redis's Ping). Status tracks
// consecutive failures against a configurable retry threshold before
// flipping unhealthy. Registry aggregates named checkers behind the
// /healthz route cmd/docuflow serve registers; its handler runs every
// checker on each request without going through Status, so one failed
// check makes that response unhealthy.
package health
