package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// FuncChecker adapts an arbitrary ping call (sqlx.DB.PingContext,
// redis.Client.Ping, ...) into a Checker, for dependencies reached
// through a client library rather than a raw HTTP or TCP dial.
type FuncChecker struct {
	CheckKind CheckType
	Fn        func(ctx context.Context) error
}

// Check runs Fn and reports its error, if any, as the failure message.
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.Fn(ctx); err != nil {
		return Result{Healthy: false, Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "ok", CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type.
func (f *FuncChecker) Type() CheckType {
	return f.CheckKind
}

// Registry aggregates the pipeline's named dependency checkers (Postgres,
// Redis, the OCR provider, the extractor) behind a single readiness
// route.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds or replaces the checker for a named dependency.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// CheckAll runs every registered checker and returns its result keyed by
// dependency name.
func (r *Registry) CheckAll(ctx context.Context) map[string]Result {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	for name, c := range checkers {
		results[name] = c.Check(ctx)
	}
	return results
}

// healthzResponse is the JSON body served at /healthz.
type healthzResponse struct {
	Healthy bool                   `json:"healthy"`
	Checks  map[string]checkStatus `json:"checks"`
}

type checkStatus struct {
	Healthy    bool   `json:"healthy"`
	Message    string `json:"message"`
	DurationMs int64  `json:"duration_ms"`
}

// Handler serves the aggregate readiness check: 200 when every
// registered dependency is healthy, 503 otherwise.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		results := r.CheckAll(req.Context())
		resp := healthzResponse{Healthy: true, Checks: make(map[string]checkStatus, len(results))}
		for name, result := range results {
			if !result.Healthy {
				resp.Healthy = false
			}
			resp.Checks[name] = checkStatus{
				Healthy:    result.Healthy,
				Message:    result.Message,
				DurationMs: result.Duration.Milliseconds(),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
