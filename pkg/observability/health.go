package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single named health check. Critical checks take
// the service unhealthy when they fail; non-critical checks only degrade it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs registered health checks on demand.
type HealthChecker struct {
	checks map[string]*HealthCheck
	mu     sync.RWMutex
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the result of one health check.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

var startTime = time.Now()

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]*HealthCheck)}
}

// RegisterCheck registers a health check, replacing any existing check with
// the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check runs all registered checks and aggregates the result.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy

	for _, check := range checks {
		status := runCheck(ctx, check)
		results[check.Name] = status

		if status.Status == HealthStatusUnhealthy && check.Critical {
			overall = HealthStatusUnhealthy
		} else if status.Status != HealthStatusHealthy && overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime),
		Checks:    results,
	}
}

func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- check.CheckFunc(checkCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{Duration: time.Since(start).String()}
	if err != nil {
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		} else {
			status.Status = HealthStatusDegraded
		}
		status.Message = err.Error()
	} else {
		status.Status = HealthStatusHealthy
		status.Message = "OK"
	}
	return status
}

// HealthHandler returns an HTTP handler serving the aggregated check result.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// LivenessHandler returns a bare liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns a readiness probe handler: ready only when every
// check passes.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
	}
}

// ExternalServiceCheck creates a non-critical check for an external
// dependency.
func ExternalServiceCheck(name string, checkFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      name,
		CheckFunc: checkFunc,
		Timeout:   10 * time.Second,
		Critical:  false,
	}
}

// StoreCheck creates a critical check for the session store.
func StoreCheck(pingFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "session-store",
		CheckFunc: pingFunc,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}
