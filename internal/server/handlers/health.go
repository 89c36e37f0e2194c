// Package handlers implements the HTTP endpoints of the operational server.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth implements HealthChecker.
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthResponse is the body of a healthy /health response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

const checkTimeout = 5 * time.Second

// HealthManager aggregates dependency checks behind the health endpoints.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a HealthManager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

var (
	defaultManagerMu sync.Mutex
	defaultManager   *HealthManager
)

// InitHealthManager installs the process-wide manager used by the server.
func InitHealthManager(version string) *HealthManager {
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	defaultManager = NewHealthManager(version)
	return defaultManager
}

// GetHealthManager returns the process-wide manager, creating an empty one
// if InitHealthManager has not run.
func GetHealthManager() *HealthManager {
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	if defaultManager == nil {
		defaultManager = NewHealthManager("unknown")
	}
	return defaultManager
}

// RegisterChecker adds or replaces a named dependency check.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// HealthHandler runs every registered check and reports aggregate health.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks, healthy := m.runChecks(ctx)
	if !healthy {
		details := map[string]any{"checks": checks}
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "one or more health checks failed", details)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler reports that the process is running. It never consults
// dependency checks: a wedged dependency must not get the process restarted.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "alive", Version: m.version})
}

// ReadinessHandler mirrors HealthHandler; readiness and health share checks.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

func (m *HealthManager) runChecks(ctx context.Context) (map[string]string, bool) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make(map[string]HealthChecker, len(names))
	for _, name := range names {
		checkers[name] = m.checkers[name]
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := checkers[name].CheckHealth(ctx); err != nil {
			results[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "healthy"
	}
	return results, healthy
}
