// Package handlers contains the health checks served by the ops server.
package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the health of the process.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /healthz. Healthy is false only when a
// required check fails; a failing optional check marks the process
// Degraded instead.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Degraded  bool                   `json:"degraded,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registeredCheck struct {
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs its named checks in parallel, each with its
// own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	started time.Time
	version string
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]registeredCheck),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout bounds each check.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// AddCheck registers or replaces a required check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, registeredCheck{fn: check})
}

// AddOptionalCheck registers a check whose failure degrades the process
// without failing it, such as the Redis projections.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, registeredCheck{fn: check, optional: true})
}

func (c *CompositeHealthChecker) add(name string, rc registeredCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = rc
}

func (c *CompositeHealthChecker) snapshot() (map[string]registeredCheck, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, rc := range c.checks {
		checks[name] = rc
	}
	return checks, c.timeout
}

func runCheck(ctx context.Context, rc registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: rc.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Check runs every registered check and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	checks, timeout := c.snapshot()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, rc := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runCheck(ctx, rc, timeout)
			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	var failed, degraded []string
	for name, res := range status.Checks {
		switch {
		case res.Healthy:
		case res.Optional:
			degraded = append(degraded, name)
		default:
			failed = append(failed, name)
		}
	}
	slices.Sort(failed)
	slices.Sort(degraded)
	status.Healthy = len(failed) == 0
	status.Degraded = len(degraded) > 0

	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case !status.Healthy:
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case status.Degraded:
		status.Message = "Degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

// Pinger is satisfied by the storage backends and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck wraps a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
