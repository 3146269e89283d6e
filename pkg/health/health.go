// Package health implements /livez and /readyz probes. Checks run on their
// own tickers and flip state on consecutive-result thresholds, so a single
// slow poll does not bounce the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports the health of one dependency. Nil means healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its state. The consecutive counters are
// touched only by run(), which executes on a single goroutine; healthy and
// lastErr are the handler-facing side and use atomics.
type probe struct {
	name             string
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails int
	consecutiveOK    int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{
		name:             name,
		timeout:          timeout,
		check:            check,
		failureThreshold: 3,
		successThreshold: 1,
	}
	// Healthy until proven otherwise, so registration order cannot cause a
	// 503 window on boot.
	p.healthy.Store(true)
	return p
}

func (c *probe) isHealthy() bool {
	return c.healthy.Load()
}

func (c *probe) getLastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and applies the thresholds. Single-goroutine
// only.
func (c *probe) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.check(checkCtx)
	c.lastErr.Store(&err)

	if err != nil {
		c.consecutiveOK = 0
		c.consecutiveFails++
		if c.consecutiveFails >= c.failureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.consecutiveFails = 0
	c.consecutiveOK++
	if c.consecutiveOK >= c.successThreshold {
		c.healthy.Store(true)
	}
}

// loop polls the check until ctx is cancelled, starting with an immediate
// run so state is fresh before the first tick.
func (c *probe) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Health is the probe registry and HTTP surface. A fresh instance reports
// not-ready; SetReady(true) after wiring completes, SetReady(false) to drain
// during shutdown.
type Health struct {
	ready atomic.Bool

	// mu covers the probe slices and cancel. Handlers copy the slice under
	// RLock and read probe state through atomics, so no lock is held across
	// a check.
	mu              sync.RWMutex
	livenessChecks  []*probe
	readinessChecks []*probe
	cancel          context.CancelFunc
}

func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check gating /livez. Liveness is about the
// process itself (goroutine leaks, deadlocks), not its dependencies.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks = append(h.livenessChecks, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check gating /readyz: can this instance take
// traffic right now (database reachable, broker connected).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, newProbe(name, timeout, check))
}

// Start launches one polling goroutine per registered probe. Register
// everything first; Stop cancels them all.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := make([]*probe, 0, len(h.livenessChecks)+len(h.readinessChecks))
	checks = append(checks, h.livenessChecks...)
	checks = append(checks, h.readinessChecks...)
	h.mu.Unlock()

	for _, c := range checks {
		go c.loop(ctx, interval)
	}
}

// SetReady flips the manual readiness gate. The shutdown path sets false
// before the listener closes so the balancer stops routing here.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady is true only when the manual gate is open and every readiness
// probe is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	checks := h.readinessChecks
	h.mu.RUnlock()

	for _, c := range checks {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

// Stop cancels the polling goroutines. Idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} or 503 with the failing
// checks listed.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make([]*probe, len(h.livenessChecks))
	copy(checks, h.livenessChecks)
	h.mu.RUnlock()

	writeStatus(w, failing(checks))
}

// ReadyEndpoint serves /readyz. The manual gate is reported as a pseudo-check
// so the 503 body says why the instance is out of rotation.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()

	h.mu.RLock()
	checks := make([]*probe, len(h.readinessChecks))
	copy(checks, h.readinessChecks)
	h.mu.RUnlock()

	failures := failing(checks)
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// failing maps unhealthy probe names to their last recorded error. It never
// re-runs a check on the request path.
func failing(checks []*probe) map[string]string {
	failures := make(map[string]string)
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		if err := c.getLastError(); err != nil {
			failures[c.name] = err.Error()
		} else {
			failures[c.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
