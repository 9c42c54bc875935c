package health

import (
	"context"
	"sync"
	"time"
)

// Probe is one named readiness check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Status is the last observed result of a probe.
type Status struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   string
}

// Checker periodically runs readiness probes (store ping, RPC no-op,
// websocket ping) and caches the results for the HTTP surface.
type Checker struct {
	mu       sync.RWMutex
	statuses []Status
	probes   []Probe
	timeout  time.Duration
	interval time.Duration
}

// NewChecker creates a checker over the given probes.
func NewChecker(probes ...Probe) *Checker {
	return &Checker{
		probes:   probes,
		timeout:  5 * time.Second,
		interval: 10 * time.Second,
	}
}

// Start begins periodic checks and runs one immediately.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()

	c.check(ctx)
}

func (c *Checker) check(ctx context.Context) {
	statuses := make([]Status, 0, len(c.probes))
	for _, probe := range c.probes {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		err := probe.Check(probeCtx)
		cancel()

		status := Status{
			Name:    probe.Name,
			Latency: time.Since(start),
			Healthy: err == nil,
		}
		if err != nil {
			status.Error = err.Error()
		}
		statuses = append(statuses, status)
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest probe results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Status(nil), c.statuses...)
}

// Ready reports whether every probe passed its last run. False until the
// first check completes.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.statuses) == 0 {
		return false
	}
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
