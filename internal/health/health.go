// Package health aggregates dependency probes for the service's health
// endpoint. The server registers one probe per backing system and the
// handler reports degraded when any probe fails.
package health

import (
	"context"
	"sync"
	"time"
)

// Probe inspects one dependency and returns nil when it can serve traffic.
type Probe func(ctx context.Context) error

// Check is the outcome of running a single probe.
type Check struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the aggregate outcome across all registered probes.
type Report struct {
	Healthy bool    `json:"healthy"`
	Checks  []Check `json:"checks"`
}

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []namedProbe
}

type namedProbe struct {
	name string
	fn   Probe
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe. Probes run in registration order.
func (r *Registry) Register(name string, fn Probe) {
	r.mu.Lock()
	r.probes = append(r.probes, namedProbe{name: name, fn: fn})
	r.mu.Unlock()
}

// Run executes every registered probe and aggregates the results. An empty
// registry reports healthy.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	probes := make([]namedProbe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	report := Report{Healthy: true, Checks: make([]Check, 0, len(probes))}
	for _, p := range probes {
		start := time.Now()
		err := p.fn(ctx)
		check := Check{
			Name:      p.name,
			OK:        err == nil,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Detail = err.Error()
			report.Healthy = false
		}
		report.Checks = append(report.Checks, check)
	}
	return report
}
