// Package metrics holds the node's counter registry. Counters are
// process-local and cheap; the registry exists so the stats call can
// return every counter with its description in one snapshot.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	"skiff.dev/skiff/model"
)

// Counter is a monotonically increasing value.
type Counter struct {
	value       atomic.Uint64
	description string
}

func (c *Counter) Inc() { c.value.Add(1) }

func (c *Counter) Add(n uint64) { c.value.Add(n) }

func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) Describe() string { return c.description }

// Registry is a named set of counters plus read-only functions sampled
// at snapshot time.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	funcs    map[string]funcMetric
}

type funcMetric struct {
	description string
	fn          func() uint64
}

func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]*Counter{},
		funcs:    map[string]funcMetric{},
	}
}

// Counter returns the named counter, creating it on first use. The
// description given on first use wins.
func (r *Registry) Counter(name, description string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = &Counter{description: description}
	r.counters[name] = c
	return c
}

// RegisterFunc exposes an externally owned value, sampled on Snapshot.
func (r *Registry) RegisterFunc(name, description string, fn func() uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = funcMetric{description: description, fn: fn}
}

// Snapshot returns every metric with its current value.
func (r *Registry) Snapshot() map[string]model.CounterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.CounterStats, len(r.counters)+len(r.funcs))
	for name, c := range r.counters {
		out[name] = model.CounterStats{Value: c.Value(), Description: c.description}
	}
	for name, f := range r.funcs {
		out[name] = model.CounterStats{Value: f.fn(), Description: f.description}
	}
	return out
}

// Names returns all metric names, sorted, for stable listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters)+len(r.funcs))
	for name := range r.counters {
		names = append(names, name)
	}
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
