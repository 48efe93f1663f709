// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/lrucache/metrics"
)

// Accessor is the interface command implementations in package proto
// consume. Both Store and Guarded satisfy it; Store directly for
// single-threaded front ends, Guarded for front ends that fan a shared
// cache out across multiple worker goroutines.
type Accessor interface {
	Put(key, value []byte) bool
	PutIfAbsent(key, value []byte) bool
	Set(key, value []byte) bool
	Delete(key []byte) bool
	Get(key []byte) (value []byte, ok bool)
}

// Guarded serializes all access to one Store behind a single mutex.
// Store's own API is intentionally single-threaded; when multiple
// connections (each potentially running on its own worker goroutine)
// share one cache instance, thread safety is layered on externally
// here rather than built into the engine itself.
type Guarded struct {
	mu sync.Mutex
	s  *Store

	entries   prometheus.Gauge
	bytes     prometheus.Gauge
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewGuarded wraps s for concurrent use, registering gauges/counters
// against m. Pass metrics.Noop() when metrics wiring isn't needed.
func NewGuarded(s *Store, m *metrics.Component) *Guarded {
	return &Guarded{
		s:         s,
		entries:   m.Gauge("entries", "Number of entries currently cached."),
		bytes:     m.Gauge("bytes", "Total key+value bytes currently cached."),
		hits:      m.Counter("hits_total", "Get calls that found the key."),
		misses:    m.Counter("misses_total", "Get calls that did not find the key."),
		evictions: m.Counter("evictions_total", "Entries evicted to make room."),
	}
}

func (g *Guarded) Put(key, value []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := g.s.Evicted()
	ok := g.s.Put(key, value)
	g.afterWrite(before)
	return ok
}

func (g *Guarded) PutIfAbsent(key, value []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := g.s.Evicted()
	ok := g.s.PutIfAbsent(key, value)
	g.afterWrite(before)
	return ok
}

func (g *Guarded) Set(key, value []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := g.s.Evicted()
	ok := g.s.Set(key, value)
	g.afterWrite(before)
	return ok
}

func (g *Guarded) Delete(key []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := g.s.Delete(key)
	g.syncGauges()
	return ok
}

func (g *Guarded) Get(key []byte) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.s.Get(key)
	if ok {
		g.hits.Inc()
	} else {
		g.misses.Inc()
	}
	return v, ok
}

func (g *Guarded) afterWrite(before uint64) {
	if delta := g.s.Evicted() - before; delta > 0 {
		g.evictions.Add(float64(delta))
	}
	g.syncGauges()
}

func (g *Guarded) syncGauges() {
	g.entries.Set(float64(g.s.Len()))
	g.bytes.Set(float64(g.s.CurrentBytes()))
}
