// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the core components that report metrics (store
// and pool) to a shared Prometheus registry and exposes it over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles a prometheus.Registerer with constructors scoped to a
// single namespace/subsystem, mirroring the per-component registration
// style the teacher uses around its metrics/prometheus Gatherer.
type Registry struct {
	reg       *prometheus.Registry
	namespace string
}

// New creates a registry with the standard process/go collectors
// registered, plus anything this module adds per-component.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &Registry{reg: reg, namespace: namespace}
}

// Sub returns a Component for the given subsystem, sharing the
// underlying prometheus.Registerer.
func (r *Registry) Sub(subsystem string) *Component {
	return &Component{reg: r.reg, namespace: r.namespace, subsystem: subsystem}
}

// Handler returns the HTTP handler to mount at e.g. /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Component is a namespaced/subsystemed set of metric constructors used by
// one core package (store or pool).
type Component struct {
	reg       prometheus.Registerer
	namespace string
	subsystem string
}

func (c *Component) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
	}
}

// Gauge registers a gauge metric. Registering the same name twice on one
// registry panics.
func (c *Component) Gauge(name, help string) prometheus.Gauge {
	return promauto.With(c.reg).NewGauge(prometheus.GaugeOpts(c.opts(name, help)))
}

// Counter registers a counter metric. Registering the same name twice on
// one registry panics.
func (c *Component) Counter(name, help string) prometheus.Counter {
	return promauto.With(c.reg).NewCounter(prometheus.CounterOpts(c.opts(name, help)))
}

// Histogram registers a histogram metric. Registering the same name twice
// on one registry panics.
func (c *Component) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	opts := prometheus.HistogramOpts(c.opts(name, help))
	opts.Buckets = buckets
	return promauto.With(c.reg).NewHistogram(opts)
}

// Noop returns a Component backed by a private registry, for tests and
// call sites that don't care about metrics wiring.
func Noop() *Component {
	return New("lrucache").Sub("noop")
}
