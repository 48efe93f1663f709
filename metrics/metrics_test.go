// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentMetricsAreNamespaced(t *testing.T) {
	reg := New("lrucache")
	c := reg.Sub("store")
	c.Gauge("entries", "entries help").Set(3)
	c.Counter("hits_total", "hits help").Add(5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "lrucache_store_entries 3")
	require.Contains(t, body, "lrucache_store_hits_total 5")
}

func TestNoopIsUsableWithoutACaller(t *testing.T) {
	c := Noop()
	require.NotPanics(t, func() {
		c.Gauge("x", "x help").Set(1)
		c.Counter("y", "y help").Inc()
		c.Histogram("z", "z help", []float64{1, 2, 4}).Observe(1.5)
	})
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New("a")
	b := New("b")
	require.NotPanics(t, func() {
		a.Sub("x").Gauge("g", "help").Set(1)
		b.Sub("x").Gauge("g", "help").Set(1)
	})
	require.True(t, strings.HasPrefix("a_x_g", "a_"))
}
