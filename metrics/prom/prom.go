// Package prom exports cache metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexanderwhatley/guava/cache"
)

// Adapter implements cache.Metrics and exports Prometheus
// counters/gauges/histograms. Safe for concurrent use; all Prometheus
// metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evicts     *prometheus.CounterVec
	loadFails  prometheus.Counter
	loadDur    prometheus.Histogram
	sizeEnt    prometheus.Gauge
	sizeWeight prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by cause",
				ConstLabels: constLabels,
			},
			[]string{"cause"},
		),
		loadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_failures_total",
			Help:        "Loader runs that returned an error",
			ConstLabels: constLabels,
		}),
		loadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "load_duration_seconds",
			Help:      "Time spent in the value loader",
			// Loads usually hit a backing store: smallest bucket is 16us, biggest ~4s.
			Buckets:     prometheus.ExponentialBuckets(0.000016, 4, 10),
			ConstLabels: constLabels,
		}),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_weight",
			Help:        "Total resident weight",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.loadFails, a.loadDur, a.sizeEnt, a.sizeWeight)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a cause label.
func (a *Adapter) Evict(c cache.RemovalCause) {
	a.evicts.WithLabelValues(c.String()).Inc()
}

// ObserveLoad records the loader's wall time and counts failures.
func (a *Adapter) ObserveLoad(d time.Duration, err error) {
	a.loadDur.Observe(d.Seconds())
	if err != nil {
		a.loadFails.Inc()
	}
}

// Size updates gauges for the number of entries and total weight.
func (a *Adapter) Size(entries int, weight int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeWeight.Set(float64(weight))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
