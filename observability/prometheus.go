package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var _ MetricFactory = (*PrometheusFactory)(nil)

// PrometheusFactory creates Prometheus collectors on its own registry.
// Dotted names become underscored ("tally.lot.revoked" is exported as
// tally_lot_revoked). Asking twice for the same name returns the same
// collector.
type PrometheusFactory struct {
	registry *prometheus.Registry
	buckets  []float64

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewPrometheusFactory returns a factory backed by a fresh registry.
// Nil buckets mean prometheus.DefBuckets.
func NewPrometheusFactory(buckets []float64) *PrometheusFactory {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	return &PrometheusFactory{
		registry:   prometheus.NewRegistry(),
		buckets:    buckets,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry returns the registry for use with promhttp.HandlerFor.
func (f *PrometheusFactory) Registry() *prometheus.Registry {
	return f.registry
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.counters[name]; ok {
		return c
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promName(name) + "_total",
		Help: "Count of " + name + " events.",
	})
	f.registry.MustRegister(c)
	f.counters[name] = c

	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.histograms[name]; ok {
		return h
	}

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    promName(name),
		Help:    "Distribution of " + name + ".",
		Buckets: f.buckets,
	})
	f.registry.MustRegister(h)
	f.histograms[name] = h

	return h
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
