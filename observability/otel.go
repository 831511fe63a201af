package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

var _ MetricFactory = (*OTelFactory)(nil)

// OTelFactory creates OpenTelemetry instruments from a Meter. Counters are
// Float64Counters so that fractional Add calls are not truncated.
type OTelFactory struct {
	meter metric.Meter
}

// NewOTelFactory returns a factory that creates instruments on meter.
func NewOTelFactory(meter metric.Meter) *OTelFactory {
	return &OTelFactory{meter: meter}
}

// Counter implements MetricFactory. An instrument the SDK refuses to
// create degrades to a no-op counter.
func (f *OTelFactory) Counter(name string) Counter {
	c, err := f.meter.Float64Counter(name, metric.WithDescription("Count of "+name+" events."))
	if err != nil {
		return nopMetric{}
	}
	return otelCounter{c}
}

// Histogram implements MetricFactory.
func (f *OTelFactory) Histogram(name string) Histogram {
	h, err := f.meter.Float64Histogram(name, metric.WithDescription("Distribution of "+name+"."))
	if err != nil {
		return nopMetric{}
	}
	return otelHistogram{h}
}

type otelCounter struct{ c metric.Float64Counter }

func (o otelCounter) Inc()          { o.c.Add(context.Background(), 1) }
func (o otelCounter) Add(v float64) { o.c.Add(context.Background(), v) }

type otelHistogram struct{ h metric.Float64Histogram }

func (o otelHistogram) Observe(v float64) { o.h.Record(context.Background(), v) }

type nopMetric struct{}

func (nopMetric) Inc()            {}
func (nopMetric) Add(float64)     {}
func (nopMetric) Observe(float64) {}
