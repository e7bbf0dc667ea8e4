package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics adapts an OpenTelemetry meter to the Metrics interface.
// Instruments are created lazily per name; a name whose instrument
// failed to build is silently skipped from then on.
func OtelMetrics(meter metric.Meter) Metrics {
	return &otelMetrics{
		meter:    meter,
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
	}
}

type otelMetrics struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge
}

func (o *otelMetrics) Add(name string, delta uint64) {
	o.mu.Lock()
	counter, ok := o.counters[name]
	if !ok {
		counter, _ = o.meter.Int64Counter(name)
		o.counters[name] = counter
	}
	o.mu.Unlock()
	if counter == nil {
		return
	}
	counter.Add(context.Background(), int64(delta))
}

func (o *otelMetrics) Store(name string, value uint64) {
	o.mu.Lock()
	gauge, ok := o.gauges[name]
	if !ok {
		gauge, _ = o.meter.Int64Gauge(name)
		o.gauges[name] = gauge
	}
	o.mu.Unlock()
	if gauge == nil {
		return
	}
	gauge.Record(context.Background(), int64(value))
}
