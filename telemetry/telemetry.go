// Package telemetry defines the narrow logging and metrics interfaces
// the sync sessions emit through, plus adapters for common backends.
// Sessions never depend on a concrete logger; anything with Printf
// fits, including the standard library logger and logrus.
package telemetry

// Logger is the minimal logging surface used across the module.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts a plain function to Logger.
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) { f(format, args...) }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// Metrics is the minimal metrics surface: Add accumulates a counter,
// Store sets a gauge.
type Metrics interface {
	Add(name string, delta uint64)
	Store(name string, value uint64)
}

type metricsFuncs struct {
	add   func(string, uint64)
	store func(string, uint64)
}

func (m metricsFuncs) Add(name string, delta uint64) {
	if m.add != nil {
		m.add(name, delta)
	}
}

func (m metricsFuncs) Store(name string, value uint64) {
	if m.store != nil {
		m.store(name, value)
	}
}

// WrapMetrics adapts a pair of functions to Metrics. Either may be
// nil.
func WrapMetrics(add func(name string, delta uint64), store func(name string, value uint64)) Metrics {
	return metricsFuncs{add: add, store: store}
}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return metricsFuncs{} }
