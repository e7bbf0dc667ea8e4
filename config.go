package worldsync

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"worldsync/telemetry"
)

const (
	defaultHistoryCapacity   = 64
	defaultHistoryMaxAge     = 5 * time.Second
	defaultEventRetryTicks   = 8
	defaultMaxQueuedEvents   = 1024
	defaultFailureThreshold  = 100
	defaultFailureMinSamples = 64
)

// DiffSink observes every replication frame the server sends, e.g. to
// record a session for replay. Errors are logged and do not interrupt
// the tick.
type DiffSink interface {
	RecordDiff(tick Tick, client ClientID, resync bool, frame []byte) error
}

// Config tunes a session. The zero value is usable; zero fields fall
// back to the defaults below. FailureThreshold counts dropped frames
// per ten thousand received before a session is reported poisoned;
// zero keeps the default, negative values are clamped to it.
type Config struct {
	// HistoryCapacity bounds how many tick snapshots the server
	// retains as diff baselines.
	HistoryCapacity int `env:"WORLDSYNC_HISTORY_CAPACITY"`
	// HistoryMaxAge bounds baseline age; older snapshots are evicted
	// even under capacity.
	HistoryMaxAge time.Duration `env:"WORLDSYNC_HISTORY_MAX_AGE"`
	// EventRetryTicks is how many Receive calls a mapped event waits
	// for its entity pairing before it is dropped.
	EventRetryTicks int `env:"WORLDSYNC_EVENT_RETRY_TICKS"`
	// MaxQueuedEvents bounds each channel's undrained inbox; overflow
	// drops the oldest frame.
	MaxQueuedEvents int `env:"WORLDSYNC_MAX_QUEUED_EVENTS"`
	// FailureThreshold is the poison trip rate per ten thousand
	// frames.
	FailureThreshold uint64 `env:"WORLDSYNC_FAILURE_THRESHOLD"`
	// FailureMinSamples is the minimum frame count before the
	// threshold applies.
	FailureMinSamples uint64 `env:"WORLDSYNC_FAILURE_MIN_SAMPLES"`

	Logger  telemetry.Logger  `env:"-"`
	Metrics telemetry.Metrics `env:"-"`
	Sink    DiffSink          `env:"-"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:   defaultHistoryCapacity,
		HistoryMaxAge:     defaultHistoryMaxAge,
		EventRetryTicks:   defaultEventRetryTicks,
		MaxQueuedEvents:   defaultMaxQueuedEvents,
		FailureThreshold:  defaultFailureThreshold,
		FailureMinSamples: defaultFailureMinSamples,
	}
}

// ConfigFromEnv returns DefaultConfig with environment overrides
// applied.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills unset fields so sessions never have to guard.
func (c Config) withDefaults() Config {
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = defaultHistoryMaxAge
	}
	if c.EventRetryTicks <= 0 {
		c.EventRetryTicks = defaultEventRetryTicks
	}
	if c.MaxQueuedEvents <= 0 {
		c.MaxQueuedEvents = defaultMaxQueuedEvents
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.FailureMinSamples == 0 {
		c.FailureMinSamples = defaultFailureMinSamples
	}
	if c.Logger == nil {
		c.Logger = telemetry.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	return c
}
