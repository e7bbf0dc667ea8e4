package telemetry

import "sync/atomic"

// Counters is the session-level counter set. Fields are atomic so
// embedders may read them from any goroutine while a session runs.
type Counters struct {
	DiffsSent        atomic.Uint64
	DiffBytes        atomic.Uint64
	Resyncs          atomic.Uint64
	BaselineMisses   atomic.Uint64
	HistoryEvictions atomic.Uint64
	AcksSent         atomic.Uint64
	AcksAccepted     atomic.Uint64
	AcksRejected     atomic.Uint64
	EventsSent       atomic.Uint64
	EventBytes       atomic.Uint64
	EventsDeferred   atomic.Uint64
	EventOverflows   atomic.Uint64
	StaleDiffs       atomic.Uint64
	UnknownEntities  atomic.Uint64
	DecodeFailures   atomic.Uint64
}

// CountersSnapshot is a plain copy of every counter, suitable for
// JSON encoding in debug endpoints.
type CountersSnapshot struct {
	DiffsSent        uint64 `json:"diffs_sent"`
	DiffBytes        uint64 `json:"diff_bytes"`
	Resyncs          uint64 `json:"resyncs"`
	BaselineMisses   uint64 `json:"baseline_misses"`
	HistoryEvictions uint64 `json:"history_evictions"`
	AcksSent         uint64 `json:"acks_sent"`
	AcksAccepted     uint64 `json:"acks_accepted"`
	AcksRejected     uint64 `json:"acks_rejected"`
	EventsSent       uint64 `json:"events_sent"`
	EventBytes       uint64 `json:"event_bytes"`
	EventsDeferred   uint64 `json:"events_deferred"`
	EventOverflows   uint64 `json:"event_overflows"`
	StaleDiffs       uint64 `json:"stale_diffs"`
	UnknownEntities  uint64 `json:"unknown_entities"`
	DecodeFailures   uint64 `json:"decode_failures"`
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		DiffsSent:        c.DiffsSent.Load(),
		DiffBytes:        c.DiffBytes.Load(),
		Resyncs:          c.Resyncs.Load(),
		BaselineMisses:   c.BaselineMisses.Load(),
		HistoryEvictions: c.HistoryEvictions.Load(),
		AcksSent:         c.AcksSent.Load(),
		AcksAccepted:     c.AcksAccepted.Load(),
		AcksRejected:     c.AcksRejected.Load(),
		EventsSent:       c.EventsSent.Load(),
		EventBytes:       c.EventBytes.Load(),
		EventsDeferred:   c.EventsDeferred.Load(),
		EventOverflows:   c.EventOverflows.Load(),
		StaleDiffs:       c.StaleDiffs.Load(),
		UnknownEntities:  c.UnknownEntities.Load(),
		DecodeFailures:   c.DecodeFailures.Load(),
	}
}

// Publish stores every counter as a gauge on m under stable snake_case
// names. Sessions call it at the end of each Advance.
func (c *Counters) Publish(m Metrics) {
	if m == nil {
		return
	}
	s := c.Snapshot()
	m.Store("diffs_sent", s.DiffsSent)
	m.Store("diff_bytes", s.DiffBytes)
	m.Store("resyncs", s.Resyncs)
	m.Store("baseline_misses", s.BaselineMisses)
	m.Store("history_evictions", s.HistoryEvictions)
	m.Store("acks_sent", s.AcksSent)
	m.Store("acks_accepted", s.AcksAccepted)
	m.Store("acks_rejected", s.AcksRejected)
	m.Store("events_sent", s.EventsSent)
	m.Store("event_bytes", s.EventBytes)
	m.Store("events_deferred", s.EventsDeferred)
	m.Store("event_overflows", s.EventOverflows)
	m.Store("stale_diffs", s.StaleDiffs)
	m.Store("unknown_entities", s.UnknownEntities)
	m.Store("decode_failures", s.DecodeFailures)
}
