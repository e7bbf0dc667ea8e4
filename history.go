package worldsync

import (
	"sort"
	"time"
)

type historyFrame struct {
	snapshot   *worldSnapshot
	recordedAt time.Time
}

// history retains recent tick snapshots to serve as diff baselines.
// Frames age out by count and by wall-clock age; the newest frame is
// never evicted. A client whose acknowledged tick has aged out gets a
// full resync instead of a delta, so eviction bounds memory without
// breaking convergence. Only the server goroutine touches it.
type history struct {
	frames   []historyFrame
	capacity int
	maxAge   time.Duration
	now      func() time.Time
}

func newHistory(capacity int, maxAge time.Duration, now func() time.Time) *history {
	if capacity < 1 {
		capacity = 1
	}
	if now == nil {
		now = time.Now
	}
	return &history{capacity: capacity, maxAge: maxAge, now: now}
}

// record appends the snapshot and applies both eviction rules. It
// returns how many frames each rule removed, for telemetry.
func (h *history) record(s *worldSnapshot) (expired, over int) {
	h.frames = append(h.frames, historyFrame{snapshot: s, recordedAt: h.now()})

	drop := 0
	if h.maxAge > 0 {
		cutoff := h.now().Add(-h.maxAge)
		for drop < len(h.frames)-1 && h.frames[drop].recordedAt.Before(cutoff) {
			drop++
		}
		expired = drop
	}
	if remaining := len(h.frames) - drop; remaining > h.capacity {
		over = remaining - h.capacity
		drop += over
	}
	if drop > 0 {
		h.frames = append(h.frames[:0], h.frames[drop:]...)
	}
	return expired, over
}

// lookup returns the retained snapshot for tick, if any.
func (h *history) lookup(tick Tick) (*worldSnapshot, bool) {
	i := sort.Search(len(h.frames), func(i int) bool {
		return h.frames[i].snapshot.tick >= tick
	})
	if i == len(h.frames) || h.frames[i].snapshot.tick != tick {
		return nil, false
	}
	return h.frames[i].snapshot, true
}

func (h *history) len() int { return len(h.frames) }
