// Package clock provides the authoritative engine time source. The engine
// stamps every audit context from it, so swapping the wall clock for the
// historical one is all a backtest needs to reproduce live timing decisions.
package clock

import (
	"sync"
	"time"
)

// Clock yields engine time. SetEventTime is called by the engine with the
// exchange timestamp of the event about to be processed; the wall variant
// ignores it.
type Clock interface {
	TimeEngine() time.Time
	SetEventTime(t time.Time)
}

// Wall reads system UTC.
type Wall struct{}

// NewWall creates a wall clock.
func NewWall() Wall { return Wall{} }

// TimeEngine returns the current UTC time.
func (Wall) TimeEngine() time.Time { return time.Now().UTC() }

// SetEventTime is a no-op for the wall clock.
func (Wall) SetEventTime(time.Time) {}

// Historical is seeded by the first event timestamp it observes; thereafter
// it returns the timestamp of the event currently being processed. The engine
// writes it while execution venues may read it from their own goroutines, so
// access is guarded.
type Historical struct {
	mu      sync.Mutex
	current time.Time
	seeded  bool
}

// NewHistorical creates an unseeded historical clock.
func NewHistorical() *Historical { return &Historical{} }

// TimeEngine returns the timestamp of the current event, or the zero time
// before the first event is seen.
func (h *Historical) TimeEngine() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// SetEventTime advances the clock to the event being processed. Zero
// timestamps and timestamps older than the current one are ignored so that
// engine time stays monotone.
func (h *Historical) SetEventTime(t time.Time) {
	if t.IsZero() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.seeded || t.After(h.current) {
		h.current = t
		h.seeded = true
	}
}

// Seeded reports whether the clock has observed an event timestamp.
func (h *Historical) Seeded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seeded
}
