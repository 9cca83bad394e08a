// Package audit carries the engine's ordered, lossless decision trace: one
// snapshot tick, one process tick per event, one terminator. The channel is
// unbounded so a slow consumer never alters the engine's cadence.
package audit

import (
	"fmt"
	"sync"

	"github.com/yanun0323/logs"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// Output is a typed record of one dispatched request.
type Output struct {
	SentOpen   *schema.OrderRequestOpen   `json:"SentOpen,omitempty"`
	SentCancel *schema.OrderRequestCancel `json:"SentCancel,omitempty"`
}

// ErrorClass labels an audit error entry.
type ErrorClass string

const (
	ClassRecoverable   ErrorClass = "Recoverable"
	ClassUnrecoverable ErrorClass = "Unrecoverable"
)

// Error is one failure recorded in a process tick.
type Error struct {
	Class   ErrorClass                 `json:"class"`
	Message string                     `json:"message"`
	Open    *schema.OrderRequestOpen   `json:"open,omitempty"`
	Cancel  *schema.OrderRequestCancel `json:"cancel,omitempty"`
}

// Process records the handling of one engine event.
type Process struct {
	EventKind string             `json:"event_kind"`
	Event     schema.EngineEvent `json:"event"`
	Outputs   []Output           `json:"outputs,omitempty"`
	Errors    []Error            `json:"errors,omitempty"`
}

// Event is the tick payload union.
type Event struct {
	Snapshot  *state.Snapshot `json:"Snapshot,omitempty"`
	Process   *Process        `json:"Process,omitempty"`
	FeedEnded bool            `json:"FeedEnded,omitempty"`
}

// Tick pairs an engine context with an audit event.
type Tick struct {
	Context schema.EngineContext `json:"context"`
	Event   Event                `json:"event"`
}

// Recorder buffers ticks for at most one consumer. Emit never blocks; after
// the consumer detaches, emission becomes a no-op and is logged once.
type Recorder struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Tick
	closed   bool
	detached bool
	taken    bool
	warned   bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Emit appends a tick. It reports whether the tick was recorded; ticks
// arriving after close or detach are dropped.
func (r *Recorder) Emit(t Tick) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.detached {
		if !r.warned {
			r.warned = true
			logs.Warn("audit consumer detached; subsequent ticks are dropped")
		}
		return false
	}
	r.buf = append(r.buf, t)
	r.cond.Signal()
	return true
}

// Close terminates the stream; buffered ticks stay readable.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}

// Take transfers the consumer side. It may be called once.
func (r *Recorder) Take() (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken {
		return nil, fmt.Errorf("%w: audit stream already taken", schema.ErrValidation)
	}
	r.taken = true
	return &Stream{r: r}, nil
}

// Stream is the single-consumer read side of a recorder.
type Stream struct {
	r *Recorder
}

// Next blocks until a tick is available. ok is false once the recorder is
// closed and drained, or after Detach.
func (s *Stream) Next() (Tick, bool) {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 {
		if r.closed || r.detached {
			return Tick{}, false
		}
		r.cond.Wait()
	}
	t := r.buf[0]
	r.buf = r.buf[1:]
	return t, true
}

// Drain returns every buffered tick without blocking for more.
func (s *Stream) Drain() []Tick {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out
}

// Detach abandons consumption; the recorder drops subsequent ticks.
func (s *Stream) Detach() {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = true
	r.buf = nil
	r.cond.Broadcast()
}
