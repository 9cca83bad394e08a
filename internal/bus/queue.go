package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"tradecore/internal/schema"
)

var (
	ErrFeedFull   = errors.New("engine feed full")
	ErrFeedClosed = errors.New("engine feed closed")
)

// Feed is the bounded multi-producer queue in front of the engine. Producers
// block on Publish when the feed is full; the engine drains it sequentially.
type Feed struct {
	ch     chan schema.EngineEvent
	closed uint32
}

// NewFeed allocates a feed with the given capacity.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{ch: make(chan schema.EngineEvent, capacity)}
}

// Publish enqueues an event, blocking while the feed is full.
func (f *Feed) Publish(ctx context.Context, e schema.EngineEvent) error {
	if atomic.LoadUint32(&f.closed) != 0 {
		return ErrFeedClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.ch <- e:
		return nil
	}
}

// TryPublish enqueues an event without blocking.
func (f *Feed) TryPublish(e schema.EngineEvent) error {
	if atomic.LoadUint32(&f.closed) != 0 {
		return ErrFeedClosed
	}
	select {
	case f.ch <- e:
		return nil
	default:
		return ErrFeedFull
	}
}

// C exposes the receive side for the engine worker.
func (f *Feed) C() <-chan schema.EngineEvent {
	return f.ch
}

// Close stops the feed from accepting new events. Buffered events remain
// readable.
func (f *Feed) Close() {
	if atomic.CompareAndSwapUint32(&f.closed, 0, 1) {
		close(f.ch)
	}
}

// Len returns the number of buffered events.
func (f *Feed) Len() int {
	return len(f.ch)
}
