// Package market defines the merged market event source consumed by the
// orchestrator and the historic file reader used for backtests.
package market

import (
	"tradecore/internal/schema"
)

// Stream is a bounded source of market stream events. Events closes when the
// stream is exhausted or the stream is closed.
type Stream interface {
	Events() <-chan schema.MarketStreamEvent
	Close() error
}

// InMemory replays a fixed sequence of events. It backs unit tests and the
// paper tool's synthetic feeds.
type InMemory struct {
	ch     chan schema.MarketStreamEvent
	closed chan struct{}
}

// NewInMemory builds a stream over the given events.
func NewInMemory(events ...schema.MarketStreamEvent) *InMemory {
	s := &InMemory{
		ch:     make(chan schema.MarketStreamEvent),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(s.ch)
		for _, e := range events {
			select {
			case s.ch <- e:
			case <-s.closed:
				return
			}
		}
	}()
	return s
}

// Events yields the configured events in order.
func (s *InMemory) Events() <-chan schema.MarketStreamEvent {
	return s.ch
}

// Close stops the replay.
func (s *InMemory) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}
