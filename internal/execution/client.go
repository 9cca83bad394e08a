// Package execution defines the per-exchange execution client seam and the
// mock client used for paper trading and tests. Clients own their venue
// connections and never touch engine state; all outcomes flow back through
// the account stream.
package execution

import (
	"fmt"

	"tradecore/internal/schema"
)

// Client converts engine order requests into venue calls and streams
// asynchronous account events back.
type Client interface {
	// Exchange returns the venue this client trades on.
	Exchange() schema.ExchangeID

	// SendOpen submits an open request. The outcome arrives on the account
	// stream; the error covers enqueue failures only.
	SendOpen(req schema.OrderRequestOpen) error

	// SendCancel submits a cancel request. Same contract as SendOpen.
	SendCancel(req schema.OrderRequestCancel) error

	// AccountStream yields account events in venue order. The channel closes
	// when the client shuts down.
	AccountStream() <-chan schema.AccountStreamEvent

	// Seed returns the initial account snapshot used to seed engine state.
	Seed() schema.AccountSnapshot

	// Close releases the venue connection and closes the account stream.
	Close() error
}

// Config is the persisted execution configuration: a tagged union with one
// variant per client type.
type Config struct {
	Mock *MockConfig `json:"Mock,omitempty"`
}

// Validate enforces exactly one variant.
func (c Config) Validate() error {
	if c.Mock == nil {
		return fmt.Errorf("%w: execution config has no variant", schema.ErrValidation)
	}
	return c.Mock.Validate()
}

// Build constructs the configured client.
func Build(cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewMock(*cfg.Mock)
}
