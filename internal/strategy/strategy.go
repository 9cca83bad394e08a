// Package strategy defines the pluggable decision seam. The engine invokes it
// with read access to the full engine state; implementations return the
// cancel and open requests they want dispatched.
package strategy

import (
	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// Strategy produces algorithmic order flow and reacts to state transitions.
type Strategy interface {
	// GenerateAlgoOrders runs after each market item while trading is enabled
	// and the item's exchange is healthy.
	GenerateAlgoOrders(s *state.EngineState) (cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen)

	// OnTradingDisabled runs once on the enabled -> disabled transition.
	OnTradingDisabled(s *state.EngineState) (cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen)

	// OnDisconnect runs once per healthy -> reconnecting edge of an exchange.
	OnDisconnect(s *state.EngineState, exchange schema.ExchangeID) (cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen)
}

// Noop is the default strategy: it never trades. It is the seam user
// strategies replace.
type Noop struct{}

// NewNoop creates the default strategy.
func NewNoop() Noop { return Noop{} }

func (Noop) GenerateAlgoOrders(*state.EngineState) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	return nil, nil
}

func (Noop) OnTradingDisabled(*state.EngineState) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	return nil, nil
}

func (Noop) OnDisconnect(*state.EngineState, schema.ExchangeID) ([]schema.OrderRequestCancel, []schema.OrderRequestOpen) {
	return nil, nil
}
