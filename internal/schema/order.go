package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle stage of an order. Active statuses may move to
// any inactive status; inactive statuses are terminal.
type OrderStatus string

const (
	StatusOpenInFlight   OrderStatus = "open_in_flight"
	StatusOpen           OrderStatus = "open"
	StatusCancelInFlight OrderStatus = "cancel_in_flight"
	StatusFullyFilled    OrderStatus = "fully_filled"
	StatusExpired        OrderStatus = "expired"
	StatusCancelled      OrderStatus = "cancelled"
	StatusRejected       OrderStatus = "rejected"
	StatusOpenFailed     OrderStatus = "open_failed"
)

// IsActive reports whether the status still occupies the venue.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusOpenInFlight, StatusOpen, StatusCancelInFlight:
		return true
	default:
		return false
	}
}

// Validate rejects unknown statuses.
func (s OrderStatus) Validate() error {
	switch s {
	case StatusOpenInFlight, StatusOpen, StatusCancelInFlight,
		StatusFullyFilled, StatusExpired, StatusCancelled, StatusRejected, StatusOpenFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown order status %q", ErrValidation, string(s))
	}
}

// OrderState pairs a status with its status-specific data.
type OrderState struct {
	Status       OrderStatus     `json:"status"`
	OrderID      OrderID         `json:"order_id,omitempty"`
	TimeExchange *time.Time      `json:"time_exchange,omitempty"`
	Filled       decimal.Decimal `json:"filled_quantity"`
	Reason       string          `json:"reason,omitempty"`
}

// OpenInFlight is the state of an order sent but not yet acknowledged.
func OpenInFlight() OrderState {
	return OrderState{Status: StatusOpenInFlight}
}

// Open is the state of an order acknowledged by the exchange.
func Open(id OrderID, timeExchange time.Time, filled decimal.Decimal) OrderState {
	return OrderState{Status: StatusOpen, OrderID: id, TimeExchange: &timeExchange, Filled: filled}
}

// CancelInFlight is the state of an order with an unacknowledged cancel.
func CancelInFlight(id OrderID, filled decimal.Decimal) OrderState {
	return OrderState{Status: StatusCancelInFlight, OrderID: id, Filled: filled}
}

// FullyFilled is the terminal state of a completely executed order.
func FullyFilled(id OrderID, filled decimal.Decimal) OrderState {
	return OrderState{Status: StatusFullyFilled, OrderID: id, Filled: filled}
}

// Cancelled is the terminal state of a cancelled order.
func Cancelled(id OrderID, filled decimal.Decimal) OrderState {
	return OrderState{Status: StatusCancelled, OrderID: id, Filled: filled}
}

// Expired is the terminal state of an order expired by the venue.
func Expired(id OrderID, filled decimal.Decimal) OrderState {
	return OrderState{Status: StatusExpired, OrderID: id, Filled: filled}
}

// Rejected is the terminal state of an order refused by the venue.
func Rejected(reason string) OrderState {
	return OrderState{Status: StatusRejected, Reason: reason}
}

// OpenFailed is the terminal state of an order whose send failed.
func OpenFailed(reason string) OrderState {
	return OrderState{Status: StatusOpenFailed, Reason: reason}
}

// CanTransition reports whether moving to next respects the one-way lifecycle.
func (s OrderState) CanTransition(next OrderState) bool {
	if !s.Status.IsActive() {
		return false
	}
	if next.Status == StatusOpenInFlight && s.Status != StatusOpenInFlight {
		return false
	}
	return true
}

// OrderSnapshot is the engine's view of a single order.
type OrderSnapshot struct {
	Key         OrderKey        `json:"key"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Kind        OrderKind       `json:"kind"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	State       OrderState      `json:"state"`
}

// Validate enforces the order invariants: positive quantity, positive price
// for limit orders and filled quantity within [0, quantity].
func (o OrderSnapshot) Validate() error {
	if err := o.Key.Validate(); err != nil {
		return err
	}
	if err := o.Side.Validate(); err != nil {
		return err
	}
	if err := o.Kind.Validate(); err != nil {
		return err
	}
	if err := o.TimeInForce.Validate(); err != nil {
		return err
	}
	if err := o.State.Status.Validate(); err != nil {
		return err
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: order quantity must be positive, got %s", ErrValidation, o.Quantity)
	}
	if o.Kind != OrderKindMarket && !o.Price.IsPositive() {
		return fmt.Errorf("%w: limit order price must be positive, got %s", ErrValidation, o.Price)
	}
	if o.State.Filled.IsNegative() {
		return fmt.Errorf("%w: filled quantity is negative: %s", ErrValidation, o.State.Filled)
	}
	if o.State.Filled.GreaterThan(o.Quantity) {
		return fmt.Errorf("%w: filled quantity %s exceeds order quantity %s",
			ErrValidation, o.State.Filled, o.Quantity)
	}
	return nil
}

// OrderRequestOpen asks an execution client to place an order. Price is the
// reference price for market orders.
type OrderRequestOpen struct {
	Key         OrderKey        `json:"key"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Kind        OrderKind       `json:"kind"`
	TimeInForce TimeInForce     `json:"time_in_force"`
}

// Validate checks the request the same way an order snapshot is checked.
func (r OrderRequestOpen) Validate() error {
	return r.Snapshot().Validate()
}

// Snapshot builds the in-flight order snapshot recorded at dispatch time.
func (r OrderRequestOpen) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		Key:         r.Key,
		Side:        r.Side,
		Price:       r.Price,
		Quantity:    r.Quantity,
		Kind:        r.Kind,
		TimeInForce: r.TimeInForce,
		State:       OpenInFlight(),
	}
}

// Notional returns price * quantity in the quote asset.
func (r OrderRequestOpen) Notional() decimal.Decimal {
	return r.Price.Mul(r.Quantity)
}

// OrderRequestCancel asks an execution client to cancel an order.
type OrderRequestCancel struct {
	Key     OrderKey `json:"key"`
	OrderID OrderID  `json:"order_id,omitempty"`
}

// Validate checks the key components.
func (r OrderRequestCancel) Validate() error {
	return r.Key.Validate()
}

// Fill is one execution of an order reported by an exchange.
type Fill struct {
	Key          OrderKey        `json:"key"`
	TradeID      TradeID         `json:"trade_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Fees         decimal.Decimal `json:"fees"`
	TimeExchange time.Time       `json:"time_exchange"`
}

// Validate enforces positive price and quantity and non-negative fees.
func (f Fill) Validate() error {
	if err := f.Key.Validate(); err != nil {
		return err
	}
	if err := f.Side.Validate(); err != nil {
		return err
	}
	if f.TradeID == "" {
		return fmt.Errorf("%w: empty trade id", ErrValidation)
	}
	if !f.Price.IsPositive() {
		return fmt.Errorf("%w: fill price must be positive, got %s", ErrValidation, f.Price)
	}
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("%w: fill quantity must be positive, got %s", ErrValidation, f.Quantity)
	}
	if f.Fees.IsNegative() {
		return fmt.Errorf("%w: fill fees are negative: %s", ErrValidation, f.Fees)
	}
	return nil
}
