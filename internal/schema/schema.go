package schema

import (
	"fmt"
	"time"
)

// Sequence is the strictly increasing label assigned to every processed event.
type Sequence uint64

// ExchangeIndex is the dense index of an exchange inside the catalogue.
type ExchangeIndex int

// AssetIndex is the dense index of an (exchange, asset) pair inside the catalogue.
type AssetIndex int

// InstrumentIndex is the dense index of an instrument inside the catalogue.
type InstrumentIndex int

// ExchangeID is the snake_case identifier of a trading venue.
type ExchangeID string

// StrategyID identifies the strategy that owns an order.
type StrategyID string

// ClientOrderID is the engine-chosen order identifier, unique per
// (exchange, instrument, strategy).
type ClientOrderID string

// OrderID is the exchange-assigned order identifier.
type OrderID string

// TradeID is the exchange-assigned trade identifier.
type TradeID string

// DefaultStrategyID is used when a request does not name a strategy.
const DefaultStrategyID StrategyID = "default"

var knownExchanges = map[ExchangeID]struct{}{
	"mock":                {},
	"binance_spot":        {},
	"binance_futures_usd": {},
	"kraken":              {},
	"coinbase":            {},
	"okx":                 {},
	"bybit":               {},
}

// Validate rejects unknown exchange identifiers.
func (id ExchangeID) Validate() error {
	if _, ok := knownExchanges[id]; !ok {
		return fmt.Errorf("%w: unknown exchange %q", ErrValidation, string(id))
	}
	return nil
}

// Validate rejects empty strategy identifiers.
func (id StrategyID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty strategy id", ErrValidation)
	}
	return nil
}

// Validate rejects empty client order identifiers.
func (id ClientOrderID) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty client order id", ErrValidation)
	}
	return nil
}

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Validate rejects unknown sides.
func (s Side) Validate() error {
	switch s {
	case SideBuy, SideSell:
		return nil
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidation, string(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind distinguishes market from limit orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// Validate rejects unknown order kinds.
func (k OrderKind) Validate() error {
	switch k {
	case OrderKindMarket, OrderKindLimit:
		return nil
	default:
		return fmt.Errorf("%w: unknown order kind %q", ErrValidation, string(k))
	}
}

// TimeInForcePolicy is the lifetime policy of an order.
type TimeInForcePolicy string

const (
	PolicyGoodUntilCancelled TimeInForcePolicy = "good_until_cancelled"
	PolicyGoodUntilDate      TimeInForcePolicy = "good_until_date"
	PolicyFillOrKill         TimeInForcePolicy = "fill_or_kill"
	PolicyImmediateOrCancel  TimeInForcePolicy = "immediate_or_cancel"
)

// TimeInForce pairs a lifetime policy with its policy-specific data.
type TimeInForce struct {
	Policy   TimeInForcePolicy `json:"policy"`
	PostOnly bool              `json:"post_only,omitempty"`
	Expiry   *time.Time        `json:"expiry,omitempty"`
}

// GTC builds a good-until-cancelled time in force.
func GTC(postOnly bool) TimeInForce {
	return TimeInForce{Policy: PolicyGoodUntilCancelled, PostOnly: postOnly}
}

// GTD builds a good-until-date time in force.
func GTD(expiry time.Time) TimeInForce {
	return TimeInForce{Policy: PolicyGoodUntilDate, Expiry: &expiry}
}

// FOK builds a fill-or-kill time in force.
func FOK() TimeInForce {
	return TimeInForce{Policy: PolicyFillOrKill}
}

// IOC builds an immediate-or-cancel time in force.
func IOC() TimeInForce {
	return TimeInForce{Policy: PolicyImmediateOrCancel}
}

// Validate checks policy-specific constraints.
func (t TimeInForce) Validate() error {
	switch t.Policy {
	case PolicyGoodUntilCancelled:
		return nil
	case PolicyGoodUntilDate:
		if t.Expiry == nil {
			return fmt.Errorf("%w: good_until_date requires expiry", ErrValidation)
		}
		return nil
	case PolicyFillOrKill, PolicyImmediateOrCancel:
		if t.PostOnly {
			return fmt.Errorf("%w: post_only is only valid for good_until_cancelled", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown time in force %q", ErrValidation, string(t.Policy))
	}
}

// TradingState gates algorithmic order generation.
type TradingState string

const (
	TradingEnabled  TradingState = "enabled"
	TradingDisabled TradingState = "disabled"
)

// Validate rejects unknown trading states.
func (s TradingState) Validate() error {
	switch s {
	case TradingEnabled, TradingDisabled:
		return nil
	default:
		return fmt.Errorf("%w: unknown trading state %q", ErrValidation, string(s))
	}
}

// Health is the connectivity status of one exchange channel.
type Health string

const (
	Healthy      Health = "healthy"
	Reconnecting Health = "reconnecting"
)

// OrderKey is the engine's unique order identity.
type OrderKey struct {
	Exchange   ExchangeIndex   `json:"exchange"`
	Instrument InstrumentIndex `json:"instrument"`
	Strategy   StrategyID      `json:"strategy"`
	ClientID   ClientOrderID   `json:"client_order_id"`
}

// Validate checks the string components of the key.
func (k OrderKey) Validate() error {
	if err := k.Strategy.Validate(); err != nil {
		return err
	}
	return k.ClientID.Validate()
}

// EngineContext is attached to every audit tick.
type EngineContext struct {
	Sequence Sequence  `json:"sequence"`
	Time     time.Time `json:"time"`
}
