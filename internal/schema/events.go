package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of an order book.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// MarketTrade is a public trade print.
type MarketTrade struct {
	ID     TradeID         `json:"id"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Side   Side            `json:"side"`
}

// OrderBookL1 is the top of book.
type OrderBookL1 struct {
	LastUpdateTime time.Time `json:"last_update_time"`
	BestBid        *Level    `json:"best_bid,omitempty"`
	BestAsk        *Level    `json:"best_ask,omitempty"`
}

// Mid returns the mid price, or false when one side is missing.
func (b OrderBookL1) Mid() (decimal.Decimal, bool) {
	if b.BestBid == nil || b.BestAsk == nil {
		return decimal.Decimal{}, false
	}
	return b.BestBid.Price.Add(b.BestAsk.Price).Div(decimal.NewFromInt(2)), true
}

// OrderBookEvent carries depth snapshot/update metadata. Levels are not
// retained by the core; depth-driven strategies need a richer path.
type OrderBookEvent struct {
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Candle is one OHLCV bar.
type Candle struct {
	CloseTime  time.Time       `json:"close_time"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount uint64          `json:"trade_count"`
}

// Liquidation is a forced position close reported by a venue.
type Liquidation struct {
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Time     time.Time       `json:"time"`
}

// MarketDataKind is a tagged union; exactly one field is set.
type MarketDataKind struct {
	Trade             *MarketTrade    `json:"Trade,omitempty"`
	OrderBookL1       *OrderBookL1    `json:"OrderBookL1,omitempty"`
	OrderBookSnapshot *OrderBookEvent `json:"OrderBookSnapshot,omitempty"`
	OrderBookUpdate   *OrderBookEvent `json:"OrderBookUpdate,omitempty"`
	Candle            *Candle         `json:"Candle,omitempty"`
	Liquidation       *Liquidation    `json:"Liquidation,omitempty"`
}

// Validate enforces that exactly one variant is present.
func (k MarketDataKind) Validate() error {
	n := 0
	if k.Trade != nil {
		n++
	}
	if k.OrderBookL1 != nil {
		n++
	}
	if k.OrderBookSnapshot != nil {
		n++
	}
	if k.OrderBookUpdate != nil {
		n++
	}
	if k.Candle != nil {
		n++
	}
	if k.Liquidation != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: market data kind must have exactly one variant, got %d", ErrValidation, n)
	}
	return nil
}

// MarketEvent is one normalized market data item.
type MarketEvent struct {
	TimeExchange time.Time       `json:"time_exchange"`
	TimeReceived time.Time       `json:"time_received"`
	Exchange     ExchangeID      `json:"exchange"`
	Instrument   InstrumentIndex `json:"instrument"`
	Kind         MarketDataKind  `json:"kind"`
}

// Price extracts a reference price: the trade price, the L1 mid, the candle
// close or the liquidation price. Book deltas carry no price.
func (e MarketEvent) Price() (decimal.Decimal, bool) {
	switch {
	case e.Kind.Trade != nil:
		return e.Kind.Trade.Price, true
	case e.Kind.OrderBookL1 != nil:
		return e.Kind.OrderBookL1.Mid()
	case e.Kind.Candle != nil:
		return e.Kind.Candle.Close, true
	case e.Kind.Liquidation != nil:
		return e.Kind.Liquidation.Price, true
	default:
		return decimal.Decimal{}, false
	}
}

// Validate checks the exchange identifier and the kind union.
func (e MarketEvent) Validate() error {
	if err := e.Exchange.Validate(); err != nil {
		return err
	}
	if e.Instrument < 0 {
		return fmt.Errorf("%w: negative instrument index %d", ErrValidation, e.Instrument)
	}
	return e.Kind.Validate()
}

// OrderError reports a failed open or cancel for a known order key.
type OrderError struct {
	Key    OrderKey `json:"key"`
	Reason string   `json:"reason"`
}

// OrderResult is the venue outcome of an open or cancel request.
type OrderResult struct {
	Ok  *OrderSnapshot `json:"Ok,omitempty"`
	Err *OrderError    `json:"Err,omitempty"`
}

// AccountEventKind is a tagged union; exactly one field is set.
type AccountEventKind struct {
	Snapshot        *AccountSnapshot `json:"Snapshot,omitempty"`
	BalanceSnapshot *AssetBalance    `json:"BalanceSnapshot,omitempty"`
	OrderSnapshot   *OrderSnapshot   `json:"OrderSnapshot,omitempty"`
	OrderOpened     *OrderResult     `json:"OrderOpened,omitempty"`
	OrderCancelled  *OrderResult     `json:"OrderCancelled,omitempty"`
	Trade           *Fill            `json:"Trade,omitempty"`
}

// Validate enforces that exactly one variant is present.
func (k AccountEventKind) Validate() error {
	n := 0
	if k.Snapshot != nil {
		n++
	}
	if k.BalanceSnapshot != nil {
		n++
	}
	if k.OrderSnapshot != nil {
		n++
	}
	if k.OrderOpened != nil {
		n++
	}
	if k.OrderCancelled != nil {
		n++
	}
	if k.Trade != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: account event kind must have exactly one variant, got %d", ErrValidation, n)
	}
	return nil
}

// AccountEvent is one item from an execution client's account stream.
type AccountEvent struct {
	Exchange ExchangeID       `json:"exchange"`
	Kind     AccountEventKind `json:"kind"`
}

// Validate checks the exchange identifier and the kind union.
func (e AccountEvent) Validate() error {
	if err := e.Exchange.Validate(); err != nil {
		return err
	}
	return e.Kind.Validate()
}

// MarketStreamEvent wraps market items with per-exchange reconnection markers.
type MarketStreamEvent struct {
	Reconnecting ExchangeID   `json:"Reconnecting,omitempty"`
	Item         *MarketEvent `json:"Item,omitempty"`
}

// AccountStreamEvent wraps account items with per-exchange reconnection markers.
type AccountStreamEvent struct {
	Reconnecting ExchangeID    `json:"Reconnecting,omitempty"`
	Item         *AccountEvent `json:"Item,omitempty"`
}

// Command is a caller-issued instruction routed through the feed.
type Command struct {
	SendOpenRequests   []OrderRequestOpen   `json:"SendOpenRequests,omitempty"`
	SendCancelRequests []OrderRequestCancel `json:"SendCancelRequests,omitempty"`
	CancelOrders       *InstrumentFilter    `json:"CancelOrders,omitempty"`
	ClosePositions     *InstrumentFilter    `json:"ClosePositions,omitempty"`
}

// Validate enforces exactly one command variant with valid contents.
func (c Command) Validate() error {
	n := 0
	if c.SendOpenRequests != nil {
		n++
		for _, r := range c.SendOpenRequests {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	if c.SendCancelRequests != nil {
		n++
		for _, r := range c.SendCancelRequests {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	if c.CancelOrders != nil {
		n++
		if err := c.CancelOrders.Validate(); err != nil {
			return err
		}
	}
	if c.ClosePositions != nil {
		n++
		if err := c.ClosePositions.Validate(); err != nil {
			return err
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: command must have exactly one variant, got %d", ErrValidation, n)
	}
	return nil
}

// EngineEvent is the single input type of the engine feed.
type EngineEvent struct {
	Shutdown           bool                `json:"Shutdown,omitempty"`
	TradingStateUpdate TradingState        `json:"TradingStateUpdate,omitempty"`
	Command            *Command            `json:"Command,omitempty"`
	Account            *AccountStreamEvent `json:"Account,omitempty"`
	Market             *MarketStreamEvent  `json:"Market,omitempty"`
}

// ShutdownEvent builds the graceful termination sentinel.
func ShutdownEvent() EngineEvent {
	return EngineEvent{Shutdown: true}
}

// TradingStateEvent builds a trading state update event.
func TradingStateEvent(s TradingState) EngineEvent {
	return EngineEvent{TradingStateUpdate: s}
}

// CommandEvent wraps a command for the feed.
func CommandEvent(c Command) EngineEvent {
	return EngineEvent{Command: &c}
}

// MarketItemEvent wraps a market item for the feed.
func MarketItemEvent(e MarketEvent) EngineEvent {
	return EngineEvent{Market: &MarketStreamEvent{Item: &e}}
}

// MarketReconnectingEvent marks a market session break for one exchange.
func MarketReconnectingEvent(exchange ExchangeID) EngineEvent {
	return EngineEvent{Market: &MarketStreamEvent{Reconnecting: exchange}}
}

// AccountItemEvent wraps an account item for the feed.
func AccountItemEvent(e AccountEvent) EngineEvent {
	return EngineEvent{Account: &AccountStreamEvent{Item: &e}}
}

// AccountReconnectingEvent marks an account session break for one exchange.
func AccountReconnectingEvent(exchange ExchangeID) EngineEvent {
	return EngineEvent{Account: &AccountStreamEvent{Reconnecting: exchange}}
}

// Kind names the event variant for audit records and metrics.
func (e EngineEvent) Kind() string {
	switch {
	case e.Shutdown:
		return "shutdown"
	case e.TradingStateUpdate != "":
		return "trading_state_update"
	case e.Command != nil:
		return "command"
	case e.Account != nil:
		return "account"
	case e.Market != nil:
		return "market"
	default:
		return "unknown"
	}
}

// Validate enforces exactly one variant with valid contents.
func (e EngineEvent) Validate() error {
	n := 0
	if e.Shutdown {
		n++
	}
	if e.TradingStateUpdate != "" {
		n++
		if err := e.TradingStateUpdate.Validate(); err != nil {
			return err
		}
	}
	if e.Command != nil {
		n++
		if err := e.Command.Validate(); err != nil {
			return err
		}
	}
	if e.Account != nil {
		n++
		if e.Account.Reconnecting == "" && e.Account.Item == nil {
			return fmt.Errorf("%w: empty account stream event", ErrValidation)
		}
		if e.Account.Item != nil {
			if e.Account.Reconnecting != "" {
				return fmt.Errorf("%w: account stream event has two variants", ErrValidation)
			}
			if err := e.Account.Item.Validate(); err != nil {
				return err
			}
		}
	}
	if e.Market != nil {
		n++
		if e.Market.Reconnecting == "" && e.Market.Item == nil {
			return fmt.Errorf("%w: empty market stream event", ErrValidation)
		}
		if e.Market.Item != nil {
			if e.Market.Reconnecting != "" {
				return fmt.Errorf("%w: market stream event has two variants", ErrValidation)
			}
			if err := e.Market.Item.Validate(); err != nil {
				return err
			}
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: engine event must have exactly one variant, got %d", ErrValidation, n)
	}
	return nil
}
