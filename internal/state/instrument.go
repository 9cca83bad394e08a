package state

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

// MarketDataState is the most recent market view of one instrument.
type MarketDataState struct {
	LastPrice    decimal.Decimal `json:"last_price"`
	TimeExchange time.Time       `json:"time_exchange,omitempty"`
	TimeReceived time.Time       `json:"time_received,omitempty"`
}

// InFlightKind distinguishes open from cancel requests in the in-flight
// recorder.
type InFlightKind string

const (
	InFlightOpen   InFlightKind = "open"
	InFlightCancel InFlightKind = "cancel"
)

// InFlight records a dispatched request awaiting its account event.
type InFlight struct {
	Kind     InFlightKind    `json:"kind"`
	Sequence schema.Sequence `json:"sequence"`
	Time     time.Time       `json:"time"`
}

// InstrumentState is the engine's per-instrument layer: market data, the order
// table keyed by client order id, the net position and in-flight requests.
type InstrumentState struct {
	Instrument schema.Instrument
	Market     MarketDataState
	Orders     map[schema.ClientOrderID]schema.OrderSnapshot
	Position   Position
	InFlight   map[schema.ClientOrderID]InFlight
}

func newInstrumentState(def schema.Instrument) *InstrumentState {
	return &InstrumentState{
		Instrument: def,
		Orders:     make(map[schema.ClientOrderID]schema.OrderSnapshot),
		InFlight:   make(map[schema.ClientOrderID]InFlight),
	}
}

// applyMarket folds a market event into the market-data view.
func (i *InstrumentState) applyMarket(ev schema.MarketEvent) {
	if price, ok := ev.Price(); ok {
		i.Market.LastPrice = price
	}
	i.Market.TimeExchange = ev.TimeExchange
	i.Market.TimeReceived = ev.TimeReceived
}

// upsertOrder inserts or replaces the order entry for the snapshot's client
// order id. Transitions to inactive states remove the entry. Replacing an
// inactive entry with an active one is refused.
func (i *InstrumentState) upsertOrder(snapshot schema.OrderSnapshot) {
	existing, ok := i.Orders[snapshot.Key.ClientID]
	if ok && !existing.State.CanTransition(snapshot.State) {
		return
	}
	if !snapshot.State.Status.IsActive() {
		delete(i.Orders, snapshot.Key.ClientID)
		delete(i.InFlight, snapshot.Key.ClientID)
		return
	}
	i.Orders[snapshot.Key.ClientID] = snapshot
	if snapshot.State.Status == schema.StatusOpen {
		delete(i.InFlight, snapshot.Key.ClientID)
	}
}

// applyFill advances the order's filled quantity and the position. A fill
// that completes its order removes the order entry.
func (i *InstrumentState) applyFill(f schema.Fill) *ClosedPosition {
	if order, ok := i.Orders[f.Key.ClientID]; ok {
		order.State.Filled = order.State.Filled.Add(f.Quantity)
		if order.State.Filled.GreaterThanOrEqual(order.Quantity) {
			delete(i.Orders, f.Key.ClientID)
		} else {
			i.Orders[f.Key.ClientID] = order
		}
	}
	delete(i.InFlight, f.Key.ClientID)
	return i.Position.ApplyFill(i.Instrument.Index, f)
}
