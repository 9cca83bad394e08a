// Package state holds the engine's in-memory view of trading: the global
// trading flag, per-asset balances, per-instrument market data, orders and
// positions, and per-exchange connectivity. The state is owned exclusively by
// the engine worker; consumers observe it through audit snapshots.
package state

import (
	"fmt"
	"time"

	"tradecore/internal/schema"
)

// AssetState is one balance table entry.
type AssetState struct {
	Asset   schema.Asset
	Balance schema.Balance
}

// ConnectivityState tracks the health of one exchange's channels.
type ConnectivityState struct {
	Market  schema.Health
	Account schema.Health
}

// ConnectivityEdge reports a Healthy -> Reconnecting transition so the engine
// can invoke the strategy's disconnect hook exactly once per edge.
type ConnectivityEdge struct {
	Exchange schema.ExchangeID
	Index    schema.ExchangeIndex
}

// EngineState is the layered engine state. All indices follow the catalogue.
type EngineState struct {
	catalogue    *schema.Catalogue
	trading      schema.TradingState
	assets       []AssetState
	instruments  []*InstrumentState
	connectivity []ConnectivityState

	onClosedPosition func(ClosedPosition)
	onBalance        func(schema.Asset, schema.Balance)
	onTrade          func(schema.InstrumentIndex, schema.Fill)
}

// New builds the initial engine state from a catalogue: trading disabled,
// zero balances, empty order tables, all connectivity healthy.
func New(catalogue *schema.Catalogue) *EngineState {
	s := &EngineState{
		catalogue:    catalogue,
		trading:      schema.TradingDisabled,
		assets:       make([]AssetState, catalogue.AssetCount()),
		instruments:  make([]*InstrumentState, 0, catalogue.InstrumentCount()),
		connectivity: make([]ConnectivityState, catalogue.ExchangeCount()),
	}
	for i, asset := range catalogue.Assets() {
		s.assets[i] = AssetState{Asset: asset}
	}
	for _, inst := range catalogue.Instruments() {
		s.instruments = append(s.instruments, newInstrumentState(inst))
	}
	for i := range s.connectivity {
		s.connectivity[i] = ConnectivityState{Market: schema.Healthy, Account: schema.Healthy}
	}
	return s
}

// OnClosedPosition registers the tear-sheet hook for closed positions.
func (s *EngineState) OnClosedPosition(fn func(ClosedPosition)) {
	s.onClosedPosition = fn
}

// OnBalance registers the tear-sheet hook for applied balance snapshots.
func (s *EngineState) OnBalance(fn func(schema.Asset, schema.Balance)) {
	s.onBalance = fn
}

// OnTrade registers the tear-sheet hook for applied fills.
func (s *EngineState) OnTrade(fn func(schema.InstrumentIndex, schema.Fill)) {
	s.onTrade = fn
}

// Catalogue returns the shared read-only catalogue.
func (s *EngineState) Catalogue() *schema.Catalogue {
	return s.catalogue
}

// Trading returns the current trading state.
func (s *EngineState) Trading() schema.TradingState {
	return s.trading
}

// SetTrading updates the trading state and reports whether it changed.
func (s *EngineState) SetTrading(ts schema.TradingState) bool {
	if s.trading == ts {
		return false
	}
	s.trading = ts
	return true
}

// Instrument returns the per-instrument layer.
func (s *EngineState) Instrument(idx schema.InstrumentIndex) (*InstrumentState, error) {
	if idx < 0 || int(idx) >= len(s.instruments) {
		return nil, fmt.Errorf("%w: instrument index %d out of bounds", schema.ErrUnrecoverable, idx)
	}
	return s.instruments[idx], nil
}

// Instruments returns all per-instrument layers in index order.
func (s *EngineState) Instruments() []*InstrumentState {
	return s.instruments
}

// AssetBalance returns the balance of the asset at idx.
func (s *EngineState) AssetBalance(idx schema.AssetIndex) (schema.Balance, error) {
	if idx < 0 || int(idx) >= len(s.assets) {
		return schema.Balance{}, fmt.Errorf("%w: asset index %d out of bounds", schema.ErrUnrecoverable, idx)
	}
	return s.assets[idx].Balance, nil
}

// Connectivity returns the connectivity of the exchange at idx.
func (s *EngineState) Connectivity(idx schema.ExchangeIndex) (ConnectivityState, error) {
	if idx < 0 || int(idx) >= len(s.connectivity) {
		return ConnectivityState{}, fmt.Errorf("%w: exchange index %d out of bounds", schema.ErrUnrecoverable, idx)
	}
	return s.connectivity[idx], nil
}

// ExchangeHealthy reports whether both channels of the exchange are healthy.
func (s *EngineState) ExchangeHealthy(idx schema.ExchangeIndex) bool {
	c, err := s.Connectivity(idx)
	if err != nil {
		return false
	}
	return c.Market == schema.Healthy && c.Account == schema.Healthy
}

// RecordInFlight notes a dispatched open request before it reaches the
// execution client, inserting the in-flight order snapshot into the order
// table.
func (s *EngineState) RecordInFlight(req schema.OrderRequestOpen, seq schema.Sequence, now time.Time) error {
	inst, err := s.Instrument(req.Key.Instrument)
	if err != nil {
		return err
	}
	inst.Orders[req.Key.ClientID] = req.Snapshot()
	inst.InFlight[req.Key.ClientID] = InFlight{Kind: InFlightOpen, Sequence: seq, Time: now}
	return nil
}

// RecordCancelInFlight notes a dispatched cancel request, moving the order to
// cancel-in-flight when it is currently open.
func (s *EngineState) RecordCancelInFlight(req schema.OrderRequestCancel, seq schema.Sequence, now time.Time) error {
	inst, err := s.Instrument(req.Key.Instrument)
	if err != nil {
		return err
	}
	if order, ok := inst.Orders[req.Key.ClientID]; ok && order.State.Status == schema.StatusOpen {
		order.State = schema.CancelInFlight(order.State.OrderID, order.State.Filled)
		inst.Orders[req.Key.ClientID] = order
	}
	inst.InFlight[req.Key.ClientID] = InFlight{Kind: InFlightCancel, Sequence: seq, Time: now}
	return nil
}

// FailInFlight removes the record of an open request whose send failed before
// reaching the execution client, so the state matches what the venue saw.
func (s *EngineState) FailInFlight(req schema.OrderRequestOpen) error {
	inst, err := s.Instrument(req.Key.Instrument)
	if err != nil {
		return err
	}
	if order, ok := inst.Orders[req.Key.ClientID]; ok && order.State.Status == schema.StatusOpenInFlight {
		delete(inst.Orders, req.Key.ClientID)
	}
	delete(inst.InFlight, req.Key.ClientID)
	return nil
}

// ApplyMarket folds a market stream event into the state and reports a
// disconnect edge when one occurred.
func (s *EngineState) ApplyMarket(ev schema.MarketStreamEvent) (*ConnectivityEdge, error) {
	if ev.Reconnecting != "" {
		return s.markReconnecting(ev.Reconnecting, true)
	}
	if ev.Item == nil {
		return nil, nil
	}
	item := *ev.Item
	exIdx, ok := s.catalogue.ExchangeIndexOf(item.Exchange)
	if !ok {
		return nil, fmt.Errorf("%w: market event for unknown exchange %s", schema.ErrUnrecoverable, item.Exchange)
	}
	inst, err := s.Instrument(item.Instrument)
	if err != nil {
		return nil, err
	}
	inst.applyMarket(item)
	s.connectivity[exIdx].Market = schema.Healthy
	return nil, nil
}

// ApplyAccount folds an account stream event into the state and reports a
// disconnect edge when one occurred.
func (s *EngineState) ApplyAccount(ev schema.AccountStreamEvent) (*ConnectivityEdge, error) {
	if ev.Reconnecting != "" {
		return s.markReconnecting(ev.Reconnecting, false)
	}
	if ev.Item == nil {
		return nil, nil
	}
	item := *ev.Item
	exIdx, ok := s.catalogue.ExchangeIndexOf(item.Exchange)
	if !ok {
		return nil, fmt.Errorf("%w: account event for unknown exchange %s", schema.ErrUnrecoverable, item.Exchange)
	}
	s.connectivity[exIdx].Account = schema.Healthy

	switch kind := item.Kind; {
	case kind.Snapshot != nil:
		return nil, s.applyAccountSnapshot(exIdx, *kind.Snapshot)
	case kind.BalanceSnapshot != nil:
		return nil, s.applyBalance(exIdx, *kind.BalanceSnapshot)
	case kind.OrderSnapshot != nil:
		inst, err := s.Instrument(kind.OrderSnapshot.Key.Instrument)
		if err != nil {
			return nil, err
		}
		inst.upsertOrder(*kind.OrderSnapshot)
		return nil, nil
	case kind.OrderOpened != nil:
		return nil, s.applyOrderResult(*kind.OrderOpened, false)
	case kind.OrderCancelled != nil:
		return nil, s.applyOrderResult(*kind.OrderCancelled, true)
	case kind.Trade != nil:
		return nil, s.applyFill(*kind.Trade)
	default:
		return nil, nil
	}
}

func (s *EngineState) markReconnecting(exchange schema.ExchangeID, market bool) (*ConnectivityEdge, error) {
	exIdx, ok := s.catalogue.ExchangeIndexOf(exchange)
	if !ok {
		// Reconnect markers for exchanges outside the catalogue carry no state.
		return nil, nil
	}
	wasHealthy := s.ExchangeHealthy(exIdx)
	if market {
		s.connectivity[exIdx].Market = schema.Reconnecting
	} else {
		s.connectivity[exIdx].Account = schema.Reconnecting
	}
	if wasHealthy {
		return &ConnectivityEdge{Exchange: exchange, Index: exIdx}, nil
	}
	return nil, nil
}

// applyBalance upserts one asset balance. Snapshots older than the stored
// one are ignored; equal timestamps apply so same-instant venue updates land
// in arrival order.
func (s *EngineState) applyBalance(exchange schema.ExchangeIndex, ab schema.AssetBalance) error {
	if err := ab.Balance.Validate(); err != nil {
		return err
	}
	idx, ok := s.catalogue.AssetIndexOf(exchange, ab.Asset)
	if !ok {
		return fmt.Errorf("%w: balance snapshot for unknown asset %s", schema.ErrUnrecoverable, ab.Asset)
	}
	current := s.assets[idx].Balance
	if ab.Balance.TimeExchange.Before(current.TimeExchange) {
		return nil
	}
	s.assets[idx].Balance = ab.Balance
	if s.onBalance != nil {
		s.onBalance(s.assets[idx].Asset, ab.Balance)
	}
	return nil
}

// applyAccountSnapshot seeds balances and open orders from a full account
// snapshot.
func (s *EngineState) applyAccountSnapshot(exchange schema.ExchangeIndex, snap schema.AccountSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	for _, ab := range snap.Balances {
		if err := s.applyBalance(exchange, ab); err != nil {
			return err
		}
	}
	for _, instSnap := range snap.Instruments {
		inst, err := s.Instrument(instSnap.Instrument)
		if err != nil {
			return err
		}
		for _, order := range instSnap.Orders {
			inst.upsertOrder(order)
		}
	}
	return nil
}

func (s *EngineState) applyOrderResult(res schema.OrderResult, cancel bool) error {
	switch {
	case res.Ok != nil:
		inst, err := s.Instrument(res.Ok.Key.Instrument)
		if err != nil {
			return err
		}
		inst.upsertOrder(*res.Ok)
		return nil
	case res.Err != nil:
		inst, err := s.Instrument(res.Err.Key.Instrument)
		if err != nil {
			return err
		}
		if cancel {
			// A failed cancel leaves the order as the venue reported it last;
			// only the in-flight marker is reconciled.
			if order, ok := inst.Orders[res.Err.Key.ClientID]; ok && order.State.Status == schema.StatusCancelInFlight {
				order.State = schema.Open(order.State.OrderID, time.Time{}, order.State.Filled)
				inst.Orders[res.Err.Key.ClientID] = order
			}
			delete(inst.InFlight, res.Err.Key.ClientID)
			return nil
		}
		inst.upsertOrder(schema.OrderSnapshot{
			Key:   res.Err.Key,
			State: schema.OpenFailed(res.Err.Reason),
		})
		return nil
	default:
		return nil
	}
}

func (s *EngineState) applyFill(f schema.Fill) error {
	if err := f.Validate(); err != nil {
		return err
	}
	inst, err := s.Instrument(f.Key.Instrument)
	if err != nil {
		return err
	}
	if s.onTrade != nil {
		s.onTrade(f.Key.Instrument, f)
	}
	if closed := inst.applyFill(f); closed != nil && s.onClosedPosition != nil {
		s.onClosedPosition(*closed)
	}
	return nil
}

// CheckInvariants verifies the state invariants that must hold after every
// processed event. It exists for tests and debug assertions.
func (s *EngineState) CheckInvariants() error {
	for _, a := range s.assets {
		if err := a.Balance.Validate(); err != nil {
			return fmt.Errorf("asset %s: %w", a.Asset.Name, err)
		}
	}
	for _, inst := range s.instruments {
		for clientID, order := range inst.Orders {
			if order.Key.ClientID != clientID {
				return fmt.Errorf("%w: order table key %s does not match order key %s",
					schema.ErrUnrecoverable, clientID, order.Key.ClientID)
			}
			if order.State.Filled.IsNegative() || order.State.Filled.GreaterThan(order.Quantity) {
				return fmt.Errorf("%w: order %s filled %s outside [0, %s]",
					schema.ErrUnrecoverable, clientID, order.State.Filled, order.Quantity)
			}
		}
	}
	return nil
}
