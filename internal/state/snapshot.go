package state

import (
	"bytes"
	"encoding/json"
	"sort"

	"tradecore/internal/schema"
)

// Snapshot is the serializable form of the engine state. Entries are sorted
// so that equal states marshal to identical bytes.
type Snapshot struct {
	Trading      schema.TradingState `json:"trading"`
	Assets       []AssetEntry        `json:"assets"`
	Instruments  []InstrumentEntry   `json:"instruments"`
	Connectivity []ConnectivityEntry `json:"connectivity"`
}

// AssetEntry is one balance table row.
type AssetEntry struct {
	Asset   schema.Asset   `json:"asset"`
	Balance schema.Balance `json:"balance"`
}

// InFlightEntry is one in-flight request row.
type InFlightEntry struct {
	ClientID schema.ClientOrderID `json:"client_order_id"`
	InFlight InFlight             `json:"in_flight"`
}

// InstrumentEntry is one per-instrument row.
type InstrumentEntry struct {
	Index    schema.InstrumentIndex `json:"index"`
	Market   MarketDataState        `json:"market"`
	Orders   []schema.OrderSnapshot `json:"orders"`
	Position Position               `json:"position"`
	InFlight []InFlightEntry        `json:"in_flight"`
}

// ConnectivityEntry is one per-exchange connectivity row.
type ConnectivityEntry struct {
	Exchange schema.ExchangeID `json:"exchange"`
	Market   schema.Health     `json:"market"`
	Account  schema.Health     `json:"account"`
}

// Snapshot captures the current state in a deterministic order.
func (s *EngineState) Snapshot() Snapshot {
	snap := Snapshot{
		Trading:      s.trading,
		Assets:       make([]AssetEntry, 0, len(s.assets)),
		Instruments:  make([]InstrumentEntry, 0, len(s.instruments)),
		Connectivity: make([]ConnectivityEntry, 0, len(s.connectivity)),
	}
	for _, a := range s.assets {
		snap.Assets = append(snap.Assets, AssetEntry{Asset: a.Asset, Balance: a.Balance})
	}
	for _, inst := range s.instruments {
		entry := InstrumentEntry{
			Index:    inst.Instrument.Index,
			Market:   inst.Market,
			Orders:   make([]schema.OrderSnapshot, 0, len(inst.Orders)),
			Position: inst.Position,
			InFlight: make([]InFlightEntry, 0, len(inst.InFlight)),
		}
		for _, order := range inst.Orders {
			entry.Orders = append(entry.Orders, order)
		}
		sort.Slice(entry.Orders, func(i, j int) bool {
			return entry.Orders[i].Key.ClientID < entry.Orders[j].Key.ClientID
		})
		for clientID, inFlight := range inst.InFlight {
			entry.InFlight = append(entry.InFlight, InFlightEntry{ClientID: clientID, InFlight: inFlight})
		}
		sort.Slice(entry.InFlight, func(i, j int) bool {
			return entry.InFlight[i].ClientID < entry.InFlight[j].ClientID
		})
		snap.Instruments = append(snap.Instruments, entry)
	}
	for i, c := range s.connectivity {
		exchange, _ := s.catalogue.Exchange(schema.ExchangeIndex(i))
		snap.Connectivity = append(snap.Connectivity, ConnectivityEntry{
			Exchange: exchange.ID,
			Market:   c.Market,
			Account:  c.Account,
		})
	}
	return snap
}

// FromSnapshot rebuilds an engine state from a snapshot over the same
// catalogue.
func FromSnapshot(catalogue *schema.Catalogue, snap Snapshot) (*EngineState, error) {
	s := New(catalogue)
	s.trading = snap.Trading
	for _, entry := range snap.Assets {
		idx, ok := catalogue.AssetIndexOf(entry.Asset.Exchange, entry.Asset.Name)
		if !ok {
			continue
		}
		s.assets[idx].Balance = entry.Balance
	}
	for _, entry := range snap.Instruments {
		inst, err := s.Instrument(entry.Index)
		if err != nil {
			return nil, err
		}
		inst.Market = entry.Market
		inst.Position = entry.Position
		for _, order := range entry.Orders {
			inst.Orders[order.Key.ClientID] = order
		}
		for _, inFlight := range entry.InFlight {
			inst.InFlight[inFlight.ClientID] = inFlight.InFlight
		}
	}
	for _, entry := range snap.Connectivity {
		if idx, ok := catalogue.ExchangeIndexOf(entry.Exchange); ok {
			s.connectivity[idx] = ConnectivityState{Market: entry.Market, Account: entry.Account}
		}
	}
	return s, nil
}

// MarshalBinaryStable marshals the snapshot to deterministic JSON bytes.
func (snap Snapshot) MarshalBinaryStable() ([]byte, error) {
	return json.Marshal(snap)
}

// Equal compares two states by their deterministic snapshot encoding.
func (s *EngineState) Equal(other *EngineState) bool {
	a, errA := s.Snapshot().MarshalBinaryStable()
	b, errB := other.Snapshot().MarshalBinaryStable()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}
