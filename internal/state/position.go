package state

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

// Position is the net exposure of one (instrument, strategy), derived from
// the fill stream. Quantity is signed: positive long, negative short.
type Position struct {
	Strategy     schema.StrategyID `json:"strategy,omitempty"`
	Quantity     decimal.Decimal   `json:"quantity"`
	AverageEntry decimal.Decimal   `json:"average_entry"`
	RealizedPnl  decimal.Decimal   `json:"realized_pnl"`
	TimeEntered  time.Time         `json:"time_entered,omitempty"`
	TimeUpdated  time.Time         `json:"time_updated,omitempty"`
}

// ClosedPosition is handed to the tear-sheet generator when net quantity
// returns to zero.
type ClosedPosition struct {
	Instrument  schema.InstrumentIndex `json:"instrument"`
	Strategy    schema.StrategyID      `json:"strategy"`
	TimeEntered time.Time              `json:"time_entered"`
	TimeExited  time.Time              `json:"time_exited"`
	PnlRealised decimal.Decimal        `json:"pnl_realised"`
}

// IsFlat reports whether the position has no exposure.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Notional returns |quantity| * price in the quote asset.
func (p Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(price)
}

// ApplyFill folds one fill into the position. Fees are charged against
// realized PnL as they occur. When the net quantity crosses or reaches zero a
// ClosedPosition is returned; a crossing re-opens the remainder at the fill
// price.
func (p *Position) ApplyFill(instrument schema.InstrumentIndex, f schema.Fill) *ClosedPosition {
	signed := f.Quantity
	if f.Side == schema.SideSell {
		signed = signed.Neg()
	}

	p.TimeUpdated = f.TimeExchange
	p.RealizedPnl = p.RealizedPnl.Sub(f.Fees)

	if p.Quantity.IsZero() {
		p.Strategy = f.Key.Strategy
		p.Quantity = signed
		p.AverageEntry = f.Price
		p.TimeEntered = f.TimeExchange
		return nil
	}

	sameDirection := p.Quantity.Sign() == signed.Sign()
	if sameDirection {
		total := p.Quantity.Abs().Add(f.Quantity)
		p.AverageEntry = p.Quantity.Abs().Mul(p.AverageEntry).
			Add(f.Quantity.Mul(f.Price)).
			Div(total)
		p.Quantity = p.Quantity.Add(signed)
		return nil
	}

	closeQty := decimal.Min(p.Quantity.Abs(), f.Quantity)
	direction := decimal.NewFromInt(int64(p.Quantity.Sign()))
	p.RealizedPnl = p.RealizedPnl.Add(f.Price.Sub(p.AverageEntry).Mul(closeQty).Mul(direction))

	remaining := p.Quantity.Add(signed)
	if !remaining.IsZero() && remaining.Sign() == p.Quantity.Sign() {
		// Partial reduction, still open.
		p.Quantity = remaining
		return nil
	}

	closed := &ClosedPosition{
		Instrument:  instrument,
		Strategy:    p.Strategy,
		TimeEntered: p.TimeEntered,
		TimeExited:  f.TimeExchange,
		PnlRealised: p.RealizedPnl,
	}

	if remaining.IsZero() {
		*p = Position{TimeUpdated: f.TimeExchange}
		return closed
	}

	// Crossed through zero: the surplus opens a new position at the fill price.
	*p = Position{
		Strategy:     f.Key.Strategy,
		Quantity:     remaining,
		AverageEntry: f.Price,
		TimeEntered:  f.TimeExchange,
		TimeUpdated:  f.TimeExchange,
	}
	return closed
}
