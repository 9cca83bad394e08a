package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the venue-reported holding of one asset on one exchange.
type Balance struct {
	Total        decimal.Decimal `json:"total"`
	Free         decimal.Decimal `json:"free"`
	TimeExchange time.Time       `json:"time_exchange"`
}

// NewBalance validates and builds a balance.
func NewBalance(total, free decimal.Decimal, timeExchange time.Time) (Balance, error) {
	b := Balance{Total: total, Free: free, TimeExchange: timeExchange}
	return b, b.Validate()
}

// Validate enforces 0 <= free <= total.
func (b Balance) Validate() error {
	if b.Total.IsNegative() {
		return fmt.Errorf("%w: balance total is negative: %s", ErrValidation, b.Total)
	}
	if b.Free.IsNegative() {
		return fmt.Errorf("%w: balance free is negative: %s", ErrValidation, b.Free)
	}
	if b.Free.GreaterThan(b.Total) {
		return fmt.Errorf("%w: balance free %s exceeds total %s", ErrValidation, b.Free, b.Total)
	}
	return nil
}

// Used returns the locked portion of the balance.
func (b Balance) Used() decimal.Decimal {
	return b.Total.Sub(b.Free)
}

// AssetBalance names the asset a balance belongs to.
type AssetBalance struct {
	Asset   string  `json:"asset"`
	Balance Balance `json:"balance"`
}

// InstrumentAccountSnapshot is the venue-reported order set of one instrument.
type InstrumentAccountSnapshot struct {
	Instrument InstrumentIndex `json:"instrument"`
	Orders     []OrderSnapshot `json:"orders"`
}

// AccountSnapshot is the venue-reported account state used to seed the engine
// and to validate state-versus-exchange drift.
type AccountSnapshot struct {
	Exchange    ExchangeID                  `json:"exchange"`
	Balances    []AssetBalance              `json:"balances"`
	Instruments []InstrumentAccountSnapshot `json:"instruments"`
}

// Validate checks the exchange identifier and every nested balance and order.
func (s AccountSnapshot) Validate() error {
	if err := s.Exchange.Validate(); err != nil {
		return err
	}
	for _, ab := range s.Balances {
		if ab.Asset == "" {
			return fmt.Errorf("%w: empty asset name in account snapshot", ErrValidation)
		}
		if err := ab.Balance.Validate(); err != nil {
			return fmt.Errorf("asset %s: %w", ab.Asset, err)
		}
	}
	for _, inst := range s.Instruments {
		for _, o := range inst.Orders {
			if err := o.Validate(); err != nil {
				return fmt.Errorf("instrument %d: %w", inst.Instrument, err)
			}
		}
	}
	return nil
}
