package schema

import "fmt"

// Underlying is a base/quote asset pair.
type Underlying struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// InstrumentFilter selects instruments for bulk commands. The zero value
// selects everything; the non-None constructors reject empty sets.
type InstrumentFilter struct {
	Exchanges   []ExchangeID      `json:"Exchanges,omitempty"`
	Instruments []InstrumentIndex `json:"Instruments,omitempty"`
	Underlyings []Underlying      `json:"Underlyings,omitempty"`
}

// FilterNone selects all instruments.
func FilterNone() InstrumentFilter {
	return InstrumentFilter{}
}

// FilterExchanges selects instruments on the given exchanges.
func FilterExchanges(exchanges ...ExchangeID) (InstrumentFilter, error) {
	if len(exchanges) == 0 {
		return InstrumentFilter{}, fmt.Errorf("%w: exchange filter is empty", ErrValidation)
	}
	for _, id := range exchanges {
		if err := id.Validate(); err != nil {
			return InstrumentFilter{}, err
		}
	}
	return InstrumentFilter{Exchanges: exchanges}, nil
}

// FilterInstruments selects instruments by index.
func FilterInstruments(instruments ...InstrumentIndex) (InstrumentFilter, error) {
	if len(instruments) == 0 {
		return InstrumentFilter{}, fmt.Errorf("%w: instrument filter is empty", ErrValidation)
	}
	for _, idx := range instruments {
		if idx < 0 {
			return InstrumentFilter{}, fmt.Errorf("%w: negative instrument index %d", ErrValidation, idx)
		}
	}
	return InstrumentFilter{Instruments: instruments}, nil
}

// FilterUnderlyings selects instruments by base/quote pair.
func FilterUnderlyings(underlyings ...Underlying) (InstrumentFilter, error) {
	if len(underlyings) == 0 {
		return InstrumentFilter{}, fmt.Errorf("%w: underlying filter is empty", ErrValidation)
	}
	for _, u := range underlyings {
		if u.Base == "" || u.Quote == "" {
			return InstrumentFilter{}, fmt.Errorf("%w: underlying with empty base or quote", ErrValidation)
		}
	}
	return InstrumentFilter{Underlyings: underlyings}, nil
}

// IsNone reports whether the filter selects all instruments.
func (f InstrumentFilter) IsNone() bool {
	return len(f.Exchanges) == 0 && len(f.Instruments) == 0 && len(f.Underlyings) == 0
}

// Validate enforces at most one selector variant and non-empty sets.
func (f InstrumentFilter) Validate() error {
	n := 0
	if len(f.Exchanges) > 0 {
		n++
	}
	if len(f.Instruments) > 0 {
		n++
	}
	if len(f.Underlyings) > 0 {
		n++
	}
	if n > 1 {
		return fmt.Errorf("%w: instrument filter has %d selector variants", ErrValidation, n)
	}
	return nil
}

// Matches reports whether the instrument at idx passes the filter.
func (f InstrumentFilter) Matches(c *Catalogue, idx InstrumentIndex) bool {
	inst, ok := c.Instrument(idx)
	if !ok {
		return false
	}
	switch {
	case len(f.Exchanges) > 0:
		for _, id := range f.Exchanges {
			if inst.ExchangeID == id {
				return true
			}
		}
		return false
	case len(f.Instruments) > 0:
		for _, i := range f.Instruments {
			if i == idx {
				return true
			}
		}
		return false
	case len(f.Underlyings) > 0:
		for _, u := range f.Underlyings {
			if inst.Underlying == u {
				return true
			}
		}
		return false
	default:
		return true
	}
}
