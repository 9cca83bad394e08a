package schema

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// InstrumentKind classifies an instrument.
type InstrumentKind string

const (
	KindSpot      InstrumentKind = "spot"
	KindPerpetual InstrumentKind = "perpetual"
	KindFuture    InstrumentKind = "future"
	KindOption    InstrumentKind = "option"
)

// Validate rejects unknown instrument kinds.
func (k InstrumentKind) Validate() error {
	switch k {
	case KindSpot, KindPerpetual, KindFuture, KindOption:
		return nil
	default:
		return fmt.Errorf("%w: unknown instrument kind %q", ErrValidation, string(k))
	}
}

// InstrumentSpec carries venue order constraints used for request diagnostics.
type InstrumentSpec struct {
	PriceIncrement    decimal.Decimal  `json:"price_increment"`
	QuantityIncrement decimal.Decimal  `json:"quantity_increment"`
	MinQuantity       *decimal.Decimal `json:"min_quantity,omitempty"`
	MinNotional       *decimal.Decimal `json:"min_notional,omitempty"`
}

// Validate enforces positive increments and non-negative minimums.
func (s InstrumentSpec) Validate() error {
	if !s.PriceIncrement.IsPositive() {
		return fmt.Errorf("%w: price increment must be positive", ErrValidation)
	}
	if !s.QuantityIncrement.IsPositive() {
		return fmt.Errorf("%w: quantity increment must be positive", ErrValidation)
	}
	if s.MinQuantity != nil && s.MinQuantity.IsNegative() {
		return fmt.Errorf("%w: min quantity is negative", ErrValidation)
	}
	if s.MinNotional != nil && s.MinNotional.IsNegative() {
		return fmt.Errorf("%w: min notional is negative", ErrValidation)
	}
	return nil
}

// InstrumentConfig is one instrument definition from configuration.
type InstrumentConfig struct {
	Exchange     ExchangeID      `json:"exchange"`
	NameExchange string          `json:"name_exchange"`
	Underlying   Underlying      `json:"underlying"`
	Quote        string          `json:"quote"`
	Kind         InstrumentKind  `json:"kind"`
	Spec         *InstrumentSpec `json:"spec,omitempty"`
}

// Validate checks the definition before catalogue construction.
func (c InstrumentConfig) Validate() error {
	if err := c.Exchange.Validate(); err != nil {
		return err
	}
	if c.NameExchange == "" {
		return fmt.Errorf("%w: empty exchange-native instrument name", ErrValidation)
	}
	if c.Underlying.Base == "" || c.Underlying.Quote == "" {
		return fmt.Errorf("%w: instrument %s has empty underlying", ErrValidation, c.NameExchange)
	}
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	if c.Spec != nil {
		if err := c.Spec.Validate(); err != nil {
			return fmt.Errorf("instrument %s: %w", c.NameExchange, err)
		}
	}
	return nil
}

// Exchange is one catalogue exchange entry.
type Exchange struct {
	Index ExchangeIndex `json:"index"`
	ID    ExchangeID    `json:"id"`
}

// Asset is one interned (exchange, asset-name) pair.
type Asset struct {
	Index    AssetIndex    `json:"index"`
	Exchange ExchangeIndex `json:"exchange"`
	Name     string        `json:"name"`
}

// Instrument is one catalogue instrument entry.
type Instrument struct {
	Index        InstrumentIndex `json:"index"`
	Exchange     ExchangeIndex   `json:"exchange"`
	ExchangeID   ExchangeID      `json:"exchange_id"`
	Name         string          `json:"name"`
	NameExchange string          `json:"name_exchange"`
	Base         AssetIndex      `json:"base"`
	Quote        AssetIndex      `json:"quote"`
	Underlying   Underlying      `json:"underlying"`
	Kind         InstrumentKind  `json:"kind"`
	Spec         *InstrumentSpec `json:"spec,omitempty"`
}

type assetKey struct {
	exchange ExchangeIndex
	name     string
}

type nativeNameKey struct {
	exchange ExchangeIndex
	name     string
}

// Catalogue assigns dense indices to exchanges, assets and instruments at
// startup and provides bidirectional lookups. It is immutable once built.
type Catalogue struct {
	exchanges   []Exchange
	assets      []Asset
	instruments []Instrument

	exchangeByID     map[ExchangeID]ExchangeIndex
	assetByName      map[assetKey]AssetIndex
	instrumentByName map[string]InstrumentIndex
}

// NewCatalogue builds a catalogue from instrument definitions, assigning
// indices in definition order. Duplicate exchange-native names within an
// exchange are rejected.
func NewCatalogue(configs []InstrumentConfig) (*Catalogue, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no instruments configured", ErrValidation)
	}
	c := &Catalogue{
		exchangeByID:     make(map[ExchangeID]ExchangeIndex),
		assetByName:      make(map[assetKey]AssetIndex),
		instrumentByName: make(map[string]InstrumentIndex),
	}
	nativeNames := make(map[nativeNameKey]struct{})
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		exchange := c.internExchange(cfg.Exchange)
		native := nativeNameKey{exchange: exchange, name: cfg.NameExchange}
		if _, ok := nativeNames[native]; ok {
			return nil, fmt.Errorf("%w: duplicate instrument %q on exchange %s",
				ErrValidation, cfg.NameExchange, cfg.Exchange)
		}
		nativeNames[native] = struct{}{}

		quote := cfg.Quote
		if quote == "" {
			quote = cfg.Underlying.Quote
		}
		base := c.internAsset(exchange, cfg.Underlying.Base)
		quoteIdx := c.internAsset(exchange, quote)

		name := CanonicalInstrumentName(cfg.Exchange, cfg.Underlying)
		if _, ok := c.instrumentByName[name]; ok {
			return nil, fmt.Errorf("%w: duplicate canonical instrument name %q", ErrValidation, name)
		}
		idx := InstrumentIndex(len(c.instruments))
		c.instruments = append(c.instruments, Instrument{
			Index:        idx,
			Exchange:     exchange,
			ExchangeID:   cfg.Exchange,
			Name:         name,
			NameExchange: cfg.NameExchange,
			Base:         base,
			Quote:        quoteIdx,
			Underlying:   cfg.Underlying,
			Kind:         cfg.Kind,
			Spec:         cfg.Spec,
		})
		c.instrumentByName[name] = idx
	}
	return c, nil
}

// CanonicalInstrumentName builds "exchange:base_quote" in lower case.
func CanonicalInstrumentName(exchange ExchangeID, u Underlying) string {
	return fmt.Sprintf("%s:%s_%s", exchange, strings.ToLower(u.Base), strings.ToLower(u.Quote))
}

func (c *Catalogue) internExchange(id ExchangeID) ExchangeIndex {
	if idx, ok := c.exchangeByID[id]; ok {
		return idx
	}
	idx := ExchangeIndex(len(c.exchanges))
	c.exchanges = append(c.exchanges, Exchange{Index: idx, ID: id})
	c.exchangeByID[id] = idx
	return idx
}

func (c *Catalogue) internAsset(exchange ExchangeIndex, name string) AssetIndex {
	key := assetKey{exchange: exchange, name: strings.ToLower(name)}
	if idx, ok := c.assetByName[key]; ok {
		return idx
	}
	idx := AssetIndex(len(c.assets))
	c.assets = append(c.assets, Asset{Index: idx, Exchange: exchange, Name: key.name})
	c.assetByName[key] = idx
	return idx
}

// Exchange returns the exchange at idx.
func (c *Catalogue) Exchange(idx ExchangeIndex) (Exchange, bool) {
	if idx < 0 || int(idx) >= len(c.exchanges) {
		return Exchange{}, false
	}
	return c.exchanges[idx], true
}

// ExchangeIndexOf resolves an exchange identifier.
func (c *Catalogue) ExchangeIndexOf(id ExchangeID) (ExchangeIndex, bool) {
	idx, ok := c.exchangeByID[id]
	return idx, ok
}

// Asset returns the asset at idx.
func (c *Catalogue) Asset(idx AssetIndex) (Asset, bool) {
	if idx < 0 || int(idx) >= len(c.assets) {
		return Asset{}, false
	}
	return c.assets[idx], true
}

// AssetIndexOf resolves an (exchange, asset-name) pair; names are
// case-insensitive.
func (c *Catalogue) AssetIndexOf(exchange ExchangeIndex, name string) (AssetIndex, bool) {
	idx, ok := c.assetByName[assetKey{exchange: exchange, name: strings.ToLower(name)}]
	return idx, ok
}

// Instrument returns the instrument at idx.
func (c *Catalogue) Instrument(idx InstrumentIndex) (Instrument, bool) {
	if idx < 0 || int(idx) >= len(c.instruments) {
		return Instrument{}, false
	}
	return c.instruments[idx], true
}

// InstrumentIndexOf resolves a canonical instrument name.
func (c *Catalogue) InstrumentIndexOf(name string) (InstrumentIndex, bool) {
	idx, ok := c.instrumentByName[name]
	return idx, ok
}

// ExchangeCount returns the number of exchanges.
func (c *Catalogue) ExchangeCount() int { return len(c.exchanges) }

// AssetCount returns the number of interned assets.
func (c *Catalogue) AssetCount() int { return len(c.assets) }

// InstrumentCount returns the number of instruments.
func (c *Catalogue) InstrumentCount() int { return len(c.instruments) }

// Exchanges returns all exchange entries in index order.
func (c *Catalogue) Exchanges() []Exchange { return c.exchanges }

// Assets returns all asset entries in index order.
func (c *Catalogue) Assets() []Asset { return c.assets }

// Instruments returns all instrument entries in index order.
func (c *Catalogue) Instruments() []Instrument { return c.instruments }
