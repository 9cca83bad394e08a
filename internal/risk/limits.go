package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// Limits are the configurable risk thresholds. Nil fields are unlimited.
type Limits struct {
	MaxPositionNotional *decimal.Decimal `json:"max_position_notional,omitempty"`
	MaxPositionQuantity *decimal.Decimal `json:"max_position_quantity,omitempty"`
	MaxLeverage         *decimal.Decimal `json:"max_leverage,omitempty"`
	MaxExposurePercent  *decimal.Decimal `json:"max_exposure_percent,omitempty"`
}

// Validate enforces positive thresholds and exposure percent in (0, 1].
func (l Limits) Validate() error {
	if l.MaxPositionNotional != nil && !l.MaxPositionNotional.IsPositive() {
		return fmt.Errorf("%w: max_position_notional must be positive", schema.ErrValidation)
	}
	if l.MaxPositionQuantity != nil && !l.MaxPositionQuantity.IsPositive() {
		return fmt.Errorf("%w: max_position_quantity must be positive", schema.ErrValidation)
	}
	if l.MaxLeverage != nil && !l.MaxLeverage.IsPositive() {
		return fmt.Errorf("%w: max_leverage must be positive", schema.ErrValidation)
	}
	if l.MaxExposurePercent != nil {
		p := *l.MaxExposurePercent
		if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: max_exposure_percent must be in (0, 1], got %s", schema.ErrValidation, p)
		}
	}
	return nil
}

// InstrumentLimits overrides the global limits for one instrument. An
// override replaces the global limits entirely.
type InstrumentLimits struct {
	Index  schema.InstrumentIndex `json:"index"`
	Limits Limits                 `json:"limits"`
}

// Config is the persisted risk configuration.
type Config struct {
	Global      *Limits            `json:"global,omitempty"`
	Instruments []InstrumentLimits `json:"instruments,omitempty"`
}

// Validate checks every limit set.
func (c Config) Validate() error {
	if c.Global != nil {
		if err := c.Global.Validate(); err != nil {
			return err
		}
	}
	for _, il := range c.Instruments {
		if il.Index < 0 {
			return fmt.Errorf("%w: negative instrument index in risk config", schema.ErrValidation)
		}
		if err := il.Limits.Validate(); err != nil {
			return fmt.Errorf("instrument %d: %w", il.Index, err)
		}
	}
	return nil
}

// LimitManager enforces configured limits. Cancels always pass: they only
// reduce exposure.
type LimitManager struct {
	global    *Limits
	overrides map[schema.InstrumentIndex]Limits
}

// NewLimitManager validates the configuration and builds the manager.
func NewLimitManager(cfg Config) (*LimitManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &LimitManager{
		global:    cfg.Global,
		overrides: make(map[schema.InstrumentIndex]Limits, len(cfg.Instruments)),
	}
	for _, il := range cfg.Instruments {
		m.overrides[il.Index] = il.Limits
	}
	return m, nil
}

func (m *LimitManager) limitsFor(idx schema.InstrumentIndex) *Limits {
	if l, ok := m.overrides[idx]; ok {
		return &l
	}
	return m.global
}

// Check partitions the proposed requests.
func (m *LimitManager) Check(s *state.EngineState, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision {
	d := Decision{ApprovedCancels: cancels}
	for _, req := range opens {
		if reason := m.checkOpen(s, req); reason != "" {
			d.RefusedOpens = append(d.RefusedOpens, RefusedOpen{Request: req, Reason: reason})
			continue
		}
		d.ApprovedOpens = append(d.ApprovedOpens, req)
	}
	return d
}

// checkOpen returns an empty string when the request passes.
func (m *LimitManager) checkOpen(s *state.EngineState, req schema.OrderRequestOpen) string {
	limits := m.limitsFor(req.Key.Instrument)
	if limits == nil {
		return ""
	}
	inst, err := s.Instrument(req.Key.Instrument)
	if err != nil {
		return fmt.Sprintf("unknown instrument %d", req.Key.Instrument)
	}

	price := req.Price
	if !price.IsPositive() {
		price = inst.Market.LastPrice
	}
	signed := req.Quantity
	if req.Side == schema.SideSell {
		signed = signed.Neg()
	}
	projected := inst.Position.Quantity.Add(signed).Abs()
	projectedNotional := projected.Mul(price)

	if limits.MaxPositionQuantity != nil && projected.GreaterThan(*limits.MaxPositionQuantity) {
		return fmt.Sprintf("max_position_quantity exceeded: %s > %s", projected, limits.MaxPositionQuantity)
	}
	if limits.MaxPositionNotional != nil && projectedNotional.GreaterThan(*limits.MaxPositionNotional) {
		return fmt.Sprintf("max_position_notional exceeded: %s > %s", projectedNotional, limits.MaxPositionNotional)
	}

	if limits.MaxExposurePercent == nil && limits.MaxLeverage == nil {
		return ""
	}
	equity := m.quoteEquity(s, inst.Instrument.Quote)
	if !equity.IsPositive() {
		return "no equity available for exposure limits"
	}
	if limits.MaxExposurePercent != nil {
		exposure := projectedNotional.Div(equity)
		if exposure.GreaterThan(*limits.MaxExposurePercent) {
			return fmt.Sprintf("max_exposure_percent exceeded: %s > %s", exposure, limits.MaxExposurePercent)
		}
	}
	if limits.MaxLeverage != nil {
		aggregate := m.aggregateNotional(s, inst.Instrument.Quote, req.Key.Instrument).Add(projectedNotional)
		leverage := aggregate.Div(equity)
		if leverage.GreaterThan(*limits.MaxLeverage) {
			return fmt.Sprintf("max_leverage exceeded: %s > %s", leverage, limits.MaxLeverage)
		}
	}
	return ""
}

// quoteEquity values equity as the total balance of the quote asset. Cross
// asset valuation would need a price path the core does not carry.
func (m *LimitManager) quoteEquity(s *state.EngineState, quote schema.AssetIndex) decimal.Decimal {
	balance, err := s.AssetBalance(quote)
	if err != nil {
		return decimal.Decimal{}
	}
	return balance.Total
}

// aggregateNotional sums |position| * last price over instruments settling in
// the same quote asset, excluding the instrument being checked.
func (m *LimitManager) aggregateNotional(s *state.EngineState, quote schema.AssetIndex, except schema.InstrumentIndex) decimal.Decimal {
	total := decimal.Decimal{}
	for _, inst := range s.Instruments() {
		if inst.Instrument.Index == except || inst.Instrument.Quote != quote {
			continue
		}
		if inst.Position.IsFlat() || !inst.Market.LastPrice.IsPositive() {
			continue
		}
		total = total.Add(inst.Position.Notional(inst.Market.LastPrice))
	}
	return total
}
