package stats

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// InstrumentTearSheet is the per-instrument section of the trading summary.
type InstrumentTearSheet struct {
	PnlRealised  decimal.Decimal  `json:"pnl_realised"`
	Trades       uint64           `json:"trades"`
	Wins         uint64           `json:"wins"`
	Losses       uint64           `json:"losses"`
	WinRate      *decimal.Decimal `json:"win_rate,omitempty"`
	ProfitFactor *decimal.Decimal `json:"profit_factor,omitempty"`
	Sharpe       *decimal.Decimal `json:"sharpe_ratio,omitempty"`
	Sortino      *decimal.Decimal `json:"sortino_ratio,omitempty"`
	Calmar       *decimal.Decimal `json:"calmar_ratio,omitempty"`
	MaxDrawdown  *Drawdown        `json:"max_drawdown,omitempty"`
	MeanDrawdown *MeanDrawdown    `json:"mean_drawdown,omitempty"`
}

// AssetTearSheet is the per-asset section of the trading summary.
type AssetTearSheet struct {
	BalanceStart decimal.Decimal  `json:"balance_start"`
	BalanceEnd   decimal.Decimal  `json:"balance_end"`
	RateOfReturn *decimal.Decimal `json:"rate_of_return,omitempty"`
	Sharpe       *decimal.Decimal `json:"sharpe_ratio,omitempty"`
	Sortino      *decimal.Decimal `json:"sortino_ratio,omitempty"`
	Calmar       *decimal.Decimal `json:"calmar_ratio,omitempty"`
	MaxDrawdown  *Drawdown        `json:"max_drawdown,omitempty"`
	MeanDrawdown *MeanDrawdown    `json:"mean_drawdown,omitempty"`
}

// TradingSummary is the end-of-run report. Tear sheets are keyed by canonical
// instrument name and "exchange:asset"; map keys marshal sorted, so repeated
// runs over the same inputs produce byte-identical JSON.
type TradingSummary struct {
	RiskFreeReturn decimal.Decimal                `json:"risk_free_return"`
	Interval       string                         `json:"interval"`
	TimeStart      time.Time                      `json:"time_start"`
	TimeEnd        time.Time                      `json:"time_end"`
	Instruments    map[string]InstrumentTearSheet `json:"instruments"`
	Assets         map[string]AssetTearSheet      `json:"assets"`
}

// MarshalStable returns the deterministic JSON encoding of the summary.
func (s TradingSummary) MarshalStable() ([]byte, error) {
	return json.Marshal(s)
}

type instrumentAccum struct {
	pnl        decimal.Decimal
	trades     uint64
	wins       uint64
	losses     uint64
	gains      decimal.Decimal
	lossSum    decimal.Decimal
	returns    welford
	curve      drawdownTracker
	cumulative decimal.Decimal
}

type assetAccum struct {
	seeded    bool
	first     decimal.Decimal
	last      decimal.Decimal
	firstTime time.Time
	lastTime  time.Time
	returns   welford
	curve     drawdownTracker
}

// Tracker accumulates tear sheets during a run. It is driven by the engine
// state hooks and therefore only ever touched by the engine worker.
type Tracker struct {
	catalogue   *schema.Catalogue
	instruments map[string]*instrumentAccum
	assets      map[string]*assetAccum
	timeStart   time.Time
	timeEnd     time.Time
}

// NewTracker builds an empty tracker over the catalogue.
func NewTracker(catalogue *schema.Catalogue) *Tracker {
	return &Tracker{
		catalogue:   catalogue,
		instruments: make(map[string]*instrumentAccum),
		assets:      make(map[string]*assetAccum),
	}
}

// Bind registers the tracker on the engine state hooks.
func (t *Tracker) Bind(s *state.EngineState) {
	s.OnTrade(t.OnTrade)
	s.OnClosedPosition(t.OnClosedPosition)
	s.OnBalance(t.OnBalance)
}

func (t *Tracker) instrumentAccum(idx schema.InstrumentIndex) *instrumentAccum {
	name := "unknown"
	if inst, ok := t.catalogue.Instrument(idx); ok {
		name = inst.Name
	}
	accum, ok := t.instruments[name]
	if !ok {
		accum = &instrumentAccum{}
		t.instruments[name] = accum
	}
	return accum
}

// OnTrade counts one fill against its instrument.
func (t *Tracker) OnTrade(idx schema.InstrumentIndex, f schema.Fill) {
	t.instrumentAccum(idx).trades++
	t.observeTime(f.TimeExchange)
}

// OnClosedPosition folds one closed position into its instrument tear sheet.
func (t *Tracker) OnClosedPosition(closed state.ClosedPosition) {
	accum := t.instrumentAccum(closed.Instrument)
	pnl := closed.PnlRealised
	accum.pnl = accum.pnl.Add(pnl)
	switch pnl.Sign() {
	case 1:
		accum.wins++
		accum.gains = accum.gains.Add(pnl)
	case -1:
		accum.losses++
		accum.lossSum = accum.lossSum.Add(pnl.Abs())
	}
	accum.returns.add(pnl, closed.TimeExited)
	accum.cumulative = accum.cumulative.Add(pnl)
	accum.curve.observe(accum.cumulative, closed.TimeExited)
	t.observeTime(closed.TimeExited)
}

// OnBalance folds one applied balance snapshot into its asset tear sheet.
func (t *Tracker) OnBalance(asset schema.Asset, balance schema.Balance) {
	exchange, _ := t.catalogue.Exchange(asset.Exchange)
	key := string(exchange.ID) + ":" + asset.Name
	accum, ok := t.assets[key]
	if !ok {
		accum = &assetAccum{}
		t.assets[key] = accum
	}
	total := balance.Total
	at := balance.TimeExchange
	if !accum.seeded {
		accum.seeded = true
		accum.first = total
		accum.firstTime = at
	} else if accum.last.IsPositive() {
		accum.returns.add(total.Sub(accum.last).Div(accum.last), at)
	}
	accum.last = total
	accum.lastTime = at
	accum.curve.observe(total, at)
	t.observeTime(at)
}

func (t *Tracker) observeTime(at time.Time) {
	if at.IsZero() {
		return
	}
	if t.timeStart.IsZero() || at.Before(t.timeStart) {
		t.timeStart = at
	}
	if at.After(t.timeEnd) {
		t.timeEnd = at
	}
}

// Summary computes the trading summary at the given risk-free return and
// interval.
func (t *Tracker) Summary(riskFree decimal.Decimal, interval TimeInterval) (TradingSummary, error) {
	if err := interval.Validate(); err != nil {
		return TradingSummary{}, err
	}
	summary := TradingSummary{
		RiskFreeReturn: riskFree,
		Interval:       interval.Name,
		TimeStart:      t.timeStart,
		TimeEnd:        t.timeEnd,
		Instruments:    make(map[string]InstrumentTearSheet, len(t.instruments)),
		Assets:         make(map[string]AssetTearSheet, len(t.assets)),
	}
	for name, accum := range t.instruments {
		summary.Instruments[name] = accum.tearSheet(riskFree, interval)
	}
	for name, accum := range t.assets {
		summary.Assets[name] = accum.tearSheet(riskFree, interval)
	}
	return summary, nil
}

func (a *instrumentAccum) tearSheet(riskFree decimal.Decimal, interval TimeInterval) InstrumentTearSheet {
	sheet := InstrumentTearSheet{
		PnlRealised: a.pnl,
		Trades:      a.trades,
		Wins:        a.wins,
		Losses:      a.losses,
	}
	if closed := a.wins + a.losses; closed > 0 {
		winRate := decimal.NewFromInt(int64(a.wins)).Div(decimal.NewFromInt(int64(closed)))
		sheet.WinRate = &winRate
	}
	if a.lossSum.IsPositive() {
		profitFactor := a.gains.Div(a.lossSum)
		sheet.ProfitFactor = &profitFactor
	}
	sheet.Sharpe = sharpe(&a.returns, riskFree, interval)
	sheet.Sortino = sortino(&a.returns, riskFree, interval)
	drawdowns := a.curve.finish()
	sheet.MaxDrawdown = maxDrawdown(drawdowns)
	sheet.MeanDrawdown = meanDrawdown(drawdowns)
	sheet.Calmar = calmar(scaledTotal(a.pnl, a.returns.timeFirst, a.returns.timeLast, interval), sheet.MaxDrawdown)
	return sheet
}

func (a *assetAccum) tearSheet(riskFree decimal.Decimal, interval TimeInterval) AssetTearSheet {
	sheet := AssetTearSheet{
		BalanceStart: a.first,
		BalanceEnd:   a.last,
	}
	if a.seeded && a.first.IsPositive() {
		ror := a.last.Sub(a.first).Div(a.first)
		if scaled := scaledTotal(ror, a.firstTime, a.lastTime, interval); scaled != nil {
			sheet.RateOfReturn = scaled
		} else {
			sheet.RateOfReturn = &ror
		}
	}
	sheet.Sharpe = sharpe(&a.returns, riskFree, interval)
	sheet.Sortino = sortino(&a.returns, riskFree, interval)
	drawdowns := a.curve.finish()
	sheet.MaxDrawdown = maxDrawdown(drawdowns)
	sheet.MeanDrawdown = meanDrawdown(drawdowns)
	var calmarBase *decimal.Decimal
	if sheet.RateOfReturn != nil {
		calmarBase = sheet.RateOfReturn
	}
	sheet.Calmar = calmar(calmarBase, sheet.MaxDrawdown)
	return sheet
}

// sharpe computes (mean - r) / std * sqrt(interval / sampling), absent on
// zero variance.
func sharpe(w *welford, riskFree decimal.Decimal, interval TimeInterval) *decimal.Decimal {
	std, ok := w.stdDev()
	if !ok {
		return nil
	}
	value := w.mean.Sub(riskFree).Div(std).Mul(intervalScale(w, interval))
	return &value
}

// sortino uses the downside deviation as the denominator, absent when no
// sample was negative.
func sortino(w *welford, riskFree decimal.Decimal, interval TimeInterval) *decimal.Decimal {
	down, ok := w.downsideDev()
	if !ok {
		return nil
	}
	value := w.mean.Sub(riskFree).Div(down).Mul(intervalScale(w, interval))
	return &value
}

func intervalScale(w *welford, interval TimeInterval) decimal.Decimal {
	sampling, ok := w.samplingSeconds()
	if !ok || !sampling.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return sqrt(interval.seconds().Div(sampling))
}

// calmar divides the interval-scaled return by the max drawdown magnitude,
// absent when there was no drawdown.
func calmar(scaledReturn *decimal.Decimal, max *Drawdown) *decimal.Decimal {
	if scaledReturn == nil || max == nil || !max.Value.IsPositive() {
		return nil
	}
	value := scaledReturn.Div(max.Value.Abs())
	return &value
}

// scaledTotal scales a whole-run value to the interval by the elapsed time
// fraction, or nil when no time elapsed.
func scaledTotal(total decimal.Decimal, first, last time.Time, interval TimeInterval) *decimal.Decimal {
	if first.IsZero() || !last.After(first) {
		return nil
	}
	elapsed := decimal.NewFromFloat(last.Sub(first).Seconds())
	if !elapsed.IsPositive() {
		return nil
	}
	value := total.Mul(interval.seconds()).Div(elapsed)
	return &value
}
