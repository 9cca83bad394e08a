package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

func newTestTracker(t *testing.T) (*Tracker, *state.EngineState) {
	t.Helper()
	catalogue, err := schema.NewCatalogue([]schema.InstrumentConfig{{
		Exchange:     "mock",
		NameExchange: "BTCUSDT",
		Underlying:   schema.Underlying{Base: "btc", Quote: "usdt"},
		Kind:         schema.KindSpot,
	}})
	require.NoError(t, err)
	s := state.New(catalogue)
	tracker := NewTracker(catalogue)
	tracker.Bind(s)
	return tracker, s
}

func closedAt(pnl int64, exited time.Time) state.ClosedPosition {
	return state.ClosedPosition{
		Instrument:  0,
		Strategy:    "s1",
		TimeEntered: exited.Add(-time.Hour),
		TimeExited:  exited,
		PnlRealised: decimal.NewFromInt(pnl),
	}
}

func TestSummarySingleTradeNoClose(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.OnTrade(0, schema.Fill{
		Key:          schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"},
		TradeID:      "t1",
		Side:         schema.SideBuy,
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(1),
		TimeExchange: at(0),
	})

	summary, err := tracker.Summary(decimal.Decimal{}, Daily())
	require.NoError(t, err)
	sheet, ok := summary.Instruments["mock:btc_usdt"]
	require.True(t, ok, "tear sheet keyed by canonical instrument name")
	assert.Equal(t, uint64(1), sheet.Trades)
	assert.True(t, sheet.PnlRealised.IsZero())
	assert.Nil(t, sheet.WinRate, "no closed positions, win rate absent")
	assert.Nil(t, sheet.ProfitFactor)
	assert.Nil(t, sheet.Sharpe)
	assert.Nil(t, sheet.MaxDrawdown)
}

func TestSummaryClosedPositions(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.OnClosedPosition(closedAt(10, at(0)))
	tracker.OnClosedPosition(closedAt(-5, at(60)))
	tracker.OnClosedPosition(closedAt(20, at(120)))

	summary, err := tracker.Summary(decimal.Decimal{}, Daily())
	require.NoError(t, err)
	sheet := summary.Instruments["mock:btc_usdt"]

	assert.Equal(t, "25", sheet.PnlRealised.String())
	assert.Equal(t, uint64(2), sheet.Wins)
	assert.Equal(t, uint64(1), sheet.Losses)
	require.NotNil(t, sheet.WinRate)
	assert.Equal(t, "0.6666666666666667", sheet.WinRate.String())
	require.NotNil(t, sheet.ProfitFactor)
	assert.Equal(t, "6", sheet.ProfitFactor.String())
	require.NotNil(t, sheet.Sharpe)
	require.NotNil(t, sheet.Sortino, "one losing close makes sortino computable")
	require.NotNil(t, sheet.MaxDrawdown)
	assert.Equal(t, "5", sheet.MaxDrawdown.Value.String())
	require.NotNil(t, sheet.Calmar)
	// pnl 25 over 2h scaled to daily: 300, over max drawdown 5.
	assert.Equal(t, "60", sheet.Calmar.String())

	assert.True(t, summary.TimeStart.Equal(at(0)))
	assert.True(t, summary.TimeEnd.Equal(at(120)))
}

func TestSummaryAssetCurve(t *testing.T) {
	tracker, _ := newTestTracker(t)
	asset := schema.Asset{Index: 0, Exchange: 0, Name: "usdt"}

	balance := func(total int64, at time.Time) schema.Balance {
		v := decimal.NewFromInt(total)
		return schema.Balance{Total: v, Free: v, TimeExchange: at}
	}
	tracker.OnBalance(asset, balance(100, at(0)))
	tracker.OnBalance(asset, balance(110, at(60)))
	tracker.OnBalance(asset, balance(99, at(120)))

	summary, err := tracker.Summary(decimal.Decimal{}, Daily())
	require.NoError(t, err)
	sheet, ok := summary.Assets["mock:usdt"]
	require.True(t, ok, "asset sheet keyed by exchange:asset")

	assert.Equal(t, "100", sheet.BalanceStart.String())
	assert.Equal(t, "99", sheet.BalanceEnd.String())
	require.NotNil(t, sheet.RateOfReturn)
	// -1% over 2h scaled to daily.
	assert.Equal(t, "-0.12", sheet.RateOfReturn.String())
	require.NotNil(t, sheet.Sharpe)
	require.NotNil(t, sheet.MaxDrawdown)
	assert.Equal(t, "11", sheet.MaxDrawdown.Value.String())
}

func TestSummaryThroughStateHooks(t *testing.T) {
	tracker, s := newTestTracker(t)
	key := schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"}

	apply := func(kind schema.AccountEventKind) {
		_, err := s.ApplyAccount(schema.AccountStreamEvent{Item: &schema.AccountEvent{
			Exchange: "mock",
			Kind:     kind,
		}})
		require.NoError(t, err)
	}

	buy := schema.Fill{
		Key: key, TradeID: "t1", Side: schema.SideBuy,
		Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), TimeExchange: at(0),
	}
	sell := schema.Fill{
		Key: key, TradeID: "t2", Side: schema.SideSell,
		Price: decimal.NewFromInt(110), Quantity: decimal.NewFromInt(1), TimeExchange: at(60),
	}
	apply(schema.AccountEventKind{Trade: &buy})
	apply(schema.AccountEventKind{Trade: &sell})

	summary, err := tracker.Summary(decimal.Decimal{}, Daily())
	require.NoError(t, err)
	sheet := summary.Instruments["mock:btc_usdt"]
	assert.Equal(t, uint64(2), sheet.Trades)
	assert.Equal(t, uint64(1), sheet.Wins)
	assert.Equal(t, "10", sheet.PnlRealised.String())
}

func TestSummaryDeterministicEncoding(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.OnClosedPosition(closedAt(10, at(0)))
	tracker.OnClosedPosition(closedAt(-5, at(60)))

	first, err := tracker.Summary(decimal.NewFromFloat(0.01), Annual365())
	require.NoError(t, err)
	second, err := tracker.Summary(decimal.NewFromFloat(0.01), Annual365())
	require.NoError(t, err)

	a, err := first.MarshalStable()
	require.NoError(t, err)
	b, err := second.MarshalStable()
	require.NoError(t, err)
	assert.Equal(t, a, b, "repeated summaries must encode identically")
	assert.Equal(t, "Annual(365)", first.Interval)
}

func TestSummaryRejectsInvalidInterval(t *testing.T) {
	tracker, _ := newTestTracker(t)
	_, err := tracker.Summary(decimal.Decimal{}, TimeInterval{})
	require.Error(t, err)
}
