package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newRiskState(t *testing.T) *state.EngineState {
	t.Helper()
	catalogue, err := schema.NewCatalogue([]schema.InstrumentConfig{
		{
			Exchange:     "mock",
			NameExchange: "BTCUSDT",
			Underlying:   schema.Underlying{Base: "btc", Quote: "usdt"},
			Kind:         schema.KindSpot,
		},
		{
			Exchange:     "mock",
			NameExchange: "ETHUSDT",
			Underlying:   schema.Underlying{Base: "eth", Quote: "usdt"},
			Kind:         schema.KindSpot,
		},
	})
	require.NoError(t, err)
	return state.New(catalogue)
}

func openReq(instrument schema.InstrumentIndex, side schema.Side, price, qty int64) schema.OrderRequestOpen {
	return schema.OrderRequestOpen{
		Key: schema.OrderKey{
			Instrument: instrument,
			Strategy:   "s1",
			ClientID:   schema.ClientOrderID("c-" + side),
		},
		Side:        side,
		Price:       decimal.NewFromInt(price),
		Quantity:    decimal.NewFromInt(qty),
		Kind:        schema.OrderKindLimit,
		TimeInForce: schema.GTC(false),
	}
}

func seedBalance(t *testing.T, s *state.EngineState, asset string, total int64) {
	t.Helper()
	ab := schema.AssetBalance{
		Asset: asset,
		Balance: schema.Balance{
			Total:        decimal.NewFromInt(total),
			Free:         decimal.NewFromInt(total),
			TimeExchange: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	_, err := s.ApplyAccount(schema.AccountStreamEvent{Item: &schema.AccountEvent{
		Exchange: "mock",
		Kind:     schema.AccountEventKind{BalanceSnapshot: &ab},
	}})
	require.NoError(t, err)
}

func TestPassThroughApprovesEverything(t *testing.T) {
	s := newRiskState(t)
	opens := []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 1)}
	cancels := []schema.OrderRequestCancel{{Key: schema.OrderKey{Strategy: "s1", ClientID: "c1"}}}

	d := NewPassThrough().Check(s, cancels, opens)
	assert.Equal(t, opens, d.ApprovedOpens)
	assert.Equal(t, cancels, d.ApprovedCancels)
	assert.Empty(t, d.RefusedOpens)
	assert.Empty(t, d.RefusedCancels)
}

func TestLimitConfigValidate(t *testing.T) {
	bad := Config{Global: &Limits{MaxPositionNotional: dec(-1)}}
	_, err := NewLimitManager(bad)
	require.Error(t, err)

	over := decimal.NewFromInt(2)
	bad = Config{Global: &Limits{MaxExposurePercent: &over}}
	_, err = NewLimitManager(bad)
	require.Error(t, err)

	bad = Config{Instruments: []InstrumentLimits{{Index: -1}}}
	_, err = NewLimitManager(bad)
	require.Error(t, err)
}

func TestMaxPositionNotional(t *testing.T) {
	s := newRiskState(t)
	m, err := NewLimitManager(Config{Global: &Limits{MaxPositionNotional: dec(500)}})
	require.NoError(t, err)

	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 4)})
	assert.Len(t, d.ApprovedOpens, 1)

	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 6)})
	require.Len(t, d.RefusedOpens, 1)
	assert.Contains(t, d.RefusedOpens[0].Reason, "max_position_notional")
}

func TestMaxPositionQuantityCountsExisting(t *testing.T) {
	s := newRiskState(t)
	inst, err := s.Instrument(0)
	require.NoError(t, err)
	inst.Position.ApplyFill(0, schema.Fill{
		Key:          schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c0"},
		TradeID:      "t0",
		Side:         schema.SideBuy,
		Price:        decimal.NewFromInt(100),
		Quantity:     decimal.NewFromInt(3),
		TimeExchange: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})

	m, err := NewLimitManager(Config{Global: &Limits{MaxPositionQuantity: dec(4)}})
	require.NoError(t, err)

	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 2)})
	require.Len(t, d.RefusedOpens, 1)
	assert.Contains(t, d.RefusedOpens[0].Reason, "max_position_quantity")

	// Selling reduces the projected position and passes.
	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideSell, 100, 2)})
	assert.Len(t, d.ApprovedOpens, 1)
}

func TestInstrumentOverrideReplacesGlobal(t *testing.T) {
	s := newRiskState(t)
	m, err := NewLimitManager(Config{
		Global: &Limits{MaxPositionNotional: dec(100)},
		Instruments: []InstrumentLimits{
			{Index: 1, Limits: Limits{MaxPositionNotional: dec(10000)}},
		},
	})
	require.NoError(t, err)

	// Over the global limit, rejected on instrument 0.
	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 5)})
	require.Len(t, d.RefusedOpens, 1)

	// The same notional passes on instrument 1 under its override.
	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(1, schema.SideBuy, 100, 5)})
	assert.Len(t, d.ApprovedOpens, 1)
}

func TestExposureRequiresEquity(t *testing.T) {
	s := newRiskState(t)
	half := decimal.NewFromFloat(0.5)
	m, err := NewLimitManager(Config{Global: &Limits{MaxExposurePercent: &half}})
	require.NoError(t, err)

	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 1)})
	require.Len(t, d.RefusedOpens, 1)
	assert.Contains(t, d.RefusedOpens[0].Reason, "equity")

	seedBalance(t, s, "usdt", 1000)
	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 4)})
	assert.Len(t, d.ApprovedOpens, 1)

	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 6)})
	require.Len(t, d.RefusedOpens, 1)
	assert.Contains(t, d.RefusedOpens[0].Reason, "max_exposure_percent")
}

func TestMaxLeverageAggregatesAcrossInstruments(t *testing.T) {
	s := newRiskState(t)
	seedBalance(t, s, "usdt", 1000)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.ApplyMarket(schema.MarketStreamEvent{Item: &schema.MarketEvent{
		TimeExchange: now,
		TimeReceived: now,
		Exchange:     "mock",
		Instrument:   1,
		Kind:         schema.MarketDataKind{Trade: &schema.MarketTrade{ID: "t1", Price: decimal.NewFromInt(200), Amount: decimal.NewFromInt(1), Side: schema.SideBuy}},
	}})
	require.NoError(t, err)
	ethInst, err := s.Instrument(1)
	require.NoError(t, err)
	ethInst.Position.ApplyFill(1, schema.Fill{
		Key:          schema.OrderKey{Instrument: 1, Strategy: "s1", ClientID: "c-eth"},
		TradeID:      "t2",
		Side:         schema.SideBuy,
		Price:        decimal.NewFromInt(200),
		Quantity:     decimal.NewFromInt(4),
		TimeExchange: now,
	})

	m, err := NewLimitManager(Config{Global: &Limits{MaxLeverage: dec(1)}})
	require.NoError(t, err)

	// eth notional 800 + projected btc 400 = 1200 > 1000 equity.
	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 4)})
	require.Len(t, d.RefusedOpens, 1)
	assert.Contains(t, d.RefusedOpens[0].Reason, "max_leverage")

	d = m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 1)})
	assert.Len(t, d.ApprovedOpens, 1)
}

func TestCancelsAlwaysPass(t *testing.T) {
	s := newRiskState(t)
	m, err := NewLimitManager(Config{Global: &Limits{MaxPositionNotional: dec(1)}})
	require.NoError(t, err)

	cancels := []schema.OrderRequestCancel{{Key: schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"}}}
	d := m.Check(s, cancels, nil)
	assert.Equal(t, cancels, d.ApprovedCancels)
	assert.Empty(t, d.RefusedCancels)
}

func TestRefusalReasonNamesLimit(t *testing.T) {
	s := newRiskState(t)
	m, err := NewLimitManager(Config{Global: &Limits{MaxPositionNotional: dec(500)}})
	require.NoError(t, err)

	d := m.Check(s, nil, []schema.OrderRequestOpen{openReq(0, schema.SideBuy, 100, 6)})
	require.Len(t, d.RefusedOpens, 1)
	if !strings.Contains(d.RefusedOpens[0].Reason, "max_position_notional exceeded") {
		t.Fatalf("reason %q does not name the limit", d.RefusedOpens[0].Reason)
	}
}
