package system

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/audit"
	"tradecore/internal/clock"
	"tradecore/internal/execution"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
	"tradecore/internal/stats"
)

func testSystemConfig() ops.SystemConfig {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return ops.SystemConfig{
		Instruments: []schema.InstrumentConfig{{
			Exchange:     "mock",
			NameExchange: "BTCUSDT",
			Underlying:   schema.Underlying{Base: "btc", Quote: "usdt"},
			Kind:         schema.KindSpot,
		}},
		Executions: []execution.Config{{Mock: &execution.MockConfig{
			Exchange: "mock",
			InitialState: schema.AccountSnapshot{
				Exchange: "mock",
				Balances: []schema.AssetBalance{{
					Asset: "usdt",
					Balance: schema.Balance{
						Total:        decimal.NewFromInt(10000),
						Free:         decimal.NewFromInt(10000),
						TimeExchange: now,
					},
				}},
			},
			Now: func() time.Time { return now },
		}}},
	}
}

func marketBuy(clientID schema.ClientOrderID, price, qty int64) schema.OrderRequestOpen {
	return schema.OrderRequestOpen{
		Key:         schema.OrderKey{Exchange: 0, Instrument: 0, Strategy: "s1", ClientID: clientID},
		Side:        schema.SideBuy,
		Price:       decimal.NewFromInt(price),
		Quantity:    decimal.NewFromInt(qty),
		Kind:        schema.OrderKindMarket,
		TimeInForce: schema.IOC(),
	}
}

// stepN drives n engine steps in iterator mode.
func stepN(t *testing.T, sys *System, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := sys.Next()
		require.NoError(t, err)
		require.False(t, done, "engine stopped after %d of %d steps", i+1, n)
	}
}

// readTicks blocks until n ticks arrived on the audit stream.
func readTicks(t *testing.T, stream *audit.Stream, n int) []audit.Tick {
	t.Helper()
	ticks := make([]audit.Tick, 0, n)
	for len(ticks) < n {
		tick, ok := stream.Next()
		require.True(t, ok, "audit stream ended after %d of %d ticks", len(ticks), n)
		ticks = append(ticks, tick)
	}
	return ticks
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	_, err := Start(Config{})
	require.Error(t, err)

	bad := testSystemConfig()
	bad.Executions = nil
	_, err = Start(Config{System: bad})
	require.Error(t, err)
}

func TestIteratorRunLifecycle(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig(), Mode: ModeIterator})
	require.NoError(t, err)
	stream, err := sys.TakeAudit()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sys.SetTradingEnabled(ctx, true))
	stepN(t, sys, 1)

	// A market buy produces two balance updates, the trade and the order ack.
	require.NoError(t, sys.SendOpenRequests(ctx, marketBuy("c1", 100, 1)))
	stepN(t, sys, 5)

	final, err := sys.Shutdown(ctx)
	require.NoError(t, err)

	exIdx, ok := final.Catalogue().ExchangeIndexOf("mock")
	require.True(t, ok)
	usdtIdx, ok := final.Catalogue().AssetIndexOf(exIdx, "usdt")
	require.True(t, ok)
	usdt, err := final.AssetBalance(usdtIdx)
	require.NoError(t, err)
	assert.Equal(t, "9900", usdt.Total.String())

	btcIdx, ok := final.Catalogue().AssetIndexOf(exIdx, "btc")
	require.True(t, ok)
	btc, err := final.AssetBalance(btcIdx)
	require.NoError(t, err)
	assert.Equal(t, "1", btc.Total.String())

	inst, err := final.Instrument(0)
	require.NoError(t, err)
	assert.Equal(t, "1", inst.Position.Quantity.String())
	assert.Equal(t, "100", inst.Position.AverageEntry.String())

	trail := stream.Drain()
	require.Len(t, trail, 9)
	require.NotNil(t, trail[0].Event.Snapshot)
	assert.True(t, trail[len(trail)-1].Event.FeedEnded)
}

func TestSeedBalanceOverrides(t *testing.T) {
	cfg := testSystemConfig()
	cfg.Balances = []ops.SeedBalance{
		{Exchange: "mock", Asset: "usdt", Balance: schema.Balance{Total: decimal.NewFromInt(5000), Free: decimal.NewFromInt(5000)}},
		{Exchange: "mock", Asset: "btc", Balance: schema.Balance{Total: decimal.NewFromInt(2), Free: decimal.NewFromInt(2)}},
	}
	sys, err := Start(Config{System: cfg, Mode: ModeIterator})
	require.NoError(t, err)

	final, err := sys.Shutdown(context.Background())
	require.NoError(t, err)

	exIdx, _ := final.Catalogue().ExchangeIndexOf("mock")
	usdtIdx, ok := final.Catalogue().AssetIndexOf(exIdx, "usdt")
	require.True(t, ok)
	usdt, err := final.AssetBalance(usdtIdx)
	require.NoError(t, err)
	assert.Equal(t, "5000", usdt.Total.String(), "override replaces the snapshot entry")

	btcIdx, ok := final.Catalogue().AssetIndexOf(exIdx, "btc")
	require.True(t, ok)
	btc, err := final.AssetBalance(btcIdx)
	require.NoError(t, err)
	assert.Equal(t, "2", btc.Total.String(), "missing entries are appended")
}

func TestTakeAuditOnce(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig(), Mode: ModeIterator})
	require.NoError(t, err)
	defer sys.Abort()

	_, err = sys.TakeAudit()
	require.NoError(t, err)
	_, err = sys.TakeAudit()
	require.Error(t, err)
}

func TestNextRequiresIteratorMode(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig()})
	require.NoError(t, err)
	defer sys.Abort()

	_, err = sys.Next()
	require.Error(t, err)
}

func TestStreamModeShutdownWithSummary(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig()})
	require.NoError(t, err)
	stream, err := sys.TakeAudit()
	require.NoError(t, err)
	ctx := context.Background()

	// Round trip: buy at 100, sell at 110. Each market fill produces the
	// command tick plus four account ticks; wait for them on the audit stream
	// before shutting down so the fills are folded.
	require.NoError(t, sys.SendOpenRequests(ctx, marketBuy("c1", 100, 1)))
	readTicks(t, stream, 6)

	sell := marketBuy("c2", 110, 1)
	sell.Side = schema.SideSell
	require.NoError(t, sys.SendOpenRequests(ctx, sell))
	readTicks(t, stream, 5)

	summary, final, err := sys.ShutdownWithSummary(ctx, decimal.Zero, stats.Daily())
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "Daily", summary.Interval)

	sheet, ok := summary.Instruments["mock:btc_usdt"]
	require.True(t, ok)
	assert.Equal(t, "10", sheet.PnlRealised.String())
	assert.Equal(t, uint64(2), sheet.Trades)
	assert.Equal(t, uint64(1), sheet.Wins)
	assert.Equal(t, uint64(0), sheet.Losses)
	require.NotNil(t, sheet.WinRate)
	assert.Equal(t, "1", sheet.WinRate.String())

	asset, ok := summary.Assets["mock:usdt"]
	require.True(t, ok)
	assert.Equal(t, "10010", asset.BalanceEnd.String())

	inst, err := final.Instrument(0)
	require.NoError(t, err)
	assert.True(t, inst.Position.Quantity.IsZero(), "round trip leaves a flat position")
}

func TestMockVenueFollowsHistoricalClock(t *testing.T) {
	hist := clock.NewHistorical()
	cfg := testSystemConfig()
	cfg.Executions[0].Mock.Now = hist.TimeEngine

	sys, err := Start(Config{System: cfg, Mode: ModeIterator, Clock: hist})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sys.SetTradingEnabled(ctx, true))
	stepN(t, sys, 1)

	eventTime := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, sys.SendEvent(ctx, schema.MarketItemEvent(schema.MarketEvent{
		TimeExchange: eventTime,
		TimeReceived: eventTime,
		Exchange:     "mock",
		Instrument:   0,
		Kind: schema.MarketDataKind{Trade: &schema.MarketTrade{
			ID:     "t1",
			Price:  decimal.NewFromInt(100),
			Amount: decimal.NewFromInt(1),
			Side:   schema.SideBuy,
		}},
	})))
	stepN(t, sys, 1)

	require.NoError(t, sys.SendOpenRequests(ctx, marketBuy("c1", 100, 1)))
	stepN(t, sys, 5)

	final, err := sys.Shutdown(ctx)
	require.NoError(t, err)

	exIdx, _ := final.Catalogue().ExchangeIndexOf("mock")
	usdtIdx, ok := final.Catalogue().AssetIndexOf(exIdx, "usdt")
	require.True(t, ok)
	usdt, err := final.AssetBalance(usdtIdx)
	require.NoError(t, err)
	assert.Equal(t, "9900", usdt.Total.String())
	assert.True(t, usdt.TimeExchange.Equal(eventTime),
		"venue balances carry the replayed event time, not wall time")
}

func TestAbortIdempotent(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig(), Mode: ModeIterator})
	require.NoError(t, err)
	sys.Abort()
	sys.Abort()
}

func TestShutdownHonoursContext(t *testing.T) {
	sys, err := Start(Config{System: testSystemConfig(), Mode: ModeIterator})
	require.NoError(t, err)
	defer sys.Abort()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sys.Shutdown(ctx)
	require.Error(t, err)
}

func TestBuildClientsSkipsInertClient(t *testing.T) {
	cfg := testSystemConfig()
	cfg.Executions = append(cfg.Executions, execution.Config{Mock: &execution.MockConfig{Exchange: "kraken"}})

	catalogue, err := schema.NewCatalogue(cfg.Instruments)
	require.NoError(t, err)
	clients, err := buildClients(catalogue, cfg.WithDefaults())
	require.NoError(t, err)
	defer closeClients(clients)

	require.Len(t, clients, 1, "a client without catalogue instruments is dropped")
	exIdx, _ := catalogue.ExchangeIndexOf("mock")
	assert.Contains(t, clients, exIdx)
}

func TestApplyOverrides(t *testing.T) {
	base := []schema.AssetBalance{{Asset: "usdt", Balance: schema.Balance{Total: decimal.NewFromInt(1), Free: decimal.NewFromInt(1)}}}
	overrides := []ops.SeedBalance{
		{Exchange: "mock", Asset: "usdt", Balance: schema.Balance{Total: decimal.NewFromInt(9), Free: decimal.NewFromInt(9)}},
		{Exchange: "other", Asset: "usdt", Balance: schema.Balance{Total: decimal.NewFromInt(3), Free: decimal.NewFromInt(3)}},
	}

	out := applyOverrides("mock", base, overrides)
	require.Len(t, out, 1)
	assert.Equal(t, "9", out[0].Balance.Total.String(), "only the matching exchange applies")
}
