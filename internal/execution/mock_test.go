package execution

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func newTestMock(t *testing.T) *Mock {
	t.Helper()
	funds := decimal.NewFromInt(10000)
	m, err := NewMock(MockConfig{
		Exchange: "mock",
		InitialState: schema.AccountSnapshot{
			Balances: []schema.AssetBalance{{
				Asset:   "usdt",
				Balance: schema.Balance{Total: funds, Free: funds},
			}},
		},
		FeesPercent: 0.01,
		Now:         func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	m.RegisterInstrument(0, schema.Underlying{Base: "btc", Quote: "usdt"})
	return m
}

func nextEvent(t *testing.T, m *Mock) schema.AccountEvent {
	t.Helper()
	select {
	case ev, ok := <-m.AccountStream():
		require.True(t, ok, "account stream closed early")
		require.NotNil(t, ev.Item)
		return *ev.Item
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for account event")
		return schema.AccountEvent{}
	}
}

func marketBuy(clientID schema.ClientOrderID, price, qty int64) schema.OrderRequestOpen {
	return schema.OrderRequestOpen{
		Key:         schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: clientID},
		Side:        schema.SideBuy,
		Price:       decimal.NewFromInt(price),
		Quantity:    decimal.NewFromInt(qty),
		Kind:        schema.OrderKindMarket,
		TimeInForce: schema.IOC(),
	}
}

func TestMockConfigValidate(t *testing.T) {
	_, err := NewMock(MockConfig{Exchange: "nope"})
	require.Error(t, err)

	_, err = NewMock(MockConfig{Exchange: "mock", LatencyMs: -1})
	require.Error(t, err)

	_, err = NewMock(MockConfig{Exchange: "mock", FeesPercent: 1.5})
	require.Error(t, err)
}

func TestMockMarketFillEventOrder(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.SendOpen(marketBuy("c1", 100, 2)))

	// Quote balance first: 10000 - (200 + 2 fee).
	ev := nextEvent(t, m)
	require.NotNil(t, ev.Kind.BalanceSnapshot)
	assert.Equal(t, "usdt", ev.Kind.BalanceSnapshot.Asset)
	assert.Equal(t, "9798", ev.Kind.BalanceSnapshot.Balance.Free.String())

	// Base balance second.
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.BalanceSnapshot)
	assert.Equal(t, "btc", ev.Kind.BalanceSnapshot.Asset)
	assert.Equal(t, "2", ev.Kind.BalanceSnapshot.Balance.Total.String())

	// Trade third.
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.Trade)
	assert.Equal(t, "100", ev.Kind.Trade.Price.String())
	assert.Equal(t, "2", ev.Kind.Trade.Quantity.String())
	assert.Equal(t, "2", ev.Kind.Trade.Fees.String())

	// Fully filled ack last.
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderOpened)
	require.NotNil(t, ev.Kind.OrderOpened.Ok)
	assert.Equal(t, schema.StatusFullyFilled, ev.Kind.OrderOpened.Ok.State.Status)
}

func TestMockMarketSellProceeds(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.SendOpen(marketBuy("c1", 100, 2)))
	for i := 0; i < 4; i++ {
		nextEvent(t, m)
	}

	sell := marketBuy("c2", 110, 2)
	sell.Side = schema.SideSell
	require.NoError(t, m.SendOpen(sell))

	ev := nextEvent(t, m)
	require.NotNil(t, ev.Kind.BalanceSnapshot)
	// 9798 + (220 - 2.2 fee)
	assert.Equal(t, "10015.8", ev.Kind.BalanceSnapshot.Balance.Free.String())

	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.BalanceSnapshot)
	assert.Equal(t, "btc", ev.Kind.BalanceSnapshot.Asset)
	assert.True(t, ev.Kind.BalanceSnapshot.Balance.Total.IsZero())
}

func TestMockInsufficientFunds(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.SendOpen(marketBuy("c1", 100, 1000)))

	ev := nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderOpened)
	require.NotNil(t, ev.Kind.OrderOpened.Err)
	assert.Contains(t, ev.Kind.OrderOpened.Err.Reason, "insufficient")
}

func TestMockUnregisteredInstrument(t *testing.T) {
	m := newTestMock(t)
	req := marketBuy("c1", 100, 1)
	req.Key.Instrument = 9
	require.NoError(t, m.SendOpen(req))

	ev := nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderOpened)
	require.NotNil(t, ev.Kind.OrderOpened.Err)
	assert.Contains(t, ev.Kind.OrderOpened.Err.Reason, "unknown instrument")
}

func TestMockLimitRestAndCancel(t *testing.T) {
	m := newTestMock(t)
	req := schema.OrderRequestOpen{
		Key:         schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"},
		Side:        schema.SideBuy,
		Price:       decimal.NewFromInt(90),
		Quantity:    decimal.NewFromInt(1),
		Kind:        schema.OrderKindLimit,
		TimeInForce: schema.GTC(false),
	}
	require.NoError(t, m.SendOpen(req))

	ev := nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderOpened)
	require.NotNil(t, ev.Kind.OrderOpened.Ok)
	assert.Equal(t, schema.StatusOpen, ev.Kind.OrderOpened.Ok.State.Status)
	orderID := ev.Kind.OrderOpened.Ok.State.OrderID
	require.NotEmpty(t, orderID)

	// Duplicate client order id is refused.
	require.NoError(t, m.SendOpen(req))
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderOpened.Err)
	assert.Contains(t, ev.Kind.OrderOpened.Err.Reason, "duplicate")

	require.NoError(t, m.SendCancel(schema.OrderRequestCancel{Key: req.Key, OrderID: orderID}))
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderCancelled)
	require.NotNil(t, ev.Kind.OrderCancelled.Ok)
	assert.Equal(t, schema.StatusCancelled, ev.Kind.OrderCancelled.Ok.State.Status)
	assert.Equal(t, orderID, ev.Kind.OrderCancelled.Ok.State.OrderID)

	// Cancelling again reports not found.
	require.NoError(t, m.SendCancel(schema.OrderRequestCancel{Key: req.Key, OrderID: orderID}))
	ev = nextEvent(t, m)
	require.NotNil(t, ev.Kind.OrderCancelled)
	require.NotNil(t, ev.Kind.OrderCancelled.Err)
	assert.Contains(t, ev.Kind.OrderCancelled.Err.Reason, "not found")
}

func TestMockCloseEndsStream(t *testing.T) {
	m := newTestMock(t)
	require.NoError(t, m.Close())

	if err := m.SendOpen(marketBuy("c1", 100, 1)); err == nil {
		t.Fatal("send after close succeeded")
	}
	select {
	case _, ok := <-m.AccountStream():
		assert.False(t, ok, "stream must be closed")
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestMockCloseUnblocksBackloggedWorker(t *testing.T) {
	m := newTestMock(t)
	// Each fill emits four events; enough orders to overrun the stream
	// buffer with nothing reading it.
	for i := 0; i < 80; i++ {
		id := schema.ClientOrderID(fmt.Sprintf("c%d", i))
		require.NoError(t, m.SendOpen(marketBuy(id, 1, 1)))
	}

	closed := make(chan struct{})
	go func() {
		_ = m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind an unread backlog")
	}
}

func TestBuildRejectsEmptyConfig(t *testing.T) {
	_, err := Build(Config{})
	require.Error(t, err)

	client, err := Build(Config{Mock: &MockConfig{Exchange: "mock"}})
	require.NoError(t, err)
	assert.Equal(t, schema.ExchangeID("mock"), client.Exchange())
	require.NoError(t, client.Close())
}
