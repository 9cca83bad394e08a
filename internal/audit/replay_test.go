package audit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

func replayCatalogue(t *testing.T) *schema.Catalogue {
	t.Helper()
	catalogue, err := schema.NewCatalogue([]schema.InstrumentConfig{{
		Exchange:     "mock",
		NameExchange: "BTCUSDT",
		Underlying:   schema.Underlying{Base: "btc", Quote: "usdt"},
		Kind:         schema.KindSpot,
	}})
	require.NoError(t, err)
	return catalogue
}

// TestReplayReconstructsState drives a live state and records the equivalent
// audit trail side by side, then checks that replaying the trail lands on the
// same final state.
func TestReplayReconstructsState(t *testing.T) {
	catalogue := replayCatalogue(t)
	live := state.New(catalogue)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	var trail []Tick
	seq := schema.Sequence(0)
	record := func(ev schema.EngineEvent, outputs ...Output) Tick {
		seq++
		return Tick{
			Context: schema.EngineContext{Sequence: seq, Time: now},
			Event:   Event{Process: &Process{EventKind: ev.Kind(), Event: ev, Outputs: outputs}},
		}
	}

	snap := live.Snapshot()
	trail = append(trail, Tick{
		Context: schema.EngineContext{Sequence: 0, Time: now},
		Event:   Event{Snapshot: &snap},
	})

	// Enable trading.
	enable := schema.TradingStateEvent(schema.TradingEnabled)
	live.SetTrading(schema.TradingEnabled)
	trail = append(trail, record(enable))

	// A market trade updates the instrument view.
	market := schema.MarketItemEvent(schema.MarketEvent{
		TimeExchange: now,
		TimeReceived: now,
		Exchange:     "mock",
		Instrument:   0,
		Kind:         schema.MarketDataKind{Trade: &schema.MarketTrade{ID: "t1", Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1), Side: schema.SideBuy}},
	})
	_, err := live.ApplyMarket(*market.Market)
	require.NoError(t, err)
	trail = append(trail, record(market))

	// A command dispatches an open; the output is recorded alongside.
	open := schema.OrderRequestOpen{
		Key:         schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"},
		Side:        schema.SideBuy,
		Price:       decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(1),
		Kind:        schema.OrderKindLimit,
		TimeInForce: schema.GTC(false),
	}
	command := schema.CommandEvent(schema.Command{SendOpenRequests: []schema.OrderRequestOpen{open}})
	require.NoError(t, live.RecordInFlight(open, seq+1, now))
	trail = append(trail, record(command, Output{SentOpen: &open}))

	// The venue acknowledges the order.
	opened := open.Snapshot()
	opened.State = schema.Open("ex-1", now, decimal.Decimal{})
	ack := schema.AccountItemEvent(schema.AccountEvent{
		Exchange: "mock",
		Kind:     schema.AccountEventKind{OrderOpened: &schema.OrderResult{Ok: &opened}},
	})
	_, err = live.ApplyAccount(*ack.Account)
	require.NoError(t, err)
	trail = append(trail, record(ack))

	trail = append(trail, Tick{
		Context: schema.EngineContext{Sequence: seq, Time: now},
		Event:   Event{FeedEnded: true},
	})

	replayed, err := Replay(catalogue, trail)
	require.NoError(t, err)
	assert.True(t, live.Equal(replayed), "replayed state differs from live state")
	assert.Equal(t, schema.TradingEnabled, replayed.Trading())
}

func TestReplayIgnoresRecordedErrors(t *testing.T) {
	catalogue := replayCatalogue(t)
	base := state.New(catalogue)
	snap := base.Snapshot()

	refused := schema.CommandEvent(schema.Command{SendOpenRequests: []schema.OrderRequestOpen{{
		Key:         schema.OrderKey{Instrument: 0, Strategy: "s1", ClientID: "c1"},
		Side:        schema.SideBuy,
		Price:       decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(1),
		Kind:        schema.OrderKindLimit,
		TimeInForce: schema.GTC(false),
	}}})
	trail := []Tick{
		{Context: schema.EngineContext{Sequence: 0}, Event: Event{Snapshot: &snap}},
		{Context: schema.EngineContext{Sequence: 1}, Event: Event{Process: &Process{
			EventKind: refused.Kind(),
			Event:     refused,
			Errors:    []Error{{Class: ClassRecoverable, Message: "risk refused open: max_position_notional exceeded"}},
		}}},
		{Context: schema.EngineContext{Sequence: 1}, Event: Event{FeedEnded: true}},
	}

	replayed, err := Replay(catalogue, trail)
	require.NoError(t, err)
	assert.True(t, base.Equal(replayed), "a refused request must leave no trace")
}

func TestReplayRequiresSnapshotFirst(t *testing.T) {
	catalogue := replayCatalogue(t)

	_, err := Replay(catalogue, []Tick{processTick(1, "market")})
	require.Error(t, err)

	_, err = Replay(catalogue, nil)
	require.Error(t, err)

	_, err = Replay(catalogue, []Tick{{Event: Event{FeedEnded: true}}})
	require.Error(t, err)
}
