// Package system builds and drives a full trading run: catalogue, execution
// clients, market and account pumps, feed, engine and statistics, behind one
// handle with trading-state, command and shutdown controls.
package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/audit"
	"tradecore/internal/bus"
	"tradecore/internal/clock"
	"tradecore/internal/engine"
	"tradecore/internal/execution"
	"tradecore/internal/market"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/internal/stats"
	"tradecore/internal/strategy"
)

// Mode selects how the engine is driven.
type Mode string

const (
	// ModeStream runs the engine on its own goroutine.
	ModeStream Mode = "stream"
	// ModeIterator lets the caller drive the engine one event at a time.
	ModeIterator Mode = "iterator"
)

// Config assembles one system run. System is required; the rest default to
// stream mode, wall clock, no-op strategy and configured or pass-through risk.
type Config struct {
	System   ops.SystemConfig
	Mode     Mode
	Clock    clock.Clock
	Strategy strategy.Strategy
	Risk     risk.Manager
	Market   market.Stream
	Metrics  *obs.Metrics
}

// System is the live handle over a running engine.
type System struct {
	catalogue *schema.Catalogue
	st        *state.EngineState
	tracker   *stats.Tracker
	feed      *bus.Feed
	recorder  *audit.Recorder
	eng       *engine.Engine
	clients   map[schema.ExchangeIndex]execution.Client
	market    market.Stream
	mode      Mode

	pumpCtx    context.Context
	pumpCancel context.CancelFunc
	pumps      sync.WaitGroup

	runErr chan error

	mu       sync.Mutex
	finished bool
}

// Start builds every component, seeds the state from the execution clients
// and starts the pumps. In stream mode the engine worker starts immediately;
// in iterator mode the caller drives it with Next.
func Start(cfg Config) (*System, error) {
	sysCfg := cfg.System.WithDefaults()
	if err := sysCfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStream
	}

	catalogue, err := schema.NewCatalogue(sysCfg.Instruments)
	if err != nil {
		return nil, err
	}
	st := state.New(catalogue)
	tracker := stats.NewTracker(catalogue)
	tracker.Bind(st)

	riskManager := cfg.Risk
	if riskManager == nil {
		if sysCfg.Risk != nil {
			limitManager, err := risk.NewLimitManager(*sysCfg.Risk)
			if err != nil {
				return nil, err
			}
			riskManager = limitManager
		} else {
			riskManager = risk.NewPassThrough()
		}
	}

	clients, err := buildClients(catalogue, sysCfg)
	if err != nil {
		return nil, err
	}
	if err := seedState(st, clients, sysCfg.Balances); err != nil {
		closeClients(clients)
		return nil, err
	}

	feed := bus.NewFeed(sysCfg.FeedCapacity)
	recorder := audit.NewRecorder()
	eng, err := engine.New(engine.Config{
		State:    st,
		Feed:     feed,
		Audit:    recorder,
		Clock:    cfg.Clock,
		Strategy: cfg.Strategy,
		Risk:     riskManager,
		Clients:  clients,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		closeClients(clients)
		return nil, err
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	s := &System{
		catalogue:  catalogue,
		st:         st,
		tracker:    tracker,
		feed:       feed,
		recorder:   recorder,
		eng:        eng,
		clients:    clients,
		market:     cfg.Market,
		mode:       cfg.Mode,
		pumpCtx:    pumpCtx,
		pumpCancel: pumpCancel,
		runErr:     make(chan error, 1),
	}
	s.startPumps()
	if cfg.Mode == ModeStream {
		go func() {
			s.runErr <- eng.Run()
		}()
	}
	return s, nil
}

// buildClients constructs one execution client per config entry and registers
// the exchange's instruments on mock clients.
func buildClients(catalogue *schema.Catalogue, cfg ops.SystemConfig) (map[schema.ExchangeIndex]execution.Client, error) {
	clients := make(map[schema.ExchangeIndex]execution.Client, len(cfg.Executions))
	for _, execCfg := range cfg.Executions {
		client, err := execution.Build(execCfg)
		if err != nil {
			closeClients(clients)
			return nil, err
		}
		exIdx, ok := catalogue.ExchangeIndexOf(client.Exchange())
		if !ok {
			// No instrument trades on this exchange; the client is inert.
			logs.Warn(fmt.Sprintf("execution client %s has no catalogue instruments", client.Exchange()))
			_ = client.Close()
			continue
		}
		if mock, ok := client.(*execution.Mock); ok {
			for _, inst := range catalogue.Instruments() {
				if inst.Exchange == exIdx {
					mock.RegisterInstrument(inst.Index, inst.Underlying)
				}
			}
		}
		clients[exIdx] = client
	}
	return clients, nil
}

// seedState applies each client's initial account snapshot, with configured
// balance overrides replacing the snapshot entries, before the engine emits
// its first audit tick.
func seedState(st *state.EngineState, clients map[schema.ExchangeIndex]execution.Client, overrides []ops.SeedBalance) error {
	for _, client := range clients {
		seed := client.Seed()
		seed.Balances = applyOverrides(seed.Exchange, seed.Balances, overrides)
		event := schema.AccountStreamEvent{Item: &schema.AccountEvent{
			Exchange: seed.Exchange,
			Kind:     schema.AccountEventKind{Snapshot: &seed},
		}}
		if _, err := st.ApplyAccount(event); err != nil {
			return errors.Wrapf(err, "seed state for %s", seed.Exchange)
		}
	}
	return nil
}

func applyOverrides(exchange schema.ExchangeID, balances []schema.AssetBalance, overrides []ops.SeedBalance) []schema.AssetBalance {
	for _, o := range overrides {
		if o.Exchange != exchange {
			continue
		}
		replaced := false
		for i := range balances {
			if balances[i].Asset == o.Asset {
				balances[i].Balance = o.Balance
				replaced = true
				break
			}
		}
		if !replaced {
			balances = append(balances, schema.AssetBalance{Asset: o.Asset, Balance: o.Balance})
		}
	}
	return balances
}

func closeClients(clients map[schema.ExchangeIndex]execution.Client) {
	for _, client := range clients {
		_ = client.Close()
	}
}

// startPumps pipes the market stream and every account stream into the feed.
// Producers block when the feed is full; cancelling the pump context releases
// them.
func (s *System) startPumps() {
	if s.market != nil {
		s.pumps.Add(1)
		go func() {
			defer s.pumps.Done()
			for ev := range s.market.Events() {
				if err := s.feed.Publish(s.pumpCtx, schema.EngineEvent{Market: ptr(ev)}); err != nil {
					return
				}
			}
		}()
	}
	for _, client := range s.clients {
		client := client
		s.pumps.Add(1)
		go func() {
			defer s.pumps.Done()
			for ev := range client.AccountStream() {
				if err := s.feed.Publish(s.pumpCtx, schema.EngineEvent{Account: ptr(ev)}); err != nil {
					return
				}
			}
		}()
	}
}

// Catalogue returns the immutable instrument catalogue.
func (s *System) Catalogue() *schema.Catalogue {
	return s.catalogue
}

// SendEvent enqueues one engine event.
func (s *System) SendEvent(ctx context.Context, ev schema.EngineEvent) error {
	return s.feed.Publish(ctx, ev)
}

// FeedEvents enqueues events in order.
func (s *System) FeedEvents(ctx context.Context, events ...schema.EngineEvent) error {
	for _, ev := range events {
		if err := s.feed.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// SetTradingEnabled toggles algorithmic order generation.
func (s *System) SetTradingEnabled(ctx context.Context, enabled bool) error {
	ts := schema.TradingDisabled
	if enabled {
		ts = schema.TradingEnabled
	}
	return s.SendEvent(ctx, schema.TradingStateEvent(ts))
}

// SendOpenRequests routes open requests through the engine's risk check.
func (s *System) SendOpenRequests(ctx context.Context, reqs ...schema.OrderRequestOpen) error {
	return s.SendEvent(ctx, schema.CommandEvent(schema.Command{SendOpenRequests: reqs}))
}

// SendCancelRequests routes cancel requests through the engine.
func (s *System) SendCancelRequests(ctx context.Context, reqs ...schema.OrderRequestCancel) error {
	return s.SendEvent(ctx, schema.CommandEvent(schema.Command{SendCancelRequests: reqs}))
}

// CancelOrders cancels every active order matching the filter.
func (s *System) CancelOrders(ctx context.Context, filter schema.InstrumentFilter) error {
	return s.SendEvent(ctx, schema.CommandEvent(schema.Command{CancelOrders: &filter}))
}

// ClosePositions flattens every open position matching the filter.
func (s *System) ClosePositions(ctx context.Context, filter schema.InstrumentFilter) error {
	return s.SendEvent(ctx, schema.CommandEvent(schema.Command{ClosePositions: &filter}))
}

// TakeAudit transfers the audit stream to the caller. Callable once.
func (s *System) TakeAudit() (*audit.Stream, error) {
	return s.recorder.Take()
}

// Next drives one engine step in iterator mode.
func (s *System) Next() (done bool, err error) {
	if s.mode != ModeIterator {
		return true, errors.New("next is only available in iterator mode")
	}
	return s.eng.Next()
}

// Shutdown enqueues the shutdown sentinel, waits for the engine to terminate
// and releases every resource. It returns the final engine state.
func (s *System) Shutdown(ctx context.Context) (*state.EngineState, error) {
	if err := s.SendEvent(ctx, schema.ShutdownEvent()); err != nil {
		return nil, err
	}
	if err := s.await(ctx); err != nil {
		return nil, err
	}
	s.teardown()
	return s.st, nil
}

// ShutdownWithSummary shuts down and computes the trading summary at the
// given risk-free return and interval. The context carries the optional
// timeout; on expiry the system state is unspecified until Abort.
func (s *System) ShutdownWithSummary(ctx context.Context, riskFree decimal.Decimal, interval stats.TimeInterval) (stats.TradingSummary, *state.EngineState, error) {
	final, err := s.Shutdown(ctx)
	if err != nil {
		return stats.TradingSummary{}, nil, err
	}
	summary, err := s.tracker.Summary(riskFree, interval)
	if err != nil {
		return stats.TradingSummary{}, nil, err
	}
	return summary, final, nil
}

// Abort drops the run without draining: pumps are cancelled, the feed and
// every client are closed, no summary is produced.
func (s *System) Abort() {
	s.teardown()
}

// await blocks until the engine terminates.
func (s *System) await(ctx context.Context) error {
	switch s.mode {
	case ModeStream:
		select {
		case err := <-s.runErr:
			return err
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "await engine termination")
		}
	default:
		for {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "await engine termination")
			}
			done, err := s.eng.Next()
			if err != nil {
				s.eng.Finish()
				return err
			}
			if done {
				s.eng.Finish()
				return nil
			}
		}
	}
}

// teardown releases resources exactly once.
func (s *System) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true

	s.pumpCancel()
	if s.market != nil {
		_ = s.market.Close()
	}
	closeClients(s.clients)
	s.pumps.Wait()
	s.feed.Close()
	s.recorder.Close()
}

func ptr[T any](v T) *T { return &v }
