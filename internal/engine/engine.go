// Package engine implements the sequential event loop: one worker drains the
// feed, mutates the state, invokes strategy and risk, dispatches approved
// requests and emits one audit tick per processed event.
package engine

import (
	"fmt"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/audit"
	"tradecore/internal/bus"
	"tradecore/internal/clock"
	"tradecore/internal/execution"
	"tradecore/internal/obs"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
)

// Status is the lifecycle stage of the engine worker.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusDraining   Status = "draining"
	StatusTerminated Status = "terminated"
)

// Config wires the engine's collaborators. State, Feed and Audit are
// required; the rest default to wall clock, no-op strategy, pass-through risk
// and nil metrics.
type Config struct {
	State    *state.EngineState
	Feed     *bus.Feed
	Audit    *audit.Recorder
	Clock    clock.Clock
	Strategy strategy.Strategy
	Risk     risk.Manager
	Clients  map[schema.ExchangeIndex]execution.Client
	Metrics  *obs.Metrics
}

// Engine owns the state and processes feed events one at a time. It is not
// safe for concurrent use; exactly one goroutine calls Run.
type Engine struct {
	state    *state.EngineState
	feed     *bus.Feed
	auditor  *audit.Recorder
	clock    clock.Clock
	strategy strategy.Strategy
	risk     risk.Manager
	clients  map[schema.ExchangeIndex]execution.Client
	metrics  *obs.Metrics

	seq    schema.Sequence
	status Status
}

// New validates the wiring and builds an idle engine.
func New(cfg Config) (*Engine, error) {
	if cfg.State == nil {
		return nil, errors.New("engine requires a state")
	}
	if cfg.Feed == nil {
		return nil, errors.New("engine requires a feed")
	}
	if cfg.Audit == nil {
		return nil, errors.New("engine requires an audit recorder")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewWall()
	}
	if cfg.Strategy == nil {
		cfg.Strategy = strategy.NewNoop()
	}
	if cfg.Risk == nil {
		cfg.Risk = risk.NewPassThrough()
	}
	return &Engine{
		state:    cfg.State,
		feed:     cfg.Feed,
		auditor:  cfg.Audit,
		clock:    cfg.Clock,
		strategy: cfg.Strategy,
		risk:     cfg.Risk,
		clients:  cfg.Clients,
		metrics:  cfg.Metrics,
		status:   StatusIdle,
	}, nil
}

// Status returns the current lifecycle stage.
func (e *Engine) Status() Status {
	return e.status
}

// Sequence returns the sequence of the last processed event.
func (e *Engine) Sequence() schema.Sequence {
	return e.seq
}

// State exposes the engine state for the owning goroutine between Next calls.
func (e *Engine) State() *state.EngineState {
	return e.state
}

// Run drains the feed until a shutdown event, feed closure or an
// unrecoverable error. It emits the initial snapshot tick, one process tick
// per event and the feed-ended terminator, then closes the audit recorder.
func (e *Engine) Run() error {
	e.start()
	var terminal error
	for ev := range e.feed.C() {
		stop, err := e.step(ev)
		if err != nil {
			terminal = err
		}
		if stop || err != nil {
			break
		}
	}
	e.finish()
	return terminal
}

// Next processes exactly one event, blocking until one arrives. It backs the
// iterator feed mode. done is true once the feed is closed and drained or the
// engine stopped; the caller then invokes Finish.
func (e *Engine) Next() (done bool, err error) {
	if e.status == StatusIdle {
		e.start()
	}
	if e.status != StatusRunning {
		return true, nil
	}
	ev, ok := <-e.feed.C()
	if !ok {
		return true, nil
	}
	stop, err := e.step(ev)
	if err != nil {
		return true, err
	}
	return stop, nil
}

// Finish emits the terminator for an iterator-mode run.
func (e *Engine) Finish() {
	if e.status == StatusTerminated {
		return
	}
	e.finish()
}

func (e *Engine) start() {
	e.status = StatusRunning
	e.emitTick(audit.Tick{
		Context: schema.EngineContext{Sequence: e.seq, Time: e.clock.TimeEngine()},
		Event:   audit.Event{Snapshot: ptr(e.state.Snapshot())},
	})
}

func (e *Engine) finish() {
	e.status = StatusDraining
	e.emitTick(audit.Tick{
		Context: schema.EngineContext{Sequence: e.seq, Time: e.clock.TimeEngine()},
		Event:   audit.Event{FeedEnded: true},
	})
	e.auditor.Close()
	e.status = StatusTerminated
}

func (e *Engine) emitTick(t audit.Tick) {
	if !e.auditor.Emit(t) {
		e.metrics.IncAuditDrop()
	}
}

// step processes one event: advance the clock, mutate, decide, dispatch, emit
// the audit tick. stop is true on shutdown; err is the first unrecoverable
// error of the tick.
func (e *Engine) step(ev schema.EngineEvent) (stop bool, err error) {
	e.seq++
	e.clock.SetEventTime(eventTime(ev))
	ctx := schema.EngineContext{Sequence: e.seq, Time: e.clock.TimeEngine()}

	started := time.Now()
	proc := e.process(ev)
	e.metrics.ObserveEvent(proc.EventKind, time.Since(started))
	e.emitTick(audit.Tick{Context: ctx, Event: audit.Event{Process: proc}})

	for _, ae := range proc.Errors {
		if ae.Class == audit.ClassUnrecoverable {
			return true, errors.New(ae.Message)
		}
	}
	return ev.Shutdown, nil
}

func (e *Engine) process(ev schema.EngineEvent) *audit.Process {
	proc := &audit.Process{EventKind: ev.Kind(), Event: ev}
	if err := ev.Validate(); err != nil {
		e.recordError(proc, err)
		return proc
	}
	switch {
	case ev.Shutdown:
		// The drain runs with generation off; termination itself is handled
		// by the caller.
		e.state.SetTrading(schema.TradingDisabled)
	case ev.TradingStateUpdate != "":
		changed := e.state.SetTrading(ev.TradingStateUpdate)
		if changed && ev.TradingStateUpdate == schema.TradingDisabled {
			cancels, opens := e.strategy.OnTradingDisabled(e.state)
			e.checkAndDispatch(proc, cancels, opens)
		}
	case ev.Command != nil:
		e.executeCommand(proc, *ev.Command)
	case ev.Account != nil:
		edge, err := e.state.ApplyAccount(*ev.Account)
		e.recordError(proc, err)
		if edge != nil {
			e.onDisconnect(proc, edge.Exchange)
		}
	case ev.Market != nil:
		edge, err := e.state.ApplyMarket(*ev.Market)
		e.recordError(proc, err)
		switch {
		case edge != nil:
			e.onDisconnect(proc, edge.Exchange)
		case err == nil && ev.Market.Item != nil && e.state.Trading() == schema.TradingEnabled:
			if exIdx, ok := e.state.Catalogue().ExchangeIndexOf(ev.Market.Item.Exchange); ok && e.state.ExchangeHealthy(exIdx) {
				cancels, opens := e.strategy.GenerateAlgoOrders(e.state)
				e.checkAndDispatch(proc, cancels, opens)
			}
		}
	}
	return proc
}

func (e *Engine) onDisconnect(proc *audit.Process, exchange schema.ExchangeID) {
	cancels, opens := e.strategy.OnDisconnect(e.state, exchange)
	e.checkAndDispatch(proc, cancels, opens)
}

// checkAndDispatch runs proposed requests through risk and dispatches the
// approved set. Refusals are recorded as recoverable errors carrying the
// refused request.
func (e *Engine) checkAndDispatch(proc *audit.Process, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) {
	if len(cancels) == 0 && len(opens) == 0 {
		return
	}
	started := time.Now()
	decision := e.risk.Check(e.state, cancels, opens)
	e.metrics.ObserveRiskEval(time.Since(started))

	for _, refused := range decision.RefusedCancels {
		e.metrics.IncRiskRefusal()
		req := refused.Request
		proc.Errors = append(proc.Errors, audit.Error{
			Class:   audit.ClassRecoverable,
			Message: fmt.Sprintf("risk refused cancel: %s", refused.Reason),
			Cancel:  &req,
		})
	}
	for _, refused := range decision.RefusedOpens {
		e.metrics.IncRiskRefusal()
		req := refused.Request
		proc.Errors = append(proc.Errors, audit.Error{
			Class:   audit.ClassRecoverable,
			Message: fmt.Sprintf("risk refused open: %s", refused.Reason),
			Open:    &req,
		})
	}
	e.dispatch(proc, decision.ApprovedCancels, decision.ApprovedOpens)
}

// dispatch sends approved requests to their execution clients, recording
// in-flight state before each send and a typed output after it. Send failures
// are recoverable and leave no in-flight trace.
func (e *Engine) dispatch(proc *audit.Process, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) {
	now := e.clock.TimeEngine()
	for _, req := range cancels {
		req := req
		client, ok := e.clients[req.Key.Exchange]
		if !ok {
			e.dispatchError(proc, nil, &req, fmt.Sprintf("no execution client for exchange index %d", req.Key.Exchange))
			continue
		}
		if err := e.state.RecordCancelInFlight(req, e.seq, now); err != nil {
			e.recordError(proc, err)
			continue
		}
		if err := client.SendCancel(req); err != nil {
			e.dispatchError(proc, nil, &req, err.Error())
			continue
		}
		proc.Outputs = append(proc.Outputs, audit.Output{SentCancel: &req})
		e.metrics.IncDispatchCancel()
	}
	for _, req := range opens {
		req := req
		if !e.state.ExchangeHealthy(req.Key.Exchange) {
			e.dispatchError(proc, &req, nil, fmt.Sprintf("exchange index %d degraded, open suppressed", req.Key.Exchange))
			continue
		}
		client, ok := e.clients[req.Key.Exchange]
		if !ok {
			e.dispatchError(proc, &req, nil, fmt.Sprintf("no execution client for exchange index %d", req.Key.Exchange))
			continue
		}
		if err := e.state.RecordInFlight(req, e.seq, now); err != nil {
			e.recordError(proc, err)
			continue
		}
		if err := client.SendOpen(req); err != nil {
			_ = e.state.FailInFlight(req)
			e.dispatchError(proc, &req, nil, err.Error())
			continue
		}
		proc.Outputs = append(proc.Outputs, audit.Output{SentOpen: &req})
		e.metrics.IncDispatchOpen()
	}
}

func (e *Engine) executeCommand(proc *audit.Process, cmd schema.Command) {
	switch {
	case cmd.SendOpenRequests != nil:
		e.checkAndDispatch(proc, nil, cmd.SendOpenRequests)
	case cmd.SendCancelRequests != nil:
		e.checkAndDispatch(proc, cmd.SendCancelRequests, nil)
	case cmd.CancelOrders != nil:
		e.checkAndDispatch(proc, e.collectCancels(*cmd.CancelOrders), nil)
	case cmd.ClosePositions != nil:
		opens := e.closeRequests(proc, *cmd.ClosePositions)
		e.checkAndDispatch(proc, nil, opens)
	}
}

// collectCancels builds cancel requests for every active order matching the
// filter. Orders already in cancel-in-flight are skipped, which makes repeated
// CancelOrders commands idempotent.
func (e *Engine) collectCancels(filter schema.InstrumentFilter) []schema.OrderRequestCancel {
	catalogue := e.state.Catalogue()
	var cancels []schema.OrderRequestCancel
	for _, inst := range e.state.Instruments() {
		if !filter.Matches(catalogue, inst.Instrument.Index) {
			continue
		}
		for _, order := range inst.Orders {
			switch order.State.Status {
			case schema.StatusOpen, schema.StatusOpenInFlight:
				cancels = append(cancels, schema.OrderRequestCancel{
					Key:     order.Key,
					OrderID: order.State.OrderID,
				})
			}
		}
	}
	return cancels
}

// closeRequests builds market IOC orders that flatten every nonzero position
// matching the filter, priced at the last seen market price.
func (e *Engine) closeRequests(proc *audit.Process, filter schema.InstrumentFilter) []schema.OrderRequestOpen {
	catalogue := e.state.Catalogue()
	var opens []schema.OrderRequestOpen
	for _, inst := range e.state.Instruments() {
		if !filter.Matches(catalogue, inst.Instrument.Index) {
			continue
		}
		qty := inst.Position.Quantity
		if qty.IsZero() {
			continue
		}
		price := inst.Market.LastPrice
		if !price.IsPositive() {
			proc.Errors = append(proc.Errors, audit.Error{
				Class:   audit.ClassRecoverable,
				Message: fmt.Sprintf("cannot close position on %s: no market price seen", inst.Instrument.Name),
			})
			continue
		}
		side := schema.SideSell
		if qty.IsNegative() {
			side = schema.SideBuy
		}
		strategyID := inst.Position.Strategy
		if strategyID == "" {
			strategyID = schema.DefaultStrategyID
		}
		opens = append(opens, schema.OrderRequestOpen{
			Key: schema.OrderKey{
				Exchange:   inst.Instrument.Exchange,
				Instrument: inst.Instrument.Index,
				Strategy:   strategyID,
				ClientID:   schema.ClientOrderID(fmt.Sprintf("close-%d", inst.Instrument.Index)),
			},
			Side:        side,
			Price:       price,
			Quantity:    qty.Abs(),
			Kind:        schema.OrderKindMarket,
			TimeInForce: schema.IOC(),
		})
	}
	return opens
}

func (e *Engine) dispatchError(proc *audit.Process, open *schema.OrderRequestOpen, cancel *schema.OrderRequestCancel, msg string) {
	e.metrics.IncDispatchError()
	proc.Errors = append(proc.Errors, audit.Error{
		Class:   audit.ClassRecoverable,
		Message: msg,
		Open:    open,
		Cancel:  cancel,
	})
}

func (e *Engine) recordError(proc *audit.Process, err error) {
	if err == nil {
		return
	}
	class := audit.ClassRecoverable
	if schema.IsUnrecoverable(err) {
		class = audit.ClassUnrecoverable
	}
	proc.Errors = append(proc.Errors, audit.Error{Class: class, Message: err.Error()})
}

// eventTime extracts the exchange timestamp used to advance the engine clock.
// Events without an exchange timestamp leave the clock unchanged.
func eventTime(ev schema.EngineEvent) time.Time {
	switch {
	case ev.Market != nil && ev.Market.Item != nil:
		return ev.Market.Item.TimeExchange
	case ev.Account != nil && ev.Account.Item != nil:
		kind := ev.Account.Item.Kind
		switch {
		case kind.Trade != nil:
			return kind.Trade.TimeExchange
		case kind.BalanceSnapshot != nil:
			return kind.BalanceSnapshot.Balance.TimeExchange
		}
	}
	return time.Time{}
}

func ptr[T any](v T) *T { return &v }
