package execution

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradecore/internal/schema"
)

// MockConfig configures the simulated exchange.
type MockConfig struct {
	Exchange     schema.ExchangeID      `json:"exchange"`
	InitialState schema.AccountSnapshot `json:"initial_state"`
	LatencyMs    int64                  `json:"latency_ms"`
	FeesPercent  float64                `json:"fees_percent"`

	// Now overrides the venue clock for deterministic tests.
	Now func() time.Time `json:"-"`
}

// Validate enforces fee and latency ranges and a consistent initial snapshot.
func (c MockConfig) Validate() error {
	if err := c.Exchange.Validate(); err != nil {
		return err
	}
	if c.LatencyMs < 0 {
		return fmt.Errorf("%w: latency_ms must be >= 0, got %d", schema.ErrValidation, c.LatencyMs)
	}
	if c.FeesPercent < 0 || c.FeesPercent > 1 {
		return fmt.Errorf("%w: fees_percent must be in [0, 1], got %v", schema.ErrValidation, c.FeesPercent)
	}
	snapshot := c.InitialState
	snapshot.Exchange = c.Exchange
	return snapshot.Validate()
}

type mockRequest struct {
	open   *schema.OrderRequestOpen
	cancel *schema.OrderRequestCancel
}

// Mock simulates an exchange: market orders fill fully at the request price,
// limit orders rest without a book, cancels succeed on live orders. One worker
// per client keeps responses in request-arrival order.
type Mock struct {
	cfg      MockConfig
	fees     decimal.Decimal
	now      func() time.Time
	requests chan mockRequest
	out      chan schema.AccountStreamEvent

	balances map[string]schema.Balance
	orders   map[schema.OrderKey]schema.OrderSnapshot
	orderSeq uint64
	tradeSeq uint64

	instrumentsMu sync.RWMutex
	instruments   map[schema.InstrumentIndex]schema.Underlying

	closeOnce sync.Once
	closed    uint32
	quit      chan struct{}
	done      chan struct{}
}

// NewMock validates the config and starts the venue worker.
func NewMock(cfg MockConfig) (*Mock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m := &Mock{
		cfg:      cfg,
		fees:     decimal.NewFromFloat(cfg.FeesPercent),
		now:      now,
		requests: make(chan mockRequest, 256),
		out:      make(chan schema.AccountStreamEvent, 256),
		balances: make(map[string]schema.Balance),
		orders:   make(map[schema.OrderKey]schema.OrderSnapshot),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),

		instruments: make(map[schema.InstrumentIndex]schema.Underlying),
	}
	for _, ab := range cfg.InitialState.Balances {
		m.balances[strings.ToLower(ab.Asset)] = ab.Balance
	}
	go m.run()
	return m, nil
}

// Exchange returns the simulated venue identifier.
func (m *Mock) Exchange() schema.ExchangeID {
	return m.cfg.Exchange
}

// Seed returns the configured initial account snapshot.
func (m *Mock) Seed() schema.AccountSnapshot {
	seed := m.cfg.InitialState
	seed.Exchange = m.cfg.Exchange
	return seed
}

// AccountStream yields the simulated account events.
func (m *Mock) AccountStream() <-chan schema.AccountStreamEvent {
	return m.out
}

// SendOpen enqueues an open request.
func (m *Mock) SendOpen(req schema.OrderRequestOpen) error {
	return m.enqueue(mockRequest{open: &req})
}

// SendCancel enqueues a cancel request.
func (m *Mock) SendCancel(req schema.OrderRequestCancel) error {
	return m.enqueue(mockRequest{cancel: &req})
}

func (m *Mock) enqueue(req mockRequest) error {
	if atomic.LoadUint32(&m.closed) != 0 {
		return fmt.Errorf("mock execution %s is closed", m.cfg.Exchange)
	}
	select {
	case m.requests <- req:
		return nil
	default:
		return fmt.Errorf("mock execution %s request queue full", m.cfg.Exchange)
	}
}

// Close stops the worker after the queued requests are processed.
func (m *Mock) Close() error {
	m.closeOnce.Do(func() {
		atomic.StoreUint32(&m.closed, 1)
		close(m.quit)
		close(m.requests)
	})
	<-m.done
	return nil
}

func (m *Mock) run() {
	defer close(m.done)
	defer close(m.out)
	for req := range m.requests {
		if m.cfg.LatencyMs > 0 {
			time.Sleep(time.Duration(m.cfg.LatencyMs) * time.Millisecond)
		}
		switch {
		case req.open != nil:
			m.processOpen(*req.open)
		case req.cancel != nil:
			m.processCancel(*req.cancel)
		}
	}
}

// emit blocks while the stream buffer is full; Close releases a blocked
// worker so teardown cannot hang behind an unread backlog.
func (m *Mock) emit(kind schema.AccountEventKind) {
	ev := schema.AccountStreamEvent{Item: &schema.AccountEvent{
		Exchange: m.cfg.Exchange,
		Kind:     kind,
	}}
	select {
	case m.out <- ev:
	case <-m.quit:
	}
}

func (m *Mock) emitBalance(asset string, balance schema.Balance) {
	m.balances[asset] = balance
	m.emit(schema.AccountEventKind{BalanceSnapshot: &schema.AssetBalance{Asset: asset, Balance: balance}})
}

func (m *Mock) emitOpenErr(key schema.OrderKey, reason string) {
	m.emit(schema.AccountEventKind{OrderOpened: &schema.OrderResult{
		Err: &schema.OrderError{Key: key, Reason: reason},
	}})
}

func (m *Mock) nextOrderID() schema.OrderID {
	m.orderSeq++
	return schema.OrderID(fmt.Sprintf("%s-order-%d", m.cfg.Exchange, m.orderSeq))
}

func (m *Mock) nextTradeID() schema.TradeID {
	m.tradeSeq++
	return schema.TradeID(fmt.Sprintf("%s-trade-%d", m.cfg.Exchange, m.tradeSeq))
}

func (m *Mock) processOpen(req schema.OrderRequestOpen) {
	if err := req.Validate(); err != nil {
		m.emitOpenErr(req.Key, err.Error())
		return
	}
	if _, ok := m.orders[req.Key]; ok {
		m.emitOpenErr(req.Key, "duplicate client order id")
		return
	}
	switch req.Kind {
	case schema.OrderKindMarket:
		m.fillMarket(req)
	default:
		m.restLimit(req)
	}
}

// fillMarket executes the full quantity at the request's reference price.
// Balance snapshots are emitted before the fill event.
func (m *Mock) fillMarket(req schema.OrderRequestOpen) {
	if !req.Price.IsPositive() {
		m.emitOpenErr(req.Key, "market order needs a positive reference price")
		return
	}
	base, quote, ok := m.instrumentAssets(req.Key.Instrument)
	if !ok {
		m.emitOpenErr(req.Key, fmt.Sprintf("unknown instrument %d", req.Key.Instrument))
		return
	}
	notional := req.Price.Mul(req.Quantity)
	fee := notional.Mul(m.fees)
	now := m.now()

	baseBalance := m.balances[base]
	quoteBalance := m.balances[quote]

	if req.Side == schema.SideBuy {
		cost := notional.Add(fee)
		if quoteBalance.Free.LessThan(cost) {
			m.emitOpenErr(req.Key, fmt.Sprintf("insufficient %s balance: free %s < cost %s", quote, quoteBalance.Free, cost))
			return
		}
		quoteBalance.Total = quoteBalance.Total.Sub(cost)
		quoteBalance.Free = quoteBalance.Free.Sub(cost)
		baseBalance.Total = baseBalance.Total.Add(req.Quantity)
		baseBalance.Free = baseBalance.Free.Add(req.Quantity)
	} else {
		if baseBalance.Free.LessThan(req.Quantity) {
			m.emitOpenErr(req.Key, fmt.Sprintf("insufficient %s balance: free %s < quantity %s", base, baseBalance.Free, req.Quantity))
			return
		}
		baseBalance.Total = baseBalance.Total.Sub(req.Quantity)
		baseBalance.Free = baseBalance.Free.Sub(req.Quantity)
		proceeds := notional.Sub(fee)
		quoteBalance.Total = quoteBalance.Total.Add(proceeds)
		quoteBalance.Free = quoteBalance.Free.Add(proceeds)
	}
	quoteBalance.TimeExchange = now
	baseBalance.TimeExchange = now
	m.emitBalance(quote, quoteBalance)
	m.emitBalance(base, baseBalance)

	m.emit(schema.AccountEventKind{Trade: &schema.Fill{
		Key:          req.Key,
		TradeID:      m.nextTradeID(),
		Side:         req.Side,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Fees:         fee,
		TimeExchange: now,
	}})

	filled := schema.OrderSnapshot{
		Key:         req.Key,
		Side:        req.Side,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Kind:        req.Kind,
		TimeInForce: req.TimeInForce,
		State:       schema.FullyFilled(m.nextOrderID(), req.Quantity),
	}
	m.emit(schema.AccountEventKind{OrderOpened: &schema.OrderResult{Ok: &filled}})
}

// restLimit acknowledges a limit order without simulating a book.
func (m *Mock) restLimit(req schema.OrderRequestOpen) {
	open := schema.OrderSnapshot{
		Key:         req.Key,
		Side:        req.Side,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Kind:        req.Kind,
		TimeInForce: req.TimeInForce,
		State:       schema.Open(m.nextOrderID(), m.now(), decimal.Decimal{}),
	}
	m.orders[req.Key] = open
	m.emit(schema.AccountEventKind{OrderOpened: &schema.OrderResult{Ok: &open}})
}

func (m *Mock) processCancel(req schema.OrderRequestCancel) {
	order, ok := m.orders[req.Key]
	if !ok {
		m.emit(schema.AccountEventKind{OrderCancelled: &schema.OrderResult{
			Err: &schema.OrderError{Key: req.Key, Reason: "order not found"},
		}})
		return
	}
	delete(m.orders, req.Key)
	order.State = schema.Cancelled(order.State.OrderID, order.State.Filled)
	m.emit(schema.AccountEventKind{OrderCancelled: &schema.OrderResult{Ok: &order}})
}

// RegisterInstrument teaches the mock which assets an instrument settles in.
// The orchestrator registers every catalogue instrument of this exchange
// before the engine starts.
func (m *Mock) RegisterInstrument(idx schema.InstrumentIndex, u schema.Underlying) {
	m.instrumentsMu.Lock()
	defer m.instrumentsMu.Unlock()
	m.instruments[idx] = u
}

func (m *Mock) instrumentAssets(idx schema.InstrumentIndex) (base, quote string, ok bool) {
	m.instrumentsMu.RLock()
	defer m.instrumentsMu.RUnlock()
	u, ok := m.instruments[idx]
	if !ok {
		logs.Warn(fmt.Sprintf("mock execution %s received order for unregistered instrument %d", m.cfg.Exchange, idx))
		return "", "", false
	}
	return strings.ToLower(u.Base), strings.ToLower(u.Quote), true
}
