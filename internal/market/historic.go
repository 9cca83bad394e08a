package market

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/schema"
)

// Result is one persisted market stream record: an item that either decoded
// cleanly or carried a producer-side error, or a reconnection marker.
type Result struct {
	Item         *ItemResult       `json:"Item,omitempty"`
	Reconnecting schema.ExchangeID `json:"Reconnecting,omitempty"`
}

// ItemResult is the ok/err payload of a persisted item.
type ItemResult struct {
	Ok  *schema.MarketEvent `json:"Ok,omitempty"`
	Err string              `json:"Err,omitempty"`
}

// HistoricConfig locates and bounds a historic market data file.
type HistoricConfig struct {
	Path     string
	Capacity int
}

func (c HistoricConfig) withDefaults() HistoricConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	return c
}

// Validate checks the config before any file access.
func (c HistoricConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: historic market data path is empty", schema.ErrValidation)
	}
	return nil
}

// Historic replays a persisted JSON array of market stream records in file
// order. Records that carried a producer-side error are logged and skipped.
type Historic struct {
	cfg     HistoricConfig
	results []Result
	ch      chan schema.MarketStreamEvent
	closed  chan struct{}
	started bool
}

// NewHistoric loads and validates the whole file up front so a malformed
// record fails the backtest before the engine starts.
func NewHistoric(cfg HistoricConfig) (*Historic, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "read historic market data")
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, errors.Wrap(err, "decode historic market data")
	}
	for i, r := range results {
		if r.Item == nil && r.Reconnecting == "" {
			return nil, fmt.Errorf("%w: record %d has no variant", schema.ErrValidation, i)
		}
		if r.Item != nil && r.Item.Ok != nil {
			if err := r.Item.Ok.Validate(); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
	}
	return &Historic{
		cfg:     cfg,
		results: results,
		ch:      make(chan schema.MarketStreamEvent, cfg.Capacity),
		closed:  make(chan struct{}),
	}, nil
}

// Len returns the number of loaded records.
func (h *Historic) Len() int {
	return len(h.results)
}

// FirstEventTime returns the exchange timestamp of the first decoded item.
func (h *Historic) FirstEventTime() (time.Time, bool) {
	for _, r := range h.results {
		if r.Item != nil && r.Item.Ok != nil {
			return r.Item.Ok.TimeExchange, true
		}
	}
	return time.Time{}, false
}

// Events starts the replay on first call and yields events in file order.
func (h *Historic) Events() <-chan schema.MarketStreamEvent {
	if h.started {
		return h.ch
	}
	h.started = true
	go func() {
		defer close(h.ch)
		for i, r := range h.results {
			var event schema.MarketStreamEvent
			switch {
			case r.Reconnecting != "":
				event = schema.MarketStreamEvent{Reconnecting: r.Reconnecting}
			case r.Item != nil && r.Item.Ok != nil:
				event = schema.MarketStreamEvent{Item: r.Item.Ok}
			case r.Item != nil && r.Item.Err != "":
				logs.Warn(fmt.Sprintf("historic market data record %d carried error: %s", i, r.Item.Err))
				continue
			default:
				continue
			}
			select {
			case h.ch <- event:
			case <-h.closed:
				return
			}
		}
	}()
	return h.ch
}

// Close stops the replay.
func (h *Historic) Close() error {
	select {
	case <-h.closed:
	default:
		close(h.closed)
	}
	return nil
}
