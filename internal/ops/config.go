// Package ops loads and validates the system configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yanun0323/errors"

	"tradecore/internal/execution"
	"tradecore/internal/risk"
	"tradecore/internal/schema"
)

const defaultFeedCapacity = 1024

// SeedBalance overrides one initial balance before the engine starts.
type SeedBalance struct {
	Exchange schema.ExchangeID `json:"exchange"`
	Asset    string            `json:"asset"`
	Balance  schema.Balance    `json:"balance"`
}

// Validate checks the override target and balance invariant.
func (b SeedBalance) Validate() error {
	if err := b.Exchange.Validate(); err != nil {
		return err
	}
	if b.Asset == "" {
		return fmt.Errorf("%w: seed balance with empty asset", schema.ErrValidation)
	}
	return b.Balance.Validate()
}

// SystemConfig is the persisted configuration of one system run.
type SystemConfig struct {
	Instruments  []schema.InstrumentConfig `json:"instruments"`
	Executions   []execution.Config        `json:"executions"`
	Risk         *risk.Config              `json:"risk,omitempty"`
	FeedCapacity int                       `json:"feed_capacity,omitempty"`
	Balances     []SeedBalance             `json:"balances,omitempty"`
}

// Load reads and validates a system configuration file.
func Load(path string) (SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SystemConfig{}, errors.Wrap(err, "read system config")
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (SystemConfig, error) {
	var cfg SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SystemConfig{}, errors.Wrap(err, "decode system config")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return SystemConfig{}, err
	}
	return cfg, nil
}

// WithDefaults fills unset tunables.
func (c SystemConfig) WithDefaults() SystemConfig {
	if c.FeedCapacity <= 0 {
		c.FeedCapacity = defaultFeedCapacity
	}
	return c
}

// Validate checks the whole document: at least one instrument, one execution
// client per referenced exchange and valid limits and balances.
func (c SystemConfig) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: no instruments configured", schema.ErrValidation)
	}
	for _, inst := range c.Instruments {
		if err := inst.Validate(); err != nil {
			return err
		}
	}
	if len(c.Executions) == 0 {
		return fmt.Errorf("%w: no execution clients configured", schema.ErrValidation)
	}
	seen := make(map[schema.ExchangeID]struct{}, len(c.Executions))
	for _, exec := range c.Executions {
		if err := exec.Validate(); err != nil {
			return err
		}
		id := exec.Mock.Exchange
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate execution client for exchange %s", schema.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	for _, inst := range c.Instruments {
		if _, ok := seen[inst.Exchange]; !ok {
			return fmt.Errorf("%w: instrument %s has no execution client for exchange %s",
				schema.ErrValidation, inst.NameExchange, inst.Exchange)
		}
	}
	if c.Risk != nil {
		if err := c.Risk.Validate(); err != nil {
			return err
		}
	}
	for _, b := range c.Balances {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}
