// Package stats builds the end-of-run trading summary from online tear-sheet
// accumulators fed by the engine state hooks. All arithmetic is decimal;
// floats appear only across the square-root step of the scaled ratios.
package stats

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

// TimeInterval is the annualisation target of the summary ratios.
type TimeInterval struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Daily scales to one day.
func Daily() TimeInterval {
	return TimeInterval{Name: "Daily", Duration: 24 * time.Hour}
}

// Annual252 scales to 252 trading days.
func Annual252() TimeInterval {
	return TimeInterval{Name: "Annual(252)", Duration: 252 * 24 * time.Hour}
}

// Annual365 scales to 365 calendar days.
func Annual365() TimeInterval {
	return TimeInterval{Name: "Annual(365)", Duration: 365 * 24 * time.Hour}
}

// Custom scales to an arbitrary duration.
func Custom(name string, d time.Duration) TimeInterval {
	return TimeInterval{Name: name, Duration: d}
}

// Validate rejects non-positive intervals.
func (i TimeInterval) Validate() error {
	if i.Duration <= 0 {
		return fmt.Errorf("%w: time interval must be positive, got %s", schema.ErrValidation, i.Duration)
	}
	if i.Name == "" {
		return fmt.Errorf("%w: time interval has no name", schema.ErrValidation)
	}
	return nil
}

func (i TimeInterval) seconds() decimal.Decimal {
	return decimal.NewFromFloat(i.Duration.Seconds())
}
