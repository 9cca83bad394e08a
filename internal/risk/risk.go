// Package risk partitions proposed order requests into approved and refused
// sets. The default manager is pass-through; LimitManager enforces configured
// limits with per-instrument overrides.
package risk

import (
	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// RefusedOpen is an open request rejected with a reason.
type RefusedOpen struct {
	Request schema.OrderRequestOpen `json:"request"`
	Reason  string                  `json:"reason"`
}

// RefusedCancel is a cancel request rejected with a reason.
type RefusedCancel struct {
	Request schema.OrderRequestCancel `json:"request"`
	Reason  string                    `json:"reason"`
}

// Decision is the result of one risk check.
type Decision struct {
	ApprovedCancels []schema.OrderRequestCancel
	ApprovedOpens   []schema.OrderRequestOpen
	RefusedCancels  []RefusedCancel
	RefusedOpens    []RefusedOpen
}

// Manager filters proposed requests against risk limits.
type Manager interface {
	Check(s *state.EngineState, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision
}

// PassThrough approves everything.
type PassThrough struct{}

// NewPassThrough creates the default risk manager.
func NewPassThrough() PassThrough { return PassThrough{} }

func (PassThrough) Check(_ *state.EngineState, cancels []schema.OrderRequestCancel, opens []schema.OrderRequestOpen) Decision {
	return Decision{ApprovedCancels: cancels, ApprovedOpens: opens}
}
