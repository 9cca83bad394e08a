package audit

import (
	"fmt"

	"tradecore/internal/schema"
	"tradecore/internal/state"
)

// Replay rebuilds the final engine state from an audit trail: the initial
// snapshot tick seeds the state, each process tick re-applies its event and
// recorded dispatches through the same state transitions the engine used.
// Errors the engine already recorded in a tick are not re-raised; the replay
// mirrors the mutations that actually happened.
func Replay(catalogue *schema.Catalogue, ticks []Tick) (*state.EngineState, error) {
	var s *state.EngineState
	for i, t := range ticks {
		switch {
		case t.Event.Snapshot != nil:
			restored, err := state.FromSnapshot(catalogue, *t.Event.Snapshot)
			if err != nil {
				return nil, err
			}
			s = restored
		case t.Event.Process != nil:
			if s == nil {
				return nil, fmt.Errorf("%w: process tick %d before snapshot", schema.ErrValidation, i)
			}
			applyProcess(s, t)
		case t.Event.FeedEnded:
			if s == nil {
				return nil, fmt.Errorf("%w: feed ended without snapshot", schema.ErrValidation)
			}
			return s, nil
		}
	}
	if s == nil {
		return nil, fmt.Errorf("%w: audit trail has no snapshot tick", schema.ErrValidation)
	}
	return s, nil
}

func applyProcess(s *state.EngineState, t Tick) {
	ev := t.Event.Process.Event
	switch {
	case ev.Shutdown:
		s.SetTrading(schema.TradingDisabled)
	case ev.TradingStateUpdate != "":
		s.SetTrading(ev.TradingStateUpdate)
	case ev.Account != nil:
		_, _ = s.ApplyAccount(*ev.Account)
	case ev.Market != nil:
		_, _ = s.ApplyMarket(*ev.Market)
	}
	for _, out := range t.Event.Process.Outputs {
		switch {
		case out.SentOpen != nil:
			_ = s.RecordInFlight(*out.SentOpen, t.Context.Sequence, t.Context.Time)
		case out.SentCancel != nil:
			_ = s.RecordCancelInFlight(*out.SentCancel, t.Context.Sequence, t.Context.Time)
		}
	}
}
