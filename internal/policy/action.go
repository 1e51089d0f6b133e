// Package policy turns market states into bounded position targets via a
// learned Q-head over the state embedding, and owns the replay buffer and
// versioned policy snapshots the adaptation loop trains against.
package policy

import "time"

// Action is a bounded scalar position target with optional protective
// offsets. Advisory only until the risk gate approves it.
type Action struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Position   float64   `json:"position"`              // signed target in [-max, +max]
	StopLoss   float64   `json:"stop_loss,omitempty"`   // fractional offset, e.g. 0.02
	TakeProfit float64   `json:"take_profit,omitempty"` // fractional offset, e.g. 0.05
}

// Hold returns the do-nothing action for a symbol. The fallback for every
// failed decision.
func Hold(symbol string, ts time.Time) Action {
	return Action{Symbol: symbol, Timestamp: ts}
}

// IsHold reports whether the action targets a flat change.
func (a Action) IsHold() bool { return a.Position == 0 }
