package risk

import (
	"fmt"
	"sync/atomic"
)

// Verdict values recorded on every gated action.
const (
	VerdictApproved = "APPROVED"
	VerdictClamped  = "CLAMPED"
	VerdictRejected = "REJECTED"
)

// RiskViolationError is a rejection by the gate. Surfaced as a
// rejected-order event; never auto-retried with a larger size.
type RiskViolationError struct {
	Symbol string
	Reason string
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk violation: %s: %s", e.Symbol, e.Reason)
}

// Limits are the gate's configured bounds.
type Limits struct {
	MaxPositionSize float64 `json:"max_position_size"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	UseTrailingStop bool    `json:"use_trailing_stop"`
	TrailingPct     float64 `json:"trailing_pct"`
}

// Metrics counts gate activity.
type Metrics struct {
	Checks     atomic.Uint64
	Clamps     atomic.Uint64
	Rejections atomic.Uint64
}

// MetricsSnapshot is a plain-value copy for reporting.
type MetricsSnapshot struct {
	Checks     uint64 `json:"checks"`
	Clamps     uint64 `json:"clamps"`
	Rejections uint64 `json:"rejections"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Checks:     m.Checks.Load(),
		Clamps:     m.Clamps.Load(),
		Rejections: m.Rejections.Load(),
	}
}
