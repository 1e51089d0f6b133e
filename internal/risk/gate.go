// Package risk is the single authority permitted to veto a trade. Policy
// output is advisory until it passes the gate.
package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"adaptive-trader/internal/policy"
	"adaptive-trader/pkg/store"
)

// PortfolioView is the read access the gate needs; the execution
// collaborator owns the underlying state.
type PortfolioView interface {
	SignedPosition(symbol string) float64
	PendingStopBreach(symbol string) bool
}

// AuditSink receives one structured record per gated action. The gate
// performs no I/O itself.
type AuditSink interface {
	Record(store.RiskRecord)
}

// Gate clamps or rejects actions against the configured limits.
type Gate struct {
	limits    Limits
	portfolio PortfolioView
	sink      AuditSink
	metrics   Metrics
}

// NewGate builds a gate. sink may be nil in tests.
func NewGate(limits Limits, portfolio PortfolioView, sink AuditSink) *Gate {
	return &Gate{limits: limits, portfolio: portfolio, sink: sink}
}

// Metrics returns a snapshot of gate counters.
func (g *Gate) Metrics() MetricsSnapshot {
	return g.metrics.Snapshot()
}

// Check gates one action. It returns the approved (possibly clamped)
// action, or a RiskViolationError for a rejection. Every call emits an
// audit record.
func (g *Gate) Check(action policy.Action) (policy.Action, error) {
	g.metrics.Checks.Add(1)
	requested := action.Position
	verdict := VerdictApproved
	reason := ""

	// Exposure may not grow while a stop-loss breach awaits settlement.
	if g.portfolio != nil && g.portfolio.PendingStopBreach(action.Symbol) {
		current := math.Abs(g.portfolio.SignedPosition(action.Symbol))
		if math.Abs(action.Position) > current {
			g.metrics.Rejections.Add(1)
			err := &RiskViolationError{Symbol: action.Symbol, Reason: "stop-loss breach pending settlement"}
			g.audit(action, requested, 0, VerdictRejected, err.Reason)
			return policy.Action{}, err
		}
	}

	// Clamp magnitude to the position limit.
	if math.Abs(action.Position) > g.limits.MaxPositionSize {
		clamped := math.Copysign(g.limits.MaxPositionSize, action.Position)
		verdict = VerdictClamped
		reason = "position clamped to limit"
		action.Position = clamped
		g.metrics.Clamps.Add(1)
	}

	// Attach protective offsets when absent; validate when present.
	if action.StopLoss == 0 {
		action.StopLoss = g.limits.StopLossPct
	}
	if action.TakeProfit == 0 {
		action.TakeProfit = g.limits.TakeProfitPct
	}
	if action.StopLoss <= 0 || action.TakeProfit <= action.StopLoss {
		g.metrics.Rejections.Add(1)
		err := &RiskViolationError{Symbol: action.Symbol, Reason: "invalid stop-loss/take-profit offsets"}
		g.audit(action, requested, 0, VerdictRejected, err.Reason)
		return policy.Action{}, err
	}

	g.audit(action, requested, action.Position, verdict, reason)
	return action, nil
}

func (g *Gate) audit(action policy.Action, requested, approved float64, verdict, reason string) {
	if g.sink == nil {
		return
	}
	g.sink.Record(store.RiskRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Symbol:     action.Symbol,
		Verdict:    verdict,
		Reason:     reason,
		Requested:  requested,
		Approved:   approved,
		StopLoss:   action.StopLoss,
		TakeProfit: action.TakeProfit,
	})
}
