package order

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
	"adaptive-trader/internal/market"
	"adaptive-trader/internal/risk"
	"adaptive-trader/internal/state"
)

// PaperExecutor simulates fills at the latest close with a configured
// slippage assumption, tracks protective stops, and accumulates the
// realized outcome per symbol for the adaptation feedback loop.
//
// Reward formula: per interval, reward = position * bar return, minus
// slippage cost on every position change. Plain realized return; no
// risk adjustment.
type PaperExecutor struct {
	slippagePct float64
	portfolio   *state.Portfolio
	stops       *risk.StopTracker
	stopPct     float64
	targetPct   float64
	trailing    bool
	trailingPct float64
	bus         *events.Bus
	log         zerolog.Logger

	mu        sync.Mutex
	lastClose map[string]float64
	// accumulated outcome since the last drain, per symbol
	reward map[string]float64
	ret    map[string]float64
	seen   map[string]bool

	trades      uint64
	realizedPnL float64
}

// PaperConfig bundles the executor tunables.
type PaperConfig struct {
	SlippagePct float64
	StopLossPct float64
	TakeProfit  float64
	UseTrailing bool
	TrailingPct float64
}

// NewPaperExecutor builds a simulated execution collaborator.
func NewPaperExecutor(cfg PaperConfig, portfolio *state.Portfolio, stops *risk.StopTracker, bus *events.Bus, log zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		slippagePct: cfg.SlippagePct,
		portfolio:   portfolio,
		stops:       stops,
		stopPct:     cfg.StopLossPct,
		targetPct:   cfg.TakeProfit,
		trailing:    cfg.UseTrailing,
		trailingPct: cfg.TrailingPct,
		bus:         bus,
		log:         log.With().Str("component", "paper").Logger(),
		lastClose:   make(map[string]float64),
		reward:      make(map[string]float64),
		ret:         make(map[string]float64),
		seen:        make(map[string]bool),
	}
}

// Start consumes bars to mark positions, accrue rewards, and fire stops.
func (e *PaperExecutor) Start(ctx context.Context) {
	ch, unsub := e.bus.Subscribe(events.TopicBar, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				bar, ok := msg.(market.Bar)
				if !ok {
					continue
				}
				e.onBar(bar)
			}
		}
	}()
}

func (e *PaperExecutor) onBar(bar market.Bar) {
	e.portfolio.SetPrice(bar.Symbol, bar.Close)

	e.mu.Lock()
	prev, had := e.lastClose[bar.Symbol]
	e.lastClose[bar.Symbol] = bar.Close
	if had && prev > 0 {
		barReturn := (bar.Close - prev) / prev
		position := e.portfolio.SignedPosition(bar.Symbol)
		e.reward[bar.Symbol] += position * barReturn
		e.ret[bar.Symbol] += barReturn
		e.seen[bar.Symbol] = true
	}
	e.mu.Unlock()

	if exit := e.stops.OnPrice(bar.Symbol, bar.Close); exit != nil {
		e.closePosition(bar.Symbol, bar.Close, exit)
	}
}

// closePosition flattens on a protective exit. A stop-loss exit leaves a
// pending-breach flag until the flattening fill settles.
func (e *PaperExecutor) closePosition(symbol string, price float64, exit *risk.ExitDecision) {
	if exit.IsStop {
		e.portfolio.MarkStopBreach(symbol)
	}
	e.log.Info().Str("symbol", symbol).Str("reason", exit.Reason).Msg("protective exit")
	e.bus.Publish(events.TopicRiskAlert, *exit)

	prev := e.portfolio.Position(symbol)
	fillPrice := e.applySlippage(price, -prev.Qty)
	e.chargeSlippage(symbol, prev.Qty)
	e.settle(prev, 0, fillPrice)
	e.portfolio.ApplyFill(symbol, 0, fillPrice)
	e.portfolio.ClearStopBreach(symbol)

	e.bus.Publish(events.TopicFill, Fill{
		Symbol:    symbol,
		Position:  0,
		FillPrice: fillPrice,
	})
}

// Submit fills the intent immediately at the last close plus slippage.
func (e *PaperExecutor) Submit(intent Intent) error {
	symbol := intent.Action.Symbol

	e.mu.Lock()
	price := e.lastClose[symbol]
	e.mu.Unlock()
	if price <= 0 {
		e.log.Warn().Str("symbol", symbol).Msg("no mark price yet; dropping intent")
		return nil
	}

	prev := e.portfolio.Position(symbol)
	delta := intent.Action.Position - prev.Qty
	if delta == 0 {
		return nil
	}

	fillPrice := e.applySlippage(price, delta)
	e.chargeSlippage(symbol, delta)
	e.settle(prev, intent.Action.Position, fillPrice)
	e.portfolio.ApplyFill(symbol, intent.Action.Position, fillPrice)

	if intent.Action.Position != 0 {
		e.stops.Track(symbol, intent.Action.Position, fillPrice,
			intent.Action.StopLoss, intent.Action.TakeProfit, e.trailing, e.trailingPct)
	} else {
		e.stops.Forget(symbol)
	}

	e.bus.Publish(events.TopicFill, Fill{
		IntentID:  intent.ID,
		Symbol:    symbol,
		Position:  intent.Action.Position,
		FillPrice: fillPrice,
		Timestamp: intent.CreatedAt,
	})
	return nil
}

// applySlippage worsens the price in the direction of the trade.
func (e *PaperExecutor) applySlippage(price, delta float64) float64 {
	if delta > 0 {
		return price * (1 + e.slippagePct)
	}
	if delta < 0 {
		return price * (1 - e.slippagePct)
	}
	return price
}

func (e *PaperExecutor) chargeSlippage(symbol string, delta float64) {
	e.mu.Lock()
	e.reward[symbol] -= math.Abs(delta) * e.slippagePct
	e.mu.Unlock()
}

// settle books the realized P&L of whatever part of the previous position
// the fill closes, and counts the trade.
func (e *PaperExecutor) settle(prev state.Position, newQty, fillPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trades++

	if prev.Qty == 0 || prev.AvgPrice <= 0 {
		return
	}
	closed := prev.Qty
	if newQty != 0 && math.Signbit(newQty) == math.Signbit(prev.Qty) {
		if math.Abs(newQty) >= math.Abs(prev.Qty) {
			closed = 0 // position grew; nothing realized
		} else {
			closed = prev.Qty - newQty
		}
	}
	e.realizedPnL += closed * (fillPrice - prev.AvgPrice) / prev.AvgPrice
}

// Stats reports cumulative fill count and realized P&L for the status API.
func (e *PaperExecutor) Stats() (trades uint64, realizedPnL float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trades, e.realizedPnL
}

// RealizedOutcome drains the accumulated reward and return for a symbol
// since the previous call. ok is false until at least one interval of
// outcome exists.
func (e *PaperExecutor) RealizedOutcome(symbol string) (reward, realizedReturn float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seen[symbol] {
		return 0, 0, false
	}
	reward = e.reward[symbol]
	realizedReturn = e.ret[symbol]
	e.reward[symbol] = 0
	e.ret[symbol] = 0
	e.seen[symbol] = false
	return reward, realizedReturn, true
}
