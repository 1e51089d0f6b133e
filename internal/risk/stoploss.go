package risk

import (
	"fmt"
	"math"
	"sync"
)

// Tracked is a position being watched for protective exits.
type Tracked struct {
	Symbol        string
	Qty           float64 // signed; >0 long, <0 short
	EntryPrice    float64
	StopPrice     float64
	TargetPrice   float64
	Trailing      bool
	TrailingPct   float64
	HighWaterMark float64
}

// ExitDecision reports a triggered protective exit.
type ExitDecision struct {
	Symbol string
	Reason string
	IsStop bool // true for stop-loss, false for take-profit
	Price  float64
}

// StopTracker watches open positions and fires stop-loss/take-profit exits
// as prices move.
type StopTracker struct {
	mu        sync.RWMutex
	positions map[string]*Tracked
}

// NewStopTracker creates an empty tracker.
func NewStopTracker() *StopTracker {
	return &StopTracker{positions: make(map[string]*Tracked)}
}

// Track starts (or replaces) protection for a filled position. Offsets are
// fractional, e.g. 0.02 for a 2% stop.
func (t *StopTracker) Track(symbol string, qty, entryPrice, stopPct, targetPct float64, trailing bool, trailingPct float64) {
	if qty == 0 || entryPrice <= 0 {
		t.Forget(symbol)
		return
	}

	pos := &Tracked{
		Symbol:        symbol,
		Qty:           qty,
		EntryPrice:    entryPrice,
		Trailing:      trailing,
		TrailingPct:   trailingPct,
		HighWaterMark: entryPrice,
	}
	if qty > 0 {
		pos.StopPrice = entryPrice * (1 - stopPct)
		pos.TargetPrice = entryPrice * (1 + targetPct)
	} else {
		pos.StopPrice = entryPrice * (1 + stopPct)
		pos.TargetPrice = entryPrice * (1 - targetPct)
	}

	t.mu.Lock()
	t.positions[symbol] = pos
	t.mu.Unlock()
}

// Forget stops tracking a symbol.
func (t *StopTracker) Forget(symbol string) {
	t.mu.Lock()
	delete(t.positions, symbol)
	t.mu.Unlock()
}

// Tracked returns the tracked entry for a symbol, if any.
func (t *StopTracker) Tracked(symbol string) (Tracked, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return Tracked{}, false
	}
	return *pos, true
}

// OnPrice updates the mark price and returns an exit decision if a stop or
// target fired. A fired position is removed from tracking.
func (t *StopTracker) OnPrice(symbol string, price float64) *ExitDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}

	long := pos.Qty > 0
	if pos.Trailing {
		if long && price > pos.HighWaterMark {
			pos.HighWaterMark = price
			pos.StopPrice = price * (1 - pos.TrailingPct)
		} else if !long && price < pos.HighWaterMark {
			pos.HighWaterMark = price
			pos.StopPrice = price * (1 + pos.TrailingPct)
		}
	}

	stopped := (long && price <= pos.StopPrice) || (!long && price >= pos.StopPrice)
	if stopped {
		delete(t.positions, symbol)
		return &ExitDecision{
			Symbol: symbol,
			Reason: fmt.Sprintf("stop loss triggered at %.4f", price),
			IsStop: true,
			Price:  price,
		}
	}

	hit := (long && price >= pos.TargetPrice) || (!long && price <= pos.TargetPrice)
	if hit {
		delete(t.positions, symbol)
		return &ExitDecision{
			Symbol: symbol,
			Reason: fmt.Sprintf("take profit triggered at %.4f", price),
			Price:  price,
		}
	}

	return nil
}

// Exposure returns the total absolute tracked quantity, a cheap sanity
// signal for the status API.
func (t *StopTracker) Exposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0.0
	for _, pos := range t.positions {
		total += math.Abs(pos.Qty)
	}
	return total
}
