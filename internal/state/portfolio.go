// Package state keeps the in-memory portfolio view the risk gate reads:
// signed positions, exposure, and pending stop-loss breaches awaiting
// settlement. The execution collaborator owns the truth; this mirrors it.
package state

import (
	"sync"
)

// Position is the signed holding for one symbol. Qty is the fraction of
// portfolio deployed, matching the action scale.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"` // signed; >0 long, <0 short
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Portfolio is a concurrency-safe snapshot of positions.
type Portfolio struct {
	mu            sync.RWMutex
	positions     map[string]Position
	pendingBreach map[string]bool
}

// NewPortfolio creates an empty portfolio view.
func NewPortfolio() *Portfolio {
	return &Portfolio{
		positions:     make(map[string]Position),
		pendingBreach: make(map[string]bool),
	}
}

// Position returns the latest snapshot for a symbol.
func (p *Portfolio) Position(symbol string) Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// Positions returns a snapshot of all positions.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		res = append(res, pos)
	}
	return res
}

// SignedPosition returns the signed quantity for a symbol.
func (p *Portfolio) SignedPosition(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol].Qty
}

// Exposure returns the sum of absolute position quantities.
func (p *Portfolio) Exposure() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0.0
	for _, pos := range p.positions {
		if pos.Qty < 0 {
			total -= pos.Qty
		} else {
			total += pos.Qty
		}
	}
	return total
}

// SetPrice updates the mark price and unrealized PnL for a symbol.
func (p *Portfolio) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if pos.AvgPrice > 0 {
		pos.UnrealizedPnL = pos.Qty * (price - pos.AvgPrice) / pos.AvgPrice
	}
	p.positions[symbol] = pos
}

// ApplyFill moves the position to the filled target quantity.
func (p *Portfolio) ApplyFill(symbol string, qty, price float64) Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[symbol]
	pos.Symbol = symbol
	pos.Qty = qty
	pos.AvgPrice = price
	pos.CurrentPrice = price
	pos.UnrealizedPnL = 0
	p.positions[symbol] = pos
	return pos
}

// MarkStopBreach records that a stop-loss fired and settlement is pending.
func (p *Portfolio) MarkStopBreach(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingBreach[symbol] = true
}

// ClearStopBreach removes the pending-breach flag after settlement.
func (p *Portfolio) ClearStopBreach(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingBreach, symbol)
}

// PendingStopBreach reports whether a stop-loss breach awaits settlement.
func (p *Portfolio) PendingStopBreach(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pendingBreach[symbol]
}
