package market

import (
	"context"
	"math/rand"
	"time"

	"adaptive-trader/internal/events"
)

// MockFeed generates synthetic OHLCV bars for local development. Each symbol
// follows an independent random walk.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
}

// Start launches the generator goroutine; it stops when ctx is cancelled.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range m.Symbols {
					open := prices[sym]
					// simple random walk
					close := open + (rand.Float64()*2-1)*m.Step
					if close <= 0 {
						close = open
					}
					high := max(open, close) + rand.Float64()*m.Step/2
					low := min(open, close) - rand.Float64()*m.Step/2
					if low <= 0 {
						low = min(open, close)
					}
					prices[sym] = close

					m.Bus.Publish(events.TopicBar, Bar{
						Symbol:     sym,
						OpenTime:   now,
						Open:       open,
						High:       high,
						Low:        low,
						Close:      close,
						Volume:     100 + rand.Float64()*900,
						AssetClass: "crypto",
						Source:     "mock",
					})
				}
			}
		}
	}()
}
