package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
)

// Feed bridges a bar provider onto the event bus: websocket stream per
// symbol when available, with a polling fallback to cover gaps.
type Feed struct {
	Provider Provider
	Streamer Streamer
	Bus      *events.Bus
	Symbols  []string
	Interval time.Duration
	Log      zerolog.Logger
}

// Start begins streaming and polling for the configured symbols.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil {
		return
	}
	log := f.Log.With().Str("component", "feed").Logger()

	if f.Streamer != nil {
		for _, sym := range f.Symbols {
			symbol := sym
			ch, stop, err := f.Streamer.StreamBars(ctx, symbol)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("stream subscribe failed; polling only")
				continue
			}
			go func() {
				defer stop()
				for bar := range ch {
					f.Bus.Publish(events.TopicBar, bar)
				}
			}()
		}
	}

	if f.Provider != nil {
		go f.poll(ctx, log)
	}
}

func (f *Feed) poll(ctx context.Context, log zerolog.Logger) {
	interval := f.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.Symbols {
				fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				bars, err := f.Provider.RecentBars(fetchCtx, sym, 2)
				cancel()
				if err != nil {
					log.Warn().Err(err).Str("symbol", sym).Msg("poll snapshot failed")
					continue
				}
				if len(bars) > 0 {
					f.Bus.Publish(events.TopicBar, bars[len(bars)-1])
				}
			}
		}
	}
}
