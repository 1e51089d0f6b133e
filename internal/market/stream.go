package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamProvider subscribes to a websocket endpoint that pushes closed bars
// as JSON frames. One connection per symbol keeps per-symbol ordering
// trivially intact.
type StreamProvider struct {
	StreamURL string
	Source    string
	Log       zerolog.Logger
	dialer    *websocket.Dialer
}

// NewStreamProvider builds a websocket bar streamer.
func NewStreamProvider(streamURL, source string, log zerolog.Logger) *StreamProvider {
	return &StreamProvider{
		StreamURL: streamURL,
		Source:    source,
		Log:       log.With().Str("component", "stream").Logger(),
		dialer:    websocket.DefaultDialer,
	}
}

// StreamBars connects and pushes parsed bars into the returned channel.
// It returns the channel and a stop function.
func (s *StreamProvider) StreamBars(ctx context.Context, symbol string) (<-chan Bar, func(), error) {
	u := fmt.Sprintf("%s/bars/%s", s.StreamURL, strings.ToLower(symbol))

	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial bar stream: %w", err)
	}

	out := make(chan Bar, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				s.Log.Warn().Err(err).Str("symbol", symbol).Msg("bar stream read error")
				return
			}

			var p barPayload
			if err := json.Unmarshal(msg, &p); err != nil {
				s.Log.Warn().Err(err).Str("symbol", symbol).Msg("bar stream parse error")
				continue
			}
			out <- Bar{
				Symbol:     symbol,
				OpenTime:   time.UnixMilli(p.OpenTime),
				Open:       p.Open,
				High:       p.High,
				Low:        p.Low,
				Close:      p.Close,
				Volume:     p.Volume,
				AssetClass: p.Asset,
				Source:     s.Source,
			}
		}
	}()

	return out, stop, nil
}
