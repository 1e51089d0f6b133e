package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Provider yields recent bars for a symbol. The core only requires
// monotonic per-symbol timestamps; how data crosses the network is the
// adapter's business.
type Provider interface {
	RecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}

// Streamer optionally pushes bars as they close.
type Streamer interface {
	StreamBars(ctx context.Context, symbol string) (<-chan Bar, func(), error)
}

// HTTPProvider polls a REST endpoint serving JSON bars. Requests are rate
// limited and carry a per-call timeout so a stalled provider can never
// block a decision.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
	Source  string
}

// NewHTTPProvider builds a provider with sane client defaults.
func NewHTTPProvider(baseURL, source string, rps float64) *HTTPProvider {
	if rps <= 0 {
		rps = 5
	}
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		Source:  source,
	}
}

type barPayload struct {
	Symbol   string  `json:"symbol"`
	OpenTime int64   `json:"open_time"` // unix millis
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Asset    string  `json:"asset_class"`
}

// RecentBars fetches up to limit bars, oldest first.
func (p *HTTPProvider) RecentBars(ctx context.Context, symbol string, limit int) ([]Bar, error) {
	if err := p.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/bars?symbol=%s&limit=%s",
		p.BaseURL, url.QueryEscape(symbol), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch bars %s: status %d", symbol, resp.StatusCode)
	}

	var payload []barPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode bars %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(payload))
	for _, b := range payload {
		bars = append(bars, Bar{
			Symbol:     symbol,
			OpenTime:   time.UnixMilli(b.OpenTime),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			AssetClass: b.Asset,
			Source:     p.Source,
		})
	}
	return bars, nil
}
