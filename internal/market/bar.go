package market

import (
	"fmt"
	"time"
)

// Bar is one OHLCV candle for a symbol. Immutable once ingested; bars for a
// symbol are ordered by OpenTime.
type Bar struct {
	Symbol     string    `json:"symbol"`
	OpenTime   time.Time `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	AssetClass string    `json:"asset_class,omitempty"` // crypto, stocks, forex
	Source     string    `json:"source,omitempty"`
}

// DataQualityError flags a bar that cannot be trusted: missing or
// non-monotonic timestamp, or non-positive prices. Callers skip the bar and
// continue the stream.
type DataQualityError struct {
	Symbol string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s: %s", e.Symbol, e.Reason)
}

// Validate checks a bar against the previous accepted timestamp for the
// symbol. A zero prev means no history yet.
func (b Bar) Validate(prev time.Time) error {
	if b.Symbol == "" {
		return &DataQualityError{Symbol: b.Symbol, Reason: "empty symbol"}
	}
	if b.OpenTime.IsZero() {
		return &DataQualityError{Symbol: b.Symbol, Reason: "missing timestamp"}
	}
	if !prev.IsZero() && !b.OpenTime.After(prev) {
		return &DataQualityError{
			Symbol: b.Symbol,
			Reason: fmt.Sprintf("non-monotonic timestamp %s <= %s", b.OpenTime.Format(time.RFC3339), prev.Format(time.RFC3339)),
		}
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return &DataQualityError{Symbol: b.Symbol, Reason: "non-positive price"}
	}
	if b.Volume < 0 {
		return &DataQualityError{Symbol: b.Symbol, Reason: "negative volume"}
	}
	return nil
}
