// Package features turns raw bars into fixed-size normalized feature
// vectors, one per bar once enough history exists for every configured
// indicator.
package features

import (
	"fmt"
	"math"
	"time"

	"adaptive-trader/internal/market"
)

// Vector is one fixed-length feature row, tagged with the bar it came from.
// Owned by the builder's output; downstream components read it only.
type Vector struct {
	Symbol    string
	Timestamp time.Time
	Values    []float64
}

// Builder computes the configured indicators over a rolling bar window for
// one symbol. It is deterministic for identical input and is driven by a
// single consumer goroutine, so it carries no lock.
type Builder struct {
	symbol     string
	indicators []string
	warmup     int

	highs   []float64
	lows    []float64
	closes  []float64
	volumes []float64
	lastTS  time.Time
}

// lookback returns the bars required before an indicator is computable.
func lookback(name string) int {
	switch name {
	case "sma_20", "bollinger_upper", "bollinger_lower":
		return 20
	case "sma_50":
		return 50
	case "ema_12":
		return 12
	case "ema_26", "macd":
		return 26
	case "rsi_14", "atr_14":
		return 15
	case "obv":
		return 2
	default:
		return 0
	}
}

// NewBuilder creates a builder for the given indicator set. Unknown
// indicator names are rejected so a config typo fails at startup, not at
// decision time.
func NewBuilder(symbol string, indicators []string) (*Builder, error) {
	warmup := 0
	for _, name := range indicators {
		lb := lookback(name)
		if lb == 0 {
			return nil, fmt.Errorf("unknown indicator %q", name)
		}
		if lb > warmup {
			warmup = lb
		}
	}
	if warmup == 0 {
		return nil, fmt.Errorf("no indicators configured")
	}
	return &Builder{
		symbol:     symbol,
		indicators: append([]string(nil), indicators...),
		warmup:     warmup,
	}, nil
}

// Size returns the feature vector length.
func (b *Builder) Size() int { return len(b.indicators) }

// Warmup returns how many valid bars are needed before vectors appear.
func (b *Builder) Warmup() int { return b.warmup }

// Append ingests one bar. It returns a vector once warm, (nil, nil) while
// warming up, and a DataQualityError for a bar that must be skipped. A
// rejected bar leaves the builder state untouched.
func (b *Builder) Append(bar market.Bar) (*Vector, error) {
	if bar.Symbol != b.symbol {
		return nil, &market.DataQualityError{Symbol: bar.Symbol, Reason: "bar for wrong symbol"}
	}
	if err := bar.Validate(b.lastTS); err != nil {
		return nil, err
	}

	b.highs = append(b.highs, bar.High)
	b.lows = append(b.lows, bar.Low)
	b.closes = append(b.closes, bar.Close)
	b.volumes = append(b.volumes, bar.Volume)
	b.lastTS = bar.OpenTime

	// Keep twice the warmup so EMA seeds stay stable across trims.
	maxLen := b.warmup * 2
	if len(b.closes) > maxLen {
		b.highs = b.highs[len(b.highs)-maxLen:]
		b.lows = b.lows[len(b.lows)-maxLen:]
		b.closes = b.closes[len(b.closes)-maxLen:]
		b.volumes = b.volumes[len(b.volumes)-maxLen:]
	}

	if len(b.closes) < b.warmup {
		return nil, nil
	}

	values := make([]float64, 0, len(b.indicators))
	for _, name := range b.indicators {
		values = append(values, b.compute(name, bar.Close))
	}
	return &Vector{Symbol: b.symbol, Timestamp: bar.OpenTime, Values: values}, nil
}

// compute evaluates one indicator and normalizes it to a scale-free value
// so symbols at different price levels share one model.
func (b *Builder) compute(name string, close float64) float64 {
	switch name {
	case "sma_20":
		return ratio(SMA(b.closes, 20), close)
	case "sma_50":
		return ratio(SMA(b.closes, 50), close)
	case "ema_12":
		return ratio(EMA(b.closes, 12), close)
	case "ema_26":
		return ratio(EMA(b.closes, 26), close)
	case "rsi_14":
		return RSI(b.closes, 14)/50 - 1 // [-1, 1]
	case "macd":
		return MACD(b.closes) / close
	case "bollinger_upper":
		u, _ := Bollinger(b.closes, 20, 2)
		return ratio(u, close)
	case "bollinger_lower":
		_, l := Bollinger(b.closes, 20, 2)
		return ratio(l, close)
	case "atr_14":
		return ATR(b.highs, b.lows, b.closes, 14) / close
	case "obv":
		total := 0.0
		for _, v := range b.volumes {
			total += v
		}
		if total == 0 {
			return 0
		}
		return OBV(b.closes, b.volumes) / total
	default:
		return 0
	}
}

func ratio(v, close float64) float64 {
	if close == 0 || v == 0 {
		return 0
	}
	r := v/close - 1
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
