package config

import (
	"testing"
	"time"
)

func validConfig() TradingConfig {
	return TradingConfig{
		Indicators:            []string{"sma_20", "rsi_14"},
		PatternWindow:         60,
		EmbeddingSize:         16,
		LearningRate:          0.001,
		RLGamma:               0.99,
		RLEpsilon:             0.1,
		RLMemorySize:          10000,
		RLBatchSize:           64,
		RLEpochs:              30,
		MaxPositionSize:       0.1,
		StopLossPct:           0.02,
		TakeProfitPct:         0.05,
		TrailingPct:           0.015,
		TradeSlippage:         0.001,
		AdaptationFrequency:   15 * time.Minute,
		ModelRetrainThreshold: 0.85,
		MinTrainSamples:       256,
		EvaluationWindow:      100,
		Symbols:               []string{"BTCUSDT"},
		BarInterval:           time.Minute,
		BarQueueSize:          256,
		DBPath:                "./trader.db",
		Port:                  "8080",
		DrainTimeout:          5 * time.Second,
		LogLevel:              "info",
		LogFormat:             "console",
	}
}

func TestValidateRejectsBadInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradingConfig)
	}{
		{"zero position size", func(c *TradingConfig) { c.MaxPositionSize = 0 }},
		{"position size above one", func(c *TradingConfig) { c.MaxPositionSize = 1.5 }},
		{"zero stop loss", func(c *TradingConfig) { c.StopLossPct = 0 }},
		{"take profit below stop loss", func(c *TradingConfig) { c.TakeProfitPct = 0.01 }},
		{"take profit equal to stop loss", func(c *TradingConfig) { c.TakeProfitPct = c.StopLossPct }},
		{"window too small", func(c *TradingConfig) { c.PatternWindow = 10 }},
		{"batch larger than memory", func(c *TradingConfig) { c.RLBatchSize = c.RLMemorySize + 1 }},
		{"min samples larger than memory", func(c *TradingConfig) { c.MinTrainSamples = c.RLMemorySize + 1 }},
		{"no symbols", func(c *TradingConfig) { c.Symbols = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("Validate accepted invalid config")
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate rejected valid config: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MAX_POSITION_SIZE", "0.25")
	t.Setenv("SYMBOLS", "SOLUSDT, ADAUSDT")

	cfg := validConfig()
	applyEnvOverrides(&cfg)

	if cfg.MaxPositionSize != 0.25 {
		t.Fatalf("MaxPositionSize=%v, expected 0.25", cfg.MaxPositionSize)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "SOLUSDT" || cfg.Symbols[1] != "ADAUSDT" {
		t.Fatalf("Symbols=%v, expected [SOLUSDT ADAUSDT]", cfg.Symbols)
	}
}
